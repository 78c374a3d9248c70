package main

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ext2m/ext2m/pkg/bcache"
	"github.com/ext2m/ext2m/pkg/ext2"
)

var (
	flagSize       string
	flagVolumeName string
	flagForce      bool
)

func addFormatFlags(f *pflag.FlagSet) {
	f.StringVar(&flagSize, "size", bytefmt.ByteSize(ext2.DefaultDiskSize), "image size (accepts suffixes such as 512K, 64M, 1G)")
	f.StringVar(&flagVolumeName, "volume-name", "ext2m.img", "volume name written into the superblock")
	f.BoolVar(&flagForce, "force", false, "rewrite the image even if it already holds an ext2 volume")
}

func init() {
	addFormatFlags(formatCmd.Flags())
}

var formatCmd = &cobra.Command{
	Use:   "format IMAGE",
	Short: "Format a raw disk image as an ext2 volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		size, err := bytefmt.ToBytes(flagSize)
		if err != nil {
			return fmt.Errorf("parsing --size: %w", err)
		}

		path := args[0]

		var disk *bcache.Device
		if _, err = os.Stat(path); os.IsNotExist(err) {
			disk, err = bcache.Create(path, ext2.BlockSize, int64(size))
		} else {
			disk, err = bcache.Open(path, ext2.BlockSize)
		}
		if err != nil {
			return err
		}
		defer disk.Close()

		if !flagForce {
			if err = ext2.Probe(disk); err == nil {
				return fmt.Errorf("%s already holds an ext2 volume (use --force to rewrite it)", path)
			} else if err != ext2.ErrNotFormatted {
				return err
			}
		}

		v, err := ext2.Format(disk, logger.Scoped("format"), ext2.FormatOptions{
			VolumeName: flagVolumeName,
		})
		if err != nil {
			return err
		}
		defer v.Close()

		geo := v.Geometry()
		logger.Infof("%s: %d block groups, %s per group, %d inodes",
			path, geo.Groups,
			bytefmt.ByteSize(uint64(geo.BlocksPerGroup*ext2.BlockSize)),
			geo.TotalInodes())

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info IMAGE",
	Short: "Report the superblock and geometry of an ext2 image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		v, disk, err := openVolume(args[0])
		if err != nil {
			return err
		}
		defer disk.Close()
		defer v.Close()

		sb := v.Super()
		geo := v.Geometry()

		fmt.Printf("Volume name:      %s\n", cstring(sb.VolumeName[:]))
		fmt.Printf("Magic:            %#04x\n", sb.Magic)
		fmt.Printf("State:            %d\n", sb.State)
		fmt.Printf("Block size:       %s\n", bytefmt.ByteSize(uint64(ext2.BlockSize)))
		fmt.Printf("Blocks:           %d (%d free)\n", sb.BlocksCount, sb.FreeBlocksCount)
		fmt.Printf("Inodes:           %d (%d free)\n", sb.InodesCount, sb.FreeInodesCount)
		fmt.Printf("Block groups:     %d\n", geo.Groups)
		fmt.Printf("Blocks per group: %d\n", geo.BlocksPerGroup)
		fmt.Printf("Inodes per group: %d\n", geo.InodesPerGroup)
		fmt.Printf("Data blocks/grp:  %d\n", geo.DataBlocks)

		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls IMAGE",
	Short: "List the root directory of an ext2 image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		v, disk, err := openVolume(args[0])
		if err != nil {
			return err
		}
		defer disk.Close()
		defer v.Close()

		entries, err := v.RootEntries()
		if err != nil {
			return err
		}

		for _, e := range entries {
			fmt.Printf("%8d  %s\n", e.Inode, e.Name)
		}

		return nil
	},
}

// openVolume mounts an existing image without the format-on-probe-failure
// branch: inspection commands must never rewrite the image.
func openVolume(path string) (*ext2.Volume, *bcache.Device, error) {

	disk, err := bcache.Open(path, ext2.BlockSize)
	if err != nil {
		return nil, nil, err
	}

	err = ext2.Probe(disk)
	if err != nil {
		_ = disk.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	v, err := ext2.Mount(disk, logger)
	if err != nil {
		_ = disk.Close()
		return nil, nil, err
	}

	return v, disk, nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
