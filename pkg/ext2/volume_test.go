package ext2

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ext2m/ext2m/pkg/bcache"
	"github.com/ext2m/ext2m/pkg/elog"
)

func testVolume(t *testing.T, size int64) (*Volume, *bcache.Device, string) {
	t.Helper()

	dir, err := ioutil.TempDir("", "ext2m")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "disk.img")
	disk, err := bcache.Create(path, BlockSize, size)
	if err != nil {
		t.Fatal(err)
	}

	v, err := Mount(disk, elog.Discard())
	if err != nil {
		t.Fatal(err)
	}

	return v, disk, path
}

func TestMountFormatsAndRedetects(t *testing.T) {

	v, disk, path := testVolume(t, 32*1024*1024)

	first := v.Super()
	assert.Equal(t, uint16(Signature), first.Magic)
	assert.Equal(t, uint32(FirstDataBlock), first.FirstDataBlock)
	assert.Equal(t, uint32(FirstInode), first.FirstIno)

	assert.NoError(t, v.Close())
	assert.NoError(t, disk.Close())

	disk, err := bcache.Open(path, BlockSize)
	assert.NoError(t, err)
	defer disk.Close()

	// the probe must report an existing volume without reformatting
	assert.NoError(t, Probe(disk))

	v, err = Mount(disk, elog.Discard())
	assert.NoError(t, err)
	defer v.Close()

	// a reformat would have regenerated the UUID
	assert.Equal(t, first.UUID, v.Super().UUID)
	assert.Equal(t, first.InodesCount, v.Super().InodesCount)
}

func TestProbeRejectsBlankImage(t *testing.T) {

	dir, err := ioutil.TempDir("", "ext2m")
	assert.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	disk, err := bcache.Create(filepath.Join(dir, "blank.img"), BlockSize, 16*1024*1024)
	assert.NoError(t, err)
	defer disk.Close()

	assert.Equal(t, ErrNotFormatted, Probe(disk))
}

func TestRootInode(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	geo := v.Geometry()

	root, err := v.Inode(RootInode)
	assert.NoError(t, err)

	assert.True(t, root.IsDirectory())
	assert.Equal(t, uint16(InodeTypeDirectory|0755), root.Mode)
	assert.Equal(t, uint16(2), root.LinksCount)
	assert.Equal(t, uint32(BlockSize/SectorSize), root.Blocks)

	// first pointer allocated inside group 0's data region, the rest sparse
	assert.NotEqual(t, uint32(BlockSparse), root.Block[0])
	assert.GreaterOrEqual(t, int64(root.Block[0]), geo.DataStartAt(0))
	assert.Less(t, int64(root.Block[0]), geo.GroupStart(0)+geo.BlocksPerGroup)
	for i := 1; i < len(root.Block); i++ {
		assert.Equal(t, uint32(BlockSparse), root.Block[i])
	}
}

func TestRootDirectoryEntries(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	entries, err := v.RootEntries()
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, uint32(RootInode), entries[0].Inode)
	assert.Equal(t, uint32(RootInode), entries[1].Inode)
	assert.Equal(t, uint8(FileTypeDirectory), entries[0].Type)
	assert.Equal(t, BlockSize, int(entries[0].RecLen)+int(entries[1].RecLen))
}

func TestDescriptorCounters(t *testing.T) {

	v, _, _ := testVolume(t, 32*1024*1024)
	defer v.Close()

	geo := v.Geometry()
	descs := v.Descriptors()
	assert.Len(t, descs, int(geo.Groups))

	for g, desc := range descs {
		assert.Equal(t, uint32(geo.BlockBitmapAt(int64(g))), desc.BlockBitmap)

		free := int64(desc.FreeBlocksCount)
		if g == 0 {
			// the root directory block came out of group 0
			free++
		}
		assert.Equal(t, geo.BlocksPerGroup, free+geo.OverheadBlocks(), "group %d block accounting", g)
	}

	assert.Equal(t, uint16(1), descs[0].UsedDirsCount)
	assert.Equal(t, uint16(geo.InodesPerGroup-ReservedInodes), descs[0].FreeInodesCount)
}

func TestInodeRoundTrip(t *testing.T) {

	v, _, _ := testVolume(t, 32*1024*1024)
	defer v.Close()

	geo := v.Geometry()
	ipg := geo.InodesPerGroup

	// sample inode numbers across block and group boundaries
	nums := []int64{1, 7, BlockSize / InodeSize, BlockSize/InodeSize + 1, ipg, ipg + 1, geo.TotalInodes()}

	for _, n := range nums {
		var in Inode
		in.Mode = 0x8000 | 0644
		in.UID = 1000
		in.GID = 1000
		in.Size = uint32(n * 3)
		in.Atime = 1234567890
		in.LinksCount = 1
		in.Block[0] = uint32(n)
		in.Block[14] = uint32(n + 1)
		in.Generation = uint32(n)

		assert.NoError(t, v.WriteInode(n, in), "inode %d", n)

		out, err := v.Inode(n)
		assert.NoError(t, err, "inode %d", n)
		assert.Equal(t, in, out, "inode %d does not round-trip", n)
	}
}

func TestInvalidInodeReferences(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	_, err := v.Inode(0)
	assert.Equal(t, ErrInvalidInode{Inode: 0}, err)

	_, err = v.Inode(v.Geometry().TotalInodes() + 1)
	assert.IsType(t, ErrInvalidInode{}, err)

	err = v.WriteInode(-3, Inode{})
	assert.IsType(t, ErrInvalidInode{}, err)

	_, err = v.BlockBitmap(v.Geometry().Groups)
	assert.IsType(t, ErrGroupRange{}, err)
}

func TestFreeBlocksZeroCount(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	before := v.Super().FreeBlocksCount

	blocks, err := v.FreeBlocks(0, 0)
	assert.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Equal(t, before, v.Super().FreeBlocksCount)
}

func TestFreeBlocksNoDoubleAllocation(t *testing.T) {

	v, _, _ := testVolume(t, 32*1024*1024)
	defer v.Close()

	seen := map[int64]bool{}

	a, err := v.FreeBlocks(0, 10)
	assert.NoError(t, err)
	b, err := v.FreeBlocks(1, 10)
	assert.NoError(t, err)

	for _, n := range append(a, b...) {
		assert.False(t, seen[n], "block %d allocated twice", n)
		seen[n] = true

		// every returned block must be marked used in its group's bitmap
		g := (n - FirstDataBlock) / v.Geometry().BlocksPerGroup
		bit := int((n - FirstDataBlock) % v.Geometry().BlocksPerGroup)
		bm, err := v.BlockBitmap(g)
		assert.NoError(t, err)
		assert.True(t, bm.Test(bit), "block %d not marked in bitmap", n)
	}
}

func TestFreeBlocksExhaustionRollsBack(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	before := v.Super().FreeBlocksCount
	beforeBitmap, err := v.BlockBitmap(0)
	assert.NoError(t, err)

	_, err = v.FreeBlocks(0, int64(before)+1)
	assert.Equal(t, ErrNoSpace, err)

	// a failed search must not leak reservations
	assert.Equal(t, before, v.Super().FreeBlocksCount)

	after, err := v.BlockBitmap(0)
	assert.NoError(t, err)
	assert.Equal(t, beforeBitmap.Bytes(), after.Bytes())

	// and the volume must still be able to satisfy a sane request
	blocks, err := v.FreeBlocks(0, 1)
	assert.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestFreeBlockRelease(t *testing.T) {

	v, _, _ := testVolume(t, 16*1024*1024)
	defer v.Close()

	before := v.Super().FreeBlocksCount

	blocks, err := v.FreeBlocks(0, 1)
	assert.NoError(t, err)
	assert.Equal(t, before-1, v.Super().FreeBlocksCount)

	assert.NoError(t, v.FreeBlock(blocks[0]))
	assert.Equal(t, before, v.Super().FreeBlocksCount)

	// double free and metadata blocks are rejected
	assert.Error(t, v.FreeBlock(blocks[0]))
	assert.Error(t, v.FreeBlock(v.Geometry().SuperblockAt(0)))
}

func TestAllocationSpillsAcrossGroups(t *testing.T) {

	v, _, _ := testVolume(t, 32*1024*1024)
	defer v.Close()

	geo := v.Geometry()

	// drain group 0 (less the root directory block already taken), then one
	// more allocation has to land in group 1
	_, err := v.FreeBlocks(0, geo.DataBlocks-1)
	assert.NoError(t, err)

	blocks, err := v.FreeBlocks(0, 1)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, blocks[0], geo.GroupStart(1))
}
