package ext2

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ext2m/ext2m/pkg/bcache"
	"github.com/ext2m/ext2m/pkg/bitmap"
	"github.com/ext2m/ext2m/pkg/elog"
)

// Volume manages one ext2 filesystem on a block device. It owns the live
// superblock and group-descriptor snapshots for its lifetime and assumes
// exclusive access to the underlying cache; it is not safe for concurrent
// use.
type Volume struct {
	disk *bcache.Device
	log  elog.Logger

	geo   Geometry
	super Superblock
	descs []GroupDesc
}

// FormatOptions carries the caller-adjustable pieces of a format.
type FormatOptions struct {
	VolumeName string
}

// Probe reports whether the device holds a recognizable volume. It returns
// ErrNotFormatted when the superblock checks fail, and never mutates the
// device.
func Probe(disk *bcache.Device) error {

	block, err := disk.ReadBlock(FirstDataBlock)
	if err != nil {
		return err
	}

	sb, err := decodeSuperblock(block)
	if err != nil {
		return err
	}

	if !checkSuperblock(&sb) {
		return ErrNotFormatted
	}

	return nil
}

// Mount attaches to the volume on disk, formatting it first if the probe
// does not recognize one. This mirrors the construct-probes-then-branches
// lifecycle: detection failure is a branch, not an error.
func Mount(disk *bcache.Device, log elog.Logger) (*Volume, error) {

	if log == nil {
		log = elog.Discard()
	}

	v := &Volume{
		disk: disk,
		log:  log,
	}

	err := Probe(disk)
	if err == ErrNotFormatted {
		v.log.Infof("no ext2 volume detected, formatting device")
		err = v.format(FormatOptions{VolumeName: "ext2m.img"})
	}
	if err != nil {
		return nil, err
	}

	err = v.load()
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Format unconditionally rewrites the device and mounts the result.
func Format(disk *bcache.Device, log elog.Logger, opts FormatOptions) (*Volume, error) {

	if log == nil {
		log = elog.Discard()
	}

	v := &Volume{
		disk: disk,
		log:  log,
	}

	err := v.format(opts)
	if err != nil {
		return nil, err
	}

	err = v.load()
	if err != nil {
		return nil, err
	}

	return v, nil
}

// Sync forces the cache to persist every buffered write.
func (v *Volume) Sync() error {
	return v.disk.Flush()
}

// Close flushes pending writes and drops the in-memory snapshots.
func (v *Volume) Close() error {
	err := v.Sync()
	v.descs = nil
	return err
}

// Geometry returns the mounted volume's block-group shape.
func (v *Volume) Geometry() Geometry {
	return v.geo
}

// Super returns a copy of the live superblock snapshot.
func (v *Volume) Super() Superblock {
	return v.super
}

// Descriptors returns a copy of the live group-descriptor snapshots.
func (v *Volume) Descriptors() []GroupDesc {
	descs := make([]GroupDesc, len(v.descs))
	copy(descs, v.descs)
	return descs
}

// load reads the superblock and descriptor table from the first group into
// the volume's owned snapshots and validates them against the computed
// layout.
func (v *Volume) load() error {

	block, err := v.disk.ReadBlock(FirstDataBlock)
	if err != nil {
		return err
	}

	sb, err := decodeSuperblock(block)
	if err != nil {
		return err
	}
	if sb.Magic != Signature {
		return ErrBadMagic{Found: sb.Magic}
	}
	if sb.InodesPerGroup == 0 || sb.BlocksPerGroup == 0 {
		return ErrGeometry{Reason: "superblock reports zero blocks or inodes per group"}
	}

	geo := Geometry{
		Groups:         int64(sb.InodesCount / sb.InodesPerGroup),
		BlocksPerGroup: int64(sb.BlocksPerGroup),
		InodesPerGroup: int64(sb.InodesPerGroup),
	}
	geo.GroupDescBlocks = divide(geo.Groups*GroupDescSize, BlockSize)
	geo.InodeTableBlocks = divide(geo.InodesPerGroup*InodeSize, BlockSize)
	geo.DataBlocks = geo.BlocksPerGroup - 3 - geo.GroupDescBlocks - geo.InodeTableBlocks
	if geo.Groups < 1 || geo.DataBlocks < 1 {
		return ErrGeometry{Reason: "superblock geometry does not leave room for data"}
	}

	raw := make([]byte, 0, geo.GroupDescBlocks*BlockSize)
	for i := int64(0); i < geo.GroupDescBlocks; i++ {
		block, err = v.disk.ReadBlock(geo.DescTableAt(0) + i)
		if err != nil {
			return err
		}
		raw = append(raw, block...)
	}

	descs, err := decodeGroupDescs(raw, geo.Groups)
	if err != nil {
		return err
	}

	v.geo = geo
	v.super = sb
	v.descs = descs

	return v.checkDescriptors()
}

// checkDescriptors verifies that every descriptor's bitmap and table
// addresses equal the layout-computed values. Divergence means the volume
// is corrupt or was built with a different layout.
func (v *Volume) checkDescriptors() error {
	for g := int64(0); g < v.geo.Groups; g++ {
		desc := &v.descs[g]
		ok := int64(desc.BlockBitmap) == v.geo.BlockBitmapAt(g)
		ok = ok && int64(desc.InodeBitmap) == v.geo.InodeBitmapAt(g)
		ok = ok && int64(desc.InodeTable) == v.geo.InodeTableAt(g)
		if !ok {
			return ErrCorruptDescriptor{Group: g}
		}
	}
	return nil
}

// writePrimaryMetadata rewrites the first group's superblock and descriptor
// table from the in-memory snapshots. Secondary replicas keep their
// format-time contents; only a rebuild refreshes them.
func (v *Volume) writePrimaryMetadata() error {

	err := v.disk.WriteBlock(v.geo.SuperblockAt(0), encodeSuperblock(&v.super))
	if err != nil {
		return err
	}

	raw := encodeGroupDescs(v.descs)
	for i := int64(0); i < v.geo.GroupDescBlocks; i++ {
		end := (i + 1) * BlockSize
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		err = v.disk.WriteBlock(v.geo.DescTableAt(0)+i, raw[i*BlockSize:end])
		if err != nil {
			return err
		}
	}

	return nil
}

// inodeLocation translates a 1-based inode number to the block of the
// owning group's inode table that holds it, plus the record slot within
// that block.
func (v *Volume) inodeLocation(n int64) (int64, int64, error) {

	if n < 1 || n > v.geo.TotalInodes() {
		return 0, 0, ErrInvalidInode{Inode: n}
	}

	idx := n - 1
	g := idx / v.geo.InodesPerGroup
	off := idx % v.geo.InodesPerGroup

	block := v.geo.InodeTableAt(g) + (off*InodeSize)/BlockSize
	slot := off % (BlockSize / InodeSize)

	return block, slot, nil
}

// Inode reads inode n. The inode bitmap is not consulted; callers own
// bitmap consistency.
func (v *Volume) Inode(n int64) (Inode, error) {

	var ino Inode

	blockIdx, slot, err := v.inodeLocation(n)
	if err != nil {
		return ino, err
	}

	block, err := v.disk.ReadBlock(blockIdx)
	if err != nil {
		return ino, err
	}

	return decodeInode(block[slot*InodeSize : (slot+1)*InodeSize]), nil
}

// WriteInode writes inode n in place with a read-modify-write of its table
// block. The inode bitmap is not consulted.
func (v *Volume) WriteInode(n int64, ino Inode) error {

	blockIdx, slot, err := v.inodeLocation(n)
	if err != nil {
		return err
	}

	block, err := v.disk.ReadBlock(blockIdx)
	if err != nil {
		return err
	}

	copy(block[slot*InodeSize:], encodeInode(&ino))

	return v.disk.WriteBlock(blockIdx, block)
}

func (v *Volume) checkGroup(g int64) error {
	if g < 0 || g >= v.geo.Groups {
		return ErrGroupRange{Group: g}
	}
	return nil
}

// BlockBitmap reads group g's block bitmap fresh from the cache.
func (v *Volume) BlockBitmap(g int64) (*bitmap.Bitmap, error) {

	err := v.checkGroup(g)
	if err != nil {
		return nil, err
	}

	block, err := v.disk.ReadBlock(v.geo.BlockBitmapAt(g))
	if err != nil {
		return nil, err
	}

	return bitmap.New(block, int(v.geo.BlocksPerGroup)), nil
}

// PutBlockBitmap persists group g's block bitmap.
func (v *Volume) PutBlockBitmap(g int64, bm *bitmap.Bitmap) error {

	err := v.checkGroup(g)
	if err != nil {
		return err
	}

	return v.disk.WriteBlock(v.geo.BlockBitmapAt(g), bm.Bytes())
}

// InodeBitmap reads group g's inode bitmap fresh from the cache.
func (v *Volume) InodeBitmap(g int64) (*bitmap.Bitmap, error) {

	err := v.checkGroup(g)
	if err != nil {
		return nil, err
	}

	block, err := v.disk.ReadBlock(v.geo.InodeBitmapAt(g))
	if err != nil {
		return nil, err
	}

	return bitmap.New(block, int(v.geo.InodesPerGroup)), nil
}

// PutInodeBitmap persists group g's inode bitmap.
func (v *Volume) PutInodeBitmap(g int64, bm *bitmap.Bitmap) error {

	err := v.checkGroup(g)
	if err != nil {
		return err
	}

	return v.disk.WriteBlock(v.geo.InodeBitmapAt(g), bm.Bytes())
}

type reservation struct {
	group int64
	bm    *bitmap.Bitmap
	taken int
}

// FreeBlocks finds count free blocks and marks them used, returning their
// absolute indices in discovery order. The scan is round-robin across all
// groups starting at startGroup, first-free within each group. Reservation
// is two-phase: bitmaps are only persisted, and counters only adjusted,
// once the whole request is satisfiable. On ErrNoSpace nothing has been
// marked.
func (v *Volume) FreeBlocks(startGroup, count int64) ([]int64, error) {

	err := v.checkGroup(startGroup)
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, nil
	}
	if count < 0 {
		return nil, errors.Errorf("requested a negative block count %d", count)
	}

	var found []int64
	var touched []reservation
	remaining := count

	for i := int64(0); i < v.geo.Groups && remaining > 0; i++ {

		g := (startGroup + i) % v.geo.Groups

		bm, err := v.BlockBitmap(g)
		if err != nil {
			return nil, err
		}

		taken := 0
		pos := 0
		for remaining > 0 {
			bit, ok := bm.NextUnset(pos)
			if !ok {
				break
			}
			bm.Set(bit)
			found = append(found, v.geo.GroupStart(g)+int64(bit))
			pos = bit + 1
			taken++
			remaining--
		}

		if taken > 0 {
			touched = append(touched, reservation{group: g, bm: bm, taken: taken})
		}
	}

	if remaining > 0 {
		return nil, ErrNoSpace
	}

	for _, r := range touched {
		err = v.PutBlockBitmap(r.group, r.bm)
		if err != nil {
			return nil, err
		}
		v.descs[r.group].FreeBlocksCount -= uint16(r.taken)
		v.super.FreeBlocksCount -= uint32(r.taken)
	}

	err = v.writePrimaryMetadata()
	if err != nil {
		return nil, err
	}

	return found, nil
}

// FreeBlock releases one previously allocated data block. Releasing a
// metadata block or a block that is already free is an error.
func (v *Volume) FreeBlock(n int64) error {

	idx := n - FirstDataBlock
	if idx < 0 || idx >= v.geo.Groups*v.geo.BlocksPerGroup {
		return errors.Errorf("block %d outside the volume's group span", n)
	}

	g := idx / v.geo.BlocksPerGroup
	bit := int(idx % v.geo.BlocksPerGroup)

	if int64(bit) < v.geo.OverheadBlocks() {
		return errors.Errorf("block %d belongs to group %d metadata", n, g)
	}

	bm, err := v.BlockBitmap(g)
	if err != nil {
		return err
	}

	if !bm.Test(bit) {
		return errors.Errorf("block %d is already free", n)
	}

	bm.Clear(bit)

	err = v.PutBlockBitmap(g, bm)
	if err != nil {
		return err
	}

	v.descs[g].FreeBlocksCount++
	v.super.FreeBlocksCount++

	return v.writePrimaryMetadata()
}

// RootEntries decodes the root directory's data block.
func (v *Volume) RootEntries() ([]DirectoryEntry, error) {

	ino, err := v.Inode(RootInode)
	if err != nil {
		return nil, err
	}

	if !ino.IsDirectory() {
		return nil, errors.New("root inode is not a directory")
	}
	if ino.Block[0] == BlockSparse {
		return nil, errors.New("root directory has no data block")
	}

	block, err := v.disk.ReadBlock(int64(ino.Block[0]))
	if err != nil {
		return nil, err
	}

	return parseDirents(block)
}

// format performs the deterministic, total rewrite of the device: boot
// marker, replicated superblocks and descriptor tables, zeroed metadata and
// data regions, reserved-bit bitmaps, and finally the root directory.
func (v *Volume) format(opts FormatOptions) error {

	geo, err := CalcGeometry(v.disk.Blocks() * BlockSize)
	if err != nil {
		return err
	}
	v.geo = geo

	v.log.Debugf("geometry: %d groups, %d blocks/group, %d inodes/group, %d descriptor blocks, %d inode-table blocks",
		geo.Groups, geo.BlocksPerGroup, geo.InodesPerGroup, geo.GroupDescBlocks, geo.InodeTableBlocks)

	// block 0 never carries filesystem semantics, just an identification
	// string
	err = v.disk.WriteBlock(0, []byte(bootSectorMarker))
	if err != nil {
		return err
	}

	now := uint32(time.Now().Unix())

	var sb Superblock
	sb.InodesCount = uint32(geo.TotalInodes())
	sb.BlocksCount = uint32(MaxBlocksPerGroup * geo.Groups)
	sb.FreeBlocksCount = uint32((geo.BlocksPerGroup - geo.OverheadBlocks()) * geo.Groups)
	sb.FreeInodesCount = uint32(geo.TotalInodes())
	sb.FirstDataBlock = FirstDataBlock
	sb.LogBlockSize = 0 // 1024 << 0 == BlockSize
	sb.LogFragSize = 0
	sb.BlocksPerGroup = uint32(geo.BlocksPerGroup)
	sb.FragsPerGroup = uint32(geo.BlocksPerGroup)
	sb.InodesPerGroup = uint32(geo.InodesPerGroup)
	sb.MTime = now
	sb.WTime = now
	sb.MaxMntCount = 1024
	sb.Magic = Signature
	sb.State = StateValid
	sb.Errors = ErrorsContinue
	sb.LastCheck = now
	sb.CheckInterval = math.MaxUint32
	sb.CreatorOS = OSLinux
	sb.DefResUID = 0
	sb.DefResGID = 0
	sb.FirstIno = FirstInode
	sb.InodeSize = InodeSize
	id := uuid.New()
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], opts.VolumeName)

	descs := make([]GroupDesc, geo.Groups)
	for g := int64(0); g < geo.Groups; g++ {
		descs[g] = GroupDesc{
			BlockBitmap:     uint32(geo.BlockBitmapAt(g)),
			InodeBitmap:     uint32(geo.InodeBitmapAt(g)),
			InodeTable:      uint32(geo.InodeTableAt(g)),
			FreeBlocksCount: uint16(geo.DataBlocks),
			FreeInodesCount: uint16(geo.InodesPerGroup),
			UsedDirsCount:   0,
		}
	}

	v.super = sb
	v.descs = descs

	err = v.writeReplicas()
	if err != nil {
		return err
	}

	err = v.initGroups()
	if err != nil {
		return err
	}

	err = v.Sync()
	if err != nil {
		return err
	}

	err = v.makeRootDirectory(now)
	if err != nil {
		return err
	}

	v.log.Infof("formatted volume: %d blocks in %d groups, %d inodes", sb.BlocksCount, geo.Groups, sb.InodesCount)

	return v.Sync()
}

// writeReplicas copies the superblock and the full descriptor table into
// every group's reserved slots. Redundancy against corruption of group 0.
func (v *Volume) writeReplicas() error {

	raw := encodeGroupDescs(v.descs)

	for g := int64(0); g < v.geo.Groups; g++ {

		// each copy records which group holds it
		v.super.BlockGroupNr = uint16(g)

		err := v.disk.WriteBlock(v.geo.SuperblockAt(g), encodeSuperblock(&v.super))
		if err != nil {
			return err
		}

		for i := int64(0); i < v.geo.GroupDescBlocks; i++ {
			end := (i + 1) * BlockSize
			if end > int64(len(raw)) {
				end = int64(len(raw))
			}
			err = v.disk.WriteBlock(v.geo.DescTableAt(g)+i, raw[i*BlockSize:end])
			if err != nil {
				return err
			}
		}
	}

	v.super.BlockGroupNr = 0

	return nil
}

// initGroups zeroes every block from each group's block bitmap through the
// end of the group, then marks the metadata span used in the block bitmap.
func (v *Volume) initGroups() error {

	zero := make([]byte, BlockSize)

	for g := int64(0); g < v.geo.Groups; g++ {

		end := v.geo.GroupStart(g) + v.geo.BlocksPerGroup
		for n := v.geo.BlockBitmapAt(g); n < end; n++ {
			err := v.disk.WriteBlock(n, zero)
			if err != nil {
				return err
			}
		}

		bm, err := v.BlockBitmap(g)
		if err != nil {
			return err
		}
		for i := 0; int64(i) < v.geo.OverheadBlocks(); i++ {
			bm.Set(i)
		}

		err = v.PutBlockBitmap(g, bm)
		if err != nil {
			return err
		}
	}

	return nil
}

// makeRootDirectory reserves the well-known inodes, builds inode 2, and
// writes its `.` and `..` entries into one freshly allocated data block.
func (v *Volume) makeRootDirectory(now uint32) error {

	bm, err := v.InodeBitmap(0)
	if err != nil {
		return err
	}

	// inodes 1 through 10 are reserved by convention; the root directory
	// is inode 2 and the rest are never handed out
	for n := int64(1); n <= ReservedInodes; n++ {
		bm.Set(int(n - 1))
	}

	err = v.PutInodeBitmap(0, bm)
	if err != nil {
		return err
	}

	v.descs[0].FreeInodesCount -= ReservedInodes
	v.descs[0].UsedDirsCount++
	v.super.FreeInodesCount -= ReservedInodes

	blocks, err := v.FreeBlocks(0, 1)
	if err != nil {
		// a freshly formatted group must have at least one free block
		return errors.Wrap(err, "allocating the root directory block")
	}

	var root Inode
	root.Mode = InodeTypeDirectory | 0755
	root.UID = 0
	root.GID = 0
	root.Size = 0
	root.Atime = now
	root.Ctime = now
	root.Mtime = now
	root.LinksCount = 2 // `.` plus the self-parent `..`
	root.Blocks = BlockSize / SectorSize
	root.Block[0] = uint32(blocks[0])

	err = v.WriteInode(RootInode, root)
	if err != nil {
		return err
	}

	block := make([]byte, BlockSize)
	off := putDirent(block, 0, RootInode, ".", FileTypeDirectory, direntRecLen("."))
	// the final entry absorbs the rest of the block
	putDirent(block, off, RootInode, "..", FileTypeDirectory, uint16(BlockSize-off))

	err = v.disk.WriteBlock(blocks[0], block)
	if err != nil {
		return err
	}

	v.log.Debugf("root directory: inode %d, data block %d", RootInode, blocks[0])

	return v.writePrimaryMetadata()
}
