package ext2

// Geometry fixes the block-group shape of a volume. For a fresh format it is
// a pure function of the disk size and the package constants; for a mounted
// volume it is reconstructed from the on-disk superblock.
type Geometry struct {
	Groups           int64 // number of full block groups
	BlocksPerGroup   int64
	InodesPerGroup   int64
	GroupDescBlocks  int64 // blocks spanned by one descriptor-table copy
	InodeTableBlocks int64 // blocks spanned by one group's inode table
	DataBlocks       int64 // data blocks per group
}

// CalcGeometry derives the block-group shape for a disk of diskSize bytes.
//
// Block 0 is reserved for the boot sector, so one block is shaved off the
// top before grouping. If the remaining blocks do not divide evenly into
// full-size groups the remainder is dropped rather than forming an
// undersized trailing group; this deliberately reduces addressable capacity
// in exchange for uniform group arithmetic.
func CalcGeometry(diskSize int64) (Geometry, error) {

	var geo Geometry

	totalBlocks := diskSize / BlockSize
	availableBlocks := totalBlocks - 1

	fullGroups := availableBlocks / MaxBlocksPerGroup
	if fullGroups < 1 {
		return geo, ErrGeometry{Reason: "disk too small to hold one full block group"}
	}

	remainder := availableBlocks - fullGroups*MaxBlocksPerGroup
	blocksPerGroup := (availableBlocks - remainder) / fullGroups

	gdBlocks := divide(fullGroups*GroupDescSize, BlockSize)

	// Each group spends 3 blocks on the superblock copy and the two
	// bitmaps, plus the descriptor table. What remains splits between the
	// inode table and the data each inode is presumed to address:
	//
	//   m*(BytesPerInode + InodeSize) = (blocksPerGroup - 3 - gdBlocks) * BlockSize
	//
	// Truncating division errs toward fewer inodes.
	remainingBytes := (blocksPerGroup - 3 - gdBlocks) * BlockSize
	inodesPerGroup := remainingBytes / (BytesPerInode + InodeSize)
	if inodesPerGroup < 1 {
		return geo, ErrGeometry{Reason: "no room for an inode table inside a block group"}
	}

	itBlocks := divide(inodesPerGroup*InodeSize, BlockSize)
	dataBlocks := blocksPerGroup - 3 - gdBlocks - itBlocks

	if 3+gdBlocks+itBlocks+dataBlocks != blocksPerGroup {
		return geo, ErrGeometry{Reason: "block accounting does not sum to blocks per group"}
	}
	if dataBlocks < 1 {
		return geo, ErrGeometry{Reason: "no data blocks left inside a block group"}
	}

	geo = Geometry{
		Groups:           fullGroups,
		BlocksPerGroup:   blocksPerGroup,
		InodesPerGroup:   inodesPerGroup,
		GroupDescBlocks:  gdBlocks,
		InodeTableBlocks: itBlocks,
		DataBlocks:       dataBlocks,
	}

	return geo, nil
}

// OverheadBlocks is the per-group count of blocks that are never available
// for data: superblock copy, descriptor table copy, both bitmaps, and the
// inode table.
func (geo Geometry) OverheadBlocks() int64 {
	return 3 + geo.GroupDescBlocks + geo.InodeTableBlocks
}

// TotalInodes is the volume-wide inode count.
func (geo Geometry) TotalInodes() int64 {
	return geo.InodesPerGroup * geo.Groups
}
