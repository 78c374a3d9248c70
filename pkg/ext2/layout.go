package ext2

// Layout addressing: absolute block indices for the pieces of a block
// group. Every group begins with a superblock copy and a descriptor-table
// copy, then its block bitmap, inode bitmap, inode table, and data region,
// in that fixed order. All of these are total functions of the geometry;
// callers are responsible for keeping g below geo.Groups.

// GroupStart is the absolute index of group g's first block.
func (geo Geometry) GroupStart(g int64) int64 {
	return g*geo.BlocksPerGroup + FirstDataBlock
}

// SuperblockAt is the absolute index of group g's superblock copy.
func (geo Geometry) SuperblockAt(g int64) int64 {
	return geo.GroupStart(g)
}

// DescTableAt is the absolute index of the first block of group g's
// descriptor-table copy.
func (geo Geometry) DescTableAt(g int64) int64 {
	return geo.GroupStart(g) + 1
}

// BlockBitmapAt is the absolute index of group g's block bitmap.
func (geo Geometry) BlockBitmapAt(g int64) int64 {
	return geo.DescTableAt(g) + geo.GroupDescBlocks
}

// InodeBitmapAt is the absolute index of group g's inode bitmap.
func (geo Geometry) InodeBitmapAt(g int64) int64 {
	return geo.BlockBitmapAt(g) + 1
}

// InodeTableAt is the absolute index of the first block of group g's inode
// table.
func (geo Geometry) InodeTableAt(g int64) int64 {
	return geo.InodeBitmapAt(g) + 1
}

// DataStartAt is the absolute index of group g's first data block.
func (geo Geometry) DataStartAt(g int64) int64 {
	return geo.InodeTableAt(g) + geo.InodeTableBlocks
}
