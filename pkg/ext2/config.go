package ext2

const (
	// BlockSize is fixed at 1 KiB. The first-data-block and boot-sector
	// conventions baked into the layout math only hold for this size.
	BlockSize = 1024

	// DefaultDiskSize is the image size used when the caller does not ask
	// for something else.
	DefaultDiskSize = 64 * 1024 * 1024

	SectorSize    = 512
	InodeSize     = 128
	GroupDescSize = 32

	// BytesPerInode is the assumed average file size used to split each
	// group's non-metadata space between the inode table and data blocks.
	BytesPerInode = 2048

	// MaxBlocksPerGroup is bounded by the block bitmap: one block worth of
	// bits.
	MaxBlocksPerGroup = 8 * BlockSize

	Signature      = 0xEF53
	FirstDataBlock = 1

	// RootInode is mandated by the format; inodes 1 through ReservedInodes
	// are never handed out, and FirstInode is the first allocatable one.
	RootInode      = 2
	ReservedInodes = 10
	FirstInode     = 11

	StateValid     = 1
	ErrorsContinue = 1
	OSLinux        = 0

	InodeTypeDirectory = 0x4000
	InodeTypeMask      = 0xF000

	FileTypeDirectory = 2

	direntHeaderSize = 8
	direntAlignment  = 4

	// inode block pointer value meaning "not yet allocated"
	BlockSparse = 0

	// written to block 0, which the filesystem itself never touches
	bootSectorMarker = "EXT2M BOOT SECTOR (BLOCK SIZE 1KB)"
)

func divide(a, b int64) int64 {
	return (a + b - 1) / b
}

func roundup(a, b int64) int64 {
	return divide(a, b) * b
}
