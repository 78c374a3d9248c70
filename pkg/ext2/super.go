package ext2

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Superblock is the on-disk volume record, replicated into every block
// group. The struct is laid out so that encoding it little-endian with
// encoding/binary reproduces the classic ext2 superblock byte-for-byte,
// padded to a full 1024 bytes.
type Superblock struct {
	InodesCount       uint32
	BlocksCount       uint32
	RBlocksCount      uint32
	FreeBlocksCount   uint32
	FreeInodesCount   uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	LogFragSize       int32
	BlocksPerGroup    uint32
	FragsPerGroup     uint32
	InodesPerGroup    uint32
	MTime             uint32
	WTime             uint32
	MntCount          uint16
	MaxMntCount       int16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	LastCheck         uint32
	CheckInterval     uint32
	CreatorOS         uint32
	RevLevel          uint32
	DefResUID         uint16
	DefResGID         uint16
	FirstIno          uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              [16]byte
	VolumeName        [16]byte
	LastMounted       [64]byte
	AlgoUsageBitmap   uint32
	PreallocBlocks    uint8
	PreallocDirBlocks uint8
	_                 uint16
	JournalUUID       [16]byte
	JournalInum       uint32
	JournalDev        uint32
	LastOrphan        uint32
	HashSeed          [4]uint32
	DefHashVersion    uint8
	_                 [3]byte
	DefaultMountOpts  uint32
	FirstMetaBg       uint32
	_                 [190]uint32
}

// GroupDesc is one 32-byte group-descriptor record.
type GroupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	_               [14]byte
}

func encodeSuperblock(sb *Superblock) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, sb)
	return buf.Bytes()
}

func decodeSuperblock(block []byte) (Superblock, error) {
	var sb Superblock
	err := binary.Read(bytes.NewReader(block), binary.LittleEndian, &sb)
	if err != nil {
		return sb, errors.Wrap(err, "decoding superblock")
	}
	return sb, nil
}

func encodeGroupDescs(descs []GroupDesc) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, descs)
	return buf.Bytes()
}

func decodeGroupDescs(raw []byte, n int64) ([]GroupDesc, error) {
	descs := make([]GroupDesc, n)
	err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, descs)
	if err != nil {
		return nil, errors.Wrap(err, "decoding group descriptor table")
	}
	return descs, nil
}

// checkSuperblock decides mount versus format: every condition here must
// hold for the device to be treated as an existing volume. A failure is a
// branch, not an error.
func checkSuperblock(sb *Superblock) bool {
	ok := sb.Magic == Signature
	ok = ok && (1024<<sb.LogBlockSize) == BlockSize
	ok = ok && sb.FirstDataBlock == FirstDataBlock
	ok = ok && sb.InodesPerGroup <= 8*BlockSize
	ok = ok && sb.FirstIno == FirstInode
	ok = ok && sb.InodeSize == InodeSize
	return ok
}
