package ext2

import (
	"bytes"
	"encoding/binary"
)

// Inode is the fixed-size 128-byte on-disk inode record. Only the first
// direct block pointer is ever followed by this package; the rest of the
// pointer array is carried so the record round-trips bit-exactly.
type Inode struct {
	Mode       uint16
	UID        uint16
	Size       uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	GID        uint16
	LinksCount uint16
	Blocks     uint32 // 512-byte units
	Flags      uint32
	OSD1       uint32
	Block      [15]uint32 // 12 direct, single, double, triple indirect
	Generation uint32
	FileACL    uint32
	DirACL     uint32
	FragAddr   uint32
	OSD2       [12]byte
}

// IsDirectory reports whether the mode's type bits mark a directory.
func (ino *Inode) IsDirectory() bool {
	return ino.Mode&InodeTypeMask == InodeTypeDirectory
}

func encodeInode(ino *Inode) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, ino)
	return buf.Bytes()
}

func decodeInode(raw []byte) Inode {
	var ino Inode
	_ = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ino)
	return ino
}
