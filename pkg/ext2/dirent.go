package ext2

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DirectoryEntry is the decoded form of one on-disk directory entry.
type DirectoryEntry struct {
	Inode  uint32
	Type   uint8
	Name   string
	RecLen uint16
}

// direntRecLen is the byte span an entry needs on its own: 8-byte header
// plus the name and its terminating NUL, rounded up to 4-byte alignment.
// The final entry in a block takes whatever remains instead.
func direntRecLen(name string) uint16 {
	return uint16(roundup(direntHeaderSize+int64(len(name))+1, direntAlignment))
}

// putDirent writes one entry at off and returns the offset just past its
// record length.
func putDirent(block []byte, off int, ino uint32, name string, ftype uint8, recLen uint16) int {
	binary.LittleEndian.PutUint32(block[off:], ino)
	binary.LittleEndian.PutUint16(block[off+4:], recLen)
	block[off+6] = uint8(len(name))
	block[off+7] = ftype
	copy(block[off+direntHeaderSize:], name)
	return off + int(recLen)
}

// parseDirents decodes every entry in one directory data block. The record
// lengths must tile the block exactly.
func parseDirents(block []byte) ([]DirectoryEntry, error) {

	var entries []DirectoryEntry
	off := 0

	for off < len(block) {

		if len(block)-off < direntHeaderSize {
			return nil, errors.Errorf("truncated directory entry at offset %d", off)
		}

		ino := binary.LittleEndian.Uint32(block[off:])
		recLen := binary.LittleEndian.Uint16(block[off+4:])
		nameLen := int(block[off+6])
		ftype := block[off+7]

		if recLen < direntHeaderSize || off+int(recLen) > len(block) {
			return nil, errors.Errorf("directory entry at offset %d has record length %d overflowing the block", off, recLen)
		}
		if direntHeaderSize+nameLen > int(recLen) {
			return nil, errors.Errorf("directory entry at offset %d has name length %d overflowing its record", off, nameLen)
		}

		if ino != 0 {
			entries = append(entries, DirectoryEntry{
				Inode:  ino,
				Type:   ftype,
				Name:   string(block[off+direntHeaderSize : off+direntHeaderSize+nameLen]),
				RecLen: recLen,
			})
		}

		off += int(recLen)
	}

	if off != len(block) {
		return nil, errors.Errorf("directory entries tile %d bytes of a %d byte block", off, len(block))
	}

	return entries, nil
}
