package ext2

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace is returned when a free-block search visits every group
	// without satisfying the requested count.
	ErrNoSpace = errors.New("no free blocks available")

	// ErrNotFormatted is returned by Probe when the device does not hold a
	// recognizable volume.
	ErrNotFormatted = errors.New("device does not contain an ext2 volume")
)

// ErrBadMagic reports a superblock whose signature field is wrong.
type ErrBadMagic struct {
	Found uint16
}

func (err ErrBadMagic) Error() string {
	return fmt.Sprintf("bad magic: wanted `%#04x`; found `%#04x`", Signature, err.Found)
}

// ErrGeometry reports configuration the layout math cannot work with.
type ErrGeometry struct {
	Reason string
}

func (err ErrGeometry) Error() string {
	return fmt.Sprintf("unusable disk geometry: %s", err.Reason)
}

// ErrInvalidInode reports an inode number outside the volume's inode space.
type ErrInvalidInode struct {
	Inode int64
}

func (err ErrInvalidInode) Error() string {
	return fmt.Sprintf("invalid inode reference: %d", err.Inode)
}

// ErrGroupRange reports a block-group index outside the volume.
type ErrGroupRange struct {
	Group int64
}

func (err ErrGroupRange) Error() string {
	return fmt.Sprintf("block group %d out of range", err.Group)
}

// ErrCorruptDescriptor reports a group descriptor whose bitmap or table
// addresses disagree with the computed layout.
type ErrCorruptDescriptor struct {
	Group int64
}

func (err ErrCorruptDescriptor) Error() string {
	return fmt.Sprintf("group %d descriptor disagrees with the volume layout", err.Group)
}
