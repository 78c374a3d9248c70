// Package bcache provides a write-back block cache over a raw disk image
// file. Writes are buffered in memory until Flush, reads see buffered writes
// immediately, and reading a block that was never written returns zeroes.
package bcache

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

type Device struct {
	f         *os.File
	blockSize int64
	blocks    int64
	dirty     map[int64][]byte
}

// Create makes (or truncates) a disk image of exactly size bytes at path and
// returns a cache over it. Size must be a whole number of blocks.
func Create(path string, blockSize, size int64) (*Device, error) {

	if blockSize <= 0 || size <= 0 || size%blockSize != 0 {
		return nil, errors.Errorf("image size %d is not a multiple of the block size %d", size, blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "creating disk image")
	}

	err = f.Truncate(size)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "sizing disk image")
	}

	return &Device{
		f:         f,
		blockSize: blockSize,
		blocks:    size / blockSize,
		dirty:     make(map[int64][]byte),
	}, nil
}

// Open returns a cache over an existing disk image. The capacity is taken
// from the file size, rounded down to whole blocks.
func Open(path string, blockSize int64) (*Device, error) {

	if blockSize <= 0 {
		return nil, errors.Errorf("invalid block size %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening disk image")
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "inspecting disk image")
	}

	return &Device{
		f:         f,
		blockSize: blockSize,
		blocks:    fi.Size() / blockSize,
		dirty:     make(map[int64][]byte),
	}, nil
}

func (d *Device) BlockSize() int64 {
	return d.blockSize
}

func (d *Device) Blocks() int64 {
	return d.blocks
}

func (d *Device) bounds(n int64) error {
	if n < 0 || n >= d.blocks {
		return errors.Errorf("block %d out of range [0, %d)", n, d.blocks)
	}
	return nil
}

// ReadBlock returns a fresh buffer holding block n. Buffered writes win over
// the backing file, and short reads past the end of a sparse file come back
// zero-filled.
func (d *Device) ReadBlock(n int64) ([]byte, error) {

	err := d.bounds(n)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, d.blockSize)

	if pending, ok := d.dirty[n]; ok {
		copy(buf, pending)
		return buf, nil
	}

	_, err = d.f.ReadAt(buf, n*d.blockSize)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrapf(err, "reading block %d", n)
	}

	return buf, nil
}

// WriteBlock buffers buf as the new content of block n. The buffer is copied
// so the caller may reuse it. Short buffers are zero-padded to a full block.
func (d *Device) WriteBlock(n int64, buf []byte) error {

	err := d.bounds(n)
	if err != nil {
		return err
	}

	if int64(len(buf)) > d.blockSize {
		return errors.Errorf("buffer of %d bytes exceeds the block size", len(buf))
	}

	block := make([]byte, d.blockSize)
	copy(block, buf)
	d.dirty[n] = block

	return nil
}

// Flush persists every buffered write in ascending block order and syncs the
// file. It is idempotent.
func (d *Device) Flush() error {

	if len(d.dirty) == 0 {
		return nil
	}

	nums := make([]int64, 0, len(d.dirty))
	for n := range d.dirty {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for _, n := range nums {
		_, err := d.f.WriteAt(d.dirty[n], n*d.blockSize)
		if err != nil {
			return errors.Wrapf(err, "flushing block %d", n)
		}
		delete(d.dirty, n)
	}

	err := d.f.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing disk image")
	}

	return nil
}

// Close flushes pending writes and releases the image file.
func (d *Device) Close() error {

	err := d.Flush()
	if err != nil {
		_ = d.f.Close()
		return err
	}

	return d.f.Close()
}
