// Package bitmap implements the fixed-capacity bit vector used for ext2
// block and inode bitmaps. Bit i of byte i/8 is the i'th resource of the
// group, least-significant bit first, matching the on-disk layout.
package bitmap

import "fmt"

type Bitmap struct {
	buf  []byte
	bits int
}

// New interprets buf as a bit vector of the given logical length. The buffer
// is aliased, not copied, so mutations write straight through to it. It
// panics if buf is too small to hold bits.
func New(buf []byte, bits int) *Bitmap {
	if len(buf)*8 < bits {
		panic(fmt.Sprintf("bitmap: buffer of %d bytes cannot hold %d bits", len(buf), bits))
	}
	return &Bitmap{
		buf:  buf,
		bits: bits,
	}
}

func (b *Bitmap) check(i int) {
	if i < 0 || i >= b.bits {
		panic(fmt.Sprintf("bitmap: bit %d out of range [0, %d)", i, b.bits))
	}
}

func (b *Bitmap) Test(i int) bool {
	b.check(i)
	return b.buf[i/8]&(1<<uint(i%8)) != 0
}

func (b *Bitmap) Set(i int) {
	b.check(i)
	b.buf[i/8] |= 1 << uint(i%8)
}

func (b *Bitmap) Clear(i int) {
	b.check(i)
	b.buf[i/8] &^= 1 << uint(i%8)
}

// NextUnset returns the index of the first unset bit at or after from, and
// false if every bit from there to the end of the map is set.
func (b *Bitmap) NextUnset(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < b.bits; {
		if i%8 == 0 && b.buf[i/8] == 0xFF {
			// whole byte allocated, skip it
			i += 8
			continue
		}
		if b.buf[i/8]&(1<<uint(i%8)) == 0 {
			return i, true
		}
		i++
	}
	return 0, false
}

// Bytes exposes the backing buffer for persistence.
func (b *Bitmap) Bytes() []byte {
	return b.buf
}

// Len is the logical number of bits.
func (b *Bitmap) Len() int {
	return b.bits
}
