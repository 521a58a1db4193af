// Package ringbuf implements the fixed-capacity byte ring that backs the
// packet queue. Capacity is always a power of two so cursors wrap with a mask.
package ringbuf

import (
	"errors"
	"math/bits"
)

// MinCapacity is the capacity of a new ring and of an idle peer's ring.
const MinCapacity = 256

var (
	ErrOutOfSpace = errors.New("ringbuf: not enough free space")
	ErrUnderrun   = errors.New("ringbuf: not enough data")
)

// Ring is a circular byte store with a read cursor, a write cursor and a
// count of bytes held. It is not safe for concurrent use.
type Ring struct {
	data  []byte
	mask  int
	read  int
	write int
	count int
}

// New creates an empty ring with at least the given capacity, and never less
// than MinCapacity.
func New(capacity int) *Ring {
	r := &Ring{}
	r.Resize(max(capacity, MinCapacity))
	return r
}

// NextPowerOfTwo returns the smallest power of two >= n, and 1 for n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Resize reallocates storage to the next power of two >= capacity and clears
// all content. Anything still queued is discarded.
func (r *Ring) Resize(capacity int) {
	size := NextPowerOfTwo(capacity)
	if len(r.data) != size {
		r.data = make([]byte, size)
	}
	r.mask = size - 1
	r.Reset()
}

// Reset drops all content without reallocating.
func (r *Ring) Reset() {
	r.read = 0
	r.write = 0
	r.count = 0
}

// Cap returns the ring capacity in bytes.
func (r *Ring) Cap() int { return len(r.data) }

// Len returns the number of bytes held.
func (r *Ring) Len() int { return r.count }

// SpaceLeft returns the number of free bytes.
func (r *Ring) SpaceLeft() int { return len(r.data) - r.count }

// Write appends p at the write cursor, wrapping around the end of storage.
// It is all-or-nothing: if p does not fit nothing is written.
func (r *Ring) Write(p []byte) error {
	if len(p) > r.SpaceLeft() {
		return ErrOutOfSpace
	}

	n := copy(r.data[r.write:], p)
	copy(r.data, p[n:])

	r.write = (r.write + len(p)) & r.mask
	r.count += len(p)
	return nil
}

// Read fills p from the read cursor and consumes those bytes. It fails
// without consuming anything if fewer than len(p) bytes are held.
func (r *Ring) Read(p []byte) error {
	if err := r.Peek(p); err != nil {
		return err
	}
	r.read = (r.read + len(p)) & r.mask
	r.count -= len(p)
	return nil
}

// Peek fills p from the read cursor without consuming.
func (r *Ring) Peek(p []byte) error {
	return r.PeekAt(0, p)
}

// PeekAt fills p starting off bytes past the read cursor without consuming.
func (r *Ring) PeekAt(off int, p []byte) error {
	if off < 0 || off+len(p) > r.count {
		return ErrUnderrun
	}

	start := (r.read + off) & r.mask
	n := copy(p, r.data[start:])
	copy(p[n:], r.data)
	return nil
}

// Discard consumes n bytes without copying them out.
func (r *Ring) Discard(n int) error {
	if n < 0 || n > r.count {
		return ErrUnderrun
	}
	r.read = (r.read + n) & r.mask
	r.count -= n
	return nil
}
