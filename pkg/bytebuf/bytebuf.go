// Package bytebuf provides the growable byte buffer underlying every codec
// in the library: an append-only byte container with an embedded read cursor.
package bytebuf

import (
	"fmt"

	"github.com/WhileEndless/go-netserver/pkg/errors"
)

// Buffer is a growable sequence of bytes with a logical size and a read
// cursor. The backing storage only ever grows; Clear keeps the capacity.
//
// A Buffer is NOT safe for concurrent use. Each session owns its buffers
// exclusively and serializes access with its own locks.
type Buffer struct {
	data   []byte // backing storage; len(data) == capacity
	size   int    // logical size, size <= len(data)
	offset int    // read cursor, 0 <= offset <= size
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewWithCapacity creates an empty Buffer with at least cap bytes reserved.
func NewWithCapacity(capacity int) *Buffer {
	b := &Buffer{}
	if capacity > 0 {
		b.data = make([]byte, capacity)
	}
	return b
}

// NewWithData creates a Buffer holding a copy of data.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(data)), size: len(data)}
	copy(b.data, data)
	return b
}

// Data returns the valid region [0, Size) of the backing storage.
// The slice aliases the buffer; callers must not retain it across mutations.
func (b *Buffer) Data() []byte {
	return b.data[:b.size]
}

// Size returns the logical size in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// Capacity returns the current backing storage capacity.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Offset returns the read cursor position.
func (b *Buffer) Offset() int {
	return b.offset
}

// Empty reports whether the buffer holds no data.
func (b *Buffer) Empty() bool {
	return b.size == 0
}

// At returns the byte at index i within the valid region.
func (b *Buffer) At(i int) byte {
	return b.data[:b.size][i]
}

// Reserve grows the backing storage to hold at least capacity bytes.
// The growth policy doubles the current capacity so that a run of appends
// stays amortized O(1): the new capacity is max(capacity, 2*current).
func (b *Buffer) Reserve(capacity int) error {
	if capacity < 0 {
		return errors.NewValidationError("invalid reserve capacity")
	}
	if capacity <= len(b.data) {
		return nil
	}
	newCap := 2 * len(b.data)
	if capacity > newCap {
		newCap = capacity
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.size])
	b.data = grown
	return nil
}

// Resize sets the logical size to size, reserving storage as needed.
// The read cursor is clamped so offset <= size always holds.
func (b *Buffer) Resize(size int) error {
	if size < 0 {
		return errors.NewValidationError("invalid resize size")
	}
	if err := b.Reserve(size); err != nil {
		return err
	}
	b.size = size
	if b.offset > b.size {
		b.offset = b.size
	}
	return nil
}

// Clear resets size and cursor to zero. Capacity is retained.
func (b *Buffer) Clear() {
	b.size = 0
	b.offset = 0
}

// Append copies data onto the end of the buffer and returns the number of
// bytes appended.
func (b *Buffer) Append(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	// Reserve cannot fail for a non-negative capacity.
	_ = b.Reserve(b.size + len(data))
	copy(b.data[b.size:], data)
	b.size += len(data)
	return len(data)
}

// AppendRange copies len bytes of data starting at off onto the end of the
// buffer.
func (b *Buffer) AppendRange(data []byte, off, length int) (int, error) {
	if off < 0 || length < 0 || off+length > len(data) {
		return 0, errors.NewValidationError(
			fmt.Sprintf("append range [%d,%d) out of bounds for %d bytes", off, off+length, len(data)))
	}
	return b.Append(data[off : off+length]), nil
}

// AppendString copies the UTF-8 bytes of text onto the end of the buffer.
func (b *Buffer) AppendString(text string) int {
	_ = b.Reserve(b.size + len(text))
	copy(b.data[b.size:], text)
	b.size += len(text)
	return len(text)
}

// AppendByte copies a single byte onto the end of the buffer.
func (b *Buffer) AppendByte(c byte) int {
	_ = b.Reserve(b.size + 1)
	b.data[b.size] = c
	b.size++
	return 1
}

// Remove deletes length bytes at off, shifting the tail down. The read
// cursor tracks the still-valid region: a cursor past the removed range
// shifts down by length, a cursor inside it clamps to off, otherwise it is
// unchanged, then clamped to the new size.
func (b *Buffer) Remove(off, length int) error {
	if off < 0 || length < 0 || off+length > b.size {
		return errors.NewValidationError(
			fmt.Sprintf("remove range [%d,%d) out of bounds for size %d", off, off+length, b.size))
	}
	copy(b.data[off:], b.data[off+length:b.size])
	b.size -= length
	if b.offset >= off+length {
		b.offset -= length
	} else if b.offset > off {
		b.offset = off
	}
	if b.offset > b.size {
		b.offset = b.size
	}
	return nil
}

// ExtractString returns length bytes at off as a string.
func (b *Buffer) ExtractString(off, length int) (string, error) {
	if off < 0 || length < 0 || off+length > b.size {
		return "", errors.NewValidationError(
			fmt.Sprintf("extract range [%d,%d) out of bounds for size %d", off, off+length, b.size))
	}
	return string(b.data[off : off+length]), nil
}

// Shift advances the read cursor by n bytes, clamped to the valid region.
func (b *Buffer) Shift(n int) {
	b.offset += n
	if b.offset > b.size {
		b.offset = b.size
	}
	if b.offset < 0 {
		b.offset = 0
	}
}

// Unshift moves the read cursor back by n bytes, clamped at zero.
func (b *Buffer) Unshift(n int) {
	b.Shift(-n)
}
