package testutil

import (
	"errors"
	"io"
	"sync"
)

// ErrInjected is returned by FaultyBuffer once its write budget is spent.
var ErrInjected = errors.New("testutil: injected write failure")

// Buffer is an in-memory pack image implementing io.ReaderAt and io.WriterAt.
// Writes past the end grow the buffer.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// NewBuffer returns a buffer backed by a copy of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, extending the buffer as needed.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	return copy(b.data[off:], p), nil
}

// Size returns the current length of the buffer.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// FaultyBuffer is a Buffer whose writes start failing after a number of
// successful WriteAt calls.
type FaultyBuffer struct {
	*Buffer

	mu        sync.Mutex
	remaining int
}

// NewFaultyBuffer returns a buffer that accepts okWrites writes and then
// fails every write with ErrInjected.
func NewFaultyBuffer(data []byte, okWrites int) *FaultyBuffer {
	return &FaultyBuffer{Buffer: NewBuffer(data), remaining: okWrites}
}

// WriteAt implements io.WriterAt with fault injection.
func (f *FaultyBuffer) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	if f.remaining <= 0 {
		f.mu.Unlock()
		return 0, ErrInjected
	}
	f.remaining--
	f.mu.Unlock()
	return f.Buffer.WriteAt(p, off)
}

// Allow resets the number of writes that will succeed.
func (f *FaultyBuffer) Allow(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = n
}
