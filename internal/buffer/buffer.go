// Package buffer implements a small append-only read/write cursor over a
// byte slice, shared by the type codec and the frame layer so that neither
// has to allocate per value.
package buffer

import "errors"

// ErrInsufficient is returned by Peek/Next-style reads when the buffer does
// not yet hold enough bytes to satisfy the request. It is not a decode
// error: callers retry once more bytes have arrived from the transport.
var ErrInsufficient = errors.New("buffer: insufficient data")

// Buffer is a growable write cursor paired with a read cursor over the same
// backing array. Writes always append at the end; reads consume from the
// front. It is not safe for concurrent use.
type Buffer struct {
	b   []byte
	off int // read offset
}

// New creates a Buffer wrapping b. The buffer takes ownership of b.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Reset discards all buffered data, keeping the underlying array.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Cap returns the capacity of the backing array.
func (b *Buffer) Cap() int {
	return cap(b.b)
}

// Bytes returns the unread portion of the buffer. The slice is invalidated
// by the next Write/Append call.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Append appends p to the buffer.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendString appends the bytes of s.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Peek returns the next n unread bytes without consuming them. It returns
// ErrInsufficient if fewer than n bytes are buffered.
func (b *Buffer) Peek(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, ErrInsufficient
	}
	return b.b[b.off : b.off+n], nil
}

// PeekByte returns the next unread byte without consuming it.
func (b *Buffer) PeekByte() (byte, error) {
	if b.Len() < 1 {
		return 0, ErrInsufficient
	}
	return b.b[b.off], nil
}

// Skip advances the read cursor by n bytes without returning them. It is the
// caller's responsibility to ensure n bytes are available.
func (b *Buffer) Skip(n int) {
	b.off += n
}

// Next returns the next up-to-n unread bytes and advances the read cursor
// past them, returning fewer than n only when the buffer holds less than n
// (it never returns ErrInsufficient: callers that need an exact count should
// check Len first).
func (b *Buffer) Next(n int64) ([]byte, int) {
	avail := int64(b.Len())
	if n > avail {
		n = avail
	}
	p := b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return p, int(n)
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	c, err := b.PeekByte()
	if err != nil {
		return 0, err
	}
	b.off++
	return c, nil
}

// ReadBytes consumes and returns the next n bytes.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	p, err := b.Peek(n)
	if err != nil {
		return nil, err
	}
	b.off += n
	return p, nil
}

// Reclaim compacts the buffer, discarding already-read bytes so the backing
// array does not grow unbounded on a long-lived connection.
func (b *Buffer) Reclaim() {
	if b.off == 0 {
		return
	}
	n := copy(b.b, b.b[b.off:])
	b.b = b.b[:n]
	b.off = 0
}
