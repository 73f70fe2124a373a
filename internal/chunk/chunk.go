// Package chunk produces and consumes the fixed-size byte ranges a file is
// transferred in.
//
// A file of size S with chunk size C yields exactly ceil(S/C) spans covering
// [0, S) with no overlap and no gap; a zero-byte file yields one empty span
// so it still makes a full round trip through the transfer state machine.
// Spans are generated lazily so peak memory stays proportional to the number
// of chunks in flight, not to the file size.
package chunk

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"filesender/errors"
)

// Span is one byte range of a file: the unit of a single chunk request.
type Span struct {
	// Offset is the span's starting byte within the file
	Offset int64

	// Length is the span's size in bytes; only the final span of a file may
	// be shorter than the configured chunk size
	Length int64
}

// End returns the exclusive end offset of the span.
func (s Span) End() int64 {
	return s.Offset + s.Length
}

// Cursor walks a file's spans in strictly increasing offset order.
// It is restartable only at chunk boundaries: construct a new Cursor to
// start over.
type Cursor struct {
	size      int64
	chunkSize int64
	offset    int64
	emitted   bool
}

// NewCursor returns a cursor over the spans of a file of the given size.
func NewCursor(size, chunkSize int64) *Cursor {
	return &Cursor{size: size, chunkSize: chunkSize}
}

// Next returns the next span and true, or a zero span and false once the
// file is fully covered. A zero-size file yields exactly one empty span.
func (c *Cursor) Next() (Span, bool) {
	if c.size == 0 {
		if c.emitted {
			return Span{}, false
		}
		c.emitted = true
		return Span{Offset: 0, Length: 0}, true
	}
	if c.offset >= c.size {
		return Span{}, false
	}
	length := c.chunkSize
	if c.offset+length > c.size {
		length = c.size - c.offset
	}
	span := Span{Offset: c.offset, Length: length}
	c.offset += length
	return span, true
}

// Count returns the number of spans a file of the given size produces.
func Count(size, chunkSize int64) int64 {
	if size == 0 {
		return 1
	}
	return (size + chunkSize - 1) / chunkSize
}

// ReadSpan reads one span of f into buf and returns the filled slice.
// buf must have capacity for the span; it is reused across calls so each
// in-flight chunk holds exactly one buffer.
func ReadSpan(f fs.File, span Span, buf []byte) ([]byte, error) {
	if int64(cap(buf)) < span.Length {
		return nil, fmt.Errorf("%w: buffer capacity %d below span length %d", errors.ErrInvalidInput, cap(buf), span.Length)
	}
	buf = buf[:span.Length]
	if span.Length == 0 {
		return buf, nil
	}
	n, err := f.ReadAt(buf, span.Offset)
	if err != nil && !(err == io.EOF && int64(n) == span.Length) {
		return nil, fmt.Errorf("read chunk at offset %d: %w", span.Offset, err)
	}
	if int64(n) != span.Length {
		return nil, fmt.Errorf("read chunk at offset %d: short read %d of %d bytes", span.Offset, n, span.Length)
	}
	return buf, nil
}

// Writer assembles a downloaded file from its spans, which must arrive in
// strictly increasing offset order. It creates the directories implied by
// the file's relative path.
type Writer struct {
	f       fs.File
	path    string
	written int64
}

// NewWriter creates (or truncates) the file at relPath under fsys, creating
// intermediate directories as needed.
func NewWriter(fsys fs.Filesystem, relPath string) (*Writer, error) {
	if dir := path.Dir(relPath); dir != "." && dir != "/" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directories for %q: %w", relPath, err)
		}
	}
	f, err := fsys.OpenFile(relPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", relPath, err)
	}
	return &Writer{f: f, path: relPath}, nil
}

// WriteSpan writes one span's data. The span offset must equal the number of
// bytes already written; out-of-order spans are a programming error surfaced
// loudly rather than silently corrupting the file.
func (w *Writer) WriteSpan(span Span, data []byte) error {
	if span.Offset != w.written {
		return fmt.Errorf("%w: span offset %d, expected %d", errors.ErrInvalidInput, span.Offset, w.written)
	}
	if int64(len(data)) != span.Length {
		return fmt.Errorf("%w: span length %d, got %d bytes", errors.ErrInvalidInput, span.Length, len(data))
	}
	if len(data) == 0 {
		return nil
	}
	n, err := w.f.Write(data)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("write chunk at offset %d: %w", span.Offset, err)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Close closes the underlying file. Further calls are no-ops.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", w.path, err)
	}
	return nil
}
