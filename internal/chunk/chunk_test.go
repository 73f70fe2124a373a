package chunk

import (
	"bytes"
	"testing"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_CoversFileExactly(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		want      int64
	}{
		{name: "zero-byte file yields one empty span", size: 0, chunkSize: 1024, want: 1},
		{name: "size below chunk size", size: 100, chunkSize: 1024, want: 1},
		{name: "size equal to chunk size", size: 1024, chunkSize: 1024, want: 1},
		{name: "one byte over a boundary", size: 1025, chunkSize: 1024, want: 2},
		{name: "exact multiple", size: 4096, chunkSize: 1024, want: 4},
		{name: "large uneven file", size: 10*1024*1024 + 37, chunkSize: 5 * 1024 * 1024, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.size, tt.chunkSize))

			cursor := NewCursor(tt.size, tt.chunkSize)
			var spans []Span
			for {
				span, ok := cursor.Next()
				if !ok {
					break
				}
				spans = append(spans, span)
			}

			require.Len(t, spans, int(tt.want))

			// No overlap, no gap: each span starts where the previous ended.
			var next int64
			for _, span := range spans {
				assert.Equal(t, next, span.Offset)
				next = span.End()
			}
			assert.Equal(t, tt.size, next, "spans must cover [0, size) exactly")

			// Every span but the last matches the chunk size.
			for i, span := range spans[:len(spans)-1] {
				assert.Equal(t, tt.chunkSize, span.Length, "span %d", i)
			}
		})
	}
}

func TestCursor_ZeroByteSpanEmittedOnce(t *testing.T) {
	cursor := NewCursor(0, 1024)

	span, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, Span{Offset: 0, Length: 0}, span)

	_, ok = cursor.Next()
	assert.False(t, ok)
}

func TestReadSpan(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	content := []byte("abcdefghijklmnopqrstuvwxyz")
	require.NoError(t, fsys.WriteFile("data.bin", content, 0o644))

	f, err := fsys.Open("data.bin")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 10)

	got, err := ReadSpan(f, Span{Offset: 0, Length: 10}, buf)
	require.NoError(t, err)
	assert.Equal(t, content[:10], got)

	// Final, truncated span ends exactly at EOF.
	got, err = ReadSpan(f, Span{Offset: 20, Length: 6}, buf)
	require.NoError(t, err)
	assert.Equal(t, content[20:], got)

	// Empty span for a zero-byte file reads nothing.
	got, err = ReadSpan(f, Span{Offset: 0, Length: 0}, buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadSpan_BufferTooSmall(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("data.bin", []byte("abc"), 0o644))

	f, err := fsys.Open("data.bin")
	require.NoError(t, err)
	defer f.Close()

	_, err = ReadSpan(f, Span{Offset: 0, Length: 3}, make([]byte, 2))
	assert.Error(t, err)
}

func TestWriter_AssemblesSpansInOrder(t *testing.T) {
	fsys := billy.NewInMemoryFS()

	w, err := NewWriter(fsys, "out/nested/result.bin")
	require.NoError(t, err)

	require.NoError(t, w.WriteSpan(Span{Offset: 0, Length: 5}, []byte("hello")))
	require.NoError(t, w.WriteSpan(Span{Offset: 5, Length: 6}, []byte(" world")))
	assert.EqualValues(t, 11, w.Written())
	require.NoError(t, w.Close())

	data, err := fsys.ReadFile("out/nested/result.bin")
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("hello world"), data))
}

func TestWriter_RejectsOutOfOrderSpan(t *testing.T) {
	fsys := billy.NewInMemoryFS()

	w, err := NewWriter(fsys, "result.bin")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteSpan(Span{Offset: 0, Length: 3}, []byte("abc")))
	assert.Error(t, w.WriteSpan(Span{Offset: 6, Length: 3}, []byte("ghi")))
}

func TestWriter_ZeroByteFile(t *testing.T) {
	fsys := billy.NewInMemoryFS()

	w, err := NewWriter(fsys, "empty.bin")
	require.NoError(t, err)
	require.NoError(t, w.WriteSpan(Span{Offset: 0, Length: 0}, nil))
	require.NoError(t, w.Close())

	data, err := fsys.ReadFile("empty.bin")
	require.NoError(t, err)
	assert.Empty(t, data)
}
