// Package govern bounds how much of a transfer runs at once.
//
// Two independent admission counters are shared process-wide across every
// active operation: one caps files whose chunk loops are interleaved, the
// other caps chunk requests in flight. Their product caps total concurrent
// chunk buffers, so memory use is governed alongside request parallelism.
package govern

import (
	"context"
	"fmt"
)

// Governor is a pair of counting admission gates. Acquire a file slot before
// a file's chunk loop starts and a chunk slot around each chunk request;
// release on every exit path, including cancellation.
type Governor struct {
	files  chan struct{}
	chunks chan struct{}
}

// New creates a governor admitting at most files concurrent file loops and
// chunks concurrent chunk requests. Both bounds must be positive.
func New(files, chunks int) (*Governor, error) {
	if files <= 0 {
		return nil, fmt.Errorf("concurrent files bound must be positive, got %d", files)
	}
	if chunks <= 0 {
		return nil, fmt.Errorf("concurrent chunks bound must be positive, got %d", chunks)
	}
	return &Governor{
		files:  make(chan struct{}, files),
		chunks: make(chan struct{}, chunks),
	}, nil
}

// AcquireFile blocks until a file slot is free or ctx is done.
func (g *Governor) AcquireFile(ctx context.Context) error {
	select {
	case g.files <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseFile returns a file slot.
func (g *Governor) ReleaseFile() {
	<-g.files
}

// AcquireChunk blocks until a chunk slot is free or ctx is done.
func (g *Governor) AcquireChunk(ctx context.Context) error {
	select {
	case g.chunks <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseChunk returns a chunk slot.
func (g *Governor) ReleaseChunk() {
	<-g.chunks
}
