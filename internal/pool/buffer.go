// Package pool provides memory management for chunk buffers.
//
// Every in-flight chunk holds exactly one buffer of the configured chunk
// size; pooling them keeps peak allocation at O(chunk size x concurrent
// chunks) instead of churning a fresh buffer per request.
package pool

import (
	"sync"
)

// ChunkPool manages reusable buffers of a single fixed capacity.
type ChunkPool struct {
	size int64
	pool *sync.Pool
}

// NewChunkPool creates a pool handing out buffers with capacity for one
// chunk of the given size.
func NewChunkPool(size int64) *ChunkPool {
	return &ChunkPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get returns a zero-length buffer with full chunk capacity.
// The caller is responsible for calling Put to return the buffer to the pool.
func (p *ChunkPool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:0]
}

// Put returns a buffer to the pool. Buffers whose capacity no longer matches
// the pool's chunk size are dropped rather than pooled.
func (p *ChunkPool) Put(buf []byte) {
	if int64(cap(buf)) != p.size {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}

// Size returns the chunk size the pool was created with.
func (p *ChunkPool) Size() int64 {
	return p.size
}
