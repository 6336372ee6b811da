package core

import "sync"

// BufferPool hands out fixed-size byte slices for chunked I/O so that
// high-throughput relay paths don't allocate per copy.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer of exactly the pool's chunk size.
func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers that were resized are dropped
// so the pool only ever holds full-size chunks.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}

// Size reports the chunk size buffers are allocated with.
func (p *BufferPool) Size() int {
	return p.size
}
