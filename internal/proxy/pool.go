package proxy

import (
	"sync"
)

// DefaultBufferSize is the per-direction relay buffer size.
const DefaultBufferSize = 4096

// BufferPool hands out fixed-size byte buffers.
type BufferPool struct {
	size int
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}

	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

// Size returns the length of every buffer in the pool.
func (p *BufferPool) Size() int {
	return p.size
}

func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}
