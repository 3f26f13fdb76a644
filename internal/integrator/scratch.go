package integrator

import "sync"

// bufferPool recycles scratch byte buffers used while building embedding
// input text, avoiding an allocation per node on the hot indexing path.
// sync.Pool is the stdlib's answer to exactly this pattern; no pack
// dependency offers a pooled-buffer primitive, so this stays stdlib.
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		return make([]byte, 0, size)
	}
	return bp
}

func (p *bufferPool) get() []byte {
	return p.pool.Get().([]byte)[:0]
}

// put returns buf to the pool unless it has grown far outside the pool's
// nominal size, mirroring the reference allocator's rule that oversized
// buffers are dropped rather than retained indefinitely.
func (p *bufferPool) put(buf []byte) {
	if cap(buf) < p.size/2 || cap(buf) > p.size*2 {
		return
	}
	p.pool.Put(buf)
}
