package device

import "sync"

const maxPoolSize = 16 // Max idle buffers kept per size

// Buffer is a scoped transfer buffer owned by one in-flight tile pass.
// It must be returned with Release on every exit path.
type Buffer struct {
	data     []byte
	pool     *BufferPool
	released bool
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release returns the buffer to its pool. Calling Release more than once is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.pool.put(b.data)
}

// BufferPool manages transfer buffer reuse for one device.
// Buffers are pooled by exact size: a device only ever moves operand and
// result tiles, so there are two sizes in practice.
type BufferPool struct {
	idle map[int][][]byte
	mu   sync.Mutex

	// Statistics
	totalAllocated uint64
	totalReleased  uint64
	poolHits       uint64
	poolMisses     uint64
	outstanding    int
}

// NewBufferPool creates an empty buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{idle: make(map[int][][]byte)}
}

// Acquire gets a zeroed buffer of n bytes from the pool or allocates one.
func (p *BufferPool) Acquire(n int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outstanding++
	if free := p.idle[n]; len(free) > 0 {
		data := free[len(free)-1]
		p.idle[n] = free[:len(free)-1]
		p.poolHits++
		clear(data)
		return &Buffer{data: data, pool: p}
	}

	p.poolMisses++
	p.totalAllocated++
	return &Buffer{data: make([]byte, n), pool: p}
}

// put returns a buffer's memory to the idle list, dropping it if the list is full.
func (p *BufferPool) put(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalReleased++
	p.outstanding--
	if len(p.idle[len(data)]) >= maxPoolSize {
		return
	}
	p.idle[len(data)] = append(p.idle[len(data)], data)
}

// Clear drops all idle buffers.
// Should be called when the device is closed.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.idle)
}

// Outstanding returns the number of acquired buffers not yet released.
func (p *BufferPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() (allocated, released, hits, misses uint64, pooledCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, free := range p.idle {
		pooledCount += len(free)
	}
	return p.totalAllocated, p.totalReleased, p.poolHits, p.poolMisses, pooledCount
}
