// Package buffer implements the fixed-size frame buffer pool every stream
// owns: buffers are lent to the HAL request loop and reclaimed by the
// processing worker or encoder feeder, never reallocated after pool
// construction.
package buffer

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to one pool-owned buffer.
type Handle struct {
	index int
	buf   []byte
}

// Bytes returns the backing storage for this handle.
func (h Handle) Bytes() []byte { return h.buf }

// Allocator abstracts the platform-specific backing storage a buffer is
// carved from (DMA/ion-mapped memory on one platform, gralloc on another).
// Both concrete constructors in this module back onto host heap memory —
// there is no physical DMA heap available off-target — but pipeline code
// only ever depends on this interface, so a real platform backend can be
// substituted without touching pool or pipeline logic.
type Allocator interface {
	Allocate(size int) []byte
	Free([]byte)
}

type heapAllocator struct{ name string }

func (a heapAllocator) Allocate(size int) []byte { return make([]byte, size) }
func (a heapAllocator) Free([]byte)              {}

// NewIONAllocator returns the allocator used for the QRB5165-style platform.
func NewIONAllocator() Allocator { return heapAllocator{name: "ion"} }

// NewGrallocAllocator returns the allocator used for the APQ8096-style platform.
func NewGrallocAllocator() Allocator { return heapAllocator{name: "gralloc"} }

// Pool is a fixed-capacity set of reusable buffers. Every buffer is at all
// times in exactly one of three states: free, outstanding to the HAL, or
// held by downstream processing; free-count + outstanding-count always
// equals the configured pool size.
type Pool struct {
	mu        sync.Mutex
	free      []int
	buffers   []Handle
	size      int
	allocator Allocator
}

// NewPool allocates n buffers of bufSize bytes each via allocator.
func NewPool(n, bufSize int, allocator Allocator) *Pool {
	p := &Pool{
		free:      make([]int, 0, n),
		buffers:   make([]Handle, n),
		size:      n,
		allocator: allocator,
	}
	for i := 0; i < n; i++ {
		p.buffers[i] = Handle{index: i, buf: allocator.Allocate(bufSize)}
		p.free = append(p.free, i)
	}
	return p
}

// TryAcquire pops a free buffer without blocking. ok is false if the pool is
// exhausted; callers must treat that as admission-control backpressure, not
// an error.
func (p *Pool) TryAcquire() (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return Handle{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return p.buffers[idx], true
}

// Release returns a buffer to the free set. Never fails; releasing a handle
// not owned by this pool is a programmer error and panics rather than
// silently corrupting the free set.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.index < 0 || h.index >= p.size {
		panic(fmt.Sprintf("buffer: release of out-of-range handle %d (pool size %d)", h.index, p.size))
	}
	p.free = append(p.free, h.index)
}

// FreeCount reports how many buffers are currently free, used by the
// request loop's admission-control decision.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the configured pool capacity.
func (p *Pool) Size() int { return p.size }

// Close frees all backing storage. Buffers must not be in use.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.buffers {
		p.allocator.Free(h.buf)
	}
}
