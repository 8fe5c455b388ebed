package buffer

import "testing"

func TestPoolConservation(t *testing.T) {
	const n = 16
	p := NewPool(n, 64, NewIONAllocator())

	if p.FreeCount() != n {
		t.Fatalf("FreeCount() = %d, want %d", p.FreeCount(), n)
	}

	var held []Handle
	for i := 0; i < n; i++ {
		h, ok := p.TryAcquire()
		if !ok {
			t.Fatalf("TryAcquire failed at i=%d, pool should not be exhausted yet", i)
		}
		held = append(held, h)
	}

	if p.FreeCount() != 0 {
		t.Fatalf("FreeCount() = %d after acquiring all, want 0", p.FreeCount())
	}
	if _, ok := p.TryAcquire(); ok {
		t.Fatal("TryAcquire succeeded on an exhausted pool")
	}

	for _, h := range held {
		p.Release(h)
	}
	if p.FreeCount() != n {
		t.Fatalf("FreeCount() = %d after releasing all, want %d", p.FreeCount(), n)
	}
}

func TestPoolHandleBytesAreIndependent(t *testing.T) {
	p := NewPool(2, 8, NewGrallocAllocator())
	h1, _ := p.TryAcquire()
	h2, _ := p.TryAcquire()
	copy(h1.Bytes(), []byte{1, 2, 3})
	copy(h2.Bytes(), []byte{9, 9, 9})
	if h1.Bytes()[0] == h2.Bytes()[0] {
		t.Fatal("buffers alias each other")
	}
}

func TestPoolReleasePanicsOnOutOfRangeHandle(t *testing.T) {
	p := NewPool(1, 8, NewIONAllocator())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing an out-of-range handle")
		}
	}()
	p.Release(Handle{index: 99})
}
