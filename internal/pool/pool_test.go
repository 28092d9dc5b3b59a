package pool

import (
	"sync"
	"testing"
)

// testObj is a minimal pooled object for exercising the rings.
type testObj struct {
	state State
	id    int
	reset int // bumped by prepare
}

func (o *testObj) PoolState() *State { return &o.state }

func newTestPool(ringSize int, listFirst bool) *Pool {
	nextID := 0
	return New(Config{
		Name:      "test",
		RingSize:  ringSize,
		ListFirst: listFirst,
		Factory: func() Object {
			nextID++
			return &testObj{id: nextID}
		},
		Prepare: func(o Object) {
			o.(*testObj).reset++
		},
	})
}

func TestAllocFromPrimedRing(t *testing.T) {
	p := newTestPool(8, false)
	p.Maintain()

	avail, heap, factory, _ := p.Stats()
	if avail != 8 {
		t.Fatalf("primed ring has %d objects, want 8", avail)
	}
	if heap != 8 || factory != 0 {
		t.Fatalf("heap=%d factory=%d after priming, want 8/0", heap, factory)
	}

	o := p.Alloc()
	if o == nil {
		t.Fatal("Alloc returned nil")
	}
	if o.PoolState().Pooled() {
		t.Error("allocated object still marked pooled")
	}
	if avail, _, _, _ := p.Stats(); avail != 7 {
		t.Errorf("ring has %d after one alloc, want 7", avail)
	}
}

func TestAllocNeverReturnsPooledObject(t *testing.T) {
	p := newTestPool(8, true)
	p.Maintain()

	seen := map[Object]bool{}
	for i := 0; i < 100; i++ {
		o := p.Alloc()
		if o.PoolState().Pooled() {
			t.Fatalf("alloc %d returned an object marked pooled", i)
		}
		if seen[o] {
			t.Fatalf("alloc %d returned an object still checked out", i)
		}
		seen[o] = true
		if i%3 == 0 {
			p.Free(o)
			delete(seen, o)
		}
	}
}

func TestListFirstReuse(t *testing.T) {
	p := newTestPool(4, true)
	p.Maintain()

	a := p.Alloc()
	p.Free(a)
	b := p.Alloc()
	if a != b {
		t.Error("list-first pool did not reuse the freed object immediately")
	}
}

func TestDoubleFreeDetected(t *testing.T) {
	p := newTestPool(4, true)
	p.Maintain()

	o := p.Alloc()
	p.Free(o)
	p.Free(o)

	if _, _, _, doubles := p.Stats(); doubles != 1 {
		t.Errorf("double free counter = %d, want 1", doubles)
	}
	// the second free must not have corrupted the list: the object appears once
	x := p.Alloc()
	y := p.Alloc()
	if x == y {
		t.Error("double free duplicated the object in the pool")
	}
}

func TestFactoryFallbackWhenExhausted(t *testing.T) {
	p := newTestPool(2, false)
	p.Maintain()

	// drain the ring without freeing
	for i := 0; i < 2; i++ {
		if p.Alloc() == nil {
			t.Fatal("nil from primed ring")
		}
	}
	o := p.Alloc()
	if o == nil {
		t.Fatal("exhausted pool returned nil instead of factory object")
	}
	if _, _, factory, _ := p.Stats(); factory != 1 {
		t.Errorf("factory fallback counter = %d, want 1", factory)
	}
}

func TestFreeSpillsToFreeRing(t *testing.T) {
	p := newTestPool(16, false)
	p.Maintain()

	objs := make([]Object, 12)
	for i := range objs {
		objs[i] = p.Alloc()
	}
	for _, o := range objs {
		p.Free(o)
	}

	// all but freeSpillThreshold objects spill to the free ring, where
	// Maintain reclaims them onto the allocation side; the factory tops up
	// the rest, so 16+freeSpillThreshold objects exist, not 16+12
	p.Maintain()
	avail, heap, _, _ := p.Stats()
	if avail != 16 {
		t.Errorf("ring has %d after reclaim, want 16", avail)
	}
	if heap != 16+freeSpillThreshold {
		t.Errorf("heap allocations = %d after reclaim, want %d", heap, 16+freeSpillThreshold)
	}
}

func TestPrepareRunsBeforeReuse(t *testing.T) {
	p := newTestPool(4, true)
	p.Maintain()

	o := p.Alloc().(*testObj)
	first := o.reset
	p.Free(o)
	o2 := p.Alloc().(*testObj)
	if o2 != o {
		t.Fatal("expected list-first reuse")
	}
	if o2.reset != first+1 {
		t.Errorf("prepare ran %d times on reuse, want once", o2.reset-first)
	}
}

func TestMaintenanceSignalOnLowWater(t *testing.T) {
	p := newTestPool(8, false)
	p.Maintain()

	for i := 0; i < 6; i++ {
		p.Alloc()
	}
	select {
	case <-p.Wake():
	default:
		t.Error("no maintenance signal after draining below the low-water mark")
	}
}

// TestInterleavedAllocFreeMaintain hammers the pool from a producer
// goroutine (standing in for the interrupt) while Maintain runs concurrently,
// checking that no object is ever handed out twice at once.
func TestInterleavedAllocFreeMaintain(t *testing.T) {
	p := newTestPool(32, false)
	p.Maintain()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				p.Maintain()
			}
		}
	}()

	held := map[Object]bool{}
	for i := 0; i < 50000; i++ {
		o := p.Alloc()
		if held[o] {
			t.Fatalf("iteration %d: object handed out twice", i)
		}
		if o.PoolState().Pooled() {
			t.Fatalf("iteration %d: alloc returned pooled object", i)
		}
		held[o] = true
		if i%2 == 0 {
			for obj := range held {
				p.Free(obj)
				delete(held, obj)
				break
			}
		}
	}
	close(done)
	wg.Wait()
}

func TestSampleBufferPoolZeroesOnReuse(t *testing.T) {
	p := NewSampleBufferPool(256, 4)
	p.Maintain()

	b := p.AllocSamples()
	if len(b.Samples) != 256 {
		t.Fatalf("buffer has %d samples, want 256", len(b.Samples))
	}
	for i := range b.Samples {
		b.Samples[i] = 0.5
	}
	p.FreeSamples(b)

	// free list reuse must still come back zeroed
	b2 := p.AllocSamples()
	for i, s := range b2.Samples {
		if s != 0 {
			t.Fatalf("sample %d = %f after reuse, want 0", i, s)
		}
	}
}
