// Package pool implements object pooling with coordination between the audio
// interrupt and the engine maintenance goroutine.
//
// The interrupt must be able to retrieve and return objects instantly,
// without taking a lock or touching the heap. The maintenance goroutine keeps
// the pool full so the interrupt never starves. Each pool maintains four
// structures with strict ownership rules:
//
//	Allocation ring   maintenance appends at the head, interrupt consumes
//	                  from the tail.
//	Allocation list   maintenance only: constructed objects waiting to be
//	                  promoted to the allocation ring.
//	Free ring         interrupt appends at the head, maintenance consumes
//	                  from the tail.
//	Free list         interrupt only: freed objects reused directly by the
//	                  next Alloc, or spilled to the free ring.
//
// Rings are circular buffers one slot longer than the requested capacity,
// whose head always points at an empty slot, so effective capacity is size-1. Head and tail indexes are atomics
// with a single writer each; storing the index after the slot publishes the
// slot to the other side.
//
// List-first pools keep freed objects on the free list indefinitely and
// never touch the free ring. That is right for small objects churned every
// interrupt. Large buffers instead spill to the free ring so maintenance can
// see them and bound process growth.
package pool

import (
	"sync/atomic"

	"strata/internal/trace"
)

// DefaultRingSize is the allocation/free ring capacity used when the caller
// passes zero.
const DefaultRingSize = 64

// freeSpillThreshold is how many objects a non-list-first pool keeps on the
// interrupt-side free list before spilling to the free ring.
const freeSpillThreshold = 4

// State carries the pooling bookkeeping embedded in every pooled object.
type State struct {
	pool     *Pool
	next     Object
	pooled   bool
	prepared bool
}

// Pool returns the pool that owns the object, or nil.
func (s *State) Pool() *Pool { return s.pool }

// Pooled reports whether the object is currently in a pool.
func (s *State) Pooled() bool { return s.pooled }

// Object is implemented by anything a Pool can manage. PoolState must return
// the same *State for the lifetime of the object.
type Object interface {
	PoolState() *State
}

// Factory constructs one new object from the heap. Called by the maintenance
// goroutine, and as a traced last resort by the interrupt when the pool has
// been exhausted.
type Factory func() Object

// Config parameterizes a Pool.
type Config struct {
	Name      string
	RingSize  int            // per-ring capacity; DefaultRingSize if zero
	ListFirst bool           // reuse freed objects directly, skip the free ring
	Factory   Factory        // required
	Prepare   func(o Object) // optional: reset an object before reuse (maintenance side)
}

// Pool is a two-ring lock-free object pool. Alloc and Free may be called only
// from the interrupt; Maintain only from the maintenance goroutine.
type Pool struct {
	name      string
	factory   Factory
	prepare   func(Object)
	listFirst bool

	allocRing []Object
	allocHead atomic.Int32 // maintenance writes
	allocTail atomic.Int32 // interrupt writes
	allocWarn int32
	allocList Object // maintenance only

	freeRing  []Object
	freeHead  atomic.Int32 // interrupt writes
	freeTail  atomic.Int32 // maintenance writes
	freeList  Object       // interrupt only
	freeCount int          // interrupt only: length of freeList

	wake chan struct{} // signaled when the allocation ring runs low

	// counters, visible to metrics
	factoryAllocs atomic.Uint64 // interrupt-side factory fallbacks
	heapAllocs    atomic.Uint64 // total objects constructed
	doubleFrees   atomic.Uint64
	crossFrees    atomic.Uint64
}

// New builds a pool. The pool is empty until the first Maintain call fills
// the allocation ring; callers that need a primed pool call Maintain once
// before starting the audio stream.
func New(cfg Config) *Pool {
	size := cfg.RingSize
	if size < 2 {
		size = DefaultRingSize
	}
	// the head must always point at empty space, so rings are one larger
	// than the requested capacity
	size++
	return &Pool{
		name:      cfg.Name,
		factory:   cfg.Factory,
		prepare:   cfg.Prepare,
		listFirst: cfg.ListFirst,
		allocRing: make([]Object, size),
		freeRing:  make([]Object, size),
		allocWarn: int32(size / 2),
		wake:      make(chan struct{}, 1),
	}
}

// Name returns the pool name used in trace messages.
func (p *Pool) Name() string { return p.name }

// Wake returns the channel signaled when the allocation ring drops below the
// low-water mark. The maintenance goroutine selects on it.
func (p *Pool) Wake() <-chan struct{} { return p.wake }

// Alloc returns an object from the free list, then the allocation ring. As a
// last resort it calls the factory, which allocates on the interrupt and is
// traced as an error; a primed list-first pool never reaches that path.
// Interrupt side only.
func (p *Pool) Alloc() Object {
	var obj Object

	if p.freeList != nil {
		obj = p.freeList
		p.freeList = obj.PoolState().next
		p.freeCount--
	} else {
		tail := p.allocTail.Load()
		if tail == p.allocHead.Load() {
			trace.Errorf("pool: empty allocation ring", 0, 0)
		} else {
			obj = p.allocRing[tail]
			p.allocRing[tail] = nil
			p.allocTail.Store(p.advance(tail))
		}
	}

	if obj == nil {
		trace.Errorf("pool: interrupt-side factory allocation", 0, 0)
		p.factoryAllocs.Add(1)
		p.heapAllocs.Add(1)
		obj = p.factory()
		obj.PoolState().pool = p
	}

	st := obj.PoolState()
	st.pooled = false
	st.next = nil
	if !st.prepared && p.prepare != nil {
		// free-list reuse hands back a dirty object; maintenance has not
		// seen it, so reset it here
		p.prepare(obj)
	}
	st.prepared = false

	if p.available() < p.allocWarn {
		p.requestMaintenance()
	}
	return obj
}

// Free returns an object to the pool. Double frees and frees into a foreign
// pool are traced and the object leaks rather than corrupting the rings.
// Interrupt side only.
func (p *Pool) Free(obj Object) {
	st := obj.PoolState()
	if st.pooled {
		trace.Errorf("pool: double free", 0, 0)
		p.doubleFrees.Add(1)
		return
	}
	if st.pool != nil && st.pool != p {
		trace.Errorf("pool: free into wrong pool", 0, 0)
		p.crossFrees.Add(1)
		return
	}

	st.next = p.freeList
	p.freeList = obj
	p.freeCount++
	st.pooled = true

	if !p.listFirst {
		p.spillFreeList()
	}
}

// spillFreeList moves excess free-list objects onto the free ring so the
// maintenance goroutine can reclaim them. If the ring is full the objects
// stay listed; maintenance isn't keeping up, which is itself traced.
func (p *Pool) spillFreeList() {
	for p.freeCount > freeSpillThreshold {
		head := p.freeHead.Load()
		next := p.advance(head)
		if next == p.freeTail.Load() {
			trace.Warnf("pool: free ring overflow, keeping on free list", 0, 0)
			return
		}
		obj := p.freeList
		p.freeList = obj.PoolState().next
		p.freeCount--
		obj.PoolState().next = nil
		p.freeRing[head] = obj
		p.freeHead.Store(next)
	}
}

// Maintain consumes the free ring onto the allocation list, then fills the
// allocation ring, constructing new objects as needed. Maintenance side only.
func (p *Pool) Maintain() {
	// consume the free ring
	for {
		tail := p.freeTail.Load()
		if tail == p.freeHead.Load() {
			break
		}
		obj := p.freeRing[tail]
		p.freeRing[tail] = nil
		p.freeTail.Store(p.advance(tail))
		if obj == nil {
			trace.Errorf("pool: corrupted free ring", 0, 0)
			continue
		}
		obj.PoolState().next = p.allocList
		p.allocList = obj
	}

	// fill the allocation ring
	for {
		head := p.allocHead.Load()
		next := p.advance(head)
		if next == p.allocTail.Load() {
			break
		}
		var obj Object
		if p.allocList != nil {
			obj = p.allocList
			p.allocList = obj.PoolState().next
			obj.PoolState().next = nil
		} else {
			obj = p.factory()
			obj.PoolState().pool = p
			p.heapAllocs.Add(1)
		}
		if p.prepare != nil {
			p.prepare(obj)
		}
		obj.PoolState().prepared = true
		obj.PoolState().pooled = true
		p.allocRing[head] = obj
		p.allocHead.Store(next)
	}
}

// Stats reports pool occupancy and counters for metrics export.
func (p *Pool) Stats() (ringAvailable int, heapAllocs, factoryAllocs, doubleFrees uint64) {
	return int(p.available()), p.heapAllocs.Load(), p.factoryAllocs.Load(), p.doubleFrees.Load()
}

func (p *Pool) advance(i int32) int32 {
	i++
	if int(i) >= len(p.allocRing) {
		i = 0
	}
	return i
}

// available counts objects currently on the allocation ring. Approximate
// when the other side is mid-update, which is fine for threshold checks.
func (p *Pool) available() int32 {
	head := p.allocHead.Load()
	tail := p.allocTail.Load()
	if head >= tail {
		return head - tail
	}
	return int32(len(p.allocRing)) - (tail - head)
}

func (p *Pool) requestMaintenance() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
