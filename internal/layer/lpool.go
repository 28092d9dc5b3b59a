package layer

import (
	"strata/internal/audio"
	"strata/internal/trace"
)

// Pool recycles Layer objects. Layers are allocated at shift time on the
// interrupt, so the pool keeps a simple list-first free list the interrupt
// owns outright; the maintenance goroutine only pre-warms it.
type Pool struct {
	apool *audio.Pool

	free      *Layer
	counter   int
	allocated int

	muteLayer *Layer
}

// NewPool creates a layer pool drawing audio storage from apool.
func NewPool(apool *audio.Pool) *Pool {
	return &Pool{apool: apool}
}

// Prime constructs n layers onto the free list. Call before the stream
// starts so the first shifts never hit the heap.
func (p *Pool) Prime(n int) {
	for i := 0; i < n; i++ {
		l := newLayer(p, p.apool)
		p.allocated++
		l.pooled = true
		l.poolNext = p.free
		p.free = l
	}
}

// NewLayer returns a reset layer with one owner reference.
func (p *Pool) NewLayer() *Layer {
	var l *Layer
	if p.free != nil {
		l = p.free
		p.free = l.poolNext
		l.poolNext = nil
		l.pooled = false
		l.init()
	} else {
		trace.Warnf("layer: pool empty, allocating", 0, 0)
		l = newLayer(p, p.apool)
		p.allocated++
	}
	p.counter++
	l.number = p.counter
	l.references = 1
	return l
}

func (p *Pool) release(l *Layer) {
	if l.pooled {
		trace.Errorf("layer: double free of layer %d", int64(l.number), 0)
		return
	}
	l.pooled = true
	l.poolNext = p.free
	p.free = l
}

// MuteLayer returns the shared silent sentinel layer used while a track's
// output is muted. It is never freed and never recorded into.
func (p *Pool) MuteLayer() *Layer {
	if p.muteLayer == nil {
		p.muteLayer = newLayer(p, p.apool)
		p.allocated++
		p.muteLayer.number = -1
		p.muteLayer.references = 1
		p.muteLayer.finalized = true
	}
	return p.muteLayer
}

// ResetCounter restarts layer numbering, done at global reset so trace
// output stays readable.
func (p *Pool) ResetCounter() { p.counter = 0 }

// Allocated returns the total number of layers ever constructed.
func (p *Pool) Allocated() int { return p.allocated }
