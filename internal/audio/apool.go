package audio

import "strata/internal/pool"

// Pool hands out Audio objects backed by a shared SampleBufferPool. The
// outer Audio structs are ordinary heap objects freed by the collector; the
// big sample buffers inside them are what get pooled, because those are what
// the interrupt allocates and frees continuously.
type Pool struct {
	buffers *pool.SampleBufferPool
}

// NewPool creates an audio pool over a sample buffer pool sized ringSize.
func NewPool(ringSize int) *Pool {
	return &Pool{buffers: pool.NewSampleBufferPool(BufferSamples, ringSize)}
}

// Buffers exposes the underlying sample buffer pool for maintenance and
// metrics.
func (p *Pool) Buffers() *pool.SampleBufferPool { return p.buffers }

// Maintain refills the buffer pool. Maintenance goroutine only.
func (p *Pool) Maintain() { p.buffers.Maintain() }

// NewAudio returns an empty Audio drawing storage from this pool.
func (p *Pool) NewAudio() *Audio {
	a := newAudio(p)
	a.initIndex()
	return a
}

// FreeAudio returns all of an Audio's buffers to the pool.
func (p *Pool) FreeAudio(a *Audio) {
	if a != nil {
		a.Free()
	}
}

func (p *Pool) allocBuffer() *pool.SampleBuffer {
	return p.buffers.AllocSamples()
}

func (p *Pool) freeBuffer(b *pool.SampleBuffer) {
	p.buffers.FreeSamples(b)
}
