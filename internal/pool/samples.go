package pool

// SampleBuffer is a pooled fixed-size buffer of float32 samples, the storage
// block behind every sparse audio index entry.
type SampleBuffer struct {
	state   State
	Samples []float32
}

// PoolState implements Object.
func (b *SampleBuffer) PoolState() *State { return &b.state }

// SampleBufferPool pools same-sized sample buffers. Buffers are handed out
// zeroed: ring buffers are zeroed on the maintenance goroutine, and a buffer
// reused straight from the free list is zeroed by Alloc on the interrupt.
type SampleBufferPool struct {
	*Pool
	samples int
}

// NewSampleBufferPool creates a pool of buffers holding the given number of
// float32 samples each. ringSize 0 selects the default.
func NewSampleBufferPool(samples, ringSize int) *SampleBufferPool {
	sp := &SampleBufferPool{samples: samples}
	sp.Pool = New(Config{
		Name:     "samples",
		RingSize: ringSize,
		Factory: func() Object {
			return &SampleBuffer{Samples: make([]float32, samples)}
		},
		Prepare: func(o Object) {
			buf := o.(*SampleBuffer).Samples
			for i := range buf {
				buf[i] = 0
			}
		},
	})
	return sp
}

// BufferSamples returns the size of each pooled buffer in samples.
func (p *SampleBufferPool) BufferSamples() int { return p.samples }

// AllocSamples returns a zeroed sample slice from the pool. Interrupt safe.
func (p *SampleBufferPool) AllocSamples() *SampleBuffer {
	return p.Alloc().(*SampleBuffer)
}

// FreeSamples returns a buffer to the pool. Interrupt safe.
func (p *SampleBufferPool) FreeSamples(b *SampleBuffer) {
	p.Free(b)
}
