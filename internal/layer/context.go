// Package layer implements the loop history model. A Layer is one
// generation of a loop: locally recorded audio plus an ordered list of
// Segments windowing earlier layers. Layers chain backward through prev
// pointers, forming an append-only history that undo walks and loop
// windowing re-slices.
package layer

import "strata/internal/audio"

// MaxFramesPerBuffer is the largest interrupt buffer the render paths
// accommodate; scratch buffers for edge fades are sized by it.
const MaxFramesPerBuffer = 4096

// Context carries per-chunk render state down from the loop into layers and
// segments: the sample buffer being filled or consumed, the direction, and
// the accumulated output level.
type Context struct {
	audio.Buffer
	Reverse bool
	Level   float32
}

// NewContext returns a context at unity level over the given samples.
func NewContext(samples []float32, frames int) *Context {
	return &Context{
		Buffer: audio.Buffer{Samples: samples, Frames: frames, Channels: audio.Channels},
		Level:  1.0,
	}
}

// slice returns a context over a sub-range of this context's buffer,
// sharing direction and level.
func (c *Context) slice(frameOffset, frames int) *Context {
	sub := *c
	sub.Samples = c.Samples[frameOffset*c.Channels:]
	sub.Frames = frames
	return &sub
}
