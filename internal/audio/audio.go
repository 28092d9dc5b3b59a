// Package audio implements the block-structured memory model for digital
// audio. An Audio is a logical interval of float32 frames stored in a sparse
// index of fixed-size pooled buffers: index entries may be nil, and reading a
// missing buffer yields silence. The logical start of the interval can move
// in either direction, which is what makes left-trim and reverse recording
// cheap.
//
// Audio is not safe for concurrent use; on the engine only the interrupt
// touches a live Audio.
package audio

import (
	"strata/internal/pool"
	"strata/internal/trace"
)

const (
	// BufferFrames is the number of frames per pooled storage buffer.
	BufferFrames = 64 * 1024

	// Channels is the fixed channel count. Variable channel counts would
	// change buffer layout and are not supported.
	Channels = 2

	// BufferSamples is the size of one storage buffer in samples.
	BufferSamples = BufferFrames * Channels

	// DefaultSampleRate is used until a device reports otherwise.
	DefaultSampleRate = 44100

	// initialIndexBuffers is the starting size of the buffer index, about a
	// minute and a half of audio at 44.1 kHz, grown in chunks as needed.
	initialIndexBuffers = 60

	// reverseHeadroomBuffers is how many index slots are kept ahead of the
	// content when the index grows leftward, so a short reverse extension
	// does not reallocate immediately.
	reverseHeadroomBuffers = 10
)

// Buffer is a view of interleaved frames exchanged with device callbacks and
// render paths.
type Buffer struct {
	Samples  []float32
	Frames   int
	Channels int
}

// Audio is a logically addressed, sparsely buffered PCM container.
type Audio struct {
	pool       *Pool
	sampleRate int
	channels   int
	bufferSize int // samples per index entry

	buffers    []*pool.SampleBuffer
	startFrame int // absolute frame of logical frame 0 within the index
	frames     int // logical length

	play   *Cursor
	record *Cursor
}

func newAudio(p *Pool) *Audio {
	a := &Audio{
		pool:       p,
		sampleRate: DefaultSampleRate,
		channels:   Channels,
		bufferSize: BufferSamples,
	}
	a.play = NewCursor(a, false)
	a.record = NewCursor(a, true)
	return a
}

// SampleRate returns the sample rate tag carried by this audio.
func (a *Audio) SampleRate() int { return a.sampleRate }

// SetSampleRate tags the audio with a sample rate. Content is not resampled.
func (a *Audio) SetSampleRate(rate int) { a.sampleRate = rate }

// NumChannels returns the channel count, presently always 2.
func (a *Audio) NumChannels() int { return a.channels }

// Frames returns the logical length in frames.
func (a *Audio) Frames() int { return a.frames }

// Samples returns the logical length in samples.
func (a *Audio) Samples() int { return a.frames * a.channels }

// StartFrame returns the absolute index offset of logical frame 0. Exposed
// for diagnostics and project serialization.
func (a *Audio) StartFrame() int { return a.startFrame }

// IsEmpty reports whether the audio holds no buffers, i.e. is all silence.
func (a *Audio) IsEmpty() bool {
	for _, b := range a.buffers {
		if b != nil {
			return false
		}
	}
	return true
}

// Reset releases all buffers and restores the initial empty state.
func (a *Audio) Reset() {
	a.freeBuffers()
	a.initIndex()
}

// Zero releases the content buffers but keeps the frame counter, leaving a
// silent interval of the same length.
func (a *Audio) Zero() {
	for i, b := range a.buffers {
		if b != nil {
			a.pool.freeBuffer(b)
			a.buffers[i] = nil
		}
	}
}

// Free returns every buffer to the pool. The Audio must not be used after.
func (a *Audio) Free() {
	a.freeBuffers()
}

func (a *Audio) freeBuffers() {
	for i, b := range a.buffers {
		if b != nil {
			a.pool.freeBuffer(b)
			a.buffers[i] = nil
		}
	}
	a.startFrame = 0
	a.frames = 0
}

// initIndex sizes the buffer index and positions the start frame some
// buffers in, so a short reverse extension does not force a reindex.
func (a *Audio) initIndex() {
	if a.buffers == nil {
		a.buffers = make([]*pool.SampleBuffer, initialIndexBuffers)
	}
	a.startFrame = BufferFrames * reverseHeadroomBuffers
}

// locate resolves a logical frame to an index entry and sample offset.
func (a *Audio) locate(frame int) (index, offset int) {
	sample := (frame + a.startFrame) * a.channels
	return sample / a.bufferSize, sample % a.bufferSize
}

// growIndex extends the index by count entries. up extends on the left
// (reverse growth) and shifts existing content, compensating startFrame so it
// stays non-negative.
func (a *Audio) growIndex(count int, up bool) {
	if count <= 0 {
		return
	}
	grown := make([]*pool.SampleBuffer, len(a.buffers)+count)
	if up {
		copy(grown[count:], a.buffers)
		a.startFrame += count * BufferFrames
	} else {
		copy(grown, a.buffers)
	}
	a.buffers = grown
}

// prepareIndex grows the index on the right until it can hold entry index.
func (a *Audio) prepareIndex(index int) {
	if index >= len(a.buffers) {
		a.growIndex(index-len(a.buffers)+1+reverseHeadroomBuffers, false)
	}
}

// bufferAt returns the samples of the index entry containing nothing extra;
// nil means silence.
func (a *Audio) bufferAt(index int) []float32 {
	if index < 0 || index >= len(a.buffers) || a.buffers[index] == nil {
		return nil
	}
	return a.buffers[index].Samples
}

// allocBufferAt returns the samples at the index entry, allocating a zeroed
// pooled buffer if the entry is empty.
func (a *Audio) allocBufferAt(index int) []float32 {
	a.prepareIndex(index)
	if a.buffers[index] == nil {
		a.buffers[index] = a.pool.allocBuffer()
	}
	return a.buffers[index].Samples
}

// Splice logically retains only the region [frame, frame+length).
func (a *Audio) Splice(frame, length int) {
	a.SetStartFrame(a.startFrame + frame)
	a.SetFrames(length)
}

// SetFrames sets the logical length. Truncation on the right zeroes the
// partial last buffer and releases buffers beyond it, so later extension
// reads silence. Negative counts collapse to zero with a trace warning.
func (a *Audio) SetFrames(frames int) {
	if frames < 0 {
		trace.Warnf("audio: negative frame count %d collapsed to zero", int64(frames), 0)
		frames = 0
	}
	if frames < a.frames {
		index, offset := a.locate(frames)
		if index < len(a.buffers) {
			if buf := a.bufferAt(index); buf != nil {
				for i := offset; i < a.bufferSize; i++ {
					buf[i] = 0
				}
			}
			lastIndex, _ := a.locate(a.frames)
			if lastIndex >= len(a.buffers) {
				lastIndex = len(a.buffers) - 1
			}
			for i := index + 1; i <= lastIndex; i++ {
				if a.buffers[i] != nil {
					a.pool.freeBuffer(a.buffers[i])
					a.buffers[i] = nil
				}
			}
		}
	}
	a.frames = frames
}

// SetFramesReverse sets the logical length while recording in reverse: the
// interval extends (or shrinks, for an unrounded multiply in reverse) on the
// left rather than the right.
func (a *Audio) SetFramesReverse(frames int) {
	extension := frames - a.frames
	a.SetStartFrame(a.startFrame - extension)
	a.frames = frames
}

// SetStartFrame sets the absolute index offset of logical frame 0.
//
// Moving the start right truncates on the left: the partial first buffer is
// zeroed and whole buffers before it released. Moving it right past the end
// collapses the interval to zero length. Moving it left extends the interval;
// a negative target reindexes the buffers upward so the start stays
// non-negative.
func (a *Audio) SetStartFrame(frame int) {
	if frame < 0 {
		// left extension beyond the index: grow upward and shift, keeping
		// the start frame non-negative
		needBuffers := -frame / BufferFrames
		if -frame%BufferFrames > 0 {
			needBuffers++
		}
		needBuffers += reverseHeadroomBuffers

		origStart := a.startFrame
		a.growIndex(needBuffers, true) // advances startFrame by the grown frames
		grown := a.startFrame - origStart
		a.frames += origStart - frame
		a.startFrame = frame + grown
		return
	}

	if frame <= a.startFrame {
		// extension on the left within the current index
		a.frames += a.startFrame - frame
		a.startFrame = frame
		return
	}

	// truncation on the left
	endFrame := a.startFrame + a.frames - 1
	if frame > endFrame {
		trace.Warnf("audio: start frame beyond end, collapsing to zero", 0, 0)
		frame = endFrame + 1
	}

	relFrame := frame - a.startFrame
	index, offset := a.locate(relFrame)
	if index < len(a.buffers) {
		if buf := a.bufferAt(index); buf != nil {
			for i := 0; i < offset; i++ {
				buf[i] = 0
			}
		}
		firstIndex, _ := a.locate(0)
		lastIndex := index - 1
		if lastIndex >= len(a.buffers) {
			lastIndex = len(a.buffers) - 1
		}
		for i := firstIndex; i <= lastIndex; i++ {
			if i >= 0 && a.buffers[i] != nil {
				a.pool.freeBuffer(a.buffers[i])
				a.buffers[i] = nil
			}
		}
	}
	a.startFrame = frame
	a.frames -= relFrame
	if a.frames < 0 {
		a.frames = 0
	}
}

// prepareFrame readies a logical frame for writing, allocating the backing
// buffer and extending the interval as needed. A negative frame extends on
// the left, after which the frame becomes zero. Returns the (possibly
// remapped) frame plus the buffer and sample offset to write.
func (a *Audio) prepareFrame(frame int) (int, []float32, int) {
	if a.buffers == nil {
		a.initIndex()
	}
	if frame < 0 {
		a.SetStartFrame(a.startFrame + frame)
		frame = 0
	} else if frame >= a.frames {
		a.frames = frame + 1
	}
	index, offset := a.locate(frame)
	return frame, a.allocBufferAt(index), offset
}

// Get mixes frames starting at frame into buf at unity level, using the
// internal play cursor.
func (a *Audio) Get(buf *Buffer, frame int) {
	a.play.SetFrame(frame)
	a.play.Get(buf, 1.0)
}

// Put sums frames from buf into the audio starting at frame, using the
// internal auto-extending record cursor.
func (a *Audio) Put(buf *Buffer, frame int) {
	a.record.SetFrame(frame)
	a.record.Put(buf, OpAdd)
}

// Append adds frames at the end of the interval. A nil sample slice appends
// silence by extending the frame count.
func (a *Audio) Append(buf *Buffer) {
	if buf.Frames <= 0 {
		return
	}
	if buf.Samples == nil {
		a.SetFrames(a.frames + buf.Frames)
		return
	}
	a.Put(buf, a.frames)
}

// FadeEdges applies the standard fade-in and fade-out to the ends of a raw
// recording.
func (a *Audio) FadeEdges() {
	a.record.FadeIn()
	a.record.FadeOut()
}

// Copy replaces this audio's content with src scaled through the feedback
// ramp. A buffer-size mismatch aborts the copy; pools must agree on block
// size.
func (a *Audio) Copy(src *Audio, feedback int) {
	a.Reset()
	if src == nil {
		return
	}
	if src.bufferSize != a.bufferSize {
		trace.Errorf("audio: mismatched buffer size in copy", int64(src.bufferSize), int64(a.bufferSize))
		return
	}
	gain := Ramp128(feedback)
	for i, b := range src.buffers {
		if b == nil {
			continue
		}
		dest := a.allocBufferAt(i)
		if feedback >= FadeRange-1 {
			copy(dest, b.Samples)
		} else {
			for j, s := range b.Samples {
				dest[j] = s * gain
			}
		}
	}
	a.startFrame = src.startFrame
	a.frames = src.frames
}
