package audio

// Op selects how Put combines incoming samples with existing content.
type Op int

const (
	// OpSet overwrites existing content.
	OpSet Op = iota
	// OpAdd sums into existing content.
	OpAdd
)

// Cursor is a positioned reader/writer over an Audio. A cursor moving in
// reverse starts at its frame and decrements. Cursors are cheap; layers keep
// several so play, feedback copy, and record positions advance independently.
type Cursor struct {
	audio      *Audio
	frame      int
	reverse    bool
	autoExtend bool
}

// NewCursor returns a cursor over a. autoExtend permits writes past the end
// of the interval to grow it, which is what record cursors do.
func NewCursor(a *Audio, autoExtend bool) *Cursor {
	return &Cursor{audio: a, autoExtend: autoExtend}
}

// SetAudio retargets the cursor.
func (c *Cursor) SetAudio(a *Audio) {
	c.audio = a
	c.frame = 0
}

// Frame returns the cursor position.
func (c *Cursor) Frame() int { return c.frame }

// SetFrame positions the cursor.
func (c *Cursor) SetFrame(frame int) { c.frame = frame }

// Reverse reports the iteration direction.
func (c *Cursor) Reverse() bool { return c.reverse }

// SetReverse sets the iteration direction.
func (c *Cursor) SetReverse(reverse bool) { c.reverse = reverse }

// Get mixes buf.Frames frames into buf.Samples, scaled by level, advancing
// the cursor. Frames outside the audible interval contribute silence. The
// output is summed, not overwritten, so several sources can layer into one
// interrupt buffer.
func (c *Cursor) Get(buf *Buffer, level float32) {
	a := c.audio
	if a == nil || level == 0 {
		c.skip(buf.Frames)
		return
	}
	channels := a.channels
	out := 0
	for i := 0; i < buf.Frames; i++ {
		if c.frame >= 0 && c.frame < a.frames {
			index, offset := a.locate(c.frame)
			if src := a.bufferAt(index); src != nil {
				for ch := 0; ch < channels; ch++ {
					buf.Samples[out+ch] += src[offset+ch] * level
				}
			}
		}
		out += channels
		c.step()
	}
}

// Put writes buf.Frames frames at the cursor, advancing it. OpAdd sums into
// existing content, OpSet replaces it. Writes beyond the end extend the
// interval when the cursor auto-extends and are dropped otherwise; negative
// frames always extend on the left.
func (c *Cursor) Put(buf *Buffer, op Op) {
	a := c.audio
	if a == nil {
		return
	}
	channels := a.channels
	in := 0
	for i := 0; i < buf.Frames; i++ {
		if !c.autoExtend && c.frame >= a.frames {
			return
		}
		frame, dst, offset := a.prepareFrame(c.frame)
		if frame != c.frame {
			// left extension remapped the origin
			c.frame = frame
		}
		if op == OpSet {
			for ch := 0; ch < channels; ch++ {
				dst[offset+ch] = buf.Samples[in+ch]
			}
		} else {
			for ch := 0; ch < channels; ch++ {
				dst[offset+ch] += buf.Samples[in+ch]
			}
		}
		in += channels
		c.step()
	}
}

// FadeIn applies the standard up ramp to the first FadeRange frames of the
// underlying audio.
func (c *Cursor) FadeIn() {
	c.fadeEdge(true)
}

// FadeOut applies the standard down ramp to the last FadeRange frames of the
// underlying audio.
func (c *Cursor) FadeOut() {
	c.fadeEdge(false)
}

func (c *Cursor) fadeEdge(in bool) {
	a := c.audio
	if a == nil || a.frames == 0 {
		return
	}
	span := FadeRange
	if span > a.frames {
		span = a.frames
	}
	base := 0
	if !in {
		base = a.frames - span
	}
	for i := 0; i < span; i++ {
		index, offset := a.locate(base + i)
		buf := a.bufferAt(index)
		if buf == nil {
			continue
		}
		pos := i
		if !in {
			// reflect so the final frame lands on ramp[0]
			pos = span - 1 - i
		}
		gain := Ramp128(pos * (FadeRange - 1) / maxInt(span-1, 1))
		for ch := 0; ch < a.channels; ch++ {
			buf[offset+ch] *= gain
		}
	}
}

func (c *Cursor) step() {
	if c.reverse {
		c.frame--
	} else {
		c.frame++
	}
}

func (c *Cursor) skip(frames int) {
	if c.reverse {
		c.frame -= frames
	} else {
		c.frame += frames
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
