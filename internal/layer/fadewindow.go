package layer

import "strata/internal/audio"

// FadeWindow snapshots the most recent fade-range of frames written at the
// head or tail of a layer so the edge fade can be deferred until the loop
// point is crossed. If the content turns out to be discontinuous there, the
// captured samples are cross-fade mixed back out of the local audio,
// neutralizing the step without touching material recorded after capture.
type FadeWindow struct {
	samples   [audio.FadeRange * audio.Channels]float32
	frames    int // captured frames, saturates at FadeRange
	pos       int // ring write position in frames
	lastFrame int // layer frame following the most recent capture
	active    bool
}

// Reset empties the window.
func (w *FadeWindow) Reset() {
	w.frames = 0
	w.pos = 0
	w.lastFrame = 0
	w.active = false
	for i := range w.samples {
		w.samples[i] = 0
	}
}

// Active reports whether the window holds captured content.
func (w *FadeWindow) Active() bool { return w.active && w.frames > 0 }

// Frames returns the number of captured frames.
func (w *FadeWindow) Frames() int { return w.frames }

// Add captures frames written at layer position frame. The window always
// reflects the most recent fade-range of written frames.
func (w *FadeWindow) Add(buf *audio.Buffer, frame int) {
	if buf.Samples == nil || buf.Frames == 0 {
		return
	}
	for i := 0; i < buf.Frames; i++ {
		for ch := 0; ch < audio.Channels; ch++ {
			w.samples[w.pos*audio.Channels+ch] = buf.Samples[i*audio.Channels+ch]
		}
		w.pos = (w.pos + 1) % audio.FadeRange
		if w.frames < audio.FadeRange {
			w.frames++
		}
	}
	w.lastFrame = frame + buf.Frames
	w.active = true
}

// sampleAt returns the i'th oldest captured frame's channel sample.
func (w *FadeWindow) sampleAt(i, ch int) float32 {
	idx := i
	if w.frames == audio.FadeRange {
		idx = (w.pos + i) % audio.FadeRange
	}
	return w.samples[idx*audio.Channels+ch]
}

// FadeHead fades in the captured background at the head of a. The captured
// frames are assumed to occupy [startFrame, startFrame+frames): for each the
// un-ramped part of the captured sample is subtracted, leaving captured*ramp
// plus anything layered on top untouched.
func (w *FadeWindow) FadeHead(a *audio.Audio, startFrame int) {
	w.applyFade(a, startFrame, true)
}

// FadeTail fades out the captured background at the tail of a.
func (w *FadeWindow) FadeTail(a *audio.Audio) {
	w.applyFade(a, w.lastFrame-w.frames, false)
}

func (w *FadeWindow) applyFade(a *audio.Audio, startFrame int, up bool) {
	if !w.Active() {
		return
	}
	span := w.frames
	var frame [audio.Channels]float32
	buf := &audio.Buffer{Samples: frame[:], Frames: 1, Channels: audio.Channels}
	cur := audio.NewCursor(a, false)
	for i := 0; i < span; i++ {
		pos := i * (audio.FadeRange - 1) / maxInt(span-1, 1)
		var gain float32
		if up {
			gain = audio.Ramp128(pos)
		} else {
			gain = audio.Ramp128(audio.FadeRange - 1 - pos)
		}
		for ch := 0; ch < audio.Channels; ch++ {
			// subtract the complement so the captured content ends up
			// scaled by gain
			frame[ch] = -w.sampleAt(i, ch) * (1 - gain)
		}
		cur.SetFrame(startFrame + i)
		cur.Put(buf, audio.OpAdd)
	}
	w.active = false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
