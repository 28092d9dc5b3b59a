package loop

import (
	"strata/internal/audio"
)

// InputStream carries the input side of a track's port pair: the device
// input latency in frames.
type InputStream struct {
	Latency int
}

// OutputStream carries output latency; Loop.playChunk does the rendering. It owns
// the output-side minor state that play jumps flip ahead of the record
// cursor: the mute flag and abrupt-reposition bookkeeping.
type OutputStream struct {
	Latency int

	mute       bool
	layerShift bool // suppress the fade bump on the next layer change

	// captured tail for masking discontinuities: the last rendered
	// fade-range of frames, faded out into the next buffer
	tail       [audio.FadeRange * audio.Channels]float32
	tailFrames int
	tailActive bool
	tailPos    int

	lastFrame int // last rendered play frame, for continuity checks
}

// Mute reports the output-side mute flag.
func (o *OutputStream) Mute() bool { return o.mute }

// SetMute flips output muting; flipped by play jumps so the audible change
// lands at the same instant as the recorded change.
func (o *OutputStream) SetMute(b bool) { o.mute = b }

// SetLayerShift suppresses the fade on the next discontinuity, used when a
// reposition lands on identical content.
func (o *OutputStream) SetLayerShift(b bool) { o.layerShift = b }

// SetLastFrame overrides continuity tracking, pretending playback was
// already at the given frame.
func (o *OutputStream) SetLastFrame(f int) { o.lastFrame = f }

// CaptureTail snapshots the most recent rendered frames and arms a fade-out
// of them into the next buffer, masking an upcoming discontinuity.
func (o *OutputStream) CaptureTail() {
	if o.layerShift {
		o.layerShift = false
		return
	}
	if o.tailFrames == 0 {
		return
	}
	o.tailActive = true
	o.tailPos = 0
}

// remember keeps the most recent fade-range of rendered output for a later
// CaptureTail.
func (o *OutputStream) remember(buf []float32, frames int) {
	keep := audio.FadeRange
	if frames < keep {
		// slide existing content up and append
		shift := frames
		copy(o.tail[:], o.tail[shift*audio.Channels:])
		copy(o.tail[(audio.FadeRange-shift)*audio.Channels:], buf[:frames*audio.Channels])
		if o.tailFrames+frames > audio.FadeRange {
			o.tailFrames = audio.FadeRange
		} else {
			o.tailFrames += frames
		}
	} else {
		copy(o.tail[:], buf[(frames-keep)*audio.Channels:frames*audio.Channels])
		o.tailFrames = keep
	}
}

// mixTail cross-fades the captured tail out over the start of buf.
func (o *OutputStream) mixTail(buf []float32, frames int) {
	if !o.tailActive {
		return
	}
	for i := 0; i < frames && o.tailPos < o.tailFrames; i++ {
		gain := audio.Ramp128(audio.FadeRange - 1 - o.tailPos*(audio.FadeRange-1)/maxInt(o.tailFrames-1, 1))
		for ch := 0; ch < audio.Channels; ch++ {
			buf[i*audio.Channels+ch] += o.tail[o.tailPos*audio.Channels+ch] * gain
		}
		o.tailPos++
	}
	if o.tailPos >= o.tailFrames {
		o.tailActive = false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
