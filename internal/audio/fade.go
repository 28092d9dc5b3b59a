package audio

// FadeRange is the number of frames over which edge fades are applied.
// Feedback levels index the same 128-entry ramp.
const FadeRange = 128

// RampFloor is the smallest non-zero ramp value. Render paths treat levels
// below this as inaudible and stop recursing.
const RampFloor = 0.000062

// ramp128 is the pseudo-log level ramp shared by feedback scaling and edge
// fades: ramp[i] = (i/127)^2. ramp[0] is exactly 0 and ramp[127] exactly 1.
var ramp128 [FadeRange]float32

func init() {
	for i := range ramp128 {
		f := float32(i) / float32(FadeRange-1)
		ramp128[i] = f * f
	}
}

// Ramp128 converts a 0-127 level index into a gain multiplier.
func Ramp128(level int) float32 {
	if level <= 0 {
		return 0
	}
	if level >= FadeRange-1 {
		return 1
	}
	return ramp128[level]
}

// Fade applies an edge fade in place to interleaved samples.
//
// bufferOffset is the first frame of buf to modify, frames how many to
// modify, and fadeOffset the position within the fade range where this run
// begins (non-zero when the fade straddles interrupt buffers). up true fades
// in, false fades out.
func Fade(buf []float32, channels, bufferOffset, frames, fadeOffset int, up bool) {
	sample := bufferOffset * channels
	for i := 0; i < frames; i++ {
		pos := fadeOffset + i
		var gain float32
		switch {
		case pos < 0:
			gain = 0
		case pos >= FadeRange:
			gain = 1
		default:
			gain = ramp128[pos]
		}
		if !up {
			gain = ramp128[FadeRange-1] - gain
			if pos >= FadeRange {
				gain = 0
			}
		}
		for ch := 0; ch < channels; ch++ {
			buf[sample] *= gain
			sample++
		}
	}
}
