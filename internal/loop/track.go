package loop

import (
	"math"
	"sync/atomic"

	"strata/internal/audio"
	"strata/internal/config"
	"strata/internal/layer"
)

// Track owns one loop plus its routing: port assignment, levels, pan, and
// sync role. Level fields are atomics because the control surface adjusts
// them while the interrupt reads them.
type Track struct {
	number int
	loop   *Loop
	sync   *Synchronizer
	setup  config.TrackSetup

	sampleRate int

	inputLevel  atomic.Uint32 // float32 bits
	outputLevel atomic.Uint32
	pan         atomic.Uint32
	focused     atomic.Bool

	// scratch buffers keep per-track rendering out of the shared port
	// buffers so level scaling and fades cannot disturb other tracks
	scratchIn  [layer.MaxFramesPerBuffer * audio.Channels]float32
	scratchOut [layer.MaxFramesPerBuffer * audio.Channels]float32
}

// NewTrack builds a track with its loop.
func NewTrack(n int, lp *layer.Pool, ap *audio.Pool, cfg *config.Config, sync *Synchronizer, sampleRate, inLatency, outLatency int) *Track {
	t := &Track{
		number:     n,
		sync:       sync,
		setup:      cfg.TrackSetupFor(n),
		sampleRate: sampleRate,
	}
	preset := cfg.PresetNamed(t.setup.Preset)
	t.loop = NewLoop(t, lp, ap, preset, inLatency, outLatency)
	t.loop.SetFeedback(t.setup.Feedback)
	t.SetInputLevel(t.setup.InputLevel)
	t.SetOutputLevel(t.setup.OutputLevel)
	t.SetPan(t.setup.Pan)
	return t
}

func (t *Track) Number() int                   { return t.number }
func (t *Track) Loop() *Loop                   { return t.loop }
func (t *Track) Sync() *Synchronizer           { return t.sync }
func (t *Track) Setup() *config.TrackSetup     { return &t.setup }
func (t *Track) SyncSource() config.SyncSource { return t.setup.Sync }
func (t *Track) SyncMaster() bool              { return t.setup.SyncMaster }
func (t *Track) SampleRate() int               { return t.sampleRate }

// Priority tracks (sync masters) advance before the rest each interrupt so
// their pulses are observable to followers.
func (t *Track) Priority() bool { return t.setup.SyncMaster }

// SetSetup applies a new setup snapshot between interrupts.
func (t *Track) SetSetup(s config.TrackSetup) {
	t.setup = s
	t.SetInputLevel(s.InputLevel)
	t.SetOutputLevel(s.OutputLevel)
	t.SetPan(s.Pan)
}

// Level controls, callable from any thread.

func (t *Track) SetInputLevel(v float32)  { t.inputLevel.Store(math.Float32bits(clamp01x2(v))) }
func (t *Track) InputLevel() float32      { return math.Float32frombits(t.inputLevel.Load()) }
func (t *Track) SetOutputLevel(v float32) { t.outputLevel.Store(math.Float32bits(clamp01x2(v))) }
func (t *Track) OutputLevel() float32     { return math.Float32frombits(t.outputLevel.Load()) }

// SetPan sets stereo balance in [-1, 1].
func (t *Track) SetPan(v float32) {
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	t.pan.Store(math.Float32bits(v))
}
func (t *Track) Pan() float32 { return math.Float32frombits(t.pan.Load()) }

func (t *Track) SetFocused(b bool) { t.focused.Store(b) }
func (t *Track) Focused() bool     { return t.focused.Load() }

func clamp01x2(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

// Advance processes one interrupt for this track: input is leveled into the
// track scratch, the loop advances, and the rendered output mixes into the
// shared port buffer with output level and pan applied.
func (t *Track) Advance(in, out []float32, frames int) {
	if frames > layer.MaxFramesPerBuffer {
		frames = layer.MaxFramesPerBuffer
	}
	samples := frames * audio.Channels

	inLevel := t.InputLevel()
	scratchIn := t.scratchIn[:samples]
	if in != nil {
		for i := 0; i < samples; i++ {
			scratchIn[i] = in[i] * inLevel
		}
	} else {
		for i := range scratchIn {
			scratchIn[i] = 0
		}
	}

	scratchOut := t.scratchOut[:samples]
	for i := range scratchOut {
		scratchOut[i] = 0
	}

	t.loop.Advance(scratchIn, scratchOut, frames)

	outLevel := t.OutputLevel()
	pan := t.Pan()
	leftGain := outLevel
	rightGain := outLevel
	if pan < 0 {
		rightGain *= 1 + pan
	} else if pan > 0 {
		leftGain *= 1 - pan
	}
	for i := 0; i < frames; i++ {
		out[i*audio.Channels] += scratchOut[i*audio.Channels] * leftGain
		out[i*audio.Channels+1] += scratchOut[i*audio.Channels+1] * rightGain
	}
}

// Invoke runs an action against this track's loop.
func (t *Track) Invoke(a Action) {
	f := FunctionNamed(a.Function)
	if f == nil {
		return
	}
	f.Invoke(t.loop, &a)
}
