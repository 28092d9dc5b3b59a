package loop

import (
	"sync/atomic"

	"strata/internal/audio"
	"strata/internal/trace"
)

// Recorder is the interrupt entry point: the device callback hands it the
// port buffers and it runs every track, priority tracks first so sync
// masters' pulses are observable to followers in the same interrupt.
type Recorder struct {
	tracks []*Track
	sync   *Synchronizer

	actions ActionQueue

	nowMs func() int64

	interrupts  atomic.Uint64
	inInterrupt atomic.Bool
	frame       atomic.Uint64

	calibration *Calibration
}

// NewRecorder wires tracks and the synchronizer. nowMs supplies a monotonic
// millisecond clock.
func NewRecorder(tracks []*Track, sync *Synchronizer, nowMs func() int64) *Recorder {
	return &Recorder{tracks: tracks, sync: sync, nowMs: nowMs}
}

// Actions returns the queue control threads push into.
func (r *Recorder) Actions() *ActionQueue { return &r.actions }

// Tracks returns the track list for state export.
func (r *Recorder) Tracks() []*Track { return r.tracks }

// Interrupts returns the interrupt counter, watched by the stuck-interrupt
// detector.
func (r *Recorder) Interrupts() uint64 { return r.interrupts.Load() }

// InInterrupt reports whether the callback is currently executing.
func (r *Recorder) InInterrupt() bool { return r.inInterrupt.Load() }

// Frame returns the running frame counter.
func (r *Recorder) Frame() uint64 { return r.frame.Load() }

// ProcessBuffers is the audio interrupt. in and out are interleaved stereo
// float buffers of the same frame count; out is expected zeroed.
func (r *Recorder) ProcessBuffers(in, out []float32, frames int) {
	if !r.inInterrupt.CompareAndSwap(false, true) {
		trace.Errorf("recorder: interrupt reentry", 0, 0)
		return
	}
	defer r.inInterrupt.Store(false)

	r.interrupts.Add(1)
	r.frame.Add(uint64(frames))

	if r.calibration != nil {
		r.calibration.process(in, out, frames)
		return
	}

	if r.sync != nil {
		r.sync.InterruptStart(r.nowMs())
	}

	r.dispatchActions()

	// priority tracks first, then the rest
	for _, t := range r.tracks {
		if t.Priority() {
			t.Advance(in, out, frames)
		}
	}
	for _, t := range r.tracks {
		if !t.Priority() {
			t.Advance(in, out, frames)
		}
	}

	if r.sync != nil {
		r.sync.AdvanceMaster(frames)
	}
}

// dispatchActions drains the action queue into track loops. Global
// functions fan out across every track.
func (r *Recorder) dispatchActions() {
	for {
		a, ok := r.actions.Next()
		if !ok {
			return
		}
		f := FunctionNamed(a.Function)
		if f == nil {
			trace.Warnf("recorder: unknown function in action", 0, 0)
			continue
		}
		if f.Global {
			r.invokeGlobal(f, a)
			continue
		}
		t := r.target(a.Track)
		if t != nil {
			t.Invoke(a)
		}
	}
}

func (r *Recorder) target(n int) *Track {
	if n >= 0 && n < len(r.tracks) {
		return r.tracks[n]
	}
	for _, t := range r.tracks {
		if t.Focused() {
			return t
		}
	}
	if len(r.tracks) > 0 {
		return r.tracks[0]
	}
	return nil
}

// invokeGlobal implements GlobalMute/GlobalPause semantics: the first
// invocation mutes every playing track and remembers them; the second
// restores only the tracks the first one muted.
func (r *Recorder) invokeGlobal(f *Function, a Action) {
	if !a.Down {
		return
	}
	anyGlobal := false
	for _, t := range r.tracks {
		if t.Loop().GlobalMuted() {
			anyGlobal = true
			break
		}
	}

	for _, t := range r.tracks {
		l := t.Loop()
		if l.Frames() == 0 {
			continue
		}
		if !anyGlobal {
			// entering global mute: mute what is playing
			if !l.MuteMode() {
				l.SetGlobalMute(true)
				t.Invoke(Action{Function: muteVariant(f), Track: t.Number(), Down: true})
			}
		} else {
			// leaving: restore only what we muted
			if l.GlobalMuted() {
				l.SetGlobalMute(false)
				t.Invoke(Action{Function: muteVariant(f), Track: t.Number(), Down: true})
			}
		}
	}
}

func muteVariant(f *Function) string {
	if f == FuncGlobalPause {
		return "Pause"
	}
	return "Mute"
}

/****************************************************************************
 * Calibration
 ****************************************************************************/

// Calibration measures round-trip latency by emitting an impulse on the
// output and timing its return on the input.
type Calibration struct {
	emitted     bool
	done        bool
	elapsed     int
	threshold   float32
	resultCh    chan int
	maxInterval int
}

// StartCalibration arms a calibration pass; the result channel yields the
// measured round-trip in frames, or -1 on timeout.
func (r *Recorder) StartCalibration() <-chan int {
	c := &Calibration{
		threshold:   0.2,
		resultCh:    make(chan int, 1),
		maxInterval: audio.DefaultSampleRate * 2,
	}
	r.calibration = c
	return c.resultCh
}

// StopCalibration disarms calibration.
func (r *Recorder) StopCalibration() { r.calibration = nil }

func (c *Calibration) process(in, out []float32, frames int) {
	if c.done {
		return
	}
	if !c.emitted {
		// a one-frame full-scale ping
		out[0] = 1.0
		out[1] = 1.0
		c.emitted = true
		// the ping leaves at frame 0, so this whole buffer counts
		c.elapsed += frames
		return
	}
	for i := 0; i < frames; i++ {
		if in[i*audio.Channels] > c.threshold || in[i*audio.Channels+1] > c.threshold {
			c.done = true
			select {
			case c.resultCh <- c.elapsed + i:
			default:
			}
			return
		}
	}
	c.elapsed += frames
	if c.elapsed > c.maxInterval {
		c.done = true
		select {
		case c.resultCh <- -1:
		default:
		}
	}
}
