package loop

import (
	"strata/internal/config"
	"strata/internal/midisync"
	"strata/internal/trace"
)

// ClockSender emits MIDI realtime messages when a track is the outgoing
// sync master. Implementations must not block; the host queues to the MIDI
// output goroutine.
type ClockSender interface {
	Start()
	Stop()
	Continue()
	Clock()
}

// Synchronizer coordinates external sync pulses with the loop scheduler and
// drives outgoing clocks when a track is the sync master. One per engine;
// called only from the interrupt.
type Synchronizer struct {
	queue       *midisync.Queue
	sender      ClockSender
	beatsPerBar int

	tracks []*Track

	// sync events drained this interrupt; capacity retained across calls
	events []midisync.SyncEvent

	// outgoing clock generation
	master           *Loop
	framesPerClock   float64
	clockAccumulator float64
	clocksRunning    bool

	// pulse bookkeeping for loop-length rounding
	pulseBeat int
}

// NewSynchronizer builds a synchronizer over the given clock queue. sender
// may be nil when no MIDI output is wired.
func NewSynchronizer(q *midisync.Queue, sender ClockSender, beatsPerBar int) *Synchronizer {
	if beatsPerBar <= 0 {
		beatsPerBar = 4
	}
	return &Synchronizer{
		queue:       q,
		sender:      sender,
		beatsPerBar: beatsPerBar,
		events:      make([]midisync.SyncEvent, 0, 64),
	}
}

// SetTracks wires the track list; called once at engine construction.
func (s *Synchronizer) SetTracks(tracks []*Track) { s.tracks = tracks }

// Queue exposes the clock queue for the host MIDI listener.
func (s *Synchronizer) Queue() *midisync.Queue { return s.queue }

// Receiving reports whether external clocks are arriving.
func (s *Synchronizer) Receiving() bool {
	return s.queue != nil && s.queue.State().ReceivingClocks
}

// InterruptStart drains the clock queue and delivers pulses to following
// tracks. Must run before any track advances so pulses observed this
// interrupt affect this interrupt's events.
func (s *Synchronizer) InterruptStart(nowMs int64) {
	if s.queue == nil {
		return
	}
	s.queue.InterruptStart(nowMs)
	s.events = s.queue.Drain(s.events[:0])
	for i := range s.events {
		s.deliver(&s.events[i])
	}
}

// deliver routes one sync event to every track following MIDI sync.
func (s *Synchronizer) deliver(e *midisync.SyncEvent) {
	for _, t := range s.tracks {
		if t.SyncSource() != config.SyncMidi {
			continue
		}
		l := t.Loop()
		switch e.Type {
		case midisync.EventStart:
			s.pulseBeat = 0
			s.activatePulse(l, true)
		case midisync.EventContinue:
			s.pulseBeat = e.ContinuePulse / 24
			if e.Pulse == midisync.PulseBeat {
				s.activatePulse(l, s.pulseBeat%s.beatsPerBar == 0)
			}
		case midisync.EventStop:
			// an external stop is only traced; events waiting on a pulse
			// stay pending
			if l.em.Pending() {
				trace.Infof("sync: external stop with pending events", 0, 0)
			}
		case midisync.EventPulse:
			if e.Pulse == midisync.PulseBeat {
				s.pulseBeat = e.Beat
				if l.mode == ModeRecord {
					l.beatsRecorded++
				}
				s.activatePulse(l, e.Beat%s.beatsPerBar == 0)
			}
		}
	}
}

// activatePulse commits pending events on a beat pulse. Record start waits
// for a bar; record stop rounds to the unit the preset asks for.
func (s *Synchronizer) activatePulse(l *Loop, barBoundary bool) {
	if !l.em.Pending() {
		return
	}
	beats := l.preset.RecordBeats
	onUnit := barBoundary || beats > 0 // beat-rounding accepts any beat pulse
	if !onUnit {
		return
	}
	if e := l.em.ActivatePending(EventNone, l.frame); e != nil {
		trace.Infof("sync: activated pending event at frame %d", int64(l.frame), 0)
	}
}

// RecordStarted notes a synced recording beginning, resetting rounding
// state.
func (s *Synchronizer) RecordStarted(l *Loop) {
	l.beatsRecorded = 0
}

// LoopRecorded is called when the initial recording closes. The first
// recorded loop on a master track defines the outgoing tempo.
func (s *Synchronizer) LoopRecorded(l *Loop) {
	if l.track == nil || !l.track.SyncMaster() {
		return
	}
	s.master = l
	s.deriveTempo(l)
	if s.sender != nil && !s.clocksRunning {
		s.sender.Start()
		s.clocksRunning = true
		s.clockAccumulator = 0
	}
}

// LoopResized re-derives clock timing after a structural resize. restart
// also rewinds the external transport.
func (s *Synchronizer) LoopResized(l *Loop, restart bool) {
	if l != s.master {
		return
	}
	s.deriveTempo(l)
	if restart && s.sender != nil {
		s.sender.Start()
	}
}

// LoopPaused stops outgoing clocks with the transport.
func (s *Synchronizer) LoopPaused(l *Loop) {
	if l == s.master && s.sender != nil && s.clocksRunning {
		s.sender.Stop()
		s.clocksRunning = false
	}
}

// LoopResumed continues the outgoing transport.
func (s *Synchronizer) LoopResumed(l *Loop) {
	if l == s.master && s.sender != nil && !s.clocksRunning {
		s.sender.Continue()
		s.clocksRunning = true
	}
}

// LoopRestarted rewinds the outgoing transport to the top.
func (s *Synchronizer) LoopRestarted(l *Loop) {
	if l == s.master && s.sender != nil {
		s.sender.Start()
		s.clocksRunning = true
		s.clockAccumulator = 0
	}
}

// deriveTempo computes the outgoing clock rate from the loop length: the
// loop spans cycles × beatsPerBar beats, 24 clocks each.
func (s *Synchronizer) deriveTempo(l *Loop) {
	frames := l.Frames()
	if frames == 0 {
		return
	}
	beats := l.record.Cycles() * s.beatsPerBar
	if l.beatsRecorded > 0 {
		// a synced recording knows exactly how many beats it spans
		beats = l.beatsRecorded
	}
	if override := l.preset.RecordBeats; override > 0 {
		beats = override
	}
	clocks := beats * 24
	if clocks <= 0 {
		return
	}
	s.framesPerClock = float64(frames) / float64(clocks)
	trace.Infof("sync: %d frames per loop, %d clocks", int64(frames), int64(clocks))
}

// AdvanceMaster emits outgoing clocks for the frames just processed.
// Called at the end of every interrupt.
func (s *Synchronizer) AdvanceMaster(frames int) {
	if s.sender == nil || !s.clocksRunning || s.framesPerClock <= 0 {
		return
	}
	s.clockAccumulator += float64(frames)
	for s.clockAccumulator >= s.framesPerClock {
		s.sender.Clock()
		s.clockAccumulator -= s.framesPerClock
	}
}
