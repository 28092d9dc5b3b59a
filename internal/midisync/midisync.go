// Package midisync accumulates MIDI realtime events between audio
// interrupts and converts them into the cooked sync pulses the loop
// scheduler consumes.
//
// The MIDI input goroutine appends raw clock records to a fixed ring; at the
// start of each interrupt the synchronizer drains the ring, advancing a
// MidiState tracker and emitting SyncEvents. The ring is single producer,
// single consumer; overflow drops the newest record and counts it, which
// only happens if the audio interrupt is stuck.
package midisync

import (
	"sync/atomic"

	"strata/internal/trace"
)

// Raw MIDI realtime statuses carried by queue records. Values start at 1 so
// the zero value never collides with a real status in the waiting-status
// field.
const (
	StatusClock = iota + 1
	StatusStart
	StatusStop
	StatusContinue
	StatusSongPosition
)

// maxClockDistanceMs is the longest gap between clocks before the stream is
// considered stopped. 3.75 BPM produces a clock every 666 ms; anything slower
// counts as not receiving.
const maxClockDistanceMs = 666

// clocksPerBeat is the MIDI clock resolution, 24 pulses per quarter note.
const clocksPerBeat = 24

// queueSize must be a power of two. 256 clocks is ~10 beats of backlog,
// far beyond anything a healthy interrupt leaves unconsumed.
const queueSize = 256

// EventType classifies a cooked sync event.
type EventType int

const (
	EventPulse EventType = iota
	EventStart
	EventStop
	EventContinue
)

// PulseType grades a pulse by the boundary it lands on.
type PulseType int

const (
	PulseClock PulseType = iota
	PulseBeat
	PulseBar
)

// SyncEvent is the cooked form delivered to tracks at interrupt start.
type SyncEvent struct {
	Type          EventType
	Pulse         PulseType
	Beat          int
	ContinuePulse int // song clock to resume from, for EventContinue
	Millisecond   int64
}

// MidiSyncEvent is one raw record in the ring.
type MidiSyncEvent struct {
	Status  int
	Clock   int64 // millisecond timestamp
	SongPos int
}

// State tracks derived transport status from the raw event stream.
type State struct {
	Name                 string
	LastClockMillisecond int64
	ReceivingClocks      bool

	SongPosition int // armed by SongPosition for the next Continue; -1 idle
	SongClock    int
	BeatClock    int // 0-23 position within the beat
	Beat         int

	WaitingStatus int // StatusStart or StatusContinue armed, 0 otherwise
	Started       bool
}

// NewState returns a state tracker with nothing armed.
func NewState(name string) *State {
	return &State{Name: name, SongPosition: -1}
}

// Tick lets the state notice that clocks have stopped arriving. Called at
// interrupt start with the current millisecond counter.
func (s *State) Tick(nowMs int64) {
	if s.ReceivingClocks && nowMs-s.LastClockMillisecond > maxClockDistanceMs {
		trace.Infof("sync: stopped receiving clocks", 0, 0)
		s.ReceivingClocks = false
	}
}

// Advance consumes one raw event. Start and Continue arm and wait for the
// next clock; SongPosition is remembered for the next Continue rather than
// tracked as a running position.
func (s *State) Advance(e *MidiSyncEvent) {
	switch e.Status {
	case StatusStart:
		s.WaitingStatus = StatusStart
		s.Started = false
		// counts as a clock for stream start/stop detection
		s.LastClockMillisecond = e.Clock

	case StatusStop:
		s.WaitingStatus = 0
		s.SongPosition = -1
		s.Started = false

	case StatusContinue:
		s.WaitingStatus = StatusContinue
		s.Started = false
		s.LastClockMillisecond = e.Clock

	case StatusSongPosition:
		s.SongPosition = e.SongPos

	case StatusClock:
		delta := e.Clock - s.LastClockMillisecond
		s.LastClockMillisecond = e.Clock
		if !s.ReceivingClocks && delta < maxClockDistanceMs {
			trace.Infof("sync: started receiving clocks", 0, 0)
			s.ReceivingClocks = true
		}

		switch {
		case !s.Started && s.WaitingStatus == StatusContinue:
			if s.SongPosition >= 0 {
				// a song position is six clocks
				s.SongClock = s.SongPosition * 6
			}
			s.SongPosition = -1
			s.BeatClock = s.SongClock % clocksPerBeat
			s.Beat = s.SongClock / clocksPerBeat
			s.Started = true

		case !s.Started && s.WaitingStatus == StatusStart:
			s.SongPosition = -1
			s.SongClock = 0
			s.BeatClock = 0
			s.Beat = 0
			s.Started = true

		default:
			// waiting status only persists through the first clock
			s.WaitingStatus = 0
			s.SongClock++
			s.BeatClock++
			if s.BeatClock >= clocksPerBeat {
				s.Beat++
				s.BeatClock = 0
			}
		}
	}
}

// Queue is the SPSC ring between the MIDI input goroutine and the
// interrupt-side synchronizer.
type Queue struct {
	events    [queueSize]MidiSyncEvent
	head      atomic.Int32 // producer writes
	tail      atomic.Int32 // consumer writes
	overflows atomic.Uint64
	state     State
}

// NewQueue returns a queue whose state carries the given trace name.
func NewQueue(name string) *Queue {
	q := &Queue{}
	q.state = *NewState(name)
	return q
}

// State exposes the derived transport state. Interrupt side only.
func (q *Queue) State() *State { return &q.state }

// Add appends a raw event from the MIDI goroutine. Never blocks; on
// overflow the newest event is dropped and counted.
func (q *Queue) Add(status int, clockMs int64, songPos int) {
	head := q.head.Load()
	next := (head + 1) & (queueSize - 1)
	if next == q.tail.Load() {
		q.overflows.Add(1)
		return
	}
	q.events[head] = MidiSyncEvent{Status: status, Clock: clockMs, SongPos: songPos}
	q.head.Store(next)
}

// HasEvents reports whether undrained events exist.
func (q *Queue) HasEvents() bool {
	return q.head.Load() != q.tail.Load()
}

// Overflows returns the number of dropped events.
func (q *Queue) Overflows() uint64 { return q.overflows.Load() }

// InterruptStart lets the state expire receivingClocks. Called at the
// beginning of every audio interrupt.
func (q *Queue) InterruptStart(nowMs int64) {
	q.state.Tick(nowMs)
}

// Drain converts queued raw events into cooked SyncEvents appended to dst,
// advancing the state tracker. Events process in arrival order at the start
// of the interrupt; callers pass a slice with retained capacity so the
// interrupt does not allocate.
//
// A Stop emits EventStop. A clock with Continue armed emits EventContinue
// carrying the resume song clock, tagged as a beat pulse when it lands on a
// beat boundary. A clock with Start armed emits EventStart, by definition a
// beat boundary. Any other clock emits EventPulse graded Beat or Clock.
func (q *Queue) Drain(dst []SyncEvent) []SyncEvent {
	for {
		tail := q.tail.Load()
		if tail == q.head.Load() {
			break
		}
		e := q.events[tail]
		q.tail.Store((tail + 1) & (queueSize - 1))

		q.state.Advance(&e)

		switch e.Status {
		case StatusStop:
			dst = append(dst, SyncEvent{Type: EventStop, Millisecond: e.Clock})

		case StatusClock:
			ev := SyncEvent{Millisecond: e.Clock}
			switch {
			case q.state.WaitingStatus == StatusContinue:
				ev.Type = EventContinue
				ev.ContinuePulse = q.state.SongClock
				if q.state.BeatClock == 0 {
					ev.Pulse = PulseBeat
				}
			case q.state.WaitingStatus == StatusStart:
				ev.Type = EventStart
				ev.Pulse = PulseBeat
			default:
				ev.Type = EventPulse
				if q.state.BeatClock == 0 {
					ev.Pulse = PulseBeat
					ev.Beat = q.state.Beat
				} else {
					ev.Pulse = PulseClock
				}
			}
			dst = append(dst, ev)
		}
	}
	return dst
}
