package midisync

import "testing"

func drainAll(q *Queue) []SyncEvent {
	return q.Drain(nil)
}

func TestClockPulses(t *testing.T) {
	q := NewQueue("test")
	// start then 25 clocks: first clock is the Start, the next 23 are
	// plain clocks, the 25th opens beat 1
	q.Add(StatusStart, 0, 0)
	for i := 0; i < 25; i++ {
		q.Add(StatusClock, int64(i*20), 0)
	}
	events := drainAll(q)
	if len(events) != 25 {
		t.Fatalf("got %d events, want 25", len(events))
	}
	if events[0].Type != EventStart || events[0].Pulse != PulseBeat {
		t.Errorf("first event = %+v, want Start beat pulse", events[0])
	}
	for i := 1; i < 24; i++ {
		if events[i].Type != EventPulse || events[i].Pulse != PulseClock {
			t.Fatalf("event %d = %+v, want clock pulse", i, events[i])
		}
	}
	last := events[24]
	if last.Type != EventPulse || last.Pulse != PulseBeat || last.Beat != 1 {
		t.Errorf("beat event = %+v, want beat pulse at beat 1", last)
	}
}

func TestStopEmitsStop(t *testing.T) {
	q := NewQueue("test")
	q.Add(StatusStop, 100, 0)
	events := drainAll(q)
	if len(events) != 1 || events[0].Type != EventStop {
		t.Fatalf("got %+v, want one Stop", events)
	}
	if q.State().Started {
		t.Error("state still started after stop")
	}
}

func TestContinueFromSongPosition(t *testing.T) {
	q := NewQueue("test")
	// song position 8 = 48 clocks = beat 2 exactly
	q.Add(StatusSongPosition, 0, 8)
	q.Add(StatusContinue, 10, 0)
	q.Add(StatusClock, 20, 0)
	events := drainAll(q)

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Type != EventContinue {
		t.Fatalf("event = %+v, want Continue", e)
	}
	if e.ContinuePulse != 48 {
		t.Errorf("continue pulse = %d, want 48", e.ContinuePulse)
	}
	if e.Pulse != PulseBeat {
		t.Errorf("continue on a beat boundary not tagged as beat")
	}
	if st := q.State(); st.Beat != 2 || st.BeatClock != 0 {
		t.Errorf("state beat=%d beatClock=%d, want 2/0", st.Beat, st.BeatClock)
	}
}

func TestContinueOffBeatNotTagged(t *testing.T) {
	q := NewQueue("test")
	// song position 1 = 6 clocks, mid-beat
	q.Add(StatusSongPosition, 0, 1)
	q.Add(StatusContinue, 10, 0)
	q.Add(StatusClock, 20, 0)
	events := drainAll(q)
	if events[0].Pulse == PulseBeat {
		t.Error("mid-beat continue tagged as beat pulse")
	}
}

func TestOrderPreservedAndOverflowCounted(t *testing.T) {
	q := NewQueue("test")
	added := 0
	for i := 0; i < queueSize+50; i++ {
		q.Add(StatusClock, int64(i), 0)
		added++
	}
	events := drainAll(q)
	drained := len(events)
	if drained+int(q.Overflows()) != added {
		t.Errorf("drained %d + overflow %d != added %d", drained, q.Overflows(), added)
	}
	for i := 1; i < drained; i++ {
		if events[i].Millisecond <= events[i-1].Millisecond {
			t.Fatalf("event %d out of order", i)
		}
	}
}

func TestReceivingClocksExpiry(t *testing.T) {
	q := NewQueue("test")
	q.Add(StatusClock, 0, 0)
	q.Add(StatusClock, 20, 0)
	drainAll(q)
	if !q.State().ReceivingClocks {
		t.Fatal("not receiving after steady clocks")
	}

	q.InterruptStart(20 + maxClockDistanceMs + 1)
	if q.State().ReceivingClocks {
		t.Error("still receiving after clock gap")
	}

	// clocks resume
	q.Add(StatusClock, 1000, 0)
	q.Add(StatusClock, 1020, 0)
	drainAll(q)
	if !q.State().ReceivingClocks {
		t.Error("did not resume receiving")
	}
}

func TestBeatClockStaysInRange(t *testing.T) {
	q := NewQueue("test")
	q.Add(StatusStart, 0, 0)
	drainAll(q)
	for i := 0; i < 200; i++ {
		q.Add(StatusClock, int64(i), 0)
		drainAll(q)
		if bc := q.State().BeatClock; bc < 0 || bc > 23 {
			t.Fatalf("beat clock %d out of range after %d clocks", bc, i)
		}
	}
	// 200 clocks after the start clock: the start clock is clock 0, so
	// 199 advancing clocks land on beat 8, clock 7
	if st := q.State(); st.Beat != 8 || st.BeatClock != 7 {
		t.Errorf("beat=%d beatClock=%d, want 8/7", st.Beat, st.BeatClock)
	}
}

func TestStopClearsArmedStart(t *testing.T) {
	q := NewQueue("test")
	q.Add(StatusStart, 0, 0)
	q.Add(StatusStop, 5, 0)
	q.Add(StatusClock, 10, 0)
	events := drainAll(q)
	// stop between start and clock: the clock is a plain pulse
	var last SyncEvent
	for _, e := range events {
		last = e
	}
	if last.Type != EventPulse {
		t.Errorf("clock after stop = %+v, want plain pulse", last)
	}
}
