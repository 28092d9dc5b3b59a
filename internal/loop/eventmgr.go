package loop

import (
	"strata/internal/config"
	"strata/internal/trace"
)

// EventManager owns a loop's scheduled events: an insertion-ordered list
// fired in frame order, stable tie-break on creation order, children before
// equal-frame parents.
type EventManager struct {
	loop    *Loop
	head    *Event
	pool    eventPool
	counter int
}

// NewEventManager builds an empty schedule for the loop.
func NewEventManager(l *Loop) *EventManager {
	return &EventManager{loop: l}
}

// New allocates an event of the given type at the given frame.
func (em *EventManager) New(t EventType, frame int) *Event {
	e := em.pool.alloc()
	e.Type = t
	e.Frame = frame
	em.counter++
	e.insertion = em.counter
	return e
}

// Add schedules an event.
func (em *EventManager) Add(e *Event) {
	e.next = em.head
	em.head = e
}

// Remove unschedules an event without releasing it.
func (em *EventManager) Remove(e *Event) {
	var prev *Event
	for cur := em.head; cur != nil; cur = cur.next {
		if cur == e {
			if prev == nil {
				em.head = cur.next
			} else {
				prev.next = cur.next
			}
			e.next = nil
			return
		}
		prev = cur
	}
}

// Find returns the first scheduled event of the given type.
func (em *EventManager) Find(t EventType) *Event {
	for cur := em.head; cur != nil; cur = cur.next {
		if cur.Type == t {
			return cur
		}
	}
	return nil
}

// Pending reports whether any event awaits a sync pulse.
func (em *EventManager) Pending() bool {
	for cur := em.head; cur != nil; cur = cur.next {
		if cur.Pending {
			return true
		}
	}
	return false
}

// Count returns the number of scheduled events.
func (em *EventManager) Count() int {
	n := 0
	for cur := em.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// Each visits scheduled events, for state export.
func (em *EventManager) Each(fn func(*Event)) {
	for cur := em.head; cur != nil; cur = cur.next {
		fn(cur)
	}
}

// NextDue returns the earliest committed event with from <= Frame <= to.
// Ties break on creation order, and an equal-frame child (play jump)
// precedes its parent because it was created later yet must run first — the
// jump prepares the output side of the same instant.
func (em *EventManager) NextDue(from, to int) *Event {
	var best *Event
	for cur := em.head; cur != nil; cur = cur.next {
		if cur.Pending || cur.Reschedule || cur.AfterLoop {
			continue
		}
		if cur.Frame < from || cur.Frame > to {
			// late events fire immediately rather than never
			if cur.Frame < from {
				trace.Warnf("event: %d frames late", int64(from-cur.Frame), 0)
			} else {
				continue
			}
		}
		if best == nil || cur.Frame < best.Frame ||
			(cur.Frame == best.Frame && em.precedes(cur, best)) {
			best = cur
		}
	}
	if best != nil && best.Frame < from {
		best.Frame = from
	}
	return best
}

// precedes orders equal-frame events: a child precedes its parent, then
// creation order decides.
func (em *EventManager) precedes(a, b *Event) bool {
	if a.Parent == b {
		return true
	}
	if b.Parent == a {
		return false
	}
	return a.insertion < b.insertion
}

// Fire executes an event: it is removed from the schedule, dispatched to
// its function, marked processed, and released once its children are done.
func (em *EventManager) Fire(e *Event) {
	em.Remove(e)
	if e.Processed {
		trace.Warnf("event: firing processed event %d", int64(e.Type), 0)
		return
	}

	l := em.loop
	switch {
	case e.Type == EventJumpPlay:
		em.doJumpPlay(e)
	case e.Function != nil && e.Function.Do != nil:
		e.Function.Do(l, e)
	default:
		trace.Errorf("event: no handler for %d", int64(e.Type), 0)
	}
	e.Processed = true

	// release when the whole family is done
	root := e
	for root.Parent != nil {
		root = root.Parent
	}
	if familyProcessed(root) {
		em.pool.release(root)
	}
}

func familyProcessed(e *Event) bool {
	if !e.Processed {
		return false
	}
	for _, c := range e.Children {
		if !familyProcessed(c) {
			return false
		}
	}
	return true
}

// doJumpPlay applies a prepared output-side transition ahead of its parent
// event, so the audible change lands when the recorded change does.
func (em *EventManager) doJumpPlay(e *Event) {
	l := em.loop
	parent := e.Parent
	if parent != nil && parent.Function != nil && parent.Function.PrepareJump != nil {
		parent.Function.PrepareJump(l, e, &e.jump)
	}
	jc := &e.jump
	if jc.Mute {
		l.output.CaptureTail()
		l.output.SetMute(true)
	}
	if jc.Unmute {
		l.output.SetMute(false)
	}
	if jc.Layer != nil {
		l.play = jc.Layer
		l.output.CaptureTail()
	}
	if jc.SetFrame {
		l.playFrame = jc.Frame
		l.output.CaptureTail()
	}
}

// SchedulePlayJump creates a latency-compensated JumpPlay child for a
// primary event. If the jump frame has already passed, it fires on the next
// chunk with the latency loss traced.
func (em *EventManager) SchedulePlayJump(l *Loop, parent *Event) *Event {
	jumpFrame := parent.Frame - l.output.Latency - l.input.Latency
	if jumpFrame < l.frame {
		trace.Warnf("event: play jump late by %d frames", int64(l.frame-jumpFrame), 0)
		jumpFrame = l.frame
	}
	jump := em.New(EventJumpPlay, jumpFrame)
	// a pending parent has no committed frame yet; the jump waits with it
	jump.Pending = parent.Pending
	parent.AddChild(jump)
	em.Add(jump)
	return jump
}

// Flush cancels every scheduled event. Unprocessed primaries release with
// their children; scheduled children are unlinked first so a parent's
// release cannot corrupt the walk.
func (em *EventManager) Flush() {
	head := em.head
	em.head = nil

	var roots *Event
	for e := head; e != nil; {
		next := e.next
		e.next = nil
		if e.Parent == nil {
			// reuse the schedule link to chain the roots
			e.next = roots
			roots = e
		}
		e = next
	}
	for e := roots; e != nil; {
		next := e.next
		e.next = nil
		markProcessed(e)
		em.pool.release(e)
		e = next
	}
}

func markProcessed(e *Event) {
	e.Processed = true
	for _, c := range e.Children {
		markProcessed(c)
	}
}

// WrapAfterLoop re-bases events after a loop-point crossing: after-loop
// events become due at the top of the loop.
func (em *EventManager) WrapAfterLoop() {
	for cur := em.head; cur != nil; cur = cur.next {
		if cur.AfterLoop {
			cur.AfterLoop = false
			cur.Frame = em.loop.frame
		}
	}
}

// ActivatePending commits pending events at the current frame; called by
// the synchronizer when the awaited pulse arrives.
func (em *EventManager) ActivatePending(t EventType, frame int) *Event {
	for cur := em.head; cur != nil; cur = cur.next {
		if cur.Parent != nil {
			// children commit with their parent
			continue
		}
		if cur.Pending && (t == EventNone || cur.Type == t) {
			cur.Pending = false
			cur.Frame = frame
			for _, c := range cur.Children {
				jumpFrame := frame - em.loop.output.Latency - em.loop.input.Latency
				if jumpFrame < em.loop.frame {
					jumpFrame = em.loop.frame
				}
				c.Frame = jumpFrame
				c.Pending = false
			}
			return cur
		}
	}
	return nil
}

// QuantizeFrame computes the next boundary of the given unit strictly after
// frame.
func (em *EventManager) QuantizeFrame(q config.QuantizeMode, frame int) int {
	l := em.loop
	var unit int
	switch q {
	case config.QuantizeSubcycle:
		unit = l.SubcycleFrames()
	case config.QuantizeCycle:
		unit = l.CycleFrames()
	case config.QuantizeLoop:
		unit = l.Frames()
	default:
		return frame
	}
	if unit <= 0 {
		return frame
	}
	next := (frame/unit + 1) * unit
	if max := l.Frames(); max > 0 && next > max {
		next = max
	}
	return next
}

// GetFunctionEvent builds the default event for a function invocation:
// quantized functions land on the next quantize boundary, everything else
// after input latency. Mode endings are not computed here; the Multiply and
// Insert schedulers place their own ending events.
func (em *EventManager) GetFunctionEvent(l *Loop, f *Function, a *Action) *Event {
	frame := l.frame + l.input.Latency
	if f.Quantized && !f.Instant && l.preset.Quantize != config.QuantizeOff && l.Frames() > 0 {
		frame = em.QuantizeFrame(l.preset.Quantize, l.frame)
	}
	e := em.New(f.EventType, frame)
	e.Function = f
	e.InvokingFunction = f
	e.Down = a.Down
	e.Value = a.Value
	e.Args = append(e.Args[:0], a.Args...)
	return e
}
