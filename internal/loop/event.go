package loop

import (
	"strata/internal/layer"
	"strata/internal/trace"
)

// EventType identifies a scheduled action.
type EventType int

const (
	EventNone EventType = iota
	EventRecord
	EventRecordStop
	EventOverdub
	EventMultiply
	EventMultiplyEnd
	EventInstantMultiply
	EventDivide
	EventInsert
	EventInsertEnd
	EventStutter
	EventReplace
	EventMute
	EventPause
	EventJumpPlay
	EventShuffle
	EventWindow
	EventUndo
	EventRedo
	EventSync
	EventReturn
	EventValidate
)

var eventNames = map[EventType]string{
	EventRecord:          "Record",
	EventRecordStop:      "RecordStop",
	EventOverdub:         "Overdub",
	EventMultiply:        "Multiply",
	EventMultiplyEnd:     "MultiplyEnd",
	EventInstantMultiply: "InstantMultiply",
	EventDivide:          "Divide",
	EventInsert:          "Insert",
	EventInsertEnd:       "InsertEnd",
	EventStutter:         "Stutter",
	EventReplace:         "Replace",
	EventMute:            "Mute",
	EventPause:           "Pause",
	EventJumpPlay:        "JumpPlay",
	EventShuffle:         "Shuffle",
	EventWindow:          "Window",
	EventUndo:            "Undo",
	EventRedo:            "Redo",
	EventSync:            "Sync",
	EventReturn:          "Return",
	EventValidate:        "Validate",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "None"
}

// Event is a frame-stamped scheduled action. Primary events may carry child
// play-jump events that fire earlier so the audible switch coincides with
// the recorded switch.
type Event struct {
	Type             EventType
	Frame            int // absolute record frame at which the event fires
	Function         *Function
	InvokingFunction *Function
	Parent           *Event
	Children         []*Event

	// Pending events await a sync pulse before committing to a frame.
	Pending bool
	// Reschedule events have no frame until a preceding event fires.
	Reschedule bool
	// AfterLoop delays the event past a loop-point crossing at its frame.
	AfterLoop bool
	// Processed guards against double execution; Do must be a no-op once set.
	Processed bool

	Down      bool
	Value     int
	Args      []any
	insertion int // creation order, the stable tie-break

	// jump holds the prepared output-side transition for JumpPlay events.
	jump JumpContext

	next   *Event // schedule list link
	pooled bool
}

// JumpContext describes the output-stream transition a play jump performs.
type JumpContext struct {
	Mute     bool
	Unmute   bool
	SetFrame bool
	Frame    int
	Layer    *layer.Layer // layer to switch playback to, when set
}

// AddChild hangs a child event (typically a play jump) off a primary event.
func (e *Event) AddChild(child *Event) {
	if child == nil {
		return
	}
	child.Parent = e
	e.Children = append(e.Children, child)
}

// FindChild returns the first child of the given type.
func (e *Event) FindChild(t EventType) *Event {
	for _, c := range e.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// eventPool is a list-first free list owned by the interrupt; events churn
// every scheduled action so reuse keeps the interrupt off the heap.
type eventPool struct {
	free *Event
}

func (p *eventPool) alloc() *Event {
	e := p.free
	if e == nil {
		e = &Event{}
	} else {
		p.free = e.next
		children := e.Children[:0]
		args := e.Args[:0]
		*e = Event{Children: children, Args: args}
	}
	e.pooled = false
	return e
}

func (p *eventPool) release(e *Event) {
	if e.pooled {
		trace.Errorf("event: double free of %d", int64(e.Type), 0)
		return
	}
	for _, c := range e.Children {
		if !c.Processed {
			trace.Warnf("event: freeing parent with unprocessed child %d", int64(c.Type), 0)
		}
		c.Parent = nil
		p.release(c)
	}
	e.Children = e.Children[:0]
	e.pooled = true
	e.next = p.free
	p.free = e
}
