package loop

import "strata/internal/trace"

// Function is one user action: a bundle of scheduling attributes plus the
// callbacks that mutate loop state when its event fires. There is no deep
// hierarchy; behavior differences live in these fields.
type Function struct {
	Name      string
	EventType EventType

	// MajorMode is the mode this function starts, ModeReset when none.
	MajorMode Mode

	Quantized        bool // schedules on quantize boundaries
	Instant          bool // takes effect immediately, no rounding period
	SustainFn        bool // up transition ends the function
	MaySustain       bool // preset can promote to sustain
	MayCancelMute    bool
	CancelReturn     bool
	SwitchStack      bool
	SwitchStackMutex bool
	Global           bool // applies to all tracks, dispatched by the engine

	// Long is the alternate function reached by holding the trigger.
	Long *Function

	// Schedule overrides the default scheduling; nil uses DefaultSchedule.
	Schedule func(l *Loop, a *Action) *Event
	// Do performs the state mutation when the event fires. Must be
	// idempotent with respect to Processed.
	Do func(l *Loop, e *Event)
	// PrepareJump fills the output-side transition for the function's play
	// jump children.
	PrepareJump func(l *Loop, e *Event, jc *JumpContext)
}

// IsSustain reports whether this invocation acts on the up transition too.
func (f *Function) IsSustain(l *Loop) bool {
	return f.SustainFn || (f.MaySustain && l.preset.IsSustain(f.Name))
}

// Invoke resolves an action against the loop: down transitions schedule,
// up transitions only matter for sustain functions.
func (f *Function) Invoke(l *Loop, a *Action) *Event {
	if !a.Down && !f.IsSustain(l) {
		return nil
	}
	if f.Schedule != nil {
		return f.Schedule(l, a)
	}
	return DefaultSchedule(l, f, a)
}

// DefaultSchedule is the base scheduling path: compute the target frame,
// create the event, add it.
func DefaultSchedule(l *Loop, f *Function, a *Action) *Event {
	e := l.em.GetFunctionEvent(l, f, a)
	l.em.Add(e)
	return e
}

// functions is the catalogue, populated by the definition files' init.
var functions = map[string]*Function{}

func register(f *Function) *Function {
	if _, dup := functions[f.Name]; dup {
		trace.Errorf("function: duplicate registration", 0, 0)
	}
	functions[f.Name] = f
	return f
}

// FunctionNamed resolves a function by name; nil when unknown.
func FunctionNamed(name string) *Function {
	return functions[name]
}

// FunctionNames lists the catalogue for state export.
func FunctionNames() []string {
	names := make([]string, 0, len(functions))
	for n := range functions {
		names = append(names, n)
	}
	return names
}
