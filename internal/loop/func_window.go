package loop

import (
	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/trace"
)

// Loop windowing rebuilds the play layer to cover a sub-range of the entire
// recorded history. The record layer's modifications are lost, like an
// undo; windowing operations mutate only the dedicated windowing layer.
var (
	FuncWindowBackward      = register(windowFunction("WindowBackward", false, false, -1))
	FuncWindowForward       = register(windowFunction("WindowForward", false, false, 1))
	FuncWindowMove          = register(windowFunction("WindowMove", false, false, 0))
	FuncWindowStartBackward = register(windowFunction("WindowStartBackward", true, true, -1))
	FuncWindowStartForward  = register(windowFunction("WindowStartForward", true, true, 1))
	FuncWindowEndBackward   = register(windowFunction("WindowEndBackward", true, false, -1))
	FuncWindowEndForward    = register(windowFunction("WindowEndForward", true, false, 1))
	FuncWindowResize        = register(windowFunction("WindowResize", true, false, 0))
)

func windowFunction(name string, edge, start bool, direction int) *Function {
	f := &Function{
		Name:          name,
		EventType:     EventWindow,
		Instant:       true,
		CancelReturn:  true,
		MayCancelMute: true,
	}
	f.Do = func(l *Loop, e *Event) {
		doWindow(l, e, edge, start, direction)
	}
	return f
}

// windowState carries the transient calculation through one window
// operation.
type windowState struct {
	loop       *Loop
	layer      *layer.Layer // current play layer
	last       *layer.Layer // newest non-windowing layer
	offset     int
	frames     int
	style      layer.OverflowStyle
	newFrame   int
	continuity bool
}

func doWindow(l *Loop, e *Event, edge, start bool, direction int) {
	play := l.play
	if play == nil {
		return
	}

	w := &windowState{
		loop:   l,
		layer:  play,
		last:   play,
		offset: play.WindowOffset(),
		frames: play.Frames(),
		style:  layer.OverflowPush,
	}
	if w.offset < 0 {
		// not windowing yet: the window is the current layer's place in
		// history
		w.offset = play.HistoryOffset()
	}
	if play.IsWindowing() {
		w.last = play.Prev()
	}

	if edge {
		w.style = layer.OverflowTruncate
		resizeWindow(w, e, start, direction)
	} else {
		moveWindow(w, e, direction)
	}

	offset, frames, ok := layer.ConstrainWindow(w.last, w.offset, w.frames, l.MinimumFrames(), w.style)
	if !ok {
		return
	}
	// refuse noops
	if frames == play.Frames() &&
		((play.IsWindowing() && offset == play.WindowOffset()) ||
			(!play.IsWindowing() && offset == play.HistoryOffset())) {
		trace.Infof("window: ignoring noop window change", 0, 0)
		return
	}
	w.offset, w.frames = offset, frames

	segs, ok := layer.BuildWindowSegments(play, w.last, w.offset, w.frames)
	if !ok {
		return
	}

	installWindow(w, edge, segs)
	l.CheckMuteCancel(e)
	l.Validate(e)
}

// moveWindow recalculates the window offset for a slide.
func moveWindow(w *windowState, e *Event, direction int) {
	l := w.loop
	p := l.preset
	unit := p.WindowSlideUnit
	amount := e.Value
	if amount <= 0 {
		amount = p.WindowSlideAmount
		if amount <= 0 {
			amount = 1
		}
	}
	if direction == 0 {
		// WindowMove: unit and amount in the arguments
		if len(e.Args) > 0 {
			if u, ok := e.Args[0].(string); ok {
				unit = config.WindowUnit(u)
			}
			if len(e.Args) > 1 {
				amount = argInt(e.Args[1], amount)
			}
		} else {
			trace.Warnf("window: move without arguments", 0, 0)
		}
		if amount >= 0 {
			direction = 1
		} else {
			direction = -1
			amount = -amount
		}
	}

	slide := amount * windowUnitFrames(w, unit)
	if direction >= 0 {
		w.offset += slide
	} else {
		w.offset -= slide
	}
}

// resizeWindow adjusts one edge, changing offset and length.
func resizeWindow(w *windowState, e *Event, start bool, direction int) {
	l := w.loop
	p := l.preset
	unit := p.WindowEdgeUnit
	amount := e.Value
	if amount <= 0 {
		amount = p.WindowEdgeAmount
		if amount <= 0 {
			amount = 1
		}
	}
	forward := direction > 0
	if direction == 0 {
		// WindowResize: edge, unit, amount in the arguments
		if len(e.Args) > 0 {
			if s, ok := e.Args[0].(string); ok {
				switch s {
				case "start":
					start = true
				case "end":
					start = false
				default:
					trace.Warnf("window: resize with invalid edge", 0, 0)
					return
				}
			}
			if len(e.Args) > 1 {
				if u, ok := e.Args[1].(string); ok {
					unit = config.WindowUnit(u)
				}
			}
			if len(e.Args) > 2 {
				amount = argInt(e.Args[2], amount)
			}
		} else {
			trace.Warnf("window: resize with no arguments", 0, 0)
			return
		}
		forward = amount > 0
		if amount < 0 {
			amount = -amount
		}
	}

	resize := amount * windowUnitFrames(w, unit)
	if start {
		if forward {
			w.offset += resize
			w.frames -= resize
		} else {
			w.offset -= resize
			w.frames += resize
		}
	} else {
		if forward {
			w.frames += resize
		} else {
			w.frames -= resize
		}
	}
}

// windowUnitFrames converts a window unit into frames.
func windowUnitFrames(w *windowState, unit config.WindowUnit) int {
	l := w.loop
	switch unit {
	case config.WindowUnitLoop:
		return l.Frames()
	case config.WindowUnitCycle:
		return l.CycleFrames()
	case config.WindowUnitSubcycle:
		if w.layer.IsWindowing() {
			// resizing changes the subcycle length, so edge units use the
			// size saved when windowing began
			return w.layer.WindowSubcycleFrames()
		}
		return l.SubcycleFrames()
	case config.WindowUnitMsec:
		return l.track.SampleRate() / 1000
	case config.WindowUnitFrame:
		return 1
	}
	return 0
}

// installWindow splices in (or reuses) the windowing layer and installs the
// new segments.
func installWindow(w *windowState, edge bool, segs []*layer.Segment) {
	l := w.loop
	calculateWindowFrame(w, edge)

	if !w.continuity {
		l.output.CaptureTail()
	} else {
		l.output.SetLayerShift(true)
	}

	// like redo, flush remaining events
	l.em.Flush()

	win := w.layer
	if !win.IsWindowing() {
		trace.Infof("window: inserting window layer", 0, 0)
		win = l.lp.NewLayer()
		win.SetWindowSubcycleFrames(l.SubcycleFrames())
		win.SetPrev(w.layer)
		l.play = win
	}

	saveSubcycle := win.WindowSubcycleFrames()
	savePrev := win.Prev()
	win.Reset()
	win.SetPrev(savePrev)
	win.SetWindowSubcycleFrames(saveSubcycle)
	win.SetWindowOffset(w.offset)
	win.Zero(w.frames, 1)
	win.SetSegments(segs)
	win.CompileSegmentFades(false)
	win.SetFinalized(true)

	// rebase the record layer on the window
	l.record.Copy(win)
	l.record.SetPrev(win)

	l.frame = w.newFrame
	l.RecalculatePlayFrame()
	l.ResumePlay()
	if s := l.track.Sync(); s != nil {
		s.LoopResized(l, false)
	}
}

// calculateWindowFrame picks the loop frame for the new window: slides
// restart from zero, edge adjustments keep the same relative position when
// the playing region survives.
func calculateWindowFrame(w *windowState, edge bool) {
	w.newFrame = 0
	w.continuity = false
	if !edge {
		return
	}
	l := w.loop
	current := l.frame
	historyOffset := w.layer.HistoryOffset()
	if w.layer.IsWindowing() {
		historyOffset = w.layer.WindowOffset()
	}
	historyFrame := historyOffset + current
	if current < w.frames && historyFrame >= w.offset {
		w.newFrame = current + (historyOffset - w.offset)
		if w.newFrame < 0 || w.newFrame >= w.frames {
			w.newFrame = 0
			return
		}
		w.continuity = true
	}
}

func argInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}
