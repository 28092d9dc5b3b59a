package loop

import (
	"strata/internal/config"
	"strata/internal/trace"
)

// Multiply extends the loop by whole cycles. A second press schedules the
// rounded ending at the next cycle boundary; Record ends it unrounded at
// the press point.
var FuncMultiply = register(&Function{
	Name:             "Multiply",
	EventType:        EventMultiply,
	MajorMode:        ModeMultiply,
	Quantized:        true,
	MayCancelMute:    true,
	CancelReturn:     true,
	SwitchStack:      true,
	SwitchStackMutex: true,
	MaySustain:       true,
})

func init() {
	FuncMultiply.Schedule = scheduleMultiply
	FuncMultiply.Do = doMultiply
}

func scheduleMultiply(l *Loop, a *Action) *Event {
	if l.Frames() == 0 {
		return nil
	}
	em := l.em
	if l.mode == ModeMultiply {
		if !a.Down && !FuncMultiply.IsSustain(l) {
			return nil
		}
		// rounded ending at the next cycle boundary
		if existing := em.Find(EventMultiplyEnd); existing != nil {
			return existing
		}
		end := em.New(EventMultiplyEnd, em.QuantizeFrame(config.QuantizeCycle, l.frame))
		end.Function = FuncMultiply
		end.InvokingFunction = FuncMultiply
		em.Add(end)
		em.SchedulePlayJump(l, end)
		return end
	}
	if !a.Down {
		return nil
	}
	return DefaultSchedule(l, FuncMultiply, a)
}

// scheduleUnroundedMultiplyEnd ends multiply at the invoking frame,
// truncating instead of rounding.
func scheduleUnroundedMultiplyEnd(l *Loop, a *Action) *Event {
	if !a.Down {
		return nil
	}
	em := l.em
	if existing := em.Find(EventMultiplyEnd); existing != nil {
		return existing
	}
	end := em.New(EventMultiplyEnd, l.frame+l.input.Latency)
	end.Function = FuncMultiply
	end.InvokingFunction = FuncRecord
	em.Add(end)
	em.SchedulePlayJump(l, end)
	return end
}

func doMultiply(l *Loop, e *Event) {
	switch e.Type {
	case EventMultiply:
		l.Shift(true)
		l.mode = ModeMultiply
		l.modeStartFrame = l.frame
		l.record.SetStructureChanged(true)

	case EventMultiplyEnd:
		unrounded := e.InvokingFunction == FuncRecord
		cycleFrames := 0
		if l.play != nil {
			cycleFrames = l.play.CycleFrames()
		}
		if unrounded {
			length := l.frame - l.modeStartFrame
			if length <= 0 {
				trace.Errorf("multiply: empty unrounded region", 0, 0)
			} else {
				l.record.Splice(nil, l.modeStartFrame, length, 1)
				// stay at the same position within the source cycle so
				// playback continues seamlessly
				if cycleFrames > 0 {
					l.frame = l.wrapFrame(l.frame%cycleFrames, length)
				} else {
					l.frame = 0
				}
			}
		} else {
			start := l.modeStartFrame
			length := l.frame - start
			if cycleFrames > 0 && length > 0 {
				l.record.Splice(nil, start, length, length/cycleFrames)
				l.frame -= start
			}
		}
		l.Shift(true)
		if s := l.track.Sync(); s != nil {
			s.LoopResized(l, false)
		}
		l.RecalculatePlayFrame()
		l.ResumePlay()
		l.CheckMuteCancel(e)
	}
	l.Validate(e)
}

// Insert opens new cycles at the insert point, muting playback for the
// duration. Ending is rounded to the inserted cycle, or unrounded via
// Record.
var FuncInsert = register(&Function{
	Name:             "Insert",
	EventType:        EventInsert,
	MajorMode:        ModeInsert,
	Quantized:        true,
	MayCancelMute:    true,
	CancelReturn:     true,
	SwitchStack:      true,
	SwitchStackMutex: true,
	MaySustain:       true,
})

func init() {
	FuncInsert.Schedule = scheduleInsert
	FuncInsert.Do = doInsert
	FuncInsert.PrepareJump = prepareInsertJump
}

func scheduleInsert(l *Loop, a *Action) *Event {
	if l.Frames() == 0 {
		return nil
	}
	if l.mode == ModeInsert {
		if !a.Down && !FuncInsert.IsSustain(l) {
			return nil
		}
		return scheduleInsertEnd(l, a, false)
	}
	if !a.Down {
		return nil
	}
	e := DefaultSchedule(l, FuncInsert, a)
	if e != nil && !l.mute {
		l.em.SchedulePlayJump(l, e)
	}
	return e
}

func scheduleInsertEnd(l *Loop, a *Action, unrounded bool) *Event {
	if !a.Down {
		return nil
	}
	em := l.em
	if existing := em.Find(EventInsertEnd); existing != nil {
		return existing
	}
	frame := l.insertEnd
	if unrounded {
		frame = l.frame + l.input.Latency
	}
	end := em.New(EventInsertEnd, frame)
	end.Function = FuncInsert
	end.InvokingFunction = FuncInsert
	if unrounded {
		end.InvokingFunction = FuncRecord
	}
	em.Add(end)
	em.SchedulePlayJump(l, end)
	return end
}

func doInsert(l *Loop, e *Event) {
	switch e.Type {
	case EventInsert:
		l.Shift(true)
		l.record.StartInsert(nil, l.frame)
		l.mode = ModeInsert
		l.modeStartFrame = l.frame
		l.insertEnd = l.frame + l.record.CycleFrames()

	case EventInsertEnd:
		unrounded := e.InvokingFunction == FuncRecord
		l.record.EndInsert(nil, l.frame, unrounded)
		if unrounded {
			l.RecalculatePlayFrame()
			l.output.SetLayerShift(true)
		}
		l.Shift(true)
		if s := l.track.Sync(); s != nil {
			s.LoopResized(l, false)
		}
		if l.output.Mute() && !l.muteMode {
			trace.Warnf("insert: still muted at end of insert", 0, 0)
			l.output.SetMute(false)
		}
		l.ResumePlay()
		l.modeStartFrame = 0
	}
	l.Validate(e)
}

func prepareInsertJump(l *Loop, e *Event, jc *JumpContext) {
	parent := e.Parent
	if parent == nil {
		trace.Errorf("insert: jump event with no parent", 0, 0)
		return
	}
	if parent.Type == EventInsertEnd {
		// ending the insert mute; preserve mute if the minor mode holds it
		if !l.muteMode {
			jc.Unmute = true
		}
	} else {
		jc.Mute = true
	}
}

// Replace overwrites loop content while held: the background is dropped
// instead of carried.
var FuncReplace = register(&Function{
	Name:          "Replace",
	EventType:     EventReplace,
	MajorMode:     ModeReplace,
	Quantized:     true,
	MayCancelMute: true,
	CancelReturn:  true,
	MaySustain:    true,
})

func init() {
	FuncReplace.Schedule = scheduleReplace
	FuncReplace.Do = doReplace
	FuncReplace.PrepareJump = prepareReplaceJump
}

func scheduleReplace(l *Loop, a *Action) *Event {
	if l.Frames() == 0 {
		return nil
	}
	if !a.Down && l.mode != ModeReplace && !FuncReplace.IsSustain(l) {
		return nil
	}
	e := DefaultSchedule(l, FuncReplace, a)
	if e != nil {
		l.em.SchedulePlayJump(l, e)
	}
	return e
}

func doReplace(l *Loop, e *Event) {
	if l.mode == ModeReplace {
		l.Shift(true)
		l.ResumePlay()
	} else {
		l.Shift(true)
		l.mode = ModeReplace
		l.modeStartFrame = l.frame
	}
	l.CheckMuteCancel(e)
	l.Validate(e)
}

func prepareReplaceJump(l *Loop, e *Event, jc *JumpContext) {
	if l.mode == ModeReplace {
		if !l.muteMode {
			jc.Unmute = true
		}
	} else {
		jc.Mute = true
	}
}

// Stutter repeats the current cycle until ended, then play resumes at the
// cycle after the stuttered one.
var FuncStutter = register(&Function{
	Name:             "Stutter",
	EventType:        EventStutter,
	MajorMode:        ModeStutter,
	Quantized:        true,
	MayCancelMute:    true,
	CancelReturn:     true,
	SwitchStack:      true,
	SwitchStackMutex: true,
	MaySustain:       true,
})

func init() {
	FuncStutter.Schedule = scheduleStutter
	FuncStutter.Do = doStutter
}

func scheduleStutter(l *Loop, a *Action) *Event {
	if l.Frames() == 0 {
		return nil
	}
	if l.mode != ModeStutter {
		if !a.Down {
			return nil
		}
		e := DefaultSchedule(l, FuncStutter, a)
		if e != nil {
			// don't start stuttering until the stuttered cycle has played
			// once through the boundary
			e.AfterLoop = l.frame == l.em.QuantizeFrame(config.QuantizeCycle, l.frame)
		}
		return e
	}
	if !a.Down && !FuncStutter.IsSustain(l) {
		return nil
	}
	return DefaultSchedule(l, FuncStutter, a)
}

func doStutter(l *Loop, e *Event) {
	if l.mode == ModeStutter {
		l.Shift(true)
		if s := l.track.Sync(); s != nil {
			s.LoopResized(l, false)
		}
		l.RecalculatePlayFrame()
		l.ResumePlay()
	} else {
		if l.mode == ModeRecord {
			l.FinishRecording(e)
		}
		l.CheckMuteCancel(e)
		cycleFrames := l.CycleFrames()
		if cycleFrames > 0 {
			l.Shift(true)
			l.modeStartFrame = (l.frame / cycleFrames) * cycleFrames
			l.mode = ModeStutter
			l.record.SetStructureChanged(true)
		} else {
			l.ResumePlay()
		}
	}
	l.Validate(e)
}

// Mute family: Mute toggles, MuteOn/MuteOff force, Pause freezes, and the
// global variants are fanned out across tracks by the engine.
var FuncMute = register(muteFunction("Mute", false, false))
var FuncMuteOn = register(muteFunction("MuteOn", false, false))
var FuncMuteOff = register(muteFunction("MuteOff", false, false))
var FuncPause = register(muteFunction("Pause", true, false))
var FuncGlobalMute = register(muteFunction("GlobalMute", false, true))
var FuncGlobalPause = register(muteFunction("GlobalPause", true, true))

func muteFunction(name string, pause, global bool) *Function {
	f := &Function{
		Name:      name,
		EventType: EventMute,
		MajorMode: ModeMute,
		Quantized: true,
		Global:    global,
	}
	if pause {
		f.EventType = EventPause
	}
	f.Schedule = func(l *Loop, a *Action) *Event {
		if !a.Down || l.Frames() == 0 {
			return nil
		}
		e := l.em.GetFunctionEvent(l, f, a)
		e.Args = append(e.Args[:0], name)
		l.em.Add(e)
		l.em.SchedulePlayJump(l, e)
		return e
	}
	f.Do = func(l *Loop, e *Event) { doMute(l, e, name, pause) }
	f.PrepareJump = func(l *Loop, e *Event, jc *JumpContext) {
		prepareMuteJump(l, e, jc, pause)
	}
	return f
}

func doMute(l *Loop, e *Event, name string, pause bool) {
	entering := !l.muteMode
	switch name {
	case "MuteOn":
		entering = true
	case "MuteOff":
		entering = false
	}

	if entering {
		l.mute = true
		l.muteMode = true
		l.mode = ModeMute
		if pause || l.preset.Mute == config.MutePause {
			l.pause = true
			l.mode = ModePause
			if s := l.track.Sync(); s != nil {
				s.LoopPaused(l)
			}
		}
	} else {
		l.mute = false
		l.muteMode = false
		wasPaused := l.pause
		l.pause = false
		switch l.preset.Mute {
		case config.MuteStart:
			// restart at the top with latency compensation
			l.frame = 0
			l.RecalculatePlayFrame()
			if s := l.track.Sync(); s != nil {
				s.LoopRestarted(l)
			}
		default:
			if wasPaused {
				if s := l.track.Sync(); s != nil {
					s.LoopResumed(l)
				}
			}
		}
		l.ResumePlay()
	}
	l.Validate(e)
}

func prepareMuteJump(l *Loop, e *Event, jc *JumpContext, pause bool) {
	if !l.muteMode {
		jc.Mute = true
	} else {
		jc.Unmute = true
		if l.preset.Mute == config.MuteStart {
			jc.SetFrame = true
			jc.Frame = l.input.Latency + l.output.Latency
		}
	}
	_ = pause
}
