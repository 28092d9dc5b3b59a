package loop

import (
	"strata/internal/config"
	"strata/internal/trace"
)

// Record starts and stops the initial recording. Down in reset enters
// recording after input latency (or once the sync pulse arrives); down
// while recording schedules the stop, rounded by the synchronizer when a
// sync source drives the track.
var FuncRecord = register(&Function{
	Name:          "Record",
	EventType:     EventRecord,
	MajorMode:     ModeRecord,
	MayCancelMute: true,
	CancelReturn:  true,
	MaySustain:    true,
})

func init() {
	FuncRecord.Schedule = scheduleRecord
	FuncRecord.Do = doRecord
	FuncRecord.PrepareJump = prepareRecordJump
}

func scheduleRecord(l *Loop, a *Action) *Event {
	em := l.em
	synced := l.track != nil && l.track.SyncSource() != config.SyncNone &&
		l.track.Sync() != nil && l.track.Sync().Receiving()

	switch l.mode {
	case ModeRecord:
		if !a.Down {
			if !FuncRecord.IsSustain(l) {
				return nil
			}
		}
		// second press (or sustain release) schedules the stop
		if existing := em.Find(EventRecordStop); existing != nil {
			return existing
		}
		stop := em.New(EventRecordStop, l.frame+l.input.Latency)
		stop.Function = FuncRecord
		stop.InvokingFunction = FuncRecord
		if synced {
			// the synchronizer commits the frame on the rounding pulse
			stop.Pending = true
		}
		em.Add(stop)
		em.SchedulePlayJump(l, stop)
		return stop

	case ModeMultiply:
		// alternate ending: unrounded multiply
		return scheduleUnroundedMultiplyEnd(l, a)

	case ModeInsert:
		// alternate ending: unrounded insert
		return scheduleInsertEnd(l, a, true)

	default:
		if !a.Down {
			return nil
		}
		e := em.New(EventRecord, l.frame+l.input.Latency)
		e.Function = FuncRecord
		e.InvokingFunction = FuncRecord
		if synced {
			e.Pending = true
		}
		em.Add(e)
		return e
	}
}

func doRecord(l *Loop, e *Event) {
	switch e.Type {
	case EventRecord:
		l.StartRecording()
		if s := l.track.Sync(); s != nil {
			s.RecordStarted(l)
		}
	case EventRecordStop:
		l.FinishRecording(e)
		l.CheckMuteCancel(e)
	default:
		trace.Errorf("record: unexpected event %d", int64(e.Type), 0)
	}
	l.Validate(e)
}

func prepareRecordJump(l *Loop, e *Event, jc *JumpContext) {
	// at record stop, playback of the new loop begins at the top with
	// latency compensation
	jc.SetFrame = true
	jc.Frame = l.input.Latency + l.output.Latency
	jc.Unmute = !l.muteMode
}

// Overdub toggles the overdub minor mode. Quantized per preset; the layered
// material mixes into the record layer with feedback carrying the background.
var FuncOverdub = register(&Function{
	Name:          "Overdub",
	EventType:     EventOverdub,
	MajorMode:     ModeOverdub,
	Quantized:     true,
	MayCancelMute: true,
	CancelReturn:  true,
	MaySustain:    true,
})

func init() {
	FuncOverdub.Schedule = scheduleOverdub
	FuncOverdub.Do = doOverdub
}

func scheduleOverdub(l *Loop, a *Action) *Event {
	if l.mode == ModeReset || l.mode == ModeRecord {
		// overdub is an alternate record ending when recording
		if l.mode == ModeRecord && a.Down {
			e := scheduleRecord(l, a)
			if e != nil {
				e.InvokingFunction = FuncOverdub
			}
			return e
		}
		return nil
	}
	if !a.Down && !FuncOverdub.IsSustain(l) {
		return nil
	}
	e := l.em.GetFunctionEvent(l, FuncOverdub, a)
	if !l.preset.OverdubQuantized {
		e.Frame = l.frame + l.input.Latency
	}
	l.em.Add(e)
	return e
}

func doOverdub(l *Loop, e *Event) {
	if l.overdub {
		l.overdub = false
		l.ResumePlay()
	} else {
		l.overdub = true
		if l.mode == ModePlay || l.mode == ModeMute {
			l.mode = ModeOverdub
		}
	}
	l.CheckMuteCancel(e)
	l.Validate(e)
}
