package loop

import (
	"strata/internal/audio"
	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/trace"
)

// Loop is one track's loop: a record layer being written, its play layer
// (the record layer's prev), frame cursors for both streams, and the mode
// state machine. All methods run on the audio interrupt unless noted.
type Loop struct {
	track *Track

	lp *layer.Pool
	ap *audio.Pool
	em *EventManager

	preset config.Preset

	record *layer.Layer
	play   *layer.Layer

	frame     int // record cursor
	playFrame int // output cursor, ≈ frame + inputLatency + outputLatency

	mode           Mode
	modeStartFrame int
	insertEnd      int // record frame ending the current inserted cycle

	// minor modes
	overdub    bool
	mute       bool
	muteMode   bool // sticky minor mute, survives mode changes
	globalMute bool // muted by GlobalMute, restored by the next one
	pause      bool
	reverse    bool

	feedback int // active feedback level 0-127

	input  InputStream
	output OutputStream

	// record threshold and sync states hold recording until a condition
	syncRecordPending bool

	beatsRecorded int // beats counted while a synced record runs
}

// NewLoop builds a loop in reset.
func NewLoop(t *Track, lp *layer.Pool, ap *audio.Pool, preset config.Preset, inLatency, outLatency int) *Loop {
	l := &Loop{
		track:    t,
		lp:       lp,
		ap:       ap,
		preset:   preset,
		mode:     ModeReset,
		feedback: 127,
	}
	l.input.Latency = inLatency
	l.output.Latency = outLatency
	l.em = NewEventManager(l)
	return l
}

// Accessors used by functions and the host.

func (l *Loop) Track() *Track                { return l.track }
func (l *Loop) Events() *EventManager        { return l.em }
func (l *Loop) Preset() *config.Preset       { return &l.preset }
func (l *Loop) SetPreset(p config.Preset)    { l.preset = p }
func (l *Loop) Mode() Mode                   { return l.mode }
func (l *Loop) Frame() int                   { return l.frame }
func (l *Loop) SetFrame(f int)               { l.frame = f }
func (l *Loop) PlayFrame() int               { return l.playFrame }
func (l *Loop) RecordLayer() *layer.Layer    { return l.record }
func (l *Loop) PlayLayer() *layer.Layer      { return l.play }
func (l *Loop) SetPlayLayer(pl *layer.Layer) { l.play = pl }
func (l *Loop) InputLatency() int            { return l.input.Latency }
func (l *Loop) OutputLatency() int           { return l.output.Latency }
func (l *Loop) InputStream() *InputStream    { return &l.input }
func (l *Loop) OutputStream() *OutputStream  { return &l.output }
func (l *Loop) ModeStartFrame() int          { return l.modeStartFrame }
func (l *Loop) SetModeStartFrame(f int)      { l.modeStartFrame = f }
func (l *Loop) Overdub() bool                { return l.overdub }
func (l *Loop) Muted() bool                  { return l.mute }
func (l *Loop) MuteMode() bool               { return l.muteMode }
func (l *Loop) GlobalMuted() bool            { return l.globalMute }
func (l *Loop) Paused() bool                 { return l.pause }
func (l *Loop) Reverse() bool                { return l.reverse }
func (l *Loop) Feedback() int                { return l.feedback }
func (l *Loop) SetFeedback(f int) {
	if f < 0 {
		f = 0
	}
	if f > 127 {
		f = 127
	}
	l.feedback = f
}

// Frames returns the loop length, zero in reset or during the initial
// record.
func (l *Loop) Frames() int {
	if l.record == nil || l.mode == ModeRecord {
		return 0
	}
	return l.record.Frames()
}

// CycleFrames returns the cycle length of the loop.
func (l *Loop) CycleFrames() int {
	if l.record == nil {
		return 0
	}
	return l.record.CycleFrames()
}

// SubcycleFrames returns the quantization subcycle length.
func (l *Loop) SubcycleFrames() int {
	sub := l.preset.Subcycles
	if sub <= 0 {
		sub = 4
	}
	cf := l.CycleFrames()
	if cf == 0 {
		return 0
	}
	return cf / sub
}

// HistoryFrames returns the total recorded history length, used by loop
// windowing.
func (l *Loop) HistoryFrames() int {
	last := l.play
	if last == nil {
		return 0
	}
	if last.IsWindowing() {
		last = last.Prev()
		if last == nil {
			return 0
		}
	}
	return last.HistoryOffset() + last.Frames()
}

// MinimumFrames is the smallest usable loop: calculations break down below
// the larger of the two latencies.
func (l *Loop) MinimumFrames() int {
	min := l.input.Latency
	if l.output.Latency > min {
		min = l.output.Latency
	}
	if min < audio.FadeRange {
		min = audio.FadeRange
	}
	return min
}

// IsReset reports whether the loop holds no content.
func (l *Loop) IsReset() bool { return l.mode == ModeReset }

// Reset empties the loop, releasing all history.
func (l *Loop) Reset() {
	l.em.Flush()
	if l.record != nil {
		l.record.FreeUndo()
		l.record.FreeAll()
		l.record = nil
	}
	l.play = nil
	l.frame = 0
	l.playFrame = 0
	l.mode = ModeReset
	l.modeStartFrame = 0
	l.overdub = false
	l.mute = false
	l.muteMode = false
	l.globalMute = false
	l.pause = false
	l.reverse = false
	l.feedback = 127
	l.output.SetMute(false)
	l.syncRecordPending = false
}

/****************************************************************************
 * Interrupt processing
 ****************************************************************************/

// Advance runs one interrupt's worth of frames: output is rendered from the
// play layer and input recorded into the record layer, chunked at event
// frames and loop points so everything fires in order.
func (l *Loop) Advance(in, out []float32, frames int) {
	offset := 0
	remaining := frames
	guard := 0

	for remaining > 0 {
		guard++
		if guard > frames+64 {
			trace.Errorf("loop: advance not progressing at frame %d", int64(l.frame), 0)
			break
		}

		chunk := remaining

		// cut the chunk at the next structural boundary
		if bound, ok := l.nextBoundary(); ok {
			if until := bound - l.frame; until < chunk {
				chunk = until
			}
		}

		// cut the chunk at the next due event
		event := l.em.NextDue(l.frame, l.frame+chunk)
		if event != nil {
			if until := event.Frame - l.frame; until < chunk {
				chunk = until
			}
		}

		if chunk > 0 {
			inSlice := in[offset*audio.Channels : (offset+chunk)*audio.Channels]
			outSlice := out[offset*audio.Channels : (offset+chunk)*audio.Channels]
			l.playChunk(outSlice, chunk)
			l.recordChunk(inSlice, chunk)
			if !l.pause {
				l.frame += chunk
			}
			offset += chunk
			remaining -= chunk
		}

		if event != nil && event.Frame <= l.frame {
			l.em.Fire(event)
			continue
		}

		if bound, ok := l.nextBoundary(); ok && l.frame >= bound {
			l.atBoundary()
		}
	}
}

// nextBoundary returns the next frame at which the loop structure demands
// attention: the loop point, or the end of the current extension cycle.
func (l *Loop) nextBoundary() (int, bool) {
	if l.record == nil {
		return 0, false
	}
	switch l.mode {
	case ModeRecord, ModeThreshold, ModeSynchronize:
		// unbounded growth, no boundary
		return 0, false
	case ModeInsert:
		return l.insertEnd, true
	default:
		if l.record.Frames() == 0 {
			return 0, false
		}
		return l.record.Frames(), true
	}
}

// atBoundary handles the frame cursor arriving at the boundary returned by
// nextBoundary.
func (l *Loop) atBoundary() {
	switch l.mode {
	case ModeMultiply:
		// append another cycle of the play layer
		src := l.play
		if src == nil {
			trace.Errorf("loop: multiply without play layer", 0, 0)
			l.loopPoint()
			return
		}
		srcStart := 0
		if src.Frames() > 0 {
			srcStart = l.record.Frames() % src.Frames()
		}
		l.record.MultiplyCycle(nil, src, srcStart)

	case ModeStutter:
		// repeat the stuttered cycle
		src := l.play
		if src == nil {
			l.loopPoint()
			return
		}
		l.record.StutterCycle(nil, src, l.modeStartFrame, l.record.Frames())

	case ModeInsert:
		l.record.ContinueInsert(nil, l.frame)
		l.insertEnd += l.record.CycleFrames()

	default:
		l.loopPoint()
	}
}

// loopPoint crosses the loop boundary: shift a changed record layer into
// history, or just wrap.
func (l *Loop) loopPoint() {
	if l.record == nil {
		return
	}
	if l.record.Changed() {
		l.Shift(true)
	} else {
		l.frame = 0
	}
	l.em.WrapAfterLoop()
}

// playChunk renders output. Mute plays silence; pause freezes the cursor as
// well. The rendered tail is remembered so a later discontinuity can be
// masked.
func (l *Loop) playChunk(out []float32, frames int) {
	if l.play == nil || l.mute || l.pause || l.output.Mute() {
		l.output.mixTail(out, frames)
		if l.play != nil && !l.pause {
			l.playFrame = l.wrapFrame(l.playFrame+frames, l.play.Frames())
		}
		return
	}

	pl := l.play
	offset := 0
	remaining := frames
	for remaining > 0 {
		if pl.Frames() == 0 {
			break
		}
		chunk := remaining
		if until := pl.Frames() - l.playFrame; until < chunk {
			chunk = until
		}
		if chunk <= 0 {
			l.playFrame = 0
			continue
		}
		con := layer.NewContext(out[offset*audio.Channels:(offset+chunk)*audio.Channels], chunk)
		con.Reverse = l.reverse
		pl.Play(con, l.playFrame, false)
		l.playFrame += chunk
		if l.playFrame >= pl.Frames() {
			l.playFrame = 0
		}
		offset += chunk
		remaining -= chunk
	}

	l.output.mixTail(out, frames)
	l.output.remember(out, frames)
	l.output.lastFrame = l.playFrame
}

// recordChunk consumes input per the current mode.
func (l *Loop) recordChunk(in []float32, frames int) {
	if l.record == nil || l.pause {
		return
	}
	con := layer.NewContext(in, frames)
	con.Reverse = l.reverse

	switch l.mode {
	case ModeRecord, ModeRehearse:
		l.record.Record(con, l.frame, 127)

	case ModeOverdub, ModeMultiply, ModeStutter:
		// flatten the background first so the covered range holds only
		// prior content when the feedback copy reads it
		l.record.Advance(con, l.frame, l.feedback)
		l.record.Record(con, l.frame, l.feedback)

	case ModeInsert:
		l.record.Record(con, l.frame, l.feedback)

	case ModeReplace:
		// background is discarded rather than carried
		l.record.Advance(con, l.frame, 0)
		l.record.Record(con, l.frame, l.feedback)

	default:
		// playing: input passes by; feedback below unity only applies
		// while a recording mode is active
	}
}

// wrapFrame wraps an absolute frame into [0, frames).
func (l *Loop) wrapFrame(frame, frames int) int {
	if frames <= 0 {
		return 0
	}
	f := frame % frames
	if f < 0 {
		f += frames
	}
	return f
}

// WrapFrame exposes frame wrapping to functions.
func (l *Loop) WrapFrame(frame, frames int) int { return l.wrapFrame(frame, frames) }

// RecalculatePlayFrame re-derives the output cursor from the record cursor
// after a non-smooth transition.
func (l *Loop) RecalculatePlayFrame() {
	if l.play == nil {
		l.playFrame = 0
		return
	}
	l.playFrame = l.wrapFrame(l.frame+l.input.Latency+l.output.Latency, l.play.Frames())
}

/****************************************************************************
 * Mode transitions
 ****************************************************************************/

// StartRecording begins the initial recording, replacing any content.
func (l *Loop) StartRecording() {
	if l.record != nil {
		l.record.FreeUndo()
		l.record.FreeAll()
	}
	l.play = nil
	l.record = l.lp.NewLayer()
	l.frame = 0
	l.playFrame = 0
	l.mode = ModeRecord
	l.modeStartFrame = 0
	l.overdub = false
	l.mute = false
	l.output.SetMute(false)
}

// FinishRecording ends the initial recording: the recorded length becomes
// the loop, one cycle, and playback begins.
func (l *Loop) FinishRecording(e *Event) {
	if l.mode != ModeRecord {
		trace.Warnf("loop: finishRecording outside record mode", 0, 0)
		return
	}
	l.record.SetCycles(1)
	l.record.Resize(l.frame)
	l.record.Audio().FadeEdges()
	l.Shift(false)
	l.mode = ModePlay
	l.RecalculatePlayFrame()
	if s := l.track.Sync(); s != nil {
		s.LoopRecorded(l)
	}
}

// InstallHistory replaces the loop's content with a restored layer chain,
// as when a project loads. play is the newest layer of the chain.
func (l *Loop) InstallHistory(play *layer.Layer) {
	l.Reset()
	if play == nil {
		return
	}
	l.play = play
	l.record = l.lp.NewLayer()
	l.record.Copy(play)
	l.record.SetPrev(play)
	l.record.SetHistoryOffset(play.HistoryOffset() + play.Frames())
	l.mode = ModePlay
	l.frame = 0
	l.RecalculatePlayFrame()
}

// LayerPool exposes the layer pool for project restoration.
func (l *Loop) LayerPool() *layer.Pool { return l.lp }

// Shift finalizes the record layer into history and starts a new one.
// checkChanged=true collapses trivial shifts where nothing changed.
func (l *Loop) Shift(checkChanged bool) {
	if l.record == nil {
		return
	}
	if checkChanged && !l.record.Changed() && l.play != nil {
		l.frame = l.wrapFrame(l.frame, l.record.Frames())
		return
	}

	old := l.record
	// new recording invalidates the redo chain
	if l.play != nil {
		l.play.FreeUndo()
	}

	next := l.lp.NewLayer()
	next.Copy(old)
	next.SetPrev(old)
	next.SetHistoryOffset(old.HistoryOffset() + old.Frames())
	next.SetIsolatedOverdub(old.Overdub() != nil)
	old.Finalize(nil, next)
	old.TransferPlayFade(next)

	l.play = old
	l.record = next
	l.frame = l.wrapFrame(l.frame, next.Frames())
	l.checkMaxUndo()
}

// checkMaxUndo trims history beyond the preset's undo depth, sparing
// checkpointed layers.
func (l *Loop) checkMaxUndo() {
	max := l.preset.MaxUndo
	if max <= 0 || l.play == nil {
		return
	}
	depth := 0
	cur := l.play
	for cur != nil && depth < max {
		cur = cur.Prev()
		depth++
	}
	if cur == nil {
		return
	}
	// cur is the first layer beyond the limit; cut the chain there
	for walk := cur; walk != nil; {
		if walk.Checkpoint() == layer.CheckpointOn {
			return // a checkpoint pins everything back to it
		}
		walk = walk.Prev()
	}
	parent := l.play
	for parent.Prev() != cur {
		parent = parent.Prev()
	}
	parent.SetPrev(nil)
	cur.FreeAll()
}

// Undo steps the play layer back one generation. Changes on the record
// layer are discarded first; with no pending changes the previous layer is
// restored and the discarded generation joins the redo chain.
func (l *Loop) Undo() {
	if l.play == nil {
		return
	}
	if l.record != nil && l.record.Changed() {
		l.record.Copy(l.play)
		l.frame = l.wrapFrame(l.frame, l.play.Frames())
		l.output.CaptureTail()
		l.RecalculatePlayFrame()
		l.resumeAfterJump()
		return
	}
	prev := l.play.Prev()
	if prev == nil || prev.IsWindowing() {
		trace.Infof("loop: nothing to undo", 0, 0)
		return
	}
	old := l.play
	prev.SetRedo(old)
	l.play = prev
	l.record.Copy(prev)
	l.frame = l.wrapFrame(l.frame, prev.Frames())
	l.output.CaptureTail()
	l.RecalculatePlayFrame()
	l.resumeAfterJump()
}

// Redo reverses an undo.
func (l *Loop) Redo() {
	if l.play == nil || l.play.Redo() == nil {
		return
	}
	next := l.play.Redo()
	l.play.SetRedo(nil)
	l.play = next
	l.record.Copy(next)
	l.frame = l.wrapFrame(l.frame, next.Frames())
	l.output.CaptureTail()
	l.RecalculatePlayFrame()
	l.resumeAfterJump()
}

func (l *Loop) resumeAfterJump() {
	l.em.Flush()
	l.ResumePlay()
}

// ResumePlay ends whatever mode was running and returns to plain play,
// honoring minor modes.
func (l *Loop) ResumePlay() {
	if l.mode == ModeRecord {
		return
	}
	switch {
	case l.muteMode:
		l.mode = ModeMute
	case l.overdub:
		l.mode = ModeOverdub
	default:
		l.mode = ModePlay
	}
	l.modeStartFrame = 0
	l.insertEnd = 0
}

// SetMode switches the major mode.
func (l *Loop) SetMode(m Mode) { l.mode = m }

// SetMute flips the record-side mute minor mode.
func (l *Loop) SetMute(b bool) { l.mute = b }

// SetMuteMode flips the sticky minor mute.
func (l *Loop) SetMuteMode(b bool) { l.muteMode = b }

// SetGlobalMute marks the loop as muted by GlobalMute.
func (l *Loop) SetGlobalMute(b bool) { l.globalMute = b }

// SetPause freezes or resumes both cursors.
func (l *Loop) SetPause(b bool) { l.pause = b }

// SetOverdub flips the overdub minor mode.
func (l *Loop) SetOverdub(b bool) { l.overdub = b }

// SetReverse flips playback/record direction.
func (l *Loop) SetReverse(b bool) {
	if l.reverse != b {
		l.reverse = b
		l.output.CaptureTail()
	}
}

// CheckMuteCancel lifts mute when the invoking function is configured as a
// mute-cancel function.
func (l *Loop) CheckMuteCancel(e *Event) {
	if !l.mute && !l.muteMode {
		return
	}
	f := e.InvokingFunction
	if f == nil {
		f = e.Function
	}
	if f != nil && f.MayCancelMute && l.preset.IsMuteCancel(f.Name) {
		l.mute = false
		l.muteMode = false
		l.output.SetMute(false)
	}
}

// Validate cross-checks loop state after an event, tracing anything a
// handler left inconsistent.
func (l *Loop) Validate(e *Event) {
	if l.record == nil {
		return
	}
	frames := l.record.Frames()
	if l.mode != ModeRecord && frames > 0 && l.frame >= frames {
		trace.Errorf("loop: frame %d outside loop after event", int64(l.frame), int64(frames))
		l.frame = l.wrapFrame(l.frame, frames)
	}
	if l.play != nil && l.play.Frames() > 0 && l.playFrame >= l.play.Frames() {
		trace.Errorf("loop: play frame %d outside layer", int64(l.playFrame), 0)
		l.playFrame = l.wrapFrame(l.playFrame, l.play.Frames())
	}
}
