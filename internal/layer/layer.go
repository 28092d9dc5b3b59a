package layer

import (
	"sort"

	"strata/internal/audio"
	"strata/internal/trace"
)

// Checkpoint is tri-state so checkpoint status can transfer from the record
// layer to the play layer only when it was explicitly set.
type Checkpoint int

const (
	CheckpointUnspecified Checkpoint = iota
	CheckpointOff
	CheckpointOn
)

// Layer is one generation of loop history. Content is the sum of locally
// recorded audio and an ordered, non-overlapping list of segments windowing
// earlier layers. Layers are reference counted: every referencing segment
// holds a count, plus one for the owner (the loop chain). History is
// append-only and segments only point backward, so the graph is a DAG and
// recursive release terminates.
type Layer struct {
	lpool *Pool
	apool *audio.Pool

	number     int
	prev       *Layer
	redo       *Layer
	references int

	segments []*Segment
	local    *audio.Audio
	overdub  *audio.Audio // isolated overdub copy, only when isolating
	isolated bool

	frames int
	cycles int

	startingFeedback int
	feedback         int
	feedbackApplied  bool

	historyOffset        int
	windowOffset         int // >= 0 identifies a windowing layer
	windowSubcycleFrames int

	checkpoint Checkpoint

	finalized        bool
	structureChanged bool
	audioChanged     bool
	reverseRecord    bool
	fadeOverride     bool

	inserting    bool
	insertStart  int
	insertCycles int

	deferredFadeLeft          bool
	deferredFadeRight         bool
	containsDeferredFadeLeft  bool
	containsDeferredFadeRight bool

	headWindow FadeWindow
	tailWindow FadeWindow

	playCursor     *audio.Cursor
	copyCursor     *audio.Cursor
	feedbackCursor *audio.Cursor
	recordCursor   *audio.Cursor
	overdubCursor  *audio.Cursor

	// transient fade-in applied to playback after an abrupt reposition
	playFadePos    int
	playFadeActive bool

	// next link for the layer pool free list
	poolNext *Layer
	pooled   bool
}

func newLayer(lp *Pool, ap *audio.Pool) *Layer {
	l := &Layer{lpool: lp, apool: ap}
	l.local = ap.NewAudio()
	l.playCursor = audio.NewCursor(l.local, false)
	l.copyCursor = audio.NewCursor(l.local, false)
	l.feedbackCursor = audio.NewCursor(l.local, true)
	l.recordCursor = audio.NewCursor(l.local, true)
	l.init()
	return l
}

func (l *Layer) init() {
	l.prev = nil
	l.redo = nil
	l.references = 0
	l.segments = l.segments[:0]
	l.frames = 0
	l.cycles = 1
	l.startingFeedback = audio.FadeRange - 1
	l.feedback = audio.FadeRange - 1
	l.feedbackApplied = false
	l.historyOffset = 0
	l.windowOffset = -1
	l.windowSubcycleFrames = 0
	l.checkpoint = CheckpointUnspecified
	l.finalized = false
	l.structureChanged = false
	l.audioChanged = false
	l.reverseRecord = false
	l.fadeOverride = false
	l.inserting = false
	l.insertStart = 0
	l.insertCycles = 0
	l.deferredFadeLeft = false
	l.deferredFadeRight = false
	l.containsDeferredFadeLeft = false
	l.containsDeferredFadeRight = false
	l.headWindow.Reset()
	l.tailWindow.Reset()
	l.playFadeActive = false
	l.isolated = false
	if l.overdub != nil {
		l.apool.FreeAudio(l.overdub)
		l.overdub = nil
	}
}

// Reset returns the layer to the empty state, releasing content and segment
// references. Identity — chain position, reference count, number — is
// preserved; this is a content reset, not a free.
func (l *Layer) Reset() {
	prev, redo, refs := l.prev, l.redo, l.references
	l.ResetSegments()
	l.local.Reset()
	l.init()
	l.prev, l.redo, l.references = prev, redo, refs
}

// Basic accessors.

func (l *Layer) Number() int                { return l.number }
func (l *Layer) SetNumber(n int)            { l.number = n }
func (l *Layer) Prev() *Layer               { return l.prev }
func (l *Layer) SetPrev(p *Layer)           { l.prev = p }
func (l *Layer) Redo() *Layer               { return l.redo }
func (l *Layer) SetRedo(r *Layer)           { l.redo = r }
func (l *Layer) Frames() int                { return l.frames }
func (l *Layer) Cycles() int                { return l.cycles }
func (l *Layer) SetCycles(c int)            { l.cycles = c }
func (l *Layer) Audio() *audio.Audio        { return l.local }
func (l *Layer) Overdub() *audio.Audio      { return l.overdub }
func (l *Layer) HistoryOffset() int         { return l.historyOffset }
func (l *Layer) SetHistoryOffset(o int)     { l.historyOffset = o }
func (l *Layer) WindowOffset() int          { return l.windowOffset }
func (l *Layer) SetWindowOffset(o int)      { l.windowOffset = o }
func (l *Layer) IsWindowing() bool          { return l.windowOffset >= 0 }
func (l *Layer) Checkpoint() Checkpoint     { return l.checkpoint }
func (l *Layer) SetCheckpoint(c Checkpoint) { l.checkpoint = c }
func (l *Layer) Finalized() bool            { return l.finalized }
func (l *Layer) SetFinalized(b bool)        { l.finalized = b }
func (l *Layer) Feedback() int              { return l.feedback }
func (l *Layer) ReverseRecord() bool        { return l.reverseRecord }
func (l *Layer) SetReverseRecord(b bool)    { l.reverseRecord = b }
func (l *Layer) References() int            { return l.references }

func (l *Layer) WindowSubcycleFrames() int     { return l.windowSubcycleFrames }
func (l *Layer) SetWindowSubcycleFrames(f int) { l.windowSubcycleFrames = f }

// SetIsolatedOverdub enables capture of newly recorded material into a
// separate audio alongside the flattened layer.
func (l *Layer) SetIsolatedOverdub(b bool) {
	l.isolated = b
	if b && l.overdub == nil {
		l.overdub = l.apool.NewAudio()
		l.overdubCursor = audio.NewCursor(l.overdub, true)
	}
}

// StructureChanged reports whether a structural operation requires the next
// interrupt to shift a fresh record layer.
func (l *Layer) StructureChanged() bool     { return l.structureChanged }
func (l *Layer) SetStructureChanged(b bool) { l.structureChanged = b }

// AudioChanged reports whether new material was recorded into this layer.
func (l *Layer) AudioChanged() bool { return l.audioChanged }

// Changed reports whether the layer differs from its predecessor.
func (l *Layer) Changed() bool { return l.audioChanged || l.structureChanged }

// CycleFrames returns the length of one cycle.
func (l *Layer) CycleFrames() int {
	if l.cycles <= 0 {
		return l.frames
	}
	return l.frames / l.cycles
}

// IncReferences adds a reference. Single-writer: references are only touched
// on the interrupt.
func (l *Layer) IncReferences() { l.references++ }

// Free drops a reference and releases the layer when none remain. Release
// frees the segments, which recursively releases referenced layers.
func (l *Layer) Free() {
	l.references--
	if l.references <= 0 {
		l.release()
	}
}

// FreeAll releases this layer and its entire prev chain, ignoring redo.
func (l *Layer) FreeAll() {
	prev := l.prev
	l.prev = nil
	l.Free()
	if prev != nil {
		prev.FreeAll()
	}
}

// FreeUndo releases the redo chain hanging off this layer.
func (l *Layer) FreeUndo() {
	redo := l.redo
	l.redo = nil
	for redo != nil {
		next := redo.redo
		redo.redo = nil
		redo.FreeAll()
		redo = next
	}
}

func (l *Layer) release() {
	if l.pooled {
		trace.Errorf("layer: releasing pooled layer", int64(l.number), 0)
		return
	}
	l.ResetSegments()
	l.local.Reset()
	if l.overdub != nil {
		l.apool.FreeAudio(l.overdub)
		l.overdub = nil
	}
	if l.lpool != nil {
		l.lpool.release(l)
	}
}

// Segment list management. The list is kept ordered by offset.

// Segments returns the live segment list. Callers must not retain it across
// structural operations.
func (l *Layer) Segments() []*Segment { return l.segments }

// AddSegment inserts a segment, keeping offset order.
func (l *Layer) AddSegment(s *Segment) {
	l.segments = append(l.segments, s)
	sort.SliceStable(l.segments, func(i, j int) bool {
		return l.segments[i].Offset < l.segments[j].Offset
	})
}

// SetSegments replaces the segment list with an already-ordered one.
func (l *Layer) SetSegments(segs []*Segment) {
	l.ResetSegments()
	l.segments = append(l.segments, segs...)
}

// ResetSegments frees every segment.
func (l *Layer) ResetSegments() {
	for _, s := range l.segments {
		s.Free()
	}
	l.segments = l.segments[:0]
}

func (l *Layer) removeSegment(s *Segment) {
	for i, cur := range l.segments {
		if cur == s {
			l.segments = append(l.segments[:i], l.segments[i+1:]...)
			s.Free()
			return
		}
	}
}

// PruneSegments removes segments that fell outside the layer range; a
// corrupt list is traced rather than fatal.
func (l *Layer) PruneSegments() {
	kept := l.segments[:0]
	for _, s := range l.segments {
		if s.unused || s.Frames <= 0 || s.Offset >= l.frames {
			trace.Warnf("layer: pruning segment at offset %d", int64(s.Offset), 0)
			s.Free()
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
}

// CalcFrames computes the layer length implied by the segment list.
func (l *Layer) CalcFrames() int {
	max := 0
	for _, s := range l.segments {
		if end := s.Offset + s.Frames; end > max {
			max = end
		}
	}
	return max
}

// Resize sets the layer and local audio length.
func (l *Layer) Resize(frames int) {
	l.frames = frames
	l.local.SetFrames(frames)
}

// ResizeFromSegments recalculates the length from the segment list.
func (l *Layer) ResizeFromSegments() {
	l.Resize(l.CalcFrames())
}

// Zero resets content to silence with the given size and cycle count.
func (l *Layer) Zero(frames, cycles int) {
	l.ResetSegments()
	l.local.Reset()
	l.local.SetFrames(frames)
	l.frames = frames
	l.cycles = cycles
}

// Copy makes this layer a fresh reference of src: one segment covering all
// of src, matching length and cycles. This is what a shift does to create
// the next record layer.
func (l *Layer) Copy(src *Layer) {
	l.ResetSegments()
	l.local.Reset()
	seg := NewSegment(src)
	seg.Feedback = audio.FadeRange - 1
	l.segments = append(l.segments, seg)
	l.frames = src.Frames()
	l.cycles = src.Cycles()
	l.local.SetFrames(l.frames)
	l.startingFeedback = src.feedback
	l.feedback = src.feedback
	l.audioChanged = false
	l.structureChanged = false
	l.finalized = false
}

/****************************************************************************
 * Recording
 ****************************************************************************/

// Record mixes an input chunk into the local audio at startFrame, capturing
// head/tail fade windows and the isolated overdub copy when enabled.
func (l *Layer) Record(con *Context, startFrame int, feedback int) {
	if l.pooled {
		trace.Errorf("layer: record into pooled layer", int64(l.number), 0)
		return
	}
	if con.Reverse != l.reverseRecord {
		l.reverseRecord = con.Reverse
	}

	l.recordCursor.SetReverse(con.Reverse)
	l.recordCursor.SetFrame(startFrame)
	l.recordCursor.Put(&con.Buffer, audio.OpAdd)
	if l.frames < l.local.Frames() {
		l.frames = l.local.Frames()
	}
	l.audioChanged = true
	l.feedback = feedback

	if l.isolated && l.overdub != nil {
		l.overdubCursor.SetReverse(con.Reverse)
		l.overdubCursor.SetFrame(startFrame)
		l.overdubCursor.Put(&con.Buffer, audio.OpAdd)
	}

	if !con.Reverse {
		l.tailWindow.Add(&con.Buffer, startFrame)
		if startFrame < audio.FadeRange {
			l.headWindow.Add(&con.Buffer, startFrame)
		}
	}
}

// Advance flattens the previous content for the region the record cursor
// just covered: segment content is rendered through the feedback level into
// the local audio and the covered range is occluded from the segments, so
// the record layer becomes self-contained and earlier layers can be freed
// once unreferenced.
//
// At unity feedback with no isolated overdub this is skipped entirely; the
// segments simply remain, which keeps full-feedback overdubs cheap.
func (l *Layer) Advance(con *Context, startFrame int, feedback int) {
	if feedback >= audio.FadeRange-1 && !l.isolated {
		l.feedback = feedback
		return
	}
	if len(l.segments) == 0 {
		return
	}
	l.feedbackApplied = true
	l.feedback = feedback

	var temp [MaxFramesPerBuffer * audio.Channels]float32
	n := con.Frames * con.Channels
	for i := 0; i < n; i++ {
		temp[i] = 0
	}
	sub := &Context{
		Buffer:  audio.Buffer{Samples: temp[:n], Frames: con.Frames, Channels: con.Channels},
		Reverse: false,
		Level:   audio.Ramp128(feedback),
	}
	l.getNoReflect(sub, startFrame, l.copyCursor, true, false)

	l.feedbackCursor.SetFrame(startFrame)
	l.feedbackCursor.Put(&sub.Buffer, audio.OpAdd)

	// the flattened range no longer needs its segment references
	l.occlude(startFrame, con.Frames, true)
}

// occlude removes segment coverage of [startFrame, startFrame+frames).
// seamless means the content was copied into local audio, so the new edges
// carry local-copy credit instead of fades.
func (l *Layer) occlude(startFrame, frames int, seamless bool) {
	if frames <= 0 {
		return
	}
	end := startFrame + frames
	var added []*Segment
	for _, s := range l.segments {
		segEnd := s.Offset + s.Frames
		if segEnd <= startFrame || s.Offset >= end {
			continue
		}
		switch {
		case s.Offset >= startFrame && segEnd <= end:
			// fully covered
			s.unused = true
		case s.Offset < startFrame && segEnd > end:
			// middle coverage: split into left remainder and right clone
			right := s.Clone()
			right.TrimLeft(end-s.Offset, seamless)
			added = append(added, right)
			s.TrimRight(segEnd-startFrame, seamless)
		case s.Offset < startFrame:
			// right overlap
			s.TrimRight(segEnd-startFrame, seamless)
		default:
			// left overlap
			s.TrimLeft(end-s.Offset, seamless)
		}
	}
	kept := l.segments[:0]
	for _, s := range l.segments {
		if s.unused {
			s.Free()
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
	for _, s := range added {
		l.AddSegment(s)
	}
}

/****************************************************************************
 * Structural operations
 ****************************************************************************/

// StartInsert opens a one-cycle gap at startFrame and enters insert mode.
// The gap pushes later segments right; the inserted region is silence until
// recording fills it.
func (l *Layer) StartInsert(con *Context, startFrame int) {
	l.insertCycle(startFrame)
	l.inserting = true
	l.insertStart = startFrame
	l.insertCycles = 1
	l.structureChanged = true
}

// ContinueInsert opens another inserted cycle when recording reaches the end
// of the current one.
func (l *Layer) ContinueInsert(con *Context, frame int) {
	if !l.inserting {
		trace.Errorf("layer: continueInsert outside insert mode", 0, 0)
		return
	}
	l.insertCycle(frame)
	l.insertCycles++
}

// EndInsert closes insert mode. When unrounded, the unused remainder of the
// final inserted cycle is removed and the layer restructures to one cycle.
func (l *Layer) EndInsert(con *Context, endFrame int, unrounded bool) {
	if !l.inserting {
		trace.Errorf("layer: endInsert outside insert mode", 0, 0)
		return
	}
	cycleFrames := l.preInsertCycleFrames()
	if unrounded {
		insertEnd := l.insertStart + l.insertCycles*cycleFrames
		if endFrame < insertEnd {
			remove := insertEnd - endFrame
			l.closeGap(endFrame, remove)
		}
		l.cycles = 1
	}
	// the inserted recording has hard edges on both sides
	l.fadeLocalRegionIn(l.insertStart)
	l.fadeLocalRegionOut(endFrame)
	l.inserting = false
	l.insertStart = 0
	l.insertCycles = 0
	l.structureChanged = true
}

// preInsertCycleFrames returns the cycle length, which inserting preserves
// since every inserted cycle adds exactly one cycle of frames.
func (l *Layer) preInsertCycleFrames() int {
	if l.cycles <= 0 {
		return l.frames
	}
	return l.frames / l.cycles
}

// insertCycle opens cycleFrames of silence at startFrame: segments at or
// beyond the point move right, a segment spanning the point splits with
// fades on the new edges.
func (l *Layer) insertCycle(startFrame int) {
	cycleFrames := l.CycleFrames()
	var added []*Segment
	for _, s := range l.segments {
		segEnd := s.Offset + s.Frames
		if segEnd <= startFrame {
			if segEnd == startFrame {
				s.FadeRight = true
			}
			continue
		}
		if s.Offset >= startFrame {
			if s.Offset == startFrame {
				s.FadeLeft = true
			}
			s.Offset += cycleFrames
			continue
		}
		// spans the insert point: split
		right := s.Clone()
		right.TrimLeft(startFrame-s.Offset, false)
		right.Offset += cycleFrames
		added = append(added, right)
		s.TrimRight(segEnd-startFrame, false)
	}
	for _, s := range added {
		l.AddSegment(s)
	}
	// local audio right of the gap is not shifted, only traced; the local
	// audio of a freshly shifted record layer is empty, so normally a no-op
	if !l.local.IsEmpty() && l.local.Frames() > startFrame {
		trace.Warnf("layer: insert into layer with local audio", int64(startFrame), 0)
	}
	l.frames += cycleFrames
	l.local.SetFrames(l.frames)
	l.cycles++
	sort.SliceStable(l.segments, func(i, j int) bool {
		return l.segments[i].Offset < l.segments[j].Offset
	})
}

// closeGap removes [startFrame, startFrame+frames) of (assumed silent)
// inserted space, pulling later segments left.
func (l *Layer) closeGap(startFrame, frames int) {
	l.occlude(startFrame, frames, false)
	for _, s := range l.segments {
		if s.Offset >= startFrame+frames {
			s.Offset -= frames
		}
	}
	l.local.SetFrames(l.frames - frames)
	l.frames -= frames
	sort.SliceStable(l.segments, func(i, j int) bool {
		return l.segments[i].Offset < l.segments[j].Offset
	})
}

// MultiplyCycle appends one cycle of src at startFrame to the end of this
// layer, extending the cycle count.
func (l *Layer) MultiplyCycle(con *Context, src *Layer, startFrame int) {
	cycleFrames := src.CycleFrames()
	seg := NewSegment(src)
	seg.Offset = l.frames
	seg.StartFrame = startFrame
	seg.Frames = cycleFrames
	if startFrame+cycleFrames > src.Frames() {
		trace.Warnf("layer: multiply cycle truncated to source %d", int64(src.Frames()), 0)
		seg.Frames = src.Frames() - startFrame
	}
	l.AddSegment(seg)
	l.frames += seg.Frames
	l.local.SetFrames(l.frames)
	l.cycles++
	l.structureChanged = true
	l.CompileSegmentFades(false)
}

// StutterCycle appends another copy of the stuttered cycle of src, keeping
// the cycle boundary.
func (l *Layer) StutterCycle(con *Context, src *Layer, startFrame, offset int) {
	cycleFrames := src.CycleFrames()
	seg := NewSegment(src)
	seg.Offset = offset
	seg.StartFrame = startFrame
	seg.Frames = cycleFrames
	l.AddSegment(seg)
	if offset+cycleFrames > l.frames {
		l.frames = offset + cycleFrames
		l.local.SetFrames(l.frames)
	}
	l.cycles++
	l.structureChanged = true
	l.CompileSegmentFades(false)
}

// Splice retains only [start, start+frames), reassigning the cycle count.
// This implements unrounded multiply and divide.
func (l *Layer) Splice(con *Context, start, frames, cycles int) {
	end := start + frames
	kept := l.segments[:0]
	for _, s := range l.segments {
		segEnd := s.Offset + s.Frames
		if segEnd <= start || s.Offset >= end {
			s.Free()
			continue
		}
		if s.Offset < start {
			s.TrimLeft(start-s.Offset, false)
		}
		if s.Offset+s.Frames > end {
			s.TrimRight(s.Offset+s.Frames-end, false)
		}
		s.Offset -= start
		kept = append(kept, s)
	}
	l.segments = kept
	if con != nil && con.Reverse {
		l.local.SetFramesReverse(l.local.Frames() - start)
		l.local.SetFrames(frames)
	} else {
		l.local.Splice(start, frames)
	}
	l.frames = frames
	l.cycles = cycles
	l.structureChanged = true
	l.CompileSegmentFades(false)
}

/****************************************************************************
 * Fades
 ****************************************************************************/

// CompileSegmentFades recomputes edge fades for the whole segment list.
// A fade is needed on an edge that lies strictly inside its referent and is
// not covered by local copy; seams between contiguous same-direction
// segments cancel. Layer-edge segments inherit the owning layer's deferred
// fade policy, preserving seamless overdubs across the loop point.
func (l *Layer) CompileSegmentFades(checkConsistency bool) {
	for i, s := range l.segments {
		refFrames := 0
		if s.layer != nil {
			refFrames = s.layer.Frames()
			if s.StartFrame+s.Frames > refFrames {
				trace.Errorf("layer: segment overruns referent %d", int64(refFrames), 0)
				s.Frames = refFrames - s.StartFrame
				if s.Frames < 0 {
					s.Frames = 0
				}
			}
		} else if s.audio != nil {
			refFrames = s.audio.Frames()
		}

		// left edge
		if s.LocalCopyLeft >= audio.FadeRange {
			s.FadeLeft = false
		} else if s.StartFrame > 0 {
			s.FadeLeft = true
		} else if s.Offset == 0 {
			// layer edge: fade only if the referent carries an unapplied
			// deferred head fade that we will not also defer
			s.FadeLeft = l.containsDeferredFadeLeft && !l.deferredFadeLeft
		} else {
			s.FadeLeft = true
		}

		// right edge
		if s.LocalCopyRight >= audio.FadeRange {
			s.FadeRight = false
		} else if s.StartFrame+s.Frames < refFrames {
			s.FadeRight = true
		} else if s.Offset+s.Frames == l.frames {
			s.FadeRight = l.containsDeferredFadeRight && !l.deferredFadeRight
		} else {
			s.FadeRight = true
		}

		// seam cancellation with the previous segment; a segment ending at
		// the referent's end is wrap-contiguous with one starting at zero,
		// since the referent loops seamlessly
		if i > 0 {
			p := l.segments[i-1]
			adjacent := p.StartFrame+p.Frames == s.StartFrame ||
				(p.StartFrame+p.Frames == refFrames && s.StartFrame == 0)
			contiguous := p.layer != nil && p.layer == s.layer &&
				p.Offset+p.Frames == s.Offset &&
				adjacent &&
				p.Reverse == s.Reverse
			if contiguous {
				p.FadeRight = false
				s.FadeLeft = false
			}
			if checkConsistency && p.Offset+p.Frames > s.Offset {
				trace.Errorf("layer: overlapping segments at %d", int64(s.Offset), 0)
			}
		}
	}
}

// Deferred fade state.

func (l *Layer) DeferredFadeLeft() bool              { return l.deferredFadeLeft }
func (l *Layer) DeferredFadeRight() bool             { return l.deferredFadeRight }
func (l *Layer) ContainsDeferredFadeLeft() bool      { return l.containsDeferredFadeLeft }
func (l *Layer) ContainsDeferredFadeRight() bool     { return l.containsDeferredFadeRight }
func (l *Layer) SetDeferredFadeLeft(b bool)          { l.deferredFadeLeft = b }
func (l *Layer) SetDeferredFadeRight(b bool)         { l.deferredFadeRight = b }
func (l *Layer) SetContainsDeferredFadeLeft(b bool)  { l.containsDeferredFadeLeft = b }
func (l *Layer) SetContainsDeferredFadeRight(b bool) { l.containsDeferredFadeRight = b }

// HasDeferredFades reports whether any edge fade is still pending.
func (l *Layer) HasDeferredFades() bool {
	return l.deferredFadeLeft || l.deferredFadeRight
}

// ApplyDeferredFadeLeft commits the deferred head fade using the captured
// head window.
func (l *Layer) ApplyDeferredFadeLeft() {
	if !l.deferredFadeLeft {
		return
	}
	l.headWindow.FadeHead(l.local, 0)
	l.deferredFadeLeft = false
}

// ApplyDeferredFadeRight commits the deferred tail fade using the captured
// tail window.
func (l *Layer) ApplyDeferredFadeRight() {
	if !l.deferredFadeRight {
		return
	}
	l.tailWindow.FadeTail(l.local)
	l.deferredFadeRight = false
}

// fadeLocalRegionIn ramps the local audio up over the fade range starting
// at frame.
func (l *Layer) fadeLocalRegionIn(frame int) {
	l.fadeLocalRegion(frame, true)
}

// fadeLocalRegionOut ramps the local audio down over the fade range ending
// at frame.
func (l *Layer) fadeLocalRegionOut(frame int) {
	l.fadeLocalRegion(frame-audio.FadeRange, false)
}

func (l *Layer) fadeLocalRegion(frame int, up bool) {
	if l.fadeOverride {
		return
	}
	var sample [audio.Channels]float32
	buf := &audio.Buffer{Samples: sample[:], Frames: 1, Channels: audio.Channels}
	get := audio.NewCursor(l.local, false)
	put := audio.NewCursor(l.local, false)
	for i := 0; i < audio.FadeRange; i++ {
		f := frame + i
		if f < 0 || f >= l.local.Frames() {
			continue
		}
		sample[0], sample[1] = 0, 0
		get.SetFrame(f)
		get.Get(buf, 1.0)
		pos := i
		if !up {
			pos = audio.FadeRange - 1 - i
		}
		gain := audio.Ramp128(pos)
		for ch := 0; ch < audio.Channels; ch++ {
			sample[ch] = sample[ch]*gain - sample[ch]
		}
		put.SetFrame(f)
		put.Put(buf, audio.OpAdd)
	}
}

// SetFadeOverride suppresses local-region fades while set, a hook used by
// deterministic tests.
func (l *Layer) SetFadeOverride(b bool) { l.fadeOverride = b }

/****************************************************************************
 * Playback
 ****************************************************************************/

// Play renders a region of the layer into the context, handling reverse
// reflection once at the root and applying any transient fade-in.
func (l *Layer) Play(con *Context, startFrame int, fadeIn bool) {
	if fadeIn {
		l.playFadeActive = true
		l.playFadePos = 0
	}
	frame := startFrame
	if con.Reverse {
		frame = l.reflectRegion(startFrame, con.Frames)
	}
	l.getNoReflect(con, frame, nil, true, true)

	if l.playFadeActive {
		remain := audio.FadeRange - l.playFadePos
		n := con.Frames
		if n > remain {
			n = remain
		}
		audio.Fade(con.Samples, con.Channels, 0, n, l.playFadePos, true)
		l.playFadePos += n
		if l.playFadePos >= audio.FadeRange {
			l.playFadeActive = false
		}
	}
}

// CancelPlayFade discards a pending transient fade-in.
func (l *Layer) CancelPlayFade() {
	l.playFadeActive = false
}

// TransferPlayFade moves an in-progress fade-in to another layer, used at
// shift so the fade continues across the boundary.
func (l *Layer) TransferPlayFade(dest *Layer) {
	if l.playFadeActive {
		dest.playFadeActive = true
		dest.playFadePos = l.playFadePos
		l.playFadeActive = false
	}
}

// reflectRegion maps a forward region onto its reverse-play mirror.
func (l *Layer) reflectRegion(frame, frames int) int {
	return l.frames - frame - frames
}

// getNoReflect renders [startFrame, startFrame+con.Frames) of this layer:
// local audio plus every overlapping segment. Reflection has already been
// applied by the root caller; segments must not reflect again.
func (l *Layer) getNoReflect(con *Context, startFrame int, cursor *audio.Cursor, root, play bool) {
	if l.pooled {
		trace.Errorf("layer: rendering pooled layer", int64(l.number), 0)
		return
	}

	// local audio
	cur := l.copyCursor
	if play {
		cur = l.playCursor
	}
	if cursor != nil {
		// a shared cursor may still be bound to another layer's audio from
		// an earlier segment walk, so rebind it to this layer's audio
		cur = cursor
		cur.SetAudio(l.local)
	}
	frame := startFrame
	if con.Reverse {
		frame = startFrame + con.Frames - 1
	}
	cur.SetReverse(con.Reverse)
	cur.SetFrame(frame)
	cur.Get(&con.Buffer, con.Level)

	// segments
	for _, s := range l.segments {
		segStart := startFrame - s.Offset
		if segStart >= s.Frames || segStart+con.Frames <= 0 {
			continue
		}
		from := segStart
		bufOffset := 0
		if from < 0 {
			bufOffset = -from
			from = 0
		}
		n := con.Frames - bufOffset
		if from+n > s.Frames {
			n = s.Frames - from
		}
		if n <= 0 {
			continue
		}
		sub := con.slice(bufOffset, n)
		if con.Reverse {
			// the reflected sub-buffer sits at the mirrored offset
			sub = con.slice(con.Frames-bufOffset-n, n)
		}
		sub.Reverse = s.Reverse != con.Reverse
		s.Get(sub, from, cursor, play)
	}
}

/****************************************************************************
 * Finalization
 ****************************************************************************/

// Finalize settles a record layer at shift: segments are pruned and their
// fades compiled, deferred edge fades transfer to the next layer's
// bookkeeping, and the layer becomes immutable history.
func (l *Layer) Finalize(con *Context, next *Layer) {
	if l.finalized {
		return
	}
	l.PruneSegments()
	l.CompileSegmentFades(true)
	if next != nil {
		next.containsDeferredFadeLeft = l.deferredFadeLeft || l.containsDeferredFadeLeft
		next.containsDeferredFadeRight = l.deferredFadeRight || l.containsDeferredFadeRight
		if next.checkpoint == CheckpointUnspecified && l.checkpoint != CheckpointUnspecified {
			next.checkpoint = l.checkpoint
			l.checkpoint = CheckpointUnspecified
		}
	}
	l.finalized = true
}
