package layer

import (
	"strata/internal/audio"
	"strata/internal/trace"
)

// Segment is a window into an earlier Layer (or a raw Audio) that supplies
// part of the owning layer's content. Offset positions the window within the
// owning layer; StartFrame and Frames select the region of the referent.
// Feedback is a 0-127 index into the level ramp applied to everything the
// segment produces.
//
// FadeLeft and FadeRight mark edges that would otherwise be discontinuous
// and need a fade at render time. LocalCopyLeft/Right count frames adjacent
// to the segment that flattening has already copied into the owning layer's
// local audio; copied frames shrink the region a fade must cover, and once a
// side's copy count reaches the fade range the fade is dropped entirely.
type Segment struct {
	Offset     int
	StartFrame int
	Frames     int
	Feedback   int
	Reverse    bool

	LocalCopyLeft  int
	LocalCopyRight int
	FadeLeft       bool
	FadeRight      bool

	layer  *Layer
	audio  *audio.Audio
	cursor *audio.Cursor

	unused bool // transient: out of range, removed by pruneSegments
}

// NewSegment returns a segment covering all of src, holding a reference.
func NewSegment(src *Layer) *Segment {
	s := &Segment{Feedback: audio.FadeRange - 1}
	if src != nil {
		s.layer = src
		src.IncReferences()
		s.Frames = src.Frames()
	}
	return s
}

// NewAudioSegment returns a segment covering all of a raw Audio.
func NewAudioSegment(src *audio.Audio) *Segment {
	s := &Segment{Feedback: audio.FadeRange - 1}
	if src != nil {
		s.audio = src
		s.cursor = audio.NewCursor(src, false)
		s.Frames = src.Frames()
	}
	return s
}

// Clone copies a segment, taking another reference on the underlying layer.
// Raw audio references cannot be cloned.
func (s *Segment) Clone() *Segment {
	c := &Segment{
		Offset:         s.Offset,
		StartFrame:     s.StartFrame,
		Frames:         s.Frames,
		Feedback:       s.Feedback,
		Reverse:        s.Reverse,
		LocalCopyLeft:  s.LocalCopyLeft,
		LocalCopyRight: s.LocalCopyRight,
		FadeLeft:       s.FadeLeft,
		FadeRight:      s.FadeRight,
	}
	if s.audio != nil {
		trace.Errorf("segment: cannot clone raw audio reference", 0, 0)
	}
	if s.layer != nil {
		c.layer = s.layer
		c.layer.IncReferences()
	}
	return c
}

// Layer returns the referenced layer, or nil for raw-audio segments.
func (s *Segment) Layer() *Layer { return s.layer }

// SetLayer retargets the segment, adjusting reference counts.
func (s *Segment) SetLayer(l *Layer) {
	if s.layer != nil {
		s.layer.Free()
	}
	s.layer = l
	if l != nil {
		l.IncReferences()
	}
}

// Free drops the segment's reference on its layer. The segment must not be
// used afterward.
func (s *Segment) Free() {
	if s.layer != nil {
		s.layer.Free()
		s.layer = nil
	}
	s.audio = nil
	s.cursor = nil
}

// TrimLeft truncates the segment on the left, keeping the remainder at the
// same position within the owning layer. When copy is true the trimmed
// frames have been flattened into local audio, so they extend the local copy
// count and may disable the left fade; otherwise the left edge has been
// occluded and must fade.
func (s *Segment) TrimLeft(frames int, copy bool) {
	s.Offset += frames
	s.StartFrame += frames
	s.Frames -= frames
	if copy {
		s.LocalCopyLeft += frames
		if s.LocalCopyLeft >= audio.FadeRange {
			s.FadeLeft = false
		}
	} else {
		s.LocalCopyLeft = 0
		s.FadeLeft = true
	}
}

// TrimRight truncates the segment on the right.
func (s *Segment) TrimRight(frames int, copy bool) {
	s.Frames -= frames
	if copy {
		s.LocalCopyRight += frames
		if s.LocalCopyRight >= audio.FadeRange {
			s.FadeRight = false
		}
	} else {
		s.LocalCopyRight = 0
		s.FadeRight = true
	}
}

// IsAtStart reports whether the segment starts both its owning layer and its
// referent.
func (s *Segment) IsAtStart(parent *Layer) bool {
	return s.Offset == 0 && s.StartFrame == 0
}

// IsAtEnd reports whether the segment ends both its owning layer and its
// referent.
func (s *Segment) IsAtEnd(parent *Layer) bool {
	if s.layer == nil {
		return false
	}
	return s.Offset+s.Frames == parent.Frames() &&
		s.StartFrame+s.Frames == s.layer.Frames()
}

// Get renders the samples of this segment that fall within the context
// buffer. startFrame is relative to the segment window; in reverse it is the
// start of the reflected region, processed backward.
//
// Segment feedback folds into the context level through the ramp; once the
// accumulated level falls below audibility the traversal stops. Edge fades
// apply only over the part of the fade range not already covered by local
// copies, and in reverse the fade directions flip and offsets reflect.
func (s *Segment) Get(con *Context, startFrame int, cursor *audio.Cursor, play bool) {
	level := con.Level
	if s.Feedback < audio.FadeRange-1 {
		level *= audio.Ramp128(s.Feedback)
	}
	if level < audio.RampFloor {
		return
	}

	var temp [MaxFramesPerBuffer * audio.Channels]float32
	buffer := con.Samples
	bufferFrames := con.Frames
	saveLevel := con.Level
	con.Level = level

	realStartFrame := startFrame + s.StartFrame
	lastFrame := startFrame + bufferFrames - 1

	// decide whether this chunk touches a fading edge
	fadeLeft := false
	fadeRight := false
	leftRange := 0
	rightRange := 0
	if s.FadeLeft {
		leftRange = audio.FadeRange - s.LocalCopyLeft
		if leftRange <= 0 {
			trace.Warnf("segment: obsolete left fade", 0, 0)
			s.FadeLeft = false
		} else {
			fadeLeft = startFrame < leftRange
		}
	}
	if s.FadeRight {
		rightRange = audio.FadeRange - s.LocalCopyRight
		if rightRange <= 0 {
			trace.Warnf("segment: obsolete right fade", 0, 0)
			s.FadeRight = false
		} else {
			fadeRight = lastFrame >= s.Frames-rightRange
		}
	}

	if fadeLeft || fadeRight {
		n := bufferFrames * con.Channels
		for i := 0; i < n; i++ {
			temp[i] = 0
		}
		con.Samples = temp[:n]
	}

	if s.layer != nil {
		// getNoReflect: reflection only happens once at the root, the
		// first time the loop calls Layer.Play
		s.layer.getNoReflect(con, realStartFrame, cursor, false, play)
	} else if s.audio != nil {
		audioFrame := realStartFrame
		if con.Reverse {
			audioFrame = realStartFrame + con.Frames - 1
		}
		cur := s.cursor
		if cursor != nil {
			cur = cursor
			cur.SetAudio(s.audio)
		}
		cur.SetReverse(con.Reverse)
		cur.SetFrame(audioFrame)
		cur.Get(&con.Buffer, con.Level)
	}

	if fadeLeft {
		up := true
		bufferOffset := 0
		fadeOffset := startFrame + s.LocalCopyLeft
		fadeFrames := leftRange - startFrame
		if fadeFrames > bufferFrames {
			// close to the end of an interrupt, shorten the run
			fadeFrames = bufferFrames
		}
		if con.Reverse {
			up = false
			bufferOffset = bufferFrames - fadeFrames
			lastFadeOffset := fadeOffset + fadeFrames - 1
			fadeOffset = audio.FadeRange - lastFadeOffset - 1
		}
		audio.Fade(con.Samples, con.Channels, bufferOffset, fadeFrames, fadeOffset, up)
	}

	if fadeRight {
		up := false
		bufferOffset := 0
		fadeOffset := 0
		fadeOutStart := s.Frames - rightRange
		if startFrame < fadeOutStart {
			bufferOffset = fadeOutStart - startFrame
		} else {
			// part of the fade ran in a previous buffer
			fadeOffset = startFrame - fadeOutStart
		}
		fadeFrames := bufferFrames - bufferOffset
		if fadeFrames > rightRange {
			fadeFrames = rightRange
		}
		if con.Reverse {
			up = true
			bufferOffset = 0
			lastFadeOffset := fadeOffset + fadeFrames - 1
			fadeOffset = audio.FadeRange - lastFadeOffset - 1
		}
		audio.Fade(con.Samples, con.Channels, bufferOffset, fadeFrames, fadeOffset, up)
	}

	if fadeLeft || fadeRight {
		samples := bufferFrames * con.Channels
		for i := 0; i < samples; i++ {
			buffer[i] += temp[i]
		}
	}

	con.Level = saveLevel
	con.Samples = buffer
}
