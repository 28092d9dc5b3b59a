package loop

import (
	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/trace"
)

// maxMultiple prevents runaway multiples from scripted arguments.
const maxMultiple = 512

// InstantMultiply replicates the loop N times in place, without entering a
// mode.
var FuncInstantMultiply = register(&Function{
	Name:          "InstantMultiply",
	EventType:     EventInstantMultiply,
	Instant:       true,
	CancelReturn:  true,
	MayCancelMute: true,
	Do:            doInstantMultiply,
})

func doInstantMultiply(l *Loop, e *Event) {
	multiple := e.Value
	if multiple <= 0 {
		multiple = 2
	}
	if multiple > maxMultiple {
		multiple = 0
	}
	if multiple <= 1 || l.Frames() == 0 {
		return
	}

	// shift immediately so there is a single segment to replicate
	l.Shift(true)
	rec := l.record
	segs := rec.Segments()
	if len(segs) != 1 {
		trace.Errorf("instantMultiply: expected one segment, have %d", int64(len(segs)), 0)
		return
	}
	base := segs[0]
	offset := base.Frames
	rec.SetCycles(rec.Cycles() * multiple)
	for i := 0; i < multiple-1; i++ {
		seg := base.Clone()
		seg.Offset = offset
		offset += base.Frames
		rec.AddSegment(seg)
	}
	rec.Resize(rec.CalcFrames())
	rec.SetStructureChanged(true)
	rec.CompileSegmentFades(false)

	// if the play frame had wrapped near the loop end, unwrap it
	if l.playFrame < l.frame {
		save := l.playFrame
		l.RecalculatePlayFrame()
		trace.Infof("instantMultiply: unwrapped play frame from %d to %d",
			int64(save), int64(l.playFrame))
		l.output.SetLastFrame(l.playFrame)
	}

	if s := l.track.Sync(); s != nil {
		s.LoopResized(l, false)
	}
	l.Shift(true)
	l.CheckMuteCancel(e)
	l.ResumePlay()
	l.Validate(e)
}

// Divide keeps one of N sub-sections of the loop, the one containing the
// current frame, splicing the rest away.
var FuncDivide = register(&Function{
	Name:          "Divide",
	EventType:     EventDivide,
	Instant:       true,
	CancelReturn:  true,
	MayCancelMute: true,
	Do:            doDivide,
})

func doDivide(l *Loop, e *Event) {
	multiple := e.Value
	if multiple <= 0 {
		multiple = 2
	}
	if multiple > maxMultiple || multiple <= 1 || l.Frames() == 0 {
		return
	}

	l.Shift(true)
	newFrame := divideLayer(l, l.record, multiple, l.frame, l.MinimumFrames())
	l.frame = newFrame
	l.RecalculatePlayFrame()
	if s := l.track.Sync(); s != nil {
		s.LoopResized(l, false)
	}
	l.Shift(true)
	l.CheckMuteCancel(e)
	l.ResumePlay()
	l.Validate(e)
}

// divideLayer trims off a multiple of the layer and returns the new
// location of startFrame.
//
// The layer divides into multiples sections; the section containing
// startFrame survives. Round-off can leave a lost zone at the end: example
// frames=10000 divisor=3 gives sections of 3333 and one lost frame. When
// startFrame falls there the section is slid back to cover it.
func divideLayer(l *Loop, lay *layer.Layer, multiples, startFrame, minFrames int) int {
	segs := lay.Segments()
	if len(segs) != 1 {
		trace.Errorf("divide: expected one segment, have %d", int64(len(segs)), 0)
		return startFrame
	}
	frames := segs[0].Frames
	if frames <= multiples {
		trace.Errorf("divide: divisor %d larger than layer", int64(multiples), 0)
		return startFrame
	}
	if startFrame >= frames {
		trace.Errorf("divide: invalid start frame %d", int64(startFrame), 0)
		return startFrame
	}

	segFrames := frames / multiples
	if segFrames < minFrames {
		trace.Warnf("divide: resulting loop too small: %d", int64(segFrames), 0)
		return startFrame
	}

	segNumber := startFrame / segFrames
	segOffset := segNumber * segFrames
	if segOffset+segFrames > frames {
		// lost zone at the end: work backward from the current frame
		segOffset = startFrame - segFrames + 1
		if segOffset < 0 {
			trace.Errorf("divide: roundoff calculation error", 0, 0)
			segOffset = 0
		}
	}

	curCycles := lay.Cycles()
	newCycles := curCycles / multiples
	if newCycles*multiples != curCycles {
		newCycles = 1
	}

	lay.Splice(nil, segOffset, segFrames, newCycles)

	startFrame -= segOffset
	if startFrame < 0 || startFrame >= segFrames {
		trace.Errorf("divide: frame remap error", int64(startFrame), 0)
		startFrame = 0
	}
	return startFrame
}

// Shuffle rearranges the loop's granules, with an optional explicit pull
// pattern in the event arguments.
var FuncShuffle = register(&Function{
	Name:          "Shuffle",
	EventType:     EventShuffle,
	Instant:       true,
	CancelReturn:  true,
	MayCancelMute: true,
	Do:            doShuffle,
})

func doShuffle(l *Loop, e *Event) {
	if l.Frames() == 0 {
		return
	}
	// shift immediately so there is a single segment to slice
	l.Shift(true)
	lay := l.record
	originalFrames := lay.Frames()

	shuffled := false
	if len(e.Args) > 1 {
		// explicit pattern: first arg is the granule count
		granules := 0
		switch v := e.Args[0].(type) {
		case int:
			granules = v
		case float64:
			granules = int(v)
		}
		shuffled = layer.ShufflePattern(lay, granules, e.Args[1:])
	} else {
		granules := l.preset.Subcycles
		if e.Value > 0 {
			granules = e.Value
		}
		shuffled = layer.Shuffle(lay, shuffleMode(l.preset.Shuffle), granules)
	}
	if !shuffled {
		return
	}

	if newFrames := lay.Frames(); newFrames != originalFrames {
		if newFrames < originalFrames {
			if wrapped := l.wrapFrame(l.frame, newFrames); wrapped != l.frame {
				trace.Infof("shuffle: wrapped loop frame from %d to %d",
					int64(l.frame), int64(wrapped))
				l.frame = wrapped
				l.RecalculatePlayFrame()
			}
		}
		if s := l.track.Sync(); s != nil {
			s.LoopResized(l, false)
		}
	}

	// shift again so a single undo restores the unshuffled loop
	l.Shift(true)
	l.CheckMuteCancel(e)
	l.ResumePlay()
	l.Validate(e)
}

func shuffleMode(m config.ShuffleMode) layer.ShuffleMode {
	switch m {
	case config.ShuffleShift:
		return layer.ShuffleShift
	case config.ShuffleSwap:
		return layer.ShuffleSwap
	case config.ShuffleRandom:
		return layer.ShuffleRandom
	default:
		return layer.ShuffleReverse
	}
}

// Undo steps back one layer of history; Redo reverses it.
var FuncUndo = register(&Function{
	Name:      "Undo",
	EventType: EventUndo,
	Instant:   true,
	Do: func(l *Loop, e *Event) {
		l.Undo()
		l.Validate(e)
	},
})

var FuncRedo = register(&Function{
	Name:      "Redo",
	EventType: EventRedo,
	Instant:   true,
	Do: func(l *Loop, e *Event) {
		l.Redo()
		l.Validate(e)
	},
})

// Reset empties the loop immediately.
var FuncReset = register(&Function{
	Name:      "Reset",
	EventType: EventNone,
	Instant:   true,
	Schedule: func(l *Loop, a *Action) *Event {
		if !a.Down {
			return nil
		}
		l.Reset()
		return nil
	},
})

// Reverse flips playback direction as a minor mode.
var FuncReverse = register(&Function{
	Name:          "Reverse",
	EventType:     EventNone,
	Quantized:     true,
	MayCancelMute: true,
	Schedule: func(l *Loop, a *Action) *Event {
		if !a.Down || l.Frames() == 0 {
			return nil
		}
		l.SetReverse(!l.Reverse())
		return nil
	},
})
