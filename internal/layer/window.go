package layer

import "strata/internal/trace"

// OverflowStyle says what to do when a window operation pushes an edge past
// the recorded history.
//
// Truncate shrinks the window against the hit edge, which feels right when
// moving just that edge. Push shifts the whole window back into range, the
// default when sliding, so going back the other way reproduces the same
// content. Ignore abandons the move entirely.
type OverflowStyle int

const (
	OverflowTruncate OverflowStyle = iota
	OverflowPush
	OverflowIgnore
)

// ConstrainWindow clamps a proposed window against the history covered by
// last (the newest non-windowing layer). Returns the adjusted offset and
// length, or ok=false when the window must be refused.
func ConstrainWindow(last *Layer, offset, frames, minFrames int, style OverflowStyle) (int, int, bool) {
	if last == nil {
		trace.Errorf("window: missing layer history", 0, 0)
		return 0, 0, false
	}
	historyFrames := last.HistoryOffset() + last.Frames()

	// left edge
	if offset < 0 {
		switch style {
		case OverflowIgnore:
			return 0, 0, false
		case OverflowTruncate:
			frames += offset
			offset = 0
		default:
			offset = 0
		}
	}

	// right edge
	end := offset + frames
	if frames < 0 {
		trace.Errorf("window: negative length", int64(frames), 0)
		return 0, 0, false
	}
	if end > historyFrames {
		over := end - historyFrames
		switch style {
		case OverflowIgnore:
			return 0, 0, false
		case OverflowTruncate:
			frames -= over
		default:
			offset -= over
			if offset < 0 {
				// window larger than the whole history
				trace.Warnf("window: constraining push, window too large", 0, 0)
				offset = 0
			}
		}
	}

	if frames < minFrames {
		trace.Warnf("window: refusing window under minimum size %d", int64(minFrames), 0)
		return 0, 0, false
	}
	return offset, frames, true
}

// nextLayer finds the layer whose prev is src by walking back from head.
// The chain is singly linked toward the past, so forward traversal searches.
func nextLayer(head, src *Layer) *Layer {
	for l := head; l != nil; {
		prev := l.Prev()
		if prev == src {
			return l
		}
		l = prev
	}
	return nil
}

// BuildWindowSegments synthesizes the segment list covering the history
// range [offset, offset+frames). The walk starts at the layer containing
// offset and takes one segment per source layer until the window is filled.
// head is the newest layer reachable (used to walk forward); last the newest
// non-windowing layer.
func BuildWindowSegments(head, last *Layer, offset, frames int) ([]*Segment, bool) {
	start := last
	for start != nil && start.HistoryOffset() > offset {
		start = start.Prev()
	}
	if start == nil {
		trace.Errorf("window: no layer contains offset %d", int64(offset), 0)
		return nil, false
	}

	var segments []*Segment
	cur := start
	refOffset := offset - start.HistoryOffset()
	need := frames
	layerFrame := 0

	for need > 0 && cur != nil {
		avail := cur.Frames() - refOffset
		take := need
		if avail < take {
			take = avail
		}
		if take <= 0 {
			trace.Errorf("window: invalid layer take %d", int64(take), 0)
			cur = nil
			break
		}
		seg := NewSegment(cur)
		seg.Offset = layerFrame
		seg.StartFrame = refOffset
		seg.Frames = take
		segments = append(segments, seg)
		layerFrame += take
		need -= take
		if need > 0 {
			cur = nextLayer(head, cur)
		}
		refOffset = 0
	}

	if need > 0 {
		trace.Errorf("window: unable to fill segments, short %d", int64(need), 0)
		for _, s := range segments {
			s.Free()
		}
		return nil, false
	}
	return segments, true
}
