package layer

import (
	"math/rand/v2"

	"strata/internal/trace"
)

// MaxShuffleGranules bounds how finely a shuffle may slice a layer.
const MaxShuffleGranules = 128

// ShuffleMode selects the pattern-free shuffle shapes driven by the preset.
type ShuffleMode int

const (
	ShuffleReverse ShuffleMode = iota
	ShuffleShift
	ShuffleSwap
	ShuffleRandom
)

// Pattern wildcards leave placeholder values in the pull positions until a
// later pass resolves them. They must be larger than any granule number.
const (
	granuleRandomUnused = 1000
	granulePrevious     = 1001
	granuleEnd          = 1002
)

// randomization hooks, replaced by deterministic sources in tests
var (
	randIntN  = rand.IntN
	randFloat = rand.Float32
)

// Shuffle slices the layer into granules and rearranges them per mode. The
// layer must have just shifted so its content is a single segment. Granule
// sizes stay in place; only their sources move, preserving the rhythmic
// feel. Returns false if the layer shape does not permit a shuffle.
func Shuffle(l *Layer, mode ShuffleMode, granules int) bool {
	if !shuffleable(l, granules) || granules <= 1 {
		return false
	}
	positions := make([]int, granules)
	switch mode {
	case ShuffleReverse:
		for i := 0; i < granules; i++ {
			positions[i] = granules - 1 - i
		}
	case ShuffleShift:
		for i := 0; i < granules; i++ {
			positions[i] = i + 1
		}
		positions[granules-1] = 0
	case ShuffleSwap:
		for i := 0; i < granules; i++ {
			positions[i] = i
		}
		for i := 0; i+1 < granules; i += 2 {
			positions[i], positions[i+1] = positions[i+1], positions[i]
		}
	case ShuffleRandom:
		used := make([]bool, granules)
		for dest := 0; dest < granules; dest++ {
			remaining := 0
			for _, u := range used {
				if !u {
					remaining++
				}
			}
			r := 0
			if remaining > 1 {
				r = randIntN(remaining)
			}
			source := -1
			found := 0
			for i := 0; i < granules && source == -1; i++ {
				if !used[i] {
					if found < r {
						found++
					} else {
						source = i
					}
				}
			}
			if source == -1 {
				trace.Errorf("shuffle: randomization error", 0, 0)
				source = 0
			}
			used[source] = true
			positions[dest] = source
		}
	}
	// segmentize numbers granules from 1
	for i := range positions {
		positions[i]++
	}
	segmentize(l, granules, positions)
	return true
}

// ShufflePattern rearranges the layer per an explicit pull pattern.
//
// Elements may be numbers (1-based granule, negative = reverse, 0 = empty),
// the strings "r" (random), "u" (random unused), "p" (previous), "e" (end
// the result early), each optionally "-" prefixed for reverse, or lists
// encoding per-element probabilities that saturate at 1.0. A pattern shorter
// than the granule count repeats; a longer one extends the layer.
func ShufflePattern(l *Layer, sourceGranules int, elements []any) bool {
	if !shuffleable(l, sourceGranules) {
		return false
	}
	if len(elements) < 1 {
		trace.Errorf("shuffle: pattern needs at least one element", 0, 0)
		return false
	}
	if len(elements) > MaxShuffleGranules {
		trace.Errorf("shuffle: pattern too long: %d", int64(len(elements)), 0)
		return false
	}

	used := make([]bool, sourceGranules)
	resultGranules := sourceGranules
	if len(elements) > resultGranules {
		resultGranules = len(elements)
	}
	result := make([]int, 0, resultGranules)

	pos := 0
	for granule := 0; granule < resultGranules; granule++ {
		segment := resolvePatternValue(elements[pos], sourceGranules, granule)
		if segment == granuleEnd || segment == -granuleEnd {
			resultGranules = granule
			break
		}
		result = append(result, segment)
		if abs := absInt(segment); abs < MaxShuffleGranules && abs >= 1 && abs <= sourceGranules {
			used[abs-1] = true
		}
		pos++
		if pos >= len(elements) {
			pos = 0
		}
	}
	result = result[:minInt(len(result), resultGranules)]

	// resolve "u" once all certain choices are known
	remaining := 0
	for _, u := range used {
		if !u {
			remaining++
		}
	}
	for i, segment := range result {
		if segment == granuleRandomUnused || segment == -granuleRandomUnused {
			actual := randomUnused(used, &remaining)
			if segment < 0 {
				actual = -actual
			}
			result[i] = actual
		}
	}

	// final pass: "p" copies the previous slot's resolution
	for i, segment := range result {
		if segment == granulePrevious || segment == -granulePrevious {
			actual := 0
			if i > 0 {
				actual = result[i-1]
				if segment < 0 {
					actual = -actual
				}
			}
			result[i] = actual
		}
	}

	segmentize(l, sourceGranules, result)
	return true
}

func shuffleable(l *Layer, granules int) bool {
	segs := l.Segments()
	switch {
	case len(segs) == 0:
		trace.Errorf("shuffle: no backing layer", 0, 0)
	case len(segs) > 1:
		trace.Errorf("shuffle: more than one segment", 0, 0)
	case granules <= 0:
		trace.Errorf("shuffle: no granules", 0, 0)
	case granules > MaxShuffleGranules:
		trace.Errorf("shuffle: too many granules: %d", int64(granules), 0)
	default:
		return true
	}
	return false
}

// segmentize converts a pull pattern into a fresh segment list. Pattern
// granules are numbered from 1, negative means reverse, zero leaves an empty
// (silent) granule.
func segmentize(l *Layer, sourceGranules int, pattern []int) {
	original := l.Segments()[0]
	sourceFrames := l.Frames()
	granuleFrames := sourceFrames / sourceGranules

	segments := make([]*Segment, len(pattern))
	var prev *Segment
	offset := 0
	for i, p := range pattern {
		abs := absInt(p)
		granule := abs - 1
		if granule < 0 || granule >= sourceGranules {
			segments[i] = nil
		} else {
			s := original.Clone()
			start := granule * granuleFrames
			s.Offset = offset
			s.StartFrame = start
			s.Frames = granuleFrames
			s.Reverse = p < 0
			s.FadeLeft = true
			s.FadeRight = true
			segments[i] = s
			if prev != nil {
				prevEnd := prev.StartFrame + prev.Frames
				if prevEnd == start && !prev.Reverse && !s.Reverse {
					s.FadeLeft = false
					prev.FadeRight = false
				}
			}
			prev = s
		}
		offset += granuleFrames
	}

	// when the result is an exact multiple of the source, round up so the
	// total length stays an exact multiple and sync is preserved
	resultGranules := len(pattern)
	if resultGranules >= sourceGranules && resultGranules%sourceGranules == 0 {
		multiples := resultGranules / sourceGranules
		desired := sourceFrames * multiples
		delta := desired - offset
		if delta > 0 {
			last := lastNonNil(segments)
			if last != nil {
				start := last.StartFrame
				frames := last.Frames
				avail := sourceFrames - (start + frames)
				if avail < 0 {
					trace.Errorf("shuffle: unexpected segment sizes", 0, 0)
				} else {
					frames += delta
					if avail < delta {
						start -= delta - avail
						if start < 0 {
							trace.Errorf("shuffle: overflow on both ends", 0, 0)
							frames += start
							start = 0
						}
					}
					last.StartFrame = start
					last.Frames = frames
				}
			}
			// whatever happened, the result length grows by delta, which
			// may leave silent padding at the end
			offset += delta
		}
	}

	// cancel seam fades between adjacent same-direction granules
	prev = nil
	for _, s := range segments {
		if prev != nil && s != nil {
			if prev.StartFrame+prev.Frames == s.StartFrame &&
				!prev.Reverse && !s.Reverse {
				s.FadeLeft = false
				prev.FadeRight = false
			}
		}
		if s != nil {
			prev = s
		}
	}

	l.ResetSegments()
	for _, s := range segments {
		if s != nil {
			l.AddSegment(s)
		}
	}
	l.Resize(offset)
	l.SetStructureChanged(true)
}

// resolvePatternValue derives a granule selection from one pattern element.
func resolvePatternValue(v any, sourceGranules, resultGranule int) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		// JSON numbers arrive as floats; coerce
		return int(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		negative := false
		s := val
		if len(s) > 0 && s[0] == '-' {
			negative = true
			s = s[1:]
		}
		if len(s) > 1 && s[0] == 'r' {
			// "ru", "rp" variants select reverse
			negative = true
			s = s[1:]
		}
		segment := 0
		switch {
		case s == "r":
			segment = 1 + randIntN(sourceGranules)
		case s == "u":
			segment = granuleRandomUnused
		case s == "e":
			return granuleEnd
		case s == "p":
			if resultGranule == 0 {
				segment = 1 + randIntN(sourceGranules)
			} else {
				segment = granulePrevious
			}
		default:
			trace.Errorf("shuffle: unrecognized pattern element", 0, 0)
		}
		if negative {
			segment = -segment
		}
		return segment
	case []any:
		return probabilityPattern(val, sourceGranules, resultGranule)
	}
	return 0
}

// probabilityPattern selects from a list of alternatives. Sub-pairs give an
// explicit probability; unspecified entries share the remainder equally, and
// cumulative probability saturates at 1.0.
func probabilityPattern(list []any, sourceGranules, resultGranule int) int {
	if len(list) == 0 {
		return 0
	}
	if len(list) == 1 {
		return resolvePatternValue(first(list[0]), sourceGranules, resultGranule)
	}

	probs := make([]float32, len(list))
	cumulative := float32(0)
	unspecified := 0
	for i, v := range list {
		p := float32(-1)
		if sub, ok := v.([]any); ok && len(sub) > 1 {
			switch pv := sub[1].(type) {
			case float64:
				p = float32(pv)
			case int:
				p = float32(pv)
			}
		}
		probs[i] = p
		if p >= 0 {
			cumulative += p
		} else {
			unspecified++
		}
	}
	if unspecified > 0 {
		share := float32(0)
		if remainder := 1 - cumulative; remainder > 0 {
			share = remainder / float32(unspecified)
		}
		for i := range probs {
			if probs[i] < 0 {
				probs[i] = share
			}
		}
	}

	threshold := randFloat()
	cumulative = 0
	for i, p := range probs {
		cumulative += p
		if threshold < cumulative {
			return resolvePatternValue(first(list[i]), sourceGranules, resultGranule)
		}
	}
	// probabilities fell short of 1.0; round up and take the last value
	return resolvePatternValue(first(list[len(list)-1]), sourceGranules, resultGranule)
}

// first unwraps a (value probability) pair to its value.
func first(v any) any {
	if sub, ok := v.([]any); ok && len(sub) > 0 {
		return sub[0]
	}
	return v
}

// randomUnused picks one of the remaining unused granules, or empty when
// none remain.
func randomUnused(used []bool, remaining *int) int {
	if *remaining <= 0 {
		return 0
	}
	next := 0
	if *remaining > 1 {
		next = randIntN(*remaining)
	}
	source := -1
	found := 0
	for i := 0; i < len(used) && source == -1; i++ {
		if !used[i] {
			if found < next {
				found++
			} else {
				source = i
			}
		}
	}
	if source == -1 {
		trace.Errorf("shuffle: randomization error", 0, 0)
		source = 0
	}
	used[source] = true
	*remaining--
	return source + 1
}

func lastNonNil(segments []*Segment) *Segment {
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != nil {
			return segments[i]
		}
	}
	return nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
