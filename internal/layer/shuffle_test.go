package layer

import (
	"testing"
)

// stubRand makes the randomization hooks deterministic: randIntN returns
// each value from ints in turn, randFloat each value from floats.
func stubRand(t *testing.T, ints []int, floats []float32) {
	t.Helper()
	saveInt, saveFloat := randIntN, randFloat
	i, f := 0, 0
	randIntN = func(n int) int {
		if i >= len(ints) {
			t.Fatalf("unexpected randIntN call %d", i)
		}
		v := ints[i]
		i++
		if v >= n {
			v = n - 1
		}
		return v
	}
	randFloat = func() float32 {
		if f >= len(floats) {
			t.Fatalf("unexpected randFloat call %d", f)
		}
		v := floats[f]
		f++
		return v
	}
	t.Cleanup(func() { randIntN, randFloat = saveInt, saveFloat })
}

func shuffledLayer(t *testing.T, frames int) (*Pool, *Layer) {
	t.Helper()
	_, lp := newPools()
	src := sourceLayer(lp, frames, 1)
	rec := lp.NewLayer()
	rec.Copy(src)
	return lp, rec
}

func TestShuffleReverseMode(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)

	if !Shuffle(rec, ShuffleReverse, 4) {
		t.Fatal("shuffle refused")
	}
	segs := rec.Segments()
	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	// granule i pulls source granule granules-1-i
	for i, s := range segs {
		wantStart := (3 - i) * 2000
		if s.StartFrame != wantStart || s.Frames != 2000 || s.Offset != i*2000 {
			t.Errorf("segment %d = offset %d start %d frames %d, want %d/%d/2000",
				i, s.Offset, s.StartFrame, s.Frames, i*2000, wantStart)
		}
	}
	if rec.Frames() != 8000 {
		t.Errorf("frames = %d after shuffle, want 8000", rec.Frames())
	}
}

func TestShuffleRefusesMultiSegmentLayer(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)
	Shuffle(rec, ShuffleReverse, 4)
	if Shuffle(rec, ShuffleReverse, 4) {
		t.Error("shuffle of a multi-segment layer must be refused")
	}
}

func TestShufflePatternExplicit(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)

	// 8 granules of 1000 frames; nine elements extend the layer to 9000.
	// Stubbed randomness: "r" picks granule 4 (randIntN→3), the two "u"
	// pick the first remaining unused granules in order.
	stubRand(t, []int{3, 0, 0}, nil)
	pattern := []any{1, "r", "u", "u", 3, 8, 2, "p", 7}
	if !ShufflePattern(rec, 8, pattern) {
		t.Fatal("pattern shuffle refused")
	}

	if rec.Frames() != 9000 {
		t.Fatalf("frames = %d after pattern shuffle, want 9000", rec.Frames())
	}
	segs := rec.Segments()
	if len(segs) != 9 {
		t.Fatalf("got %d segments, want 9", len(segs))
	}

	// expected pull granules (1-based): 1 4 5 6 3 8 2 2 7
	// ("u" resolves against used = {1,4,3,8,2,7} → first unused are 5 then 6;
	//  "p" copies the previous slot's granule 2)
	want := []int{0, 3, 4, 5, 2, 7, 1, 1, 6}
	for i, s := range segs {
		if s.StartFrame != want[i]*1000 {
			t.Errorf("granule %d pulls start %d, want %d", i+1, s.StartFrame, want[i]*1000)
		}
		if s.Offset != i*1000 || s.Frames != 1000 {
			t.Errorf("granule %d placed at %d/%d, want %d/1000", i+1, s.Offset, s.Frames, i*1000)
		}
	}

	// granules 7 and 8 both pull source granule 2, so the seam between
	// them is discontinuous and keeps its fades; granules 3→4 pull source
	// granules 5 then 6, which are contiguous
	if !segs[6].FadeRight || !segs[7].FadeLeft {
		t.Error("discontinuous seam lost its fades")
	}
}

func TestShufflePatternContiguousSeamCancels(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)
	if !ShufflePattern(rec, 4, []any{1, 2, 3, 4}) {
		t.Fatal("identity shuffle refused")
	}
	segs := rec.Segments()
	for i := 1; i < len(segs); i++ {
		if segs[i].FadeLeft || segs[i-1].FadeRight {
			t.Errorf("contiguous seam %d kept its fades", i)
		}
	}
}

func TestShufflePatternEndMarker(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)
	if !ShufflePattern(rec, 8, []any{2, "e"}) {
		t.Fatal("shuffle refused")
	}
	if rec.Frames() != 1000 {
		t.Errorf("frames = %d after early end, want 1000", rec.Frames())
	}
	if len(rec.Segments()) != 1 {
		t.Fatalf("got %d segments, want 1", len(rec.Segments()))
	}
	if rec.Segments()[0].StartFrame != 1000 {
		t.Errorf("segment pulls %d, want 1000", rec.Segments()[0].StartFrame)
	}
}

func TestShufflePatternReverseElement(t *testing.T) {
	_, rec := shuffledLayer(t, 4000)
	if !ShufflePattern(rec, 4, []any{-2, 1, 3, 4}) {
		t.Fatal("shuffle refused")
	}
	if !rec.Segments()[0].Reverse {
		t.Error("negative pattern element did not reverse the granule")
	}
}

func TestShufflePatternEmptyGranule(t *testing.T) {
	_, rec := shuffledLayer(t, 4000)
	if !ShufflePattern(rec, 4, []any{1, 0, 3, 4}) {
		t.Fatal("shuffle refused")
	}
	// granule 2 is empty: only three segments, but the layer keeps its size
	if len(rec.Segments()) != 3 {
		t.Fatalf("got %d segments, want 3", len(rec.Segments()))
	}
	if rec.Frames() != 4000 {
		t.Errorf("frames = %d, want 4000", rec.Frames())
	}
	out := render(rec, 1500, 1)
	if out[0] != 0 {
		t.Errorf("empty granule frame = %f, want 0", out[0])
	}
}

func TestShufflePatternRoundsExactMultiple(t *testing.T) {
	_, lp := newPools()
	src := sourceLayer(lp, 1000, 1)
	rec := lp.NewLayer()
	rec.Copy(src)

	// 3 granules of 333 frames truncate to 999; the exact-multiple rule
	// extends the final granule so the result stays 1000
	if !ShufflePattern(rec, 3, []any{1, 2, 3}) {
		t.Fatal("shuffle refused")
	}
	if rec.Frames() != 1000 {
		t.Errorf("frames = %d after rounding, want 1000", rec.Frames())
	}
	last := rec.Segments()[2]
	if last.Frames != 334 {
		t.Errorf("final granule frames = %d, want 334", last.Frames)
	}
}

func TestShufflePatternShortPatternRepeats(t *testing.T) {
	_, rec := shuffledLayer(t, 8000)
	if !ShufflePattern(rec, 4, []any{1, 2}) {
		t.Fatal("shuffle refused")
	}
	segs := rec.Segments()
	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	want := []int{0, 2000, 0, 2000}
	for i, s := range segs {
		if s.StartFrame != want[i] {
			t.Errorf("granule %d pulls %d, want %d", i+1, s.StartFrame, want[i])
		}
	}
}

func TestShufflePatternProbabilitySaturation(t *testing.T) {
	_, rec := shuffledLayer(t, 4000)

	// ((1 .8) (2 .3) (3 .3)): cumulative saturates, threshold .85 lands in
	// element 2's effective .2 share
	stubRand(t, nil, []float32{0.85, 0, 0, 0})
	pattern := []any{
		[]any{[]any{1, 0.8}, []any{2, 0.3}, []any{3, 0.3}},
		1, 1, 1,
	}
	if !ShufflePattern(rec, 4, pattern) {
		t.Fatal("shuffle refused")
	}
	if rec.Segments()[0].StartFrame != 1000 {
		t.Errorf("probability selection pulled %d, want granule 2 (1000)",
			rec.Segments()[0].StartFrame)
	}
}

func TestShufflePatternProbabilityRemainder(t *testing.T) {
	_, rec := shuffledLayer(t, 4000)

	// (1 2): unspecified probabilities share equally; threshold .6 → second
	stubRand(t, nil, []float32{0.6})
	pattern := []any{
		[]any{1, 2},
		1, 1, 1,
	}
	if !ShufflePattern(rec, 4, pattern) {
		t.Fatal("shuffle refused")
	}
	if rec.Segments()[0].StartFrame != 1000 {
		t.Errorf("remainder selection pulled %d, want granule 2 (1000)",
			rec.Segments()[0].StartFrame)
	}
}
