package project

import (
	"testing"

	"strata/internal/audio"
	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/loop"
	"strata/internal/midisync"
	"strata/internal/wavio"
)

func newTrack(t *testing.T, ap *audio.Pool, lp *layer.Pool) *loop.Track {
	t.Helper()
	cfg := config.Default(1)
	sync := loop.NewSynchronizer(midisync.NewQueue("test"), nil, 4)
	tr := loop.NewTrack(0, lp, ap, &cfg, sync, audio.DefaultSampleRate, 0, 0)
	sync.SetTracks([]*loop.Track{tr})
	return tr
}

// buildHistory installs a two-generation history: a 2000-frame base layer of
// a ramp, and a second layer referencing it through a segment plus local
// overdubbed material.
func buildHistory(t *testing.T, ap *audio.Pool, lp *layer.Pool, tr *loop.Track) {
	t.Helper()
	const n = 2000

	base := lp.NewLayer()
	samples := make([]float32, n*audio.Channels)
	for i := 0; i < n; i++ {
		for ch := 0; ch < audio.Channels; ch++ {
			samples[i*audio.Channels+ch] = float32(i) / float32(n)
		}
	}
	base.Audio().Put(&audio.Buffer{Samples: samples, Frames: n, Channels: audio.Channels}, 0)
	base.Resize(n)
	base.SetFinalized(true)
	base.SetCheckpoint(layer.CheckpointOn)

	top := lp.NewLayer()
	top.Copy(base)
	top.SetPrev(base)
	top.SetHistoryOffset(n)
	top.SetCycles(2)
	over := make([]float32, 100*audio.Channels)
	for i := range over {
		over[i] = 0.25
	}
	top.Audio().Put(&audio.Buffer{Samples: over, Frames: 100, Channels: audio.Channels}, 500)
	top.SetFinalized(true)

	tr.Loop().InstallHistory(top)
}

func render(t *testing.T, tr *loop.Track, frame int) float32 {
	t.Helper()
	pl := tr.Loop().PlayLayer()
	if pl == nil {
		t.Fatal("no play layer")
	}
	samples := make([]float32, audio.Channels)
	con := layer.NewContext(samples, 1)
	pl.Play(con, frame, false)
	return samples[0]
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ap := audio.NewPool(16)
	ap.Maintain()
	lp := layer.NewPool(ap)
	lp.Prime(16)

	src := newTrack(t, ap, lp)
	buildHistory(t, ap, lp, src)
	dir := t.TempDir()

	if err := Save(dir, "session", []*loop.Track{src}, wavio.FormatFloat32); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := newTrack(t, ap, lp)
	if err := Load(dir, "session", []*loop.Track{dst}, ap); err != nil {
		t.Fatalf("load: %v", err)
	}

	// chain length preserved
	depth := 0
	for l := dst.Loop().PlayLayer(); l != nil; l = l.Prev() {
		depth++
	}
	if depth != 2 {
		t.Fatalf("restored chain depth = %d, want 2", depth)
	}

	top := dst.Loop().PlayLayer()
	if top.Cycles() != 2 {
		t.Errorf("cycles = %d, want 2", top.Cycles())
	}
	if top.HistoryOffset() != 2000 {
		t.Errorf("history offset = %d, want 2000", top.HistoryOffset())
	}
	if top.Prev().Checkpoint() != layer.CheckpointOn {
		t.Error("checkpoint flag lost")
	}
	if top.IsWindowing() {
		t.Error("restored layer claims to be windowing")
	}

	// audio is byte-identical under float32: background plus overdub
	for _, frame := range []int{0, 499, 550, 1999} {
		want := render(t, src, frame)
		got := render(t, dst, frame)
		if want != got {
			t.Errorf("frame %d: restored %f, want %f", frame, got, want)
		}
	}
}

func TestLoadMissingProjectFails(t *testing.T) {
	ap := audio.NewPool(8)
	ap.Maintain()
	lp := layer.NewPool(ap)
	lp.Prime(4)
	tr := newTrack(t, ap, lp)
	if err := Load(t.TempDir(), "nope", []*loop.Track{tr}, ap); err == nil {
		t.Error("loading a missing project succeeded")
	}
}

func TestSaveSkipsWindowLayer(t *testing.T) {
	ap := audio.NewPool(16)
	ap.Maintain()
	lp := layer.NewPool(ap)
	lp.Prime(16)
	tr := newTrack(t, ap, lp)
	buildHistory(t, ap, lp, tr)

	// wedge a windowing layer in front, as loop windowing does
	l := tr.Loop()
	win := lp.NewLayer()
	win.SetPrev(l.PlayLayer())
	win.SetWindowOffset(0)
	win.Zero(1000, 1)
	l.SetPlayLayer(win)

	dir := t.TempDir()
	if err := Save(dir, "w", []*loop.Track{tr}, wavio.FormatFloat32); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := newTrack(t, ap, lp)
	if err := Load(dir, "w", []*loop.Track{dst}, ap); err != nil {
		t.Fatalf("load: %v", err)
	}
	for cur := dst.Loop().PlayLayer(); cur != nil; cur = cur.Prev() {
		if cur.IsWindowing() {
			t.Error("window layer was persisted")
		}
	}
}
