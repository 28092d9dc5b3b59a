package store

import (
	"testing"

	"strata/internal/config"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newStore(t)

	if _, ok, err := s.GetSetting("missing"); err != nil || ok {
		t.Fatalf("missing key = ok:%v err:%v, want absent", ok, err)
	}
	if err := s.SetSetting("quick_save", "take"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := s.GetSetting("quick_save")
	if err != nil || !ok || val != "take" {
		t.Errorf("get = %q/%v/%v, want take", val, ok, err)
	}

	// upsert overwrites
	s.SetSetting("quick_save", "take2")
	val, _, _ = s.GetSetting("quick_save")
	if val != "take2" {
		t.Errorf("after upsert = %q, want take2", val)
	}
}

func TestPresetCRUD(t *testing.T) {
	s := newStore(t)

	p := config.DefaultPreset()
	p.Name = "Ambient"
	p.Subcycles = 8
	p.Quantize = config.QuantizeSubcycle
	if err := s.SavePreset(p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetPreset("Ambient")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Subcycles != 8 || got.Quantize != config.QuantizeSubcycle {
		t.Errorf("preset did not round trip: %+v", got)
	}

	p.Subcycles = 16
	s.SavePreset(p)
	got, _, _ = s.GetPreset("Ambient")
	if got.Subcycles != 16 {
		t.Errorf("upsert lost update: %d", got.Subcycles)
	}

	all, err := s.GetPresets()
	if err != nil || len(all) != 1 {
		t.Fatalf("list = %d/%v, want 1", len(all), err)
	}

	if err := s.DeletePreset("Ambient"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetPreset("Ambient"); ok {
		t.Error("preset survived delete")
	}
}

func TestPresetNeedsName(t *testing.T) {
	s := newStore(t)
	if err := s.SavePreset(config.Preset{}); err == nil {
		t.Error("nameless preset accepted")
	}
}

func TestTrackSetups(t *testing.T) {
	s := newStore(t)

	ts := config.DefaultTrackSetup(2)
	ts.Sync = config.SyncMidi
	ts.Feedback = 100
	if err := s.SaveTrackSetup(2, ts); err != nil {
		t.Fatalf("save: %v", err)
	}

	setups, err := s.GetTrackSetups()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, ok := setups[2]
	if !ok || got.Sync != config.SyncMidi || got.Feedback != 100 {
		t.Errorf("setup did not round trip: %+v", got)
	}
}

func TestProjectRegistry(t *testing.T) {
	s := newStore(t)
	if err := s.RegisterProject("jam", "/data/jam"); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.RegisterProject("jam", "/data/jam2")

	projects, err := s.GetProjects()
	if err != nil || len(projects) != 1 {
		t.Fatalf("list = %d/%v, want 1", len(projects), err)
	}
	if projects[0].Dir != "/data/jam2" {
		t.Errorf("dir = %q, want updated path", projects[0].Dir)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newStore(t)
	// a second migrate pass must be a no-op
	if err := s.migrate(); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}
