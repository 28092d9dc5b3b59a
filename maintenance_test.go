package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"strata/internal/loop"
)

func TestNextQuickSavePathNumbers(t *testing.T) {
	dir := t.TempDir()
	p1 := nextQuickSavePath(dir, "take")
	if p1 != filepath.Join(dir, "take.wav") {
		t.Fatalf("first path = %q", p1)
	}
	os.WriteFile(p1, []byte("x"), 0o644)

	p2 := nextQuickSavePath(dir, "take")
	if p2 != filepath.Join(dir, "take-2.wav") {
		t.Fatalf("second path = %q", p2)
	}
	os.WriteFile(p2, []byte("x"), 0o644)

	if p3 := nextQuickSavePath(dir, "take"); p3 != filepath.Join(dir, "take-3.wav") {
		t.Fatalf("third path = %q", p3)
	}
}

func TestQuickSaveThroughMaintenance(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	stop := make(chan struct{})
	defer close(stop)
	go e.RunMaintenance(stop)

	// nothing to save yet
	if err := e.QuickSave(t.TempDir()); err == nil {
		t.Error("quick save of an empty engine succeeded")
	}

	e.Invoke(loop.Action{Function: "Record", Track: 0, Down: true})
	pump(e, 2048)
	e.Invoke(loop.Action{Function: "Record", Track: 0, Down: true})
	pump(e, 512)

	dir := t.TempDir()
	if err := e.QuickSave(dir); err != nil {
		t.Fatalf("quick save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("quick save produced %d files, want 1", len(entries))
	}
}

func TestMaintenanceSurvivesIdleTicks(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	stop := make(chan struct{})
	go e.RunMaintenance(stop)

	// a few idle maintenance cycles must not declare an emergency
	time.Sleep(3 * maintenanceInterval)
	select {
	case <-e.Stopped():
		t.Error("idle engine declared emergency exit")
	default:
	}
	close(stop)
}
