package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"strata/internal/audio"
	"strata/internal/config"
	"strata/internal/loop"
	"strata/internal/store"
)

// newTestEngine builds an engine with no devices; tests drive the interrupt
// by calling ProcessAudio directly.
func newTestEngine(t *testing.T, tracks int) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default(tracks)
	e := newEngine(cfg, "", st, engineOptions{
		tracks:     tracks,
		sampleRate: 48000,
		frames:     256,
	})
	return e, st
}

// pump runs the engine's interrupt with silent input.
func pump(e *Engine, frames int) {
	in := make([]float32, 256*audio.Channels)
	out := make([]float32, 256*audio.Channels)
	for remaining := frames; remaining > 0; remaining -= 256 {
		e.ProcessAudio(in, out, 256)
		e.apool.Maintain()
	}
}

func doRequest(t *testing.T, api *APIServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	api.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}
}

func TestStatusReportsTracks(t *testing.T) {
	e, st := newTestEngine(t, 3)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state EngineState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Tracks) != 3 {
		t.Errorf("got %d tracks, want 3", len(state.Tracks))
	}
	if state.Tracks[0].Mode != "reset" {
		t.Errorf("fresh track mode = %q, want reset", state.Tracks[0].Mode)
	}
}

func TestActionDispatchRecordsLoop(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "POST", "/api/tracks/0/action", `{"function":"Record"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("action = %d, want 202", rec.Code)
	}
	pump(e, 4096)
	if e.tracks[0].Loop().Mode() != loop.ModeRecord {
		t.Fatalf("mode = %v after record action, want record", e.tracks[0].Loop().Mode())
	}

	doRequest(t, api, "POST", "/api/tracks/0/action", `{"function":"Record"}`)
	pump(e, 512)
	if e.tracks[0].Loop().Frames() == 0 {
		t.Error("no loop after record stop")
	}
}

func TestActionRejectsUnknownFunction(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "POST", "/api/tracks/0/action", `{"function":"Nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown function = %d, want 400", rec.Code)
	}
}

func TestActionRejectsBadTrack(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "POST", "/api/tracks/9/action", `{"function":"Record"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("bad track = %d, want 404", rec.Code)
	}
}

func TestPresetLifecycle(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	body := `{"subcycles":8,"quantize":"cycle","mute_mode":"continue"}`
	rec := doRequest(t, api, "PUT", "/api/presets/Tight", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put preset = %d, want 200", rec.Code)
	}

	// the config snapshot picked up the preset
	found := false
	for _, p := range e.Config().Presets {
		if p.Name == "Tight" && p.Subcycles == 8 {
			found = true
		}
	}
	if !found {
		t.Error("preset not merged into the live config")
	}

	rec = doRequest(t, api, "GET", "/api/presets", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Tight") {
		t.Errorf("presets list = %d %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, api, "DELETE", "/api/presets/Tight", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete = %d, want 200", rec.Code)
	}
}

func TestLevelsEndpoint(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	rec := doRequest(t, api, "POST", "/api/tracks/0/levels", `{"output":0.5,"pan":-1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("levels = %d, want 200", rec.Code)
	}
	if got := e.tracks[0].OutputLevel(); got != 0.5 {
		t.Errorf("output level = %f, want 0.5", got)
	}
	if got := e.tracks[0].Pan(); got != -1 {
		t.Errorf("pan = %f, want -1", got)
	}
}

func TestProjectSaveLoadViaMaintenance(t *testing.T) {
	e, st := newTestEngine(t, 1)
	api := NewAPIServer(e, st)

	stop := make(chan struct{})
	defer close(stop)
	go e.RunMaintenance(stop)

	// record a short loop
	doRequest(t, api, "POST", "/api/tracks/0/action", `{"function":"Record"}`)
	pump(e, 2048)
	doRequest(t, api, "POST", "/api/tracks/0/action", `{"function":"Record"}`)
	pump(e, 512)

	dir := t.TempDir()
	rec := doRequest(t, api, "POST", "/api/project/save",
		`{"name":"take","dir":"`+dir+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, api, "POST", "/api/project/load",
		`{"name":"take","dir":"`+dir+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load = %d: %s", rec.Code, rec.Body.String())
	}
	if e.tracks[0].Loop().Frames() == 0 {
		t.Error("loop empty after project load")
	}

	rec = doRequest(t, api, "GET", "/api/projects", "")
	if !strings.Contains(rec.Body.String(), "take") {
		t.Errorf("project registry missing entry: %s", rec.Body.String())
	}
}
