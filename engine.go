package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"strata/internal/audio"
	"strata/internal/config"
	"strata/internal/layer"
	"strata/internal/loop"
	"strata/internal/midisync"
	"strata/internal/project"
	"strata/internal/store"
	"strata/internal/wavio"
)

// Engine assembles the looper: pools, tracks, the recorder entry point, the
// synchronizer, and the maintenance plumbing. The audio goroutine calls
// ProcessAudio; every other thread talks to the engine through queues,
// atomics, and the maintenance channel.
type Engine struct {
	cfg     atomic.Pointer[config.Config]
	cfgPath string

	apool    *audio.Pool
	lpool    *layer.Pool
	queue    *midisync.Queue
	sync     *loop.Synchronizer
	tracks   []*loop.Track
	recorder *loop.Recorder

	// invokeMu serializes producers on the single-producer action queue
	invokeMu sync.Mutex

	monitor *Monitor
	store   *store.Store

	dataDir    string
	sampleRate int
	frames     int

	started time.Time

	// io carries deferred file operations to the maintenance goroutine
	io chan ioRequest

	stopCh chan struct{}
}

// ioRequest is one deferred file operation. done receives the result.
type ioRequest struct {
	kind string // "save", "load", "quicksave"
	name string
	dir  string
	done chan error
}

// engineOptions carries host flags into engine construction.
type engineOptions struct {
	tracks        int
	sampleRate    int
	frames        int
	inputLatency  int
	outputLatency int
	dataDir       string
	clockSender   loop.ClockSender
	queue         *midisync.Queue // external clock queue; created when nil
}

// newEngine builds a stopped engine from a config snapshot.
func newEngine(cfg config.Config, cfgPath string, st *store.Store, opts engineOptions) *Engine {
	e := &Engine{
		cfgPath:    cfgPath,
		store:      st,
		dataDir:    opts.dataDir,
		sampleRate: opts.sampleRate,
		frames:     opts.frames,
		started:    time.Now(),
		io:         make(chan ioRequest, 8),
		stopCh:     make(chan struct{}),
	}
	e.cfg.Store(&cfg)

	// pool sizing: a few buffers per track covers steady-state churn; the
	// maintenance goroutine refills long before the ring drains
	e.apool = audio.NewPool(opts.tracks * 16)
	e.apool.Maintain()
	e.lpool = layer.NewPool(e.apool)
	e.lpool.Prime(opts.tracks * 8)

	e.queue = opts.queue
	if e.queue == nil {
		e.queue = midisync.NewQueue("external")
	}
	e.sync = loop.NewSynchronizer(e.queue, opts.clockSender, cfg.BeatsPerBar)

	inLat := cfg.InputLatency
	if inLat == 0 {
		inLat = opts.inputLatency
	}
	outLat := cfg.OutputLatency
	if outLat == 0 {
		outLat = opts.outputLatency
	}

	for i := 0; i < opts.tracks; i++ {
		t := loop.NewTrack(i, e.lpool, e.apool, &cfg, e.sync, opts.sampleRate, inLat, outLat)
		e.tracks = append(e.tracks, t)
	}
	if len(e.tracks) > 0 {
		e.tracks[0].SetFocused(true)
	}
	e.sync.SetTracks(e.tracks)

	e.recorder = loop.NewRecorder(e.tracks, e.sync, func() int64 {
		return time.Since(e.started).Milliseconds()
	})

	e.monitor = NewMonitor(opts.sampleRate)
	return e
}

// Config returns the current immutable config snapshot.
func (e *Engine) Config() *config.Config { return e.cfg.Load() }

// SwapConfig atomically installs a new config snapshot and pushes preset and
// setup changes to tracks between interrupts.
func (e *Engine) SwapConfig(cfg config.Config) {
	e.cfg.Store(&cfg)
	for i, t := range e.tracks {
		setup := cfg.TrackSetupFor(i)
		t.SetSetup(setup)
		t.Loop().SetPreset(cfg.PresetNamed(setup.Preset))
	}
}

// ProcessAudio is the interrupt: invoked by the device goroutine per buffer.
func (e *Engine) ProcessAudio(in, out []float32, frames int) {
	for i := range out {
		out[i] = 0
	}
	e.recorder.ProcessBuffers(in, out, frames)
	e.monitor.Tap(out, frames)
}

// Invoke pushes a user action toward the interrupt. Safe from any thread.
func (e *Engine) Invoke(a loop.Action) bool {
	if loop.FunctionNamed(a.Function) == nil {
		return false
	}
	e.invokeMu.Lock()
	defer e.invokeMu.Unlock()
	return e.recorder.Actions().Add(a)
}

// SaveProject asks the maintenance goroutine to persist the layer graph.
func (e *Engine) SaveProject(dir, name string) error {
	return e.requestIO(ioRequest{kind: "save", name: name, dir: dir})
}

// LoadProject asks the maintenance goroutine to restore a project.
func (e *Engine) LoadProject(dir, name string) error {
	return e.requestIO(ioRequest{kind: "load", name: name, dir: dir})
}

// QuickSave exports the focused track's play layer to a numbered WAV.
func (e *Engine) QuickSave(dir string) error {
	return e.requestIO(ioRequest{kind: "quicksave", dir: dir})
}

func (e *Engine) requestIO(req ioRequest) error {
	if req.dir == "" {
		req.dir = e.dataDir
	}
	if req.dir == "" {
		req.dir = "."
	}
	req.done = make(chan error, 1)
	select {
	case e.io <- req:
	case <-time.After(time.Second):
		return errMaintenanceBusy
	}
	select {
	case err := <-req.done:
		return err
	case <-time.After(30 * time.Second):
		return errMaintenanceBusy
	}
}

// executeIO runs one deferred file operation on the maintenance goroutine.
func (e *Engine) executeIO(req ioRequest) {
	var err error
	switch req.kind {
	case "save":
		err = project.Save(req.dir, req.name, e.tracks, wavio.FormatFloat32)
		if err == nil && e.store != nil {
			if serr := e.store.RegisterProject(req.name, req.dir); serr != nil {
				log.Printf("[engine] project registry: %v", serr)
			}
		}
	case "load":
		err = project.Load(req.dir, req.name, e.tracks, e.apool)
	case "quicksave":
		err = e.quickSave(req.dir)
	}
	req.done <- err
}

func (e *Engine) quickSave(dir string) error {
	cfg := e.Config()
	var target *loop.Track
	for _, t := range e.tracks {
		if t.Focused() {
			target = t
			break
		}
	}
	if target == nil || target.Loop().PlayLayer() == nil {
		return errNothingToSave
	}
	name := cfg.QuickSaveName
	if name == "" {
		name = "quicksave"
	}
	path := nextQuickSavePath(dir, name)
	log.Printf("[engine] quick save to %s", path)

	flat := e.flattenLayer(target.Loop().PlayLayer())
	defer e.apool.FreeAudio(flat)
	return wavio.Write(path, flat, wavio.FormatFloat32)
}

// flattenLayer renders a layer's full content (local audio plus segments)
// into a standalone Audio for export.
func (e *Engine) flattenLayer(pl *layer.Layer) *audio.Audio {
	flat := e.apool.NewAudio()
	flat.SetSampleRate(e.sampleRate)
	const chunk = 4096
	samples := make([]float32, chunk*audio.Channels)
	for frame := 0; frame < pl.Frames(); frame += chunk {
		n := chunk
		if pl.Frames()-frame < n {
			n = pl.Frames() - frame
		}
		for i := range samples {
			samples[i] = 0
		}
		con := layer.NewContext(samples[:n*audio.Channels], n)
		pl.Play(con, frame, false)
		flat.Put(&audio.Buffer{Samples: samples[:n*audio.Channels], Frames: n, Channels: audio.Channels}, frame)
	}
	return flat
}
