package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"strata/internal/config"
	"strata/internal/midisync"
	"strata/internal/store"
)

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "strata.db") {
			return
		}
	}

	inputDev := flag.Int("in", -1, "audio input device index (-1 = default)")
	outputDev := flag.Int("out", -1, "audio output device index (-1 = default)")
	sampleRate := flag.Int("rate", 48000, "sample rate")
	frames := flag.Int("frames", 256, "frames per interrupt buffer")
	tracks := flag.Int("tracks", 4, "number of loop tracks")
	apiAddr := flag.String("api-addr", ":8270", "control surface listen address (empty to disable)")
	dbPath := flag.String("db", "strata.db", "SQLite database path")
	midiIn := flag.String("midi-in", "", "MIDI input port name for sync (empty to disable)")
	midiOut := flag.String("midi-out", "", "MIDI output port name for clocks (empty to disable)")
	dataDir := flag.String("data-dir", "data", "directory for projects and quick saves")
	cfgPath := flag.String("config", "", "config file path (default: user config dir)")
	testTone := flag.Bool("test-tone", false, "run without devices, feeding a 440 Hz tone")
	calibrate := flag.Bool("calibrate", false, "measure round-trip latency and exit")
	metricsInterval := flag.Duration("metrics-interval", 30*time.Second, "metrics log interval")
	flag.Parse()

	// Open persistent store; stored presets override config file entries.
	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	path := *cfgPath
	if path == "" {
		if p, err := config.Path(); err == nil {
			path = p
		}
	}
	cfg := config.Load(path, *tracks)
	if stored, err := st.GetPresets(); err == nil && len(stored) > 0 {
		cfg.Presets = mergePresets(cfg.Presets, stored)
	}
	if setups, err := st.GetTrackSetups(); err == nil {
		for n, ts := range setups {
			if n < len(cfg.Tracks) {
				cfg.Tracks[n] = ts
			}
		}
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("[main] data dir: %v", err)
	}

	// MIDI and devices come up before the engine so the clock sender and
	// the device-reported latencies can feed engine construction.
	queue := midisync.NewQueue("external")
	opts := engineOptions{
		tracks:     *tracks,
		sampleRate: *sampleRate,
		frames:     *frames,
		dataDir:    *dataDir,
		queue:      queue,
	}

	var midiHost *MidiHost
	if *midiIn != "" || *midiOut != "" {
		midiHost, err = NewMidiHost(queue, *midiIn, *midiOut)
		if err != nil {
			log.Fatalf("[midi] %v", err)
		}
		defer midiHost.Close()
		opts.clockSender = midiHost
	}

	var host *DeviceHost
	if !*testTone {
		if err := portaudio.Initialize(); err != nil {
			log.Fatalf("[audio] %v", err)
		}
		defer portaudio.Terminate()

		host, err = NewDeviceHost(nil, *inputDev, *outputDev, *sampleRate, *frames)
		if err != nil {
			log.Fatalf("[audio] %v", err)
		}

		// device-reported latencies feed play-jump compensation unless the
		// config pins explicit values
		inLat, outLat := host.ReportedLatencies(*sampleRate)
		log.Printf("[audio] reported latency in=%d out=%d frames", inLat, outLat)
		opts.inputLatency = inLat
		opts.outputLatency = outLat
	}

	e := newEngine(cfg, path, st, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopMaintenance := make(chan struct{})
	go e.RunMaintenance(stopMaintenance)
	go e.monitor.Run(stopMaintenance)
	go RunMetrics(ctx, e, *metricsInterval)

	if *testTone {
		go RunToneBot(ctx, e, *frames)
	} else {
		host.Bind(e)
		if err := host.Start(); err != nil {
			log.Fatalf("[audio] start: %v", err)
		}
		defer host.Stop()
	}

	if *calibrate {
		if host == nil {
			log.Fatal("[calibrate] needs real devices")
		}
		result := <-e.recorder.StartCalibration()
		e.recorder.StopCalibration()
		if result < 0 {
			log.Fatal("[calibrate] timed out; is the output looped back to the input?")
		}
		log.Printf("[calibrate] round trip %d frames (%.1f ms)",
			result, float64(result)/float64(*sampleRate)*1000)
		return
	}

	var api *APIServer
	if *apiAddr != "" {
		api = NewAPIServer(e, st)
		go func() {
			if err := api.Run(*apiAddr); err != nil {
				log.Printf("[api] %v", err)
			}
		}()
		log.Printf("[main] control surface on %s", *apiAddr)
	}

	log.Printf("[main] %d tracks at %d Hz, %d-frame interrupts", *tracks, *sampleRate, *frames)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("[main] shutting down")
	case <-e.Stopped():
		log.Println("[main] engine stopped")
	}

	if api != nil {
		api.Shutdown()
	}
	cancel()
	close(stopMaintenance)
}

// mergePresets overlays stored presets on the config file's list; stored
// versions win on name collisions.
func mergePresets(base, stored []config.Preset) []config.Preset {
	byName := map[string]int{}
	for i, p := range base {
		byName[p.Name] = i
	}
	for _, p := range stored {
		if i, ok := byName[p.Name]; ok {
			base[i] = p
		} else {
			base = append(base, p)
		}
	}
	return base
}
