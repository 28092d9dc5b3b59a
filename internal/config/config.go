// Package config manages engine configuration: per-loop Presets, per-track
// Setups, and global options. Configuration lives as JSON on disk; the
// running engine reads an immutable snapshot swapped atomically by pointer
// between interrupts, so the interrupt never sees a half-edited config.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// QuantizeMode aligns scheduled events to rhythmic boundaries.
type QuantizeMode string

const (
	QuantizeOff      QuantizeMode = "off"
	QuantizeSubcycle QuantizeMode = "subcycle"
	QuantizeCycle    QuantizeMode = "cycle"
	QuantizeLoop     QuantizeMode = "loop"
)

// MuteMode controls how playback resumes when a mute ends.
type MuteMode string

const (
	// MuteContinue resumes from wherever the loop would be now.
	MuteContinue MuteMode = "continue"
	// MuteStart restarts at frame 0 with latency compensation.
	MuteStart MuteMode = "start"
	// MutePause freezes the loop and stops MIDI clocks while muted.
	MutePause MuteMode = "pause"
)

// ShuffleMode names the preset-driven shuffle shapes.
type ShuffleMode string

const (
	ShuffleReverse ShuffleMode = "reverse"
	ShuffleShift   ShuffleMode = "shift"
	ShuffleSwap    ShuffleMode = "swap"
	ShuffleRandom  ShuffleMode = "random"
)

// WindowUnit sizes loop-window slides and edge adjustments.
type WindowUnit string

const (
	WindowUnitLoop     WindowUnit = "loop"
	WindowUnitCycle    WindowUnit = "cycle"
	WindowUnitSubcycle WindowUnit = "subcycle"
	WindowUnitMsec     WindowUnit = "msec"
	WindowUnitFrame    WindowUnit = "frame"
)

// SyncSource selects what a track synchronizes to.
type SyncSource string

const (
	SyncNone SyncSource = "none"
	SyncMidi SyncSource = "midi"
	SyncHost SyncSource = "host"
)

// Preset is the per-loop behavior bundle.
type Preset struct {
	Name              string       `json:"name"`
	Subcycles         int          `json:"subcycles"`
	Quantize          QuantizeMode `json:"quantize"`
	SwitchQuantize    QuantizeMode `json:"switch_quantize"`
	Mute              MuteMode     `json:"mute_mode"`
	Shuffle           ShuffleMode  `json:"shuffle_mode"`
	RoundMultiply     bool         `json:"round_multiply"`
	OverdubQuantized  bool         `json:"overdub_quantized"`
	RecordBeats       int          `json:"record_beats"` // beats to round a synced record to; 0 rounds to bars
	Feedback          int          `json:"feedback"`     // 0-127 default feedback
	AltFeedback       int          `json:"alt_feedback"`
	WindowSlideUnit   WindowUnit   `json:"window_slide_unit"`
	WindowSlideAmount int          `json:"window_slide_amount"`
	WindowEdgeUnit    WindowUnit   `json:"window_edge_unit"`
	WindowEdgeAmount  int          `json:"window_edge_amount"`
	SustainFunctions  []string     `json:"sustain_functions"`
	MaxUndo           int          `json:"max_undo"` // 0 = unlimited
	MuteCancel        []string     `json:"mute_cancel"`
}

// DefaultPreset returns the stock preset.
func DefaultPreset() Preset {
	return Preset{
		Name:              "Default",
		Subcycles:         4,
		Quantize:          QuantizeOff,
		SwitchQuantize:    QuantizeLoop,
		Mute:              MuteContinue,
		Shuffle:           ShuffleReverse,
		RoundMultiply:     true,
		Feedback:          127,
		AltFeedback:       127,
		WindowSlideUnit:   WindowUnitCycle,
		WindowSlideAmount: 1,
		WindowEdgeUnit:    WindowUnitSubcycle,
		WindowEdgeAmount:  1,
		MuteCancel:        []string{"Record", "Overdub", "Multiply", "Insert"},
	}
}

// IsSustain reports whether the named function is preset-configured to act
// as a sustain function.
func (p *Preset) IsSustain(function string) bool {
	for _, f := range p.SustainFunctions {
		if f == function {
			return true
		}
	}
	return false
}

// IsMuteCancel reports whether the named function cancels mute.
func (p *Preset) IsMuteCancel(function string) bool {
	for _, f := range p.MuteCancel {
		if f == function {
			return true
		}
	}
	return false
}

// TrackSetup is per-track routing and sync.
type TrackSetup struct {
	Name        string     `json:"name"`
	Preset      string     `json:"preset"`
	InputPort   int        `json:"input_port"`
	OutputPort  int        `json:"output_port"`
	Sync        SyncSource `json:"sync"`
	SyncMaster  bool       `json:"sync_master"`
	Feedback    int        `json:"feedback"`
	InputLevel  float32    `json:"input_level"`
	OutputLevel float32    `json:"output_level"`
	Pan         float32    `json:"pan"`
	Mono        bool       `json:"mono"`
}

// DefaultTrackSetup returns the stock per-track setup.
func DefaultTrackSetup(n int) TrackSetup {
	return TrackSetup{
		Name:        "",
		Preset:      "Default",
		Sync:        SyncNone,
		SyncMaster:  n == 0,
		Feedback:    127,
		InputLevel:  1.0,
		OutputLevel: 1.0,
	}
}

// Config is the root configuration snapshot.
type Config struct {
	Presets         []Preset     `json:"presets"`
	Tracks          []TrackSetup `json:"tracks"`
	BeatsPerBar     int          `json:"beats_per_bar"`
	IsolateOverdubs bool         `json:"isolate_overdubs"`
	QuickSaveName   string       `json:"quick_save_name"`
	InputLatency    int          `json:"input_latency"`  // frames; 0 = use device report
	OutputLatency   int          `json:"output_latency"` // frames; 0 = use device report
}

// Default returns a Config with one default preset and the given number of
// tracks.
func Default(tracks int) Config {
	c := Config{
		Presets:       []Preset{DefaultPreset()},
		BeatsPerBar:   4,
		QuickSaveName: "quicksave",
	}
	for i := 0; i < tracks; i++ {
		c.Tracks = append(c.Tracks, DefaultTrackSetup(i))
	}
	return c
}

// PresetNamed resolves a preset by name, falling back to the first preset,
// then to the stock default.
func (c *Config) PresetNamed(name string) Preset {
	for _, p := range c.Presets {
		if p.Name == name {
			return p
		}
	}
	if len(c.Presets) > 0 {
		return c.Presets[0]
	}
	return DefaultPreset()
}

// TrackSetupFor returns the setup for track n, defaulting when absent.
func (c *Config) TrackSetupFor(n int) TrackSetup {
	if n >= 0 && n < len(c.Tracks) {
		return c.Tracks[n]
	}
	return DefaultTrackSetup(n)
}

// Path returns the config file location under the user config directory.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "strata", "config.json"), nil
}

// Load reads the config at path. If the file is missing or unreadable, the
// default config for the given track count is returned — never an error.
func Load(path string, tracks int) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(tracks)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Default(tracks)
	}
	if len(c.Presets) == 0 {
		c.Presets = []Preset{DefaultPreset()}
	}
	if c.BeatsPerBar <= 0 {
		c.BeatsPerBar = 4
	}
	for len(c.Tracks) < tracks {
		c.Tracks = append(c.Tracks, DefaultTrackSetup(len(c.Tracks)))
	}
	return c
}

// Save writes the config to path, creating parent directories.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
