// Package project persists the engine's layer graph: a JSON descriptor plus
// one WAV file per layer of local audio. Saving and loading happen on the
// maintenance goroutine while the engine is quiesced; the interrupt never
// performs file I/O.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"strata/internal/audio"
	"strata/internal/layer"
	"strata/internal/loop"
	"strata/internal/wavio"
)

// Version is bumped on incompatible descriptor changes.
const Version = 1

// File is the root of the serialized project descriptor.
type File struct {
	Version int     `json:"version"`
	Tracks  []Track `json:"tracks"`
}

// Track captures one track's loop history, layers ordered oldest first.
type Track struct {
	Layers []Layer `json:"layers"`
}

// Layer is one history generation. Audio names the WAV holding the layer's
// local audio, empty when the layer recorded nothing of its own.
type Layer struct {
	Audio         string    `json:"audio,omitempty"`
	Overdub       string    `json:"overdub,omitempty"`
	Frames        int       `json:"frames"`
	Cycles        int       `json:"cycles"`
	HistoryOffset int       `json:"history_offset"`
	Checkpoint    string    `json:"checkpoint,omitempty"`
	WindowOffset  int       `json:"window_offset"`
	Segments      []Segment `json:"segments,omitempty"`
}

// Segment references an earlier layer by its index within the track's
// layer list.
type Segment struct {
	Offset     int  `json:"offset"`
	Layer      int  `json:"layer"`
	StartFrame int  `json:"start_frame"`
	Frames     int  `json:"frames"`
	Feedback   int  `json:"feedback"`
	Reverse    bool `json:"reverse,omitempty"`
	FadeLeft   bool `json:"fade_left,omitempty"`
	FadeRight  bool `json:"fade_right,omitempty"`
	CopyLeft   int  `json:"copy_left,omitempty"`
	CopyRight  int  `json:"copy_right,omitempty"`
}

// Save writes the project descriptor and layer audio under dir with the
// given base name. format selects the WAV sample encoding.
func Save(dir, name string, tracks []*loop.Track, format wavio.Format) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	pf := File{Version: Version}

	for tn, t := range tracks {
		var pt Track
		chain := layerChain(t.Loop().PlayLayer())
		index := map[*layer.Layer]int{}
		for i, l := range chain {
			index[l] = i
		}
		for i, l := range chain {
			pl := Layer{
				Frames:        l.Frames(),
				Cycles:        l.Cycles(),
				HistoryOffset: l.HistoryOffset(),
				WindowOffset:  l.WindowOffset(),
				Checkpoint:    checkpointName(l.Checkpoint()),
			}
			if !l.Audio().IsEmpty() {
				file := fmt.Sprintf("%s-t%d-l%d.wav", name, tn+1, i+1)
				if err := wavio.Write(filepath.Join(dir, file), l.Audio(), format); err != nil {
					return fmt.Errorf("layer audio: %w", err)
				}
				pl.Audio = file
			}
			if od := l.Overdub(); od != nil && !od.IsEmpty() {
				file := fmt.Sprintf("%s-t%d-l%d-overdub.wav", name, tn+1, i+1)
				if err := wavio.Write(filepath.Join(dir, file), od, format); err != nil {
					return fmt.Errorf("overdub audio: %w", err)
				}
				pl.Overdub = file
			}
			for _, s := range l.Segments() {
				ref, ok := index[s.Layer()]
				if !ok {
					// segments only point backward; anything else is corrupt
					return fmt.Errorf("segment references layer outside history")
				}
				pl.Segments = append(pl.Segments, Segment{
					Offset:     s.Offset,
					Layer:      ref,
					StartFrame: s.StartFrame,
					Frames:     s.Frames,
					Feedback:   s.Feedback,
					Reverse:    s.Reverse,
					FadeLeft:   s.FadeLeft,
					FadeRight:  s.FadeRight,
					CopyLeft:   s.LocalCopyLeft,
					CopyRight:  s.LocalCopyRight,
				})
			}
			pt.Layers = append(pt.Layers, pl)
		}
		pf.Tracks = append(pf.Tracks, pt)
	}

	data, err := json.MarshalIndent(&pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".strata.json"), data, 0o644)
}

// Load reads a project saved by Save and installs it into the tracks.
func Load(dir, name string, tracks []*loop.Track, apool *audio.Pool) error {
	data, err := os.ReadFile(filepath.Join(dir, name+".strata.json"))
	if err != nil {
		return err
	}
	var pf File
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("project descriptor: %w", err)
	}
	if pf.Version != Version {
		return fmt.Errorf("unsupported project version %d", pf.Version)
	}

	for tn, pt := range pf.Tracks {
		if tn >= len(tracks) {
			break
		}
		t := tracks[tn]
		lp := t.Loop().LayerPool()

		chain := make([]*layer.Layer, len(pt.Layers))
		for i, pl := range pt.Layers {
			l := lp.NewLayer()
			l.SetCycles(pl.Cycles)
			l.SetHistoryOffset(pl.HistoryOffset)
			l.SetWindowOffset(pl.WindowOffset)
			l.SetCheckpoint(checkpointValue(pl.Checkpoint))
			if pl.Audio != "" {
				a, err := wavio.Read(filepath.Join(dir, pl.Audio), apool)
				if err != nil {
					return fmt.Errorf("layer audio: %w", err)
				}
				l.Audio().Copy(a, 127)
				apool.FreeAudio(a)
			}
			l.Resize(pl.Frames)
			if i > 0 {
				l.SetPrev(chain[i-1])
			}
			chain[i] = l
		}
		// segments resolve once every layer exists
		for i, pl := range pt.Layers {
			l := chain[i]
			for _, ps := range pl.Segments {
				if ps.Layer < 0 || ps.Layer >= i {
					return fmt.Errorf("segment layer index %d out of range", ps.Layer)
				}
				s := layer.NewSegment(chain[ps.Layer])
				s.Offset = ps.Offset
				s.StartFrame = ps.StartFrame
				s.Frames = ps.Frames
				s.Feedback = ps.Feedback
				s.Reverse = ps.Reverse
				s.FadeLeft = ps.FadeLeft
				s.FadeRight = ps.FadeRight
				s.LocalCopyLeft = ps.CopyLeft
				s.LocalCopyRight = ps.CopyRight
				l.AddSegment(s)
			}
			// a referent shorter than the declared range means a corrupted
			// project; compile truncates and traces
			l.CompileSegmentFades(false)
			l.SetFinalized(true)
		}

		if len(chain) > 0 {
			t.Loop().InstallHistory(chain[len(chain)-1])
		}
	}
	return nil
}

// layerChain returns the history oldest first, excluding a windowing layer
// (windows are views, rebuilt rather than persisted).
func layerChain(newest *layer.Layer) []*layer.Layer {
	var chain []*layer.Layer
	for l := newest; l != nil; l = l.Prev() {
		if l.IsWindowing() {
			continue
		}
		chain = append(chain, l)
	}
	// reverse to oldest-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func checkpointName(c layer.Checkpoint) string {
	switch c {
	case layer.CheckpointOn:
		return "on"
	case layer.CheckpointOff:
		return "off"
	}
	return ""
}

func checkpointValue(s string) layer.Checkpoint {
	switch s {
	case "on":
		return layer.CheckpointOn
	case "off":
		return layer.CheckpointOff
	}
	return layer.CheckpointUnspecified
}
