package main

import (
	"context"
	"log"
	"math"
	"time"

	"strata/internal/audio"
)

// RunToneBot drives the engine without devices: a 440 Hz tone feeds the
// inputs at the interrupt cadence so the full record/overdub path can be
// exercised (and monitored remotely) on a machine with no sound hardware.
func RunToneBot(ctx context.Context, e *Engine, frames int) {
	interval := time.Duration(float64(frames) / float64(e.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	in := make([]float32, frames*audio.Channels)
	out := make([]float32, frames*audio.Channels)
	phase := 0.0
	inc := 2 * math.Pi * 440 / float64(e.sampleRate)

	log.Printf("[tonebot] virtual device: %d frames every %v", frames, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := 0; i < frames; i++ {
			s := float32(math.Sin(phase)) * 0.5
			phase += inc
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
			in[i*audio.Channels] = s
			in[i*audio.Channels+1] = s
		}
		e.ProcessAudio(in, out, frames)
	}
}
