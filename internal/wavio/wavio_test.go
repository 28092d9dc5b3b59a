package wavio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"strata/internal/audio"
)

func testAudio(t *testing.T, pool *audio.Pool, frames int) *audio.Audio {
	t.Helper()
	a := pool.NewAudio()
	samples := make([]float32, frames*audio.Channels)
	for i := 0; i < frames; i++ {
		v := float32(math.Sin(float64(i) * 0.01))
		samples[i*audio.Channels] = v
		samples[i*audio.Channels+1] = -v
	}
	a.Put(&audio.Buffer{Samples: samples, Frames: frames, Channels: audio.Channels}, 0)
	return a
}

func TestFloat32RoundTrip(t *testing.T) {
	pool := audio.NewPool(8)
	pool.Maintain()
	a := testAudio(t, pool, 4000)
	path := filepath.Join(t.TempDir(), "loop.wav")

	if err := Write(path, a, FormatFloat32); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := Read(path, pool)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if b.Frames() != a.Frames() {
		t.Fatalf("frames = %d, want %d", b.Frames(), a.Frames())
	}
	// float32 is lossless: samples must match exactly
	bufA := &audio.Buffer{Samples: make([]float32, audio.Channels), Frames: 1, Channels: audio.Channels}
	bufB := &audio.Buffer{Samples: make([]float32, audio.Channels), Frames: 1, Channels: audio.Channels}
	for _, frame := range []int{0, 1, 1999, 3999} {
		zero(bufA.Samples)
		zero(bufB.Samples)
		a.Get(bufA, frame)
		b.Get(bufB, frame)
		if bufA.Samples[0] != bufB.Samples[0] || bufA.Samples[1] != bufB.Samples[1] {
			t.Errorf("frame %d: %v != %v", frame, bufA.Samples, bufB.Samples)
		}
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	pool := audio.NewPool(8)
	pool.Maintain()
	a := testAudio(t, pool, 2000)
	path := filepath.Join(t.TempDir(), "loop16.wav")

	if err := Write(path, a, FormatPCM16); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := Read(path, pool)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if b.Frames() != a.Frames() {
		t.Fatalf("frames = %d, want %d", b.Frames(), a.Frames())
	}

	// 16-bit quantization: within one LSB
	bufA := &audio.Buffer{Samples: make([]float32, audio.Channels), Frames: 1, Channels: audio.Channels}
	bufB := &audio.Buffer{Samples: make([]float32, audio.Channels), Frames: 1, Channels: audio.Channels}
	for frame := 0; frame < 2000; frame += 97 {
		zero(bufA.Samples)
		zero(bufB.Samples)
		a.Get(bufA, frame)
		b.Get(bufB, frame)
		for ch := 0; ch < audio.Channels; ch++ {
			diff := float64(bufA.Samples[ch] - bufB.Samples[ch])
			if math.Abs(diff) > 1.0/32000 {
				t.Fatalf("frame %d ch %d: %f vs %f", frame, ch, bufA.Samples[ch], bufB.Samples[ch])
			}
		}
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	pool := audio.NewPool(8)
	pool.Maintain()
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path, pool); err == nil {
		t.Error("reading garbage succeeded")
	}
}
