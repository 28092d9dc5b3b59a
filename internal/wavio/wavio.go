// Package wavio reads and writes loop audio as WAV files. Two formats are
// supported: 32-bit IEEE float (the default, lossless for engine content)
// and 16-bit PCM. All file I/O happens on the maintenance goroutine; the
// interrupt never touches the disk.
package wavio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"strata/internal/audio"
)

// Format selects the sample encoding for written files.
type Format int

const (
	// FormatFloat32 writes 32-bit IEEE float samples.
	FormatFloat32 Format = iota
	// FormatPCM16 writes 16-bit PCM samples.
	FormatPCM16
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// chunkFrames is how many frames are staged per write; keeps the staging
// buffer modest for long loops.
const chunkFrames = 8192

// Write encodes a to path in the given format.
func Write(path string, a *audio.Audio, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	frames := a.Frames()
	channels := a.NumChannels()
	buf := &audio.Buffer{
		Samples:  make([]float32, chunkFrames*channels),
		Channels: channels,
	}

	if format == FormatFloat32 {
		enc := wav.NewEncoder(f, a.SampleRate(), 32, channels, wavFormatFloat)
		for frame := 0; frame < frames; frame += chunkFrames {
			n := chunkFrames
			if frames-frame < n {
				n = frames - frame
			}
			buf.Frames = n
			zero(buf.Samples)
			a.Get(buf, frame)
			for i := 0; i < n*channels; i++ {
				if err := enc.WriteFrame(buf.Samples[i]); err != nil {
					return fmt.Errorf("write frame: %w", err)
				}
			}
		}
		return enc.Close()
	}

	enc := wav.NewEncoder(f, a.SampleRate(), 16, channels, wavFormatPCM)
	ints := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: a.SampleRate()},
		SourceBitDepth: 16,
	}
	for frame := 0; frame < frames; frame += chunkFrames {
		n := chunkFrames
		if frames-frame < n {
			n = frames - frame
		}
		buf.Frames = n
		zero(buf.Samples)
		a.Get(buf, frame)
		data := make([]int, n*channels)
		for i := range data {
			s := int(math.Round(float64(clamp(buf.Samples[i])) * 32768))
			if s > math.MaxInt16 {
				s = math.MaxInt16
			}
			data[i] = s
		}
		ints.Data = data
		if err := enc.Write(ints); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}
	return enc.Close()
}

// Read decodes a WAV file into a pool-backed Audio. Both engine formats are
// accepted; other channel counts are refused.
func Read(path string, pool *audio.Pool) (*audio.Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	if int(dec.NumChans) != audio.Channels {
		return nil, fmt.Errorf("unsupported channel count %d in %s", dec.NumChans, path)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := audio.Channels
	samples := make([]float32, len(pcm.Data))
	switch {
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 32:
		// the decoder hands float bits back as raw int32 patterns
		for i, v := range pcm.Data {
			samples[i] = math.Float32frombits(uint32(int32(v)))
		}
	case dec.BitDepth == 16:
		for i, v := range pcm.Data {
			samples[i] = float32(v) / 32768.0
		}
	case dec.BitDepth == 24:
		for i, v := range pcm.Data {
			samples[i] = float32(v) / 8388608.0
		}
	case dec.BitDepth == 32:
		for i, v := range pcm.Data {
			samples[i] = float32(v) / 2147483648.0
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth %d in %s", dec.BitDepth, path)
	}

	a := pool.NewAudio()
	a.SetSampleRate(int(dec.SampleRate))
	frames := len(samples) / channels
	a.Put(&audio.Buffer{Samples: samples, Frames: frames, Channels: channels}, 0)
	return a, nil
}

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
