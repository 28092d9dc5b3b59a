package main

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"strata/internal/audio"
)

// AudioDevice describes an available audio device.
type AudioDevice struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	Default bool   `json:"default"`
	Latency int    `json:"latency_frames"`
}

// DeviceHost owns the PortAudio duplex stream. The blocking Read/Write loop
// on its goroutine is the engine's interrupt thread.
type DeviceHost struct {
	engine *Engine
	stream *portaudio.Stream

	inBuf  []float32
	outBuf []float32
	frames int

	running atomic.Bool
	done    chan struct{}
}

// ListAudioDevices returns every device PortAudio reports.
func ListAudioDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()
	var out []AudioDevice
	for i, d := range devices {
		out = append(out, AudioDevice{
			ID:      i,
			Name:    d.Name,
			Inputs:  d.MaxInputChannels,
			Outputs: d.MaxOutputChannels,
			Default: d == defIn || d == defOut,
			Latency: int(d.DefaultLowInputLatency.Seconds() * d.DefaultSampleRate),
		})
	}
	return out, nil
}

// resolveDevice returns the device at idx if valid, otherwise calls fallback.
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Bind attaches the engine before Start; the stream is opened first so its
// reported latencies can feed engine construction.
func (h *DeviceHost) Bind(e *Engine) { h.engine = e }

// NewDeviceHost opens a duplex stream on the selected devices. Bind an
// engine before calling Start.
func NewDeviceHost(e *Engine, inputID, outputID, sampleRate, frames int) (*DeviceHost, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	inputDev, err := resolveDevice(devices, inputID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("input device: %w", err)
	}
	outputDev, err := resolveDevice(devices, outputID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, fmt.Errorf("output device: %w", err)
	}

	h := &DeviceHost{
		engine: e,
		frames: frames,
		inBuf:  make([]float32, frames*audio.Channels),
		outBuf: make([]float32, frames*audio.Channels),
		done:   make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: audio.Channels,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: audio.Channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, h.inBuf, h.outBuf)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	h.stream = stream
	log.Printf("[audio] duplex stream: in=%s out=%s rate=%d frames=%d",
		inputDev.Name, outputDev.Name, sampleRate, frames)
	return h, nil
}

// ReportedLatencies returns device-reported input/output latency in frames.
func (h *DeviceHost) ReportedLatencies(sampleRate int) (in, out int) {
	info := h.stream.Info()
	if info == nil {
		return 0, 0
	}
	return int(info.InputLatency.Seconds() * float64(sampleRate)),
		int(info.OutputLatency.Seconds() * float64(sampleRate))
}

// Start begins the stream and the interrupt loop.
func (h *DeviceHost) Start() error {
	if err := h.stream.Start(); err != nil {
		return err
	}
	h.running.Store(true)
	go h.interruptLoop()
	return nil
}

// interruptLoop is the audio thread: read a block, run the engine, write
// the result. PortAudio's blocking API paces us at the device rate.
func (h *DeviceHost) interruptLoop() {
	defer close(h.done)
	for h.running.Load() {
		if err := h.stream.Read(); err != nil {
			if h.running.Load() {
				log.Printf("[audio] read: %v", err)
			}
			return
		}
		h.engine.ProcessAudio(h.inBuf, h.outBuf, h.frames)
		if err := h.stream.Write(); err != nil {
			if h.running.Load() {
				log.Printf("[audio] write: %v", err)
			}
			return
		}
	}
}

// Stop halts the stream.
//
// Sequence matters: Stop unblocks any pending Read/Write so the interrupt
// loop can exit; only then is it safe to Close the native stream object.
func (h *DeviceHost) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	h.stream.Stop()
	<-h.done
	h.stream.Close()
	log.Println("[audio] stopped")
}
