package main

import (
	"fmt"
	"log"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"strata/internal/midisync"
)

// MidiHost wires external MIDI ports to the engine: the input listener
// feeds realtime messages into the sync queue, and the output side emits
// clocks when a track is sync master.
type MidiHost struct {
	queue   *midisync.Queue
	stopIn  func()
	sendOut func(midi.Message) error

	clockCh chan midi.Message
	stopCh  chan struct{}
}

// ListMidiPorts returns the names of available in and out ports.
func ListMidiPorts() (ins, outs []string) {
	for _, p := range midi.GetInPorts() {
		ins = append(ins, p.String())
	}
	for _, p := range midi.GetOutPorts() {
		outs = append(outs, p.String())
	}
	return ins, outs
}

// NewMidiHost opens the named ports; empty names leave that side closed.
func NewMidiHost(queue *midisync.Queue, inName, outName string) (*MidiHost, error) {
	h := &MidiHost{
		queue:   queue,
		clockCh: make(chan midi.Message, 256),
		stopCh:  make(chan struct{}),
	}

	if inName != "" {
		in, err := midi.FindInPort(inName)
		if err != nil {
			return nil, fmt.Errorf("midi input %q: %w", inName, err)
		}
		stop, err := midi.ListenTo(in, h.onMessage)
		if err != nil {
			return nil, fmt.Errorf("listen %q: %w", inName, err)
		}
		h.stopIn = stop
		log.Printf("[midi] listening on %s", inName)
	}

	if outName != "" {
		out, err := midi.FindOutPort(outName)
		if err != nil {
			return nil, fmt.Errorf("midi output %q: %w", outName, err)
		}
		send, err := midi.SendTo(out)
		if err != nil {
			return nil, fmt.Errorf("send %q: %w", outName, err)
		}
		h.sendOut = send
		go h.outputLoop()
		log.Printf("[midi] clocking to %s", outName)
	}

	return h, nil
}

// onMessage runs on the MIDI input goroutine. It appends to the sync queue
// and never touches engine state.
func (h *MidiHost) onMessage(msg midi.Message, timestampms int32) {
	ts := int64(timestampms)
	switch {
	case msg.Is(midi.TimingClockMsg):
		h.queue.Add(midisync.StatusClock, ts, 0)
	case msg.Is(midi.StartMsg):
		h.queue.Add(midisync.StatusStart, ts, 0)
	case msg.Is(midi.StopMsg):
		h.queue.Add(midisync.StatusStop, ts, 0)
	case msg.Is(midi.ContinueMsg):
		h.queue.Add(midisync.StatusContinue, ts, 0)
	case msg.Is(midi.SPPMsg):
		var pos uint16
		if msg.GetSPP(&pos) {
			h.queue.Add(midisync.StatusSongPosition, ts, int(pos))
		}
	}
}

// outputLoop drains queued outgoing realtime messages. Sending happens here
// so the interrupt never blocks on a driver call.
func (h *MidiHost) outputLoop() {
	for {
		select {
		case <-h.stopCh:
			return
		case msg := <-h.clockCh:
			if err := h.sendOut(msg); err != nil {
				log.Printf("[midi] send: %v", err)
			}
		}
	}
}

// enqueue drops rather than blocks when the output loop falls behind.
func (h *MidiHost) enqueue(msg midi.Message) {
	if h.sendOut == nil {
		return
	}
	select {
	case h.clockCh <- msg:
	default:
	}
}

// The ClockSender interface, called from the interrupt.

func (h *MidiHost) Start()    { h.enqueue(midi.Start()) }
func (h *MidiHost) Stop()     { h.enqueue(midi.Stop()) }
func (h *MidiHost) Continue() { h.enqueue(midi.Continue()) }
func (h *MidiHost) Clock()    { h.enqueue(midi.TimingClock()) }

// Close releases the ports.
func (h *MidiHost) Close() {
	if h.stopIn != nil {
		h.stopIn()
	}
	close(h.stopCh)
}
