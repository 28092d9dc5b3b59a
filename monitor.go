package main

import (
	"encoding/binary"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/hraban/opus.v2"

	"strata/internal/audio"
)

// monitorRingFrames buffers ~1.4 s of master output between the interrupt
// and the encoder goroutine; overflow drops the incoming audio.
const monitorRingFrames = 65536

// clientQueueLen is per-client outbound backlog; slow readers drop frames
// rather than stalling the broadcast.
const clientQueueLen = 64

// Monitor taps the engine's master output and streams it to attached
// websocket listeners as 20 ms Opus frames (PCM16 when the device rate is
// not an Opus rate), interleaved with full JSON state snapshots.
type Monitor struct {
	sampleRate int
	frameSize  int // frames per 20 ms packet

	ring [monitorRingFrames * audio.Channels]float32
	head atomic.Int64 // written samples; interrupt side
	tail int64        // consumed samples; encoder side

	dropped atomic.Uint64

	mu      sync.Mutex
	clients map[*monitorClient]struct{}

	sentFrames atomic.Uint64
}

type monitorClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewMonitor builds a monitor for the given device sample rate.
func NewMonitor(sampleRate int) *Monitor {
	return &Monitor{
		sampleRate: sampleRate,
		frameSize:  sampleRate / 50,
		clients:    map[*monitorClient]struct{}{},
	}
}

// Tap copies master output into the ring. Interrupt side; never blocks.
func (m *Monitor) Tap(out []float32, frames int) {
	m.mu.Lock()
	n := len(m.clients)
	m.mu.Unlock()
	if n == 0 {
		return
	}
	head := m.head.Load()
	samples := frames * audio.Channels
	if head-m.tailApprox() > int64(len(m.ring)-samples) {
		m.dropped.Add(uint64(frames))
		return
	}
	for i := 0; i < samples; i++ {
		m.ring[(head+int64(i))%int64(len(m.ring))] = out[i]
	}
	m.head.Store(head + int64(samples))
}

// tailApprox reads the consumer position; only used for overflow checks so
// staleness is fine.
func (m *Monitor) tailApprox() int64 {
	return atomic.LoadInt64(&m.tail)
}

// Dropped returns the dropped-frame counter for metrics.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// SentFrames returns how many packets have been broadcast.
func (m *Monitor) SentFrames() uint64 { return m.sentFrames.Load() }

// Run encodes tapped audio and broadcasts it until stop closes. Runs on its
// own goroutine.
func (m *Monitor) Run(stop <-chan struct{}) {
	var enc *opus.Encoder
	if m.sampleRate == 48000 || m.sampleRate == 24000 || m.sampleRate == 16000 ||
		m.sampleRate == 12000 || m.sampleRate == 8000 {
		var err error
		enc, err = opus.NewEncoder(m.sampleRate, audio.Channels, opus.AppAudio)
		if err != nil {
			log.Printf("[monitor] opus encoder: %v (falling back to PCM)", err)
			enc = nil
		} else {
			enc.SetBitrate(96000)
		}
	} else {
		log.Printf("[monitor] sample rate %d unsupported by opus, streaming PCM16", m.sampleRate)
	}

	pcmFloat := make([]float32, m.frameSize*audio.Channels)
	pcmInt := make([]int16, m.frameSize*audio.Channels)
	packet := make([]byte, 4000)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for m.head.Load()-atomic.LoadInt64(&m.tail) >= int64(len(pcmFloat)) {
			tail := atomic.LoadInt64(&m.tail)
			for i := range pcmFloat {
				pcmFloat[i] = m.ring[(tail+int64(i))%int64(len(m.ring))]
			}
			atomic.StoreInt64(&m.tail, tail+int64(len(pcmFloat)))

			for i, s := range pcmFloat {
				if s > 1 {
					s = 1
				} else if s < -1 {
					s = -1
				}
				pcmInt[i] = int16(s * 32767)
			}

			var payload []byte
			kind := byte('p') // pcm16
			if enc != nil {
				n, err := enc.Encode(pcmInt, packet)
				if err != nil {
					log.Printf("[monitor] encode: %v", err)
					continue
				}
				payload = packet[:n]
				kind = 'o' // opus
			} else {
				payload = make([]byte, len(pcmInt)*2)
				for i, v := range pcmInt {
					binary.LittleEndian.PutUint16(payload[i*2:], uint16(v))
				}
			}

			// frame: [kind:1][payload]
			msg := make([]byte, 1+len(payload))
			msg[0] = kind
			copy(msg[1:], payload)
			m.broadcast(websocket.BinaryMessage, msg)
			m.sentFrames.Add(1)
		}
	}
}

func (m *Monitor) broadcast(msgType int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		select {
		case c.send <- data:
		default:
			// slow reader: drop the frame
		}
	}
	_ = msgType
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the monitor is LAN tooling; same-origin policy is left to the
	// deployment
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request into a monitor stream.
func (m *Monitor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor] upgrade: %v", err)
		return
	}
	c := &monitorClient{conn: conn, send: make(chan []byte, clientQueueLen)}
	m.mu.Lock()
	m.clients[c] = struct{}{}
	n := len(m.clients)
	m.mu.Unlock()
	log.Printf("[monitor] listener attached (%d total)", n)

	go m.writer(c)
	// reader: discard until close so pings are serviced
	go func() {
		defer m.detach(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *Monitor) writer(c *monitorClient) {
	defer c.conn.Close()
	for data := range c.send {
		msgType := websocket.BinaryMessage
		if len(data) > 0 && data[0] == '{' {
			msgType = websocket.TextMessage
		}
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func (m *Monitor) detach(c *monitorClient) {
	m.mu.Lock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
	n := len(m.clients)
	m.mu.Unlock()
	log.Printf("[monitor] listener detached (%d total)", n)
}

// PublishState broadcasts the full engine state as a JSON text message.
// Called from the maintenance goroutine.
func (m *Monitor) PublishState(e *Engine) {
	m.mu.Lock()
	n := len(m.clients)
	m.mu.Unlock()
	if n == 0 {
		return
	}
	data, err := json.Marshal(engineState(e))
	if err != nil {
		return
	}
	m.broadcast(websocket.TextMessage, data)
}

// TrackState is the exported per-track view used by the API and monitor.
type TrackState struct {
	Track    int    `json:"track"`
	Mode     string `json:"mode"`
	Frames   int    `json:"frames"`
	Frame    int    `json:"frame"`
	Cycles   int    `json:"cycles"`
	Layers   int    `json:"layers"`
	Feedback int    `json:"feedback"`
	Mute     bool   `json:"mute"`
	Pause    bool   `json:"pause"`
	Overdub  bool   `json:"overdub"`
	Reverse  bool   `json:"reverse"`
	Window   bool   `json:"window"`
	Events   int    `json:"events"`
	Focused  bool   `json:"focused"`
}

// EngineState is the exported engine view.
type EngineState struct {
	Tracks     []TrackState `json:"tracks"`
	Interrupts uint64       `json:"interrupts"`
	SampleRate int          `json:"sample_rate"`
	Receiving  bool         `json:"receiving_clocks"`
}

func engineState(e *Engine) EngineState {
	st := EngineState{
		Interrupts: e.recorder.Interrupts(),
		SampleRate: e.sampleRate,
		Receiving:  e.sync.Receiving(),
	}
	for _, t := range e.tracks {
		l := t.Loop()
		ts := TrackState{
			Track:    t.Number(),
			Mode:     l.Mode().String(),
			Frames:   l.Frames(),
			Frame:    l.Frame(),
			Feedback: l.Feedback(),
			Mute:     l.MuteMode(),
			Pause:    l.Paused(),
			Overdub:  l.Overdub(),
			Reverse:  l.Reverse(),
			Events:   l.Events().Count(),
			Focused:  t.Focused(),
		}
		if pl := l.PlayLayer(); pl != nil {
			ts.Cycles = pl.Cycles()
			ts.Window = pl.IsWindowing()
			for cur := pl; cur != nil; cur = cur.Prev() {
				ts.Layers++
			}
		}
		st.Tracks = append(st.Tracks, ts)
	}
	return st
}
