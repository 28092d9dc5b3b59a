package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"strata/internal/audio"
)

func TestMonitorTapIgnoredWithoutListeners(t *testing.T) {
	m := NewMonitor(48000)
	buf := make([]float32, 256*audio.Channels)
	m.Tap(buf, 256)
	if m.head.Load() != 0 {
		t.Error("tap buffered audio with no listeners attached")
	}
}

func TestMonitorStreamsFrames(t *testing.T) {
	m := NewMonitor(48000)
	stop := make(chan struct{})
	defer close(stop)
	go m.Run(stop)

	srv := httptest.NewServer(httpHandler(m))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the attach a moment, then feed a second of audio
	time.Sleep(50 * time.Millisecond)
	buf := make([]float32, 960*audio.Channels)
	for i := range buf {
		buf[i] = 0.25
	}
	for i := 0; i < 50; i++ {
		m.Tap(buf, 960)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", msgType)
	}
	if len(data) < 2 || (data[0] != 'o' && data[0] != 'p') {
		t.Errorf("frame header = %q, want opus or pcm marker", data[0])
	}
	if m.SentFrames() == 0 {
		t.Error("sent-frame counter not advancing")
	}
}

func TestMonitorPCMFallbackAtOddRate(t *testing.T) {
	// 44100 is not an opus rate; frames must arrive as PCM16
	m := NewMonitor(44100)
	stop := make(chan struct{})
	defer close(stop)
	go m.Run(stop)

	srv := httptest.NewServer(httpHandler(m))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	buf := make([]float32, m.frameSize*audio.Channels)
	for i := 0; i < 20; i++ {
		m.Tap(buf, m.frameSize)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if data[0] != 'p' {
		t.Errorf("frame kind = %q, want pcm", data[0])
	}
	if want := 1 + m.frameSize*audio.Channels*2; len(data) != want {
		t.Errorf("pcm frame size = %d, want %d", len(data), want)
	}
}

// httpHandler adapts the monitor's websocket endpoint for httptest.
func httpHandler(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/monitor") {
			m.ServeWS(w, r)
		}
	}
}
