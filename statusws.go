package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StatusWebSocket pushes jitter-buffer/mixer/party-clock state to any
// connected debug client, grounded on the teacher's websocket.go
// (wsConn + upgrader + writeJSON pattern), generalized from audio/spectrum
// streaming to a periodic JSON status snapshot the spec's UI consumes
// (spec.md §4.2 "The UI consumes these for visualization").
type StatusWebSocket struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	snapshot func() StatusSnapshot
}

// PeerStatus reports one (peer, stream) jitter buffer's state.
type PeerStatus struct {
	Peer          string  `json:"peer"`
	Stream        uint64  `json:"stream"`
	LossRate      float64 `json:"loss_rate"`
	TargetLatency int64   `json:"target_latency"`
	AudioLevel    int64   `json:"audio_level"`
}

// StatusSnapshot is the JSON payload broadcast to status websocket clients.
type StatusSnapshot struct {
	Timestamp    int64        `json:"timestamp"`
	ClockSynced  bool         `json:"clock_synced"`
	ClockOffset  int64        `json:"clock_offset_us"`
	MixerActive  int          `json:"mixer_active_buffers"`
	SyncedActive int          `json:"synced_active_streams"`
	Peers        []PeerStatus `json:"peers"`
}

// NewStatusWebSocket builds a handler that calls snapshot() on every push
// tick to produce the broadcast payload.
func NewStatusWebSocket(snapshot func() StatusSnapshot) *StatusWebSocket {
	return &StatusWebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]struct{}),
		snapshot: snapshot,
	}
}

// ServeHTTP upgrades the connection and registers it for broadcasts until
// it disconnects.
func (s *StatusWebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: statusws: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard inbound frames; this is a push-only feed, but we
	// must still read to detect client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run broadcasts a fresh snapshot to every connected client on each tick
// until stop is closed.
func (s *StatusWebSocket) Run(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.broadcast(s.snapshot())
		}
	}
}

func (s *StatusWebSocket) broadcast(snap StatusSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("WARN: statusws: marshal failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}
