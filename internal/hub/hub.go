package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/lighter-data/internal/metrics"
)

// WriteTimeout bounds one subscriber write. A client slower than this
// is detached rather than allowed to stall the broadcast.
const WriteTimeout = 10 * time.Second

// Session is one attached client. Writes are serialized by a mutex so
// broadcasts and one-shot sends never interleave on the socket.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{conn: conn}
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Hub is the broadcast fan-out.
type Hub struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	logger   *slog.Logger
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[*Session]struct{}),
		logger:   logger.With("component", "hub"),
	}
}

// Attach adds a session to the subscriber set.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.BroadcastClients.Set(float64(count))
	h.logger.Info("client attached", "clients", count)
}

// Detach removes a session and closes its socket. Detaching an absent
// session is a no-op.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	_, present := h.sessions[s]
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mu.Unlock()

	if !present {
		return
	}
	s.Close()
	metrics.BroadcastClients.Set(float64(count))
	h.logger.Info("client detached", "clients", count)
}

// Count reports the attached subscriber count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast serializes frame once and writes it to every subscriber.
// Subscribers whose write fails are detached after the sweep.
func (h *Hub) Broadcast(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("unmarshalable broadcast frame", "err", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	var failed []*Session
	for _, s := range targets {
		if err := s.write(data); err != nil {
			failed = append(failed, s)
		}
	}

	for _, s := range failed {
		h.logger.Warn("broadcast write failed, detaching client")
		h.Detach(s)
	}
}

// SendTo writes frame to one subscriber. The caller handles failure,
// typically by detaching.
func (h *Hub) SendTo(s *Session, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.write(data)
}
