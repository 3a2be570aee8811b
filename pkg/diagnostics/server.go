package diagnostics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event is one internal lifecycle event fanned out to attached developer
// clients: state-changed, transcript-event, reconnectAttempt, per §4.12.
type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Server broadcasts Events to every attached websocket client. It is the
// reverse of the teacher's StreamSynthesize loop: server push instead of
// client pull over the same github.com/coder/websocket transport.
type Server struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer builds an empty diagnostics fan-out server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades incoming requests to websocket connections and keeps
// them registered for broadcast until the client disconnects.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("diagnostics: accept failed", "error", err)
			return
		}
		s.register(conn)
		defer s.unregister(conn)

		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})
}

func (s *Server) register(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Broadcast pushes event to every attached client, dropping (and
// unregistering) any connection that fails to accept it.
func (s *Server) Broadcast(ctx context.Context, event Event) {
	s.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := wsjson.Write(writeCtx, c, event)
		cancel()
		if err != nil {
			s.logger.Warn("diagnostics: broadcast write failed, dropping client", "error", err)
			c.Close(websocket.StatusAbnormalClosure, "broadcast failed")
			s.unregister(c)
		}
	}
}

// ClientCount returns the number of currently attached diagnostics clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every attached client.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close(websocket.StatusNormalClosure, "server closing")
		delete(s.conns, c)
	}
	return nil
}
