package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/nexus-rooms/internal/session"
)

// Options configures the HTTP surface.
type Options struct {
	MaxMessageSize    int64
	Origins           OriginPolicy
	HandshakeBurst    int
	HandshakeInterval time.Duration
	Session           session.Options
	// Now drives the handshake limiter; nil means time.Now.
	Now func() time.Time
}

// Server accepts WebSocket connections and runs one session per connection.
type Server struct {
	log      *slog.Logger
	router   session.Router
	opts     Options
	upgrader websocket.Upgrader
	limiter  *handshakeLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New creates a Server routing sessions to router.
func New(log *slog.Logger, router session.Router, opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 8192
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:    log,
		router: router,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.Origins.checkOrigin(log),
		},
		limiter: newHandshakeLimiter(opts.HandshakeBurst, opts.HandshakeInterval, opts.Now),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// WebSocketHandler upgrades the request and serves a session on the
// connection until it ends.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.track() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	log := s.log.With("addr", r.RemoteAddr)
	transport := newTransport(conn, log, s.opts.MaxMessageSize)
	sess := session.New(log, s.router, transport, s.opts.Session)

	log.Info("Client connected", "session", sess.ID())
	if err := sess.Serve(s.ctx); err != nil {
		log.Info("Client disconnected", "session", sess.ID(), "error", err)
		return
	}
	log.Info("Client disconnected", "session", sess.ID())
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "nexus-rooms server is running!")
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// CloseSessions ends every running session and waits for them, up to timeout.
// New upgrades are refused afterwards.
func (s *Server) CloseSessions(timeout time.Duration) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All sessions closed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("Session shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}
