package server

import (
	"net/http"

	"github.com/rs/cors"
)

// Routes returns the application mux. Health endpoints answer cross-origin
// requests from the allowed origins; /ws is guarded by the origin check and the
// per-IP handshake limiter.
func (s *Server) Routes() *http.ServeMux {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.Origins.corsOrigins(),
		AllowedMethods: []string{http.MethodGet},
	})

	mux := http.NewServeMux()
	mux.Handle("/", c.Handler(http.HandlerFunc(HealthHandler)))
	mux.Handle("/healthz", c.Handler(http.HandlerFunc(HealthHandler)))
	mux.Handle("/ws", s.limiter.Middleware(s.log, http.HandlerFunc(s.WebSocketHandler)))
	return mux
}
