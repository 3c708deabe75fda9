package server

import (
	"log/slog"
	"net/http"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-rooms/internal/config"
)

// OriginPolicy decides which browser origins may open a WebSocket.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from normalized origins. allowAll accepts any
// request that carries a well-formed Origin header.
func NewOriginPolicy(origins []string, allowAll bool) OriginPolicy {
	p := OriginPolicy{allowAll: allowAll, allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		p.allowed[o] = struct{}{}
	}
	return p
}

// Allows reports whether r comes from a permitted origin. Requests without an
// Origin header are rejected unless every origin is allowed.
func (p OriginPolicy) Allows(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return p.allowAll
	}

	origin, ok := config.NormalizeOrigin(header)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[origin]
	return exists
}

func (p OriginPolicy) checkOrigin(log *slog.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if p.Allows(r) {
			return true
		}
		log.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"), "addr", r.RemoteAddr)
		return false
	}
}

// corsOrigins lists the policy in the form rs/cors expects.
func (p OriginPolicy) corsOrigins() []string {
	if p.allowAll {
		return []string{"*"}
	}
	return lo.Keys(p.allowed)
}
