// Package reaper periodically evicts rooms that stayed empty past their idle
// TTL.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

//go:generate go run go.uber.org/mock/mockgen -source=reaper.go -destination=../mocks/mock_evictor.go -package=mocks

// Evictor is the part of the hub the reaper drives. IdleRooms yields
// candidates; Evict re-checks and removes one.
type Evictor interface {
	IdleRooms(ctx context.Context, ttl time.Duration) ([]string, error)
	Evict(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// DefaultInterval is the sweep tick used when none is configured.
const DefaultInterval = time.Second

// Reaper sweeps an Evictor on a fixed tick.
type Reaper struct {
	log      *slog.Logger
	hub      Evictor
	ttl      time.Duration
	interval time.Duration
}

// New creates a Reaper evicting rooms idle for ttl, sweeping every interval.
func New(log *slog.Logger, hub Evictor, ttl, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{log: log, hub: hub, ttl: ttl, interval: interval}
}

// Run sweeps until ctx is done. A failed sweep is logged and retried on the
// next tick.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reaper started", "ttl", r.ttl, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Context done, stopping reaper")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("Sweep failed", "error", err)
			}
		}
	}
}

// Sweep evicts every candidate that is still idle when re-checked and returns
// the names actually removed. Candidates that gained a member are skipped.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	candidates, err := r.hub.IdleRooms(ctx, r.ttl)
	if err != nil {
		return nil, err
	}

	var evicted []string
	for _, name := range candidates {
		ok, err := r.hub.Evict(ctx, name, r.ttl)
		if err != nil {
			return evicted, err
		}
		if !ok {
			r.log.Debug("Room survived eviction check", "room", name)
			continue
		}
		evicted = append(evicted, name)
	}

	if len(evicted) > 0 {
		r.log.Info("Evicted idle rooms", "count", len(evicted), "rooms", evicted)
	}
	return evicted, nil
}
