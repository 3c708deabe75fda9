package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/nexus-rooms/internal/bufpool"
	"github.com/Tyrowin/nexus-rooms/internal/config"
	"github.com/Tyrowin/nexus-rooms/internal/hub"
	"github.com/Tyrowin/nexus-rooms/internal/reaper"
	"github.com/Tyrowin/nexus-rooms/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and shuts them down in order: stop accepting
// connections, stop the reaper, stop the hub and its rooms, then wait for the
// remaining sessions.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	pool := bufpool.New()
	h := hub.NewHub(log, cfg.HubOptions(pool))
	go h.Run()

	origins, allowAll := cfg.Origins(log)
	srv := server.New(log, h, server.Options{
		MaxMessageSize:    cfg.MaxMessageSize,
		Origins:           server.NewOriginPolicy(origins, allowAll),
		HandshakeBurst:    cfg.HandshakeBurst,
		HandshakeInterval: cfg.HandshakeInterval,
		Session:           cfg.SessionOptions(pool),
	})
	httpServer := server.CreateServer(cfg.Addr, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(log, httpServer)
	})
	g.Go(func() error {
		return reaper.New(log, h, cfg.RoomTTL, cfg.ReapInterval).Run(reaperCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		var errs []error
		errs = append(errs, server.ShutdownServer(log, httpServer, cfg.ShutdownTimeout))
		stopReaper()
		errs = append(errs, h.Shutdown(cfg.ShutdownTimeout))
		errs = append(errs, srv.CloseSessions(cfg.ShutdownTimeout))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	stats := pool.Stats()
	log.Info("Program stopped cleanly", "buffer_checkouts", stats.Checkouts, "buffer_allocs", stats.Allocs)
	return nil
}
