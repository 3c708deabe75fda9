// Package config loads the server configuration from the environment, with an
// optional .env file, and turns it into the option structs of each component.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/nexus-rooms/internal/bufpool"
	"github.com/Tyrowin/nexus-rooms/internal/hub"
	"github.com/Tyrowin/nexus-rooms/internal/room"
	"github.com/Tyrowin/nexus-rooms/internal/session"
)

// Config holds every setting of the chat server.
type Config struct {
	Addr              string        `env:"SERVER_ADDR,default=127.0.0.1:9000" validate:"required,hostname_port"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=50" validate:"gte=0"`
	RoomTTL           time.Duration `env:"ROOM_TTL,default=5m" validate:"gt=0"`
	RoomBuffer        int           `env:"ROOM_BUFFER,default=128" validate:"gte=1"`
	RoomIntake        int           `env:"ROOM_INTAKE,default=32" validate:"gte=1"`
	HubIntake         int           `env:"HUB_INTAKE,default=128" validate:"gte=1"`
	ReapInterval      time.Duration `env:"REAP_INTERVAL,default=1s" validate:"gt=0"`
	MaxLagStrikes     int           `env:"MAX_LAG_STRIKES,default=0" validate:"gte=0"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS,default=*" validate:"required"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=8192" validate:"gte=64"`
	HandshakeBurst    int           `env:"HANDSHAKE_BURST,default=20" validate:"gte=1"`
	HandshakeInterval time.Duration `env:"HANDSHAKE_INTERVAL,default=1s" validate:"gt=0"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// Load reads .env if present, then the process environment, and validates the
// result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the bounds of every field.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RoomOptions returns the settings applied to every room.
func (c Config) RoomOptions(pool *bufpool.Pool) room.Options {
	return room.Options{
		HistoryLimit: c.HistoryLimit,
		Buffer:       c.RoomBuffer,
		Intake:       c.RoomIntake,
		Pool:         pool,
	}
}

// HubOptions returns the hub settings, rooms included.
func (c Config) HubOptions(pool *bufpool.Pool) hub.Options {
	return hub.Options{
		Intake: c.HubIntake,
		Room:   c.RoomOptions(pool),
	}
}

// SessionOptions returns the per-connection settings.
func (c Config) SessionOptions(pool *bufpool.Pool) session.Options {
	return session.Options{
		MaxLagStrikes: c.MaxLagStrikes,
		Pool:          pool,
	}
}

// Origins returns the normalized origin allow-list and whether "*" was given.
// Entries that are not scheme://host are dropped with a warning.
func (c Config) Origins(log *slog.Logger) ([]string, bool) {
	return NormalizeOrigins(log, ParseOrigins(c.AllowedOrigins))
}

// ParseOrigins splits a comma separated list.
func ParseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// NormalizeOrigins lower-cases each origin to scheme://host.
func NormalizeOrigins(log *slog.Logger, origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAll = true
			continue
		}

		n, ok := NormalizeOrigin(origin)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		normalized = append(normalized, n)
	}
	return normalized, allowAll
}

// NormalizeOrigin returns origin as lower-case scheme://host, or false when it
// has neither.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
