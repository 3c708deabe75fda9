package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-rooms/internal/bufpool"
	"github.com/Tyrowin/nexus-rooms/internal/config"
	"github.com/Tyrowin/nexus-rooms/internal/testhelpers"
)

// TestLoad_Defaults verifies an empty environment yields the documented
// defaults.
func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	req.NoError(err)

	req.Equal("127.0.0.1:9000", cfg.Addr)
	req.Equal("INFO", cfg.LogLevel)
	req.Equal(50, cfg.HistoryLimit)
	req.Equal(5*time.Minute, cfg.RoomTTL)
	req.Equal(128, cfg.RoomBuffer)
	req.Equal(time.Second, cfg.ReapInterval)
	req.Equal(0, cfg.MaxLagStrikes)
	req.Equal("*", cfg.AllowedOrigins)
	req.Equal(int64(8192), cfg.MaxMessageSize)
	req.Equal(10*time.Second, cfg.ShutdownTimeout)
}

// TestLoad_FromEnvironment verifies every variable overrides its default.
func TestLoad_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	// Given
	t.Setenv("SERVER_ADDR", "0.0.0.0:8080")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("HISTORY_LIMIT", "0")
	t.Setenv("ROOM_TTL", "30s")
	t.Setenv("ROOM_BUFFER", "1")
	t.Setenv("MAX_LAG_STRIKES", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")

	// When
	cfg, err := config.Load()

	// Then
	req.NoError(err)
	req.Equal("0.0.0.0:8080", cfg.Addr)
	req.Equal("DEBUG", cfg.LogLevel)
	req.Equal(0, cfg.HistoryLimit)
	req.Equal(30*time.Second, cfg.RoomTTL)
	req.Equal(1, cfg.RoomBuffer)

	pool := bufpool.New()
	req.Equal(0, cfg.RoomOptions(pool).HistoryLimit)
	req.Equal(1, cfg.HubOptions(pool).Room.Buffer)
	req.Equal(3, cfg.SessionOptions(pool).MaxLagStrikes)
}

// TestLoad_RejectsOutOfRangeValues verifies validation runs after parsing.
func TestLoad_RejectsOutOfRangeValues(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero buffer", key: "ROOM_BUFFER", value: "0"},
		{name: "negative history", key: "HISTORY_LIMIT", value: "-1"},
		{name: "zero ttl", key: "ROOM_TTL", value: "0s"},
		{name: "unknown level", key: "LOG_LEVEL", value: "LOUD"},
		{name: "unparsable ttl", key: "ROOM_TTL", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

// TestOrigins verifies normalization and the wildcard.
func TestOrigins(t *testing.T) {
	req := require.New(t)
	log := testhelpers.Logger()

	origins, all := config.Config{AllowedOrigins: "HTTPS://Chat.Example.com, not-an-origin, http://localhost:3000/path"}.Origins(log)
	req.False(all)
	req.Equal([]string{"https://chat.example.com", "http://localhost:3000"}, origins)

	origins, all = config.Config{AllowedOrigins: "*"}.Origins(log)
	req.True(all)
	req.Empty(origins)
}
