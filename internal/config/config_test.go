package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "library.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, ByteSize(64*1024), cfg.ChunkSize)
	assert.Equal(t, ByteSize(0), cfg.RateLimit)
	assert.Equal(t, 32, cfg.ProgressQueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.ProgressSendTimeout)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/sgdl")
	t.Setenv("MAX_PARALLEL", "8")
	t.Setenv("CHUNK_SIZE", "1 MiB")
	t.Setenv("RATE_LIMIT", "512KiB")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/srv/sgdl", cfg.DataDir)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, ByteSize(1<<20), cfg.ChunkSize)
	assert.Equal(t, ByteSize(512*1024), cfg.RateLimit)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "admin", cfg.API.Username)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero parallelism", key: "MAX_PARALLEL", value: "0"},
		{name: "unparsable chunk size", key: "CHUNK_SIZE", value: "lots"},
		{name: "zero chunk size", key: "CHUNK_SIZE", value: "0"},
		{name: "empty progress queue", key: "PROGRESS_QUEUE_SIZE", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
