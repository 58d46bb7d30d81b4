package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// ByteSize is a size in bytes that can be written in human form ("64KiB", "2 MB").
type ByteSize uint64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

// String renders the size for logs.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Config struct for environment variables.
type Config struct {
	DataDir string `envconfig:"DATA_DIR" default:"data"`
	DBPath  string `envconfig:"DB_PATH" default:"library.db"`

	MaxParallel         int           `envconfig:"MAX_PARALLEL" default:"4"`
	ChunkSize           ByteSize      `envconfig:"CHUNK_SIZE" default:"64KiB"`
	RateLimit           ByteSize      `envconfig:"RATE_LIMIT" default:"0"`
	ProgressQueueSize   int           `envconfig:"PROGRESS_QUEUE_SIZE" default:"32"`
	ProgressSendTimeout time.Duration `envconfig:"PROGRESS_SEND_TIMEOUT" default:"100ms"`
	UserAgent           string        `envconfig:"USER_AGENT" default:"sgdl/1.0"`
	HTTPTimeout         time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	AuditInterval       time.Duration `envconfig:"AUDIT_INTERVAL" default:"24h"`

	SoundgasmMediaURL string `envconfig:"SOUNDGASM_MEDIA_URL" default:"https://media.soundgasm.net"`
	KemonoURL         string `envconfig:"KEMONO_URL" default:"https://kemono.su"`
	CoomerURL         string `envconfig:"COOMER_URL" default:"https://coomer.su"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"sgdl"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", c.MaxParallel)
	}

	if c.ChunkSize == 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than zero")
	}

	if c.ProgressQueueSize < 1 {
		return fmt.Errorf("PROGRESS_QUEUE_SIZE must be at least 1, got %d", c.ProgressQueueSize)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
