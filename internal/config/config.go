// Package config loads the chat server configuration. Values are resolved in
// order: built-in defaults, an optional TOML file, a .env file, and finally
// process environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ServerConfig holds the transport and HTTP settings.
type ServerConfig struct {
	ListenAddr     string        `toml:"listenAddr"`     // e.g. ":5000"
	ClientURL      string        `toml:"clientURL"`      // allowed CORS origin
	WorkerPoolSize int           `toml:"workerPoolSize"` // max concurrent read workers
	MaxConnections int           `toml:"maxConnections"` // hard cap on live connections
	ReadTimeout    time.Duration `toml:"readTimeout"`
	WriteTimeout   time.Duration `toml:"writeTimeout"`
	MaxFrameBytes  int64         `toml:"maxFrameBytes"` // largest accepted client frame
	SendQueueSize  int           `toml:"sendQueueSize"` // per-connection outbound queue depth
}

// HistoryConfig bounds the in-memory state kept by the hub.
type HistoryConfig struct {
	MaxMessages    int `toml:"maxMessages"`    // global log capacity
	RouteIndexSize int `toml:"routeIndexSize"` // remembered private routing receipts
}

// LimitsConfig bounds message bodies.
type LimitsConfig struct {
	MaxTextChars  int `toml:"maxTextChars"`
	MaxBlobBytes  int `toml:"maxBlobBytes"`
	MaxFileBytes  int `toml:"maxFileBytes"`
	MaxNameLength int `toml:"maxNameLength"`
}

// RateLimitConfig configures per-session action throttling.
type RateLimitConfig struct {
	RedisAddr     string        `toml:"redisAddr"` // empty: in-process limiter
	MessageLimit  int           `toml:"messageLimit"`
	MessageWindow time.Duration `toml:"messageWindow"`
	ReactLimit    int           `toml:"reactLimit"`
	ReactWindow   time.Duration `toml:"reactWindow"`
}

// ModerationConfig enables the asynchronous moderation bus.
type ModerationConfig struct {
	NATSURL string `toml:"natsURL"` // empty disables moderation
}

// ArchiveConfig enables the write-behind Postgres archive.
type ArchiveConfig struct {
	DSN       string `toml:"dsn"` // empty disables archiving
	QueueSize int    `toml:"queueSize"`
}

// LogConfig controls zap and lumberjack.
type LogConfig struct {
	Level      string `toml:"level"` // debug, info, warn, error
	Mode       string `toml:"mode"`  // dev or prod
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"` // MB
	MaxBackups int    `toml:"maxBackups"`
	MaxAge     int    `toml:"maxAge"` // days
}

// Config aggregates every section.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	History    HistoryConfig    `toml:"history"`
	Limits     LimitsConfig     `toml:"limits"`
	RateLimit  RateLimitConfig  `toml:"rateLimit"`
	Moderation ModerationConfig `toml:"moderation"`
	Archive    ArchiveConfig    `toml:"archive"`
	Log        LogConfig        `toml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     ":5000",
			ClientURL:      "http://localhost:5173",
			WorkerPoolSize: 256,
			MaxConnections: 10000,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxFrameBytes:  50 << 20,
			SendQueueSize:  256,
		},
		History: HistoryConfig{
			MaxMessages:    100,
			RouteIndexSize: 1024,
		},
		Limits: LimitsConfig{
			MaxTextChars:  2000,
			MaxBlobBytes:  64 << 10,
			MaxFileBytes:  16 << 20,
			MaxNameLength: 32,
		},
		RateLimit: RateLimitConfig{
			MessageLimit:  20,
			MessageWindow: 10 * time.Second,
			ReactLimit:    30,
			ReactWindow:   10 * time.Second,
		},
		Archive: ArchiveConfig{
			QueueSize: 1024,
		},
		Log: LogConfig{
			Level:      "info",
			Mode:       "prod",
			FileName:   "logs/chat-server.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load resolves the configuration. path may be empty, in which case
// CHAT_CONFIG and then configs/config.toml are tried; a missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	// A missing .env is normal outside development.
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("CHAT_CONFIG")
	}
	if path == "" {
		path = "configs/config.toml"
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Server.ListenAddr == "":
		return fmt.Errorf("config: server.listenAddr is empty")
	case c.Server.WorkerPoolSize <= 0:
		return fmt.Errorf("config: server.workerPoolSize must be positive")
	case c.Server.MaxConnections <= 0:
		return fmt.Errorf("config: server.maxConnections must be positive")
	case c.Server.MaxFrameBytes <= 0:
		return fmt.Errorf("config: server.maxFrameBytes must be positive")
	case c.Server.SendQueueSize <= 0:
		return fmt.Errorf("config: server.sendQueueSize must be positive")
	case c.History.MaxMessages <= 0:
		return fmt.Errorf("config: history.maxMessages must be positive")
	case c.History.RouteIndexSize <= 0:
		return fmt.Errorf("config: history.routeIndexSize must be positive")
	case c.Limits.MaxNameLength <= 0 || c.Limits.MaxTextChars <= 0:
		return fmt.Errorf("config: limits must be positive")
	case c.RateLimit.MessageLimit <= 0 || c.RateLimit.ReactLimit <= 0:
		return fmt.Errorf("config: rate limits must be positive")
	case c.RateLimit.MessageWindow <= 0 || c.RateLimit.ReactWindow <= 0:
		return fmt.Errorf("config: rate limit windows must be positive")
	case c.Server.MaxFrameBytes < c.Limits.RequiredFrameBytes():
		return fmt.Errorf("config: server.maxFrameBytes %d cannot carry a send at the body limits (need %d)",
			c.Server.MaxFrameBytes, c.Limits.RequiredFrameBytes())
	}
	return nil
}

// envelopeOverhead bounds the non-body bytes of a send frame: type, ids,
// sender name, file name, mime type and JSON punctuation.
const envelopeOverhead = 64 << 10

// RequiredFrameBytes is the smallest frame limit that admits a send carrying
// the largest allowed body plus a reply snapshot of the same size. Files
// travel base64 encoded; text and ciphertext may be escaped to six bytes per
// character.
func (l LimitsConfig) RequiredFrameBytes() int64 {
	largest := int64(base64.StdEncoding.EncodedLen(l.MaxFileBytes))
	if n := 6 * int64(l.MaxBlobBytes); n > largest {
		largest = n
	}
	if n := 6 * int64(l.MaxTextChars); n > largest {
		largest = n
	}
	return 2*largest + envelopeOverhead
}

// applyEnv overrides cfg from well-known environment variables.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	// PORT is set by most PaaS hosts; LISTEN_ADDR wins if both are set.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.ListenAddr = ":" + v
	}
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("CLIENT_URL", &cfg.Server.ClientURL)
	str("REDIS_ADDR", &cfg.RateLimit.RedisAddr)
	str("NATS_URL", &cfg.Moderation.NATSURL)
	str("ARCHIVE_DSN", &cfg.Archive.DSN)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_MODE", &cfg.Log.Mode)
	str("LOG_FILE", &cfg.Log.FileName)

	if v := os.Getenv("MAX_FRAME_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MAX_FRAME_BYTES: %w", err)
		}
		cfg.Server.MaxFrameBytes = n
	}

	for _, fn := range []func() error{
		func() error { return integer("WORKER_POOL_SIZE", &cfg.Server.WorkerPoolSize) },
		func() error { return integer("MAX_CONNECTIONS", &cfg.Server.MaxConnections) },
		func() error { return integer("SEND_QUEUE_SIZE", &cfg.Server.SendQueueSize) },
		func() error { return integer("HISTORY_MAX_MESSAGES", &cfg.History.MaxMessages) },
		func() error { return duration("READ_TIMEOUT", &cfg.Server.ReadTimeout) },
		func() error { return duration("WRITE_TIMEOUT", &cfg.Server.WriteTimeout) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
