package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// HistoryPolicy selects how a history reply is applied to the local cache.
// Merge is the deployed default; Replace guarantees the local view mirrors
// server-side deletions without a reconciliation pass.
type HistoryPolicy string

const (
	HistoryMerge   HistoryPolicy = "merge"
	HistoryReplace HistoryPolicy = "replace"
)

// Config carries all client and dev-server settings.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	Read      ReadConfig      `json:"read"`
	Transport TransportConfig `json:"transport"`
	Debug     bool            `json:"debug"`
}

// ServerConfig locates the realtime channel endpoint.
type ServerConfig struct {
	URL  string `json:"url"`  // websocket endpoint for clients
	Addr string `json:"addr"` // listen address for the dev server
}

// StorageConfig locates the durable local store.
type StorageConfig struct {
	Path string `json:"path"`
}

// CacheConfig controls message-cache behavior.
type CacheConfig struct {
	HistoryPolicy HistoryPolicy `json:"history_policy"`
	SentLogLimit  int           `json:"sent_log_limit"`
}

// ReadConfig controls read-tracking timers.
type ReadConfig struct {
	AutoReadDelay      time.Duration `json:"auto_read_delay"`     // foreground live message -> read
	ForegroundDebounce time.Duration `json:"foreground_debounce"` // background -> foreground mark-all
}

// TransportConfig controls the websocket channel.
type TransportConfig struct {
	WriteTimeout time.Duration `json:"write_timeout"`
	WriteBuffer  int           `json:"write_buffer"`
}

// DefaultConfig returns the settings the clients ship with.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:  "ws://127.0.0.1:8090/ws",
			Addr: "0.0.0.0:8090",
		},
		Storage: StorageConfig{
			Path: "./classboard.db",
		},
		Cache: CacheConfig{
			HistoryPolicy: HistoryMerge,
			SentLogLimit:  200,
		},
		Read: ReadConfig{
			AutoReadDelay:      2 * time.Second,
			ForegroundDebounce: 500 * time.Millisecond,
		},
		Transport: TransportConfig{
			WriteTimeout: 5 * time.Second,
			WriteBuffer:  100,
		},
	}
}

// Load reads configuration with precedence defaults < .env file <
// environment. A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if url := strings.TrimSpace(os.Getenv("CLASSBOARD_SERVER_URL")); url != "" {
		cfg.Server.URL = url
	}
	if addr := strings.TrimSpace(os.Getenv("CLASSBOARD_LISTEN_ADDR")); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := strings.TrimSpace(os.Getenv("CLASSBOARD_STORAGE_PATH")); path != "" {
		cfg.Storage.Path = path
	}
	if policy := strings.TrimSpace(os.Getenv("CLASSBOARD_HISTORY_POLICY")); policy != "" {
		cfg.Cache.HistoryPolicy = HistoryPolicy(policy)
	}
	if limit := strings.TrimSpace(os.Getenv("CLASSBOARD_SENT_LOG_LIMIT")); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid CLASSBOARD_SENT_LOG_LIMIT %q: %w", limit, err)
		}
		cfg.Cache.SentLogLimit = n
	}
	if d, err := durationEnv("CLASSBOARD_AUTO_READ_DELAY"); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Read.AutoReadDelay = *d
	}
	if d, err := durationEnv("CLASSBOARD_FOREGROUND_DEBOUNCE"); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Read.ForegroundDebounce = *d
	}
	if d, err := durationEnv("CLASSBOARD_WRITE_TIMEOUT"); err != nil {
		return nil, err
	} else if d != nil {
		cfg.Transport.WriteTimeout = *d
	}
	if debug := strings.TrimSpace(os.Getenv("CLASSBOARD_DEBUG")); debug != "" {
		val, err := strconv.ParseBool(debug)
		if err != nil {
			return nil, fmt.Errorf("invalid CLASSBOARD_DEBUG %q: %w", debug, err)
		}
		cfg.Debug = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	switch c.Cache.HistoryPolicy {
	case HistoryMerge, HistoryReplace:
	default:
		return fmt.Errorf("history policy must be %q or %q, got %q",
			HistoryMerge, HistoryReplace, c.Cache.HistoryPolicy)
	}
	if c.Cache.SentLogLimit <= 0 {
		return fmt.Errorf("sent log limit must be positive")
	}
	if c.Read.AutoReadDelay <= 0 {
		return fmt.Errorf("auto read delay must be positive")
	}
	if c.Read.ForegroundDebounce < 500*time.Millisecond {
		return fmt.Errorf("foreground debounce must be at least 500ms")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport write timeout must be positive")
	}
	if c.Transport.WriteBuffer <= 0 {
		return fmt.Errorf("transport write buffer must be positive")
	}
	return nil
}

func durationEnv(key string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return &d, nil
}
