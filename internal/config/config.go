package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Server struct {
	Port              string `json:"port" validate:"required"`
	RequestTimeoutSec int    `json:"request_timeout_sec" validate:"min=1"`
}

type Database struct {
	// URL is a Postgres DSN. Empty disables persistence; the server falls
	// back to in-memory usage records and portfolio state.
	URL string `json:"url"`
}

type Redis struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr"`
	CacheTTLSeconds int    `json:"cache_ttl_sec" validate:"min=0"`
}

type Finnhub struct {
	Enabled           bool   `json:"enabled"`
	Default           bool   `json:"default"`
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	StreamURL         string `json:"stream_url"`
	MaxRequestsPerMin int    `json:"max_requests_per_minute" validate:"min=0"`
	Burst             int    `json:"burst" validate:"min=0"`
	DailyLimit        int    `json:"daily_limit" validate:"min=0"`
}

type TwelveData struct {
	Enabled           bool   `json:"enabled"`
	Default           bool   `json:"default"`
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	MaxRequestsPerMin int    `json:"max_requests_per_minute" validate:"min=0"`
	Burst             int    `json:"burst" validate:"min=0"`
	DailyLimit        int    `json:"daily_limit" validate:"min=0"`
}

type Yahoo struct {
	Enabled bool `json:"enabled"`
	Default bool `json:"default"`
}

type Quotes struct {
	CacheTTLSeconds   int `json:"cache_ttl_sec" validate:"min=0"`
	AttemptTimeoutSec int `json:"attempt_timeout_sec" validate:"min=1"`
}

type Stream struct {
	PollIntervalSec   int `json:"poll_interval_sec" validate:"min=1"`
	HeartbeatEvery    int `json:"heartbeat_every" validate:"min=1"`
	MaxLifetimeSec    int `json:"max_lifetime_sec" validate:"min=1"`
	BackoffBaseMS     int `json:"backoff_base_ms" validate:"min=1"`
	BackoffMaxMS      int `json:"backoff_max_ms" validate:"min=1"`
	ReconnectAttempts int `json:"reconnect_attempts" validate:"min=0"`
}

type Config struct {
	Server     Server     `json:"server"`
	Database   Database   `json:"database"`
	Redis      Redis      `json:"redis"`
	Finnhub    Finnhub    `json:"finnhub"`
	TwelveData TwelveData `json:"twelvedata"`
	Yahoo      Yahoo      `json:"yahoo"`
	Quotes     Quotes     `json:"quotes"`
	Stream     Stream     `json:"stream"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Redis: Redis{
			Addr:            "localhost:6379",
			CacheTTLSeconds: 300,
		},
		Finnhub: Finnhub{
			Enabled:           true,
			Default:           true,
			BaseURL:           "https://finnhub.io/api/v1",
			StreamURL:         "wss://ws.finnhub.io",
			MaxRequestsPerMin: 60,
			Burst:             10,
		},
		TwelveData: TwelveData{
			Enabled:           true,
			BaseURL:           "https://api.twelvedata.com",
			MaxRequestsPerMin: 8,
			Burst:             2,
			DailyLimit:        800,
		},
		Yahoo: Yahoo{Enabled: true},
		Quotes: Quotes{
			CacheTTLSeconds:   60,
			AttemptTimeoutSec: 5,
		},
		Stream: Stream{
			PollIntervalSec:   10,
			HeartbeatEvery:    10,
			MaxLifetimeSec:    300,
			BackoffBaseMS:     1000,
			BackoffMaxMS:      30000,
			ReconnectAttempts: 5,
		},
	}
}

// Load reads JSON config from path. An empty path falls back to config.json
// in the working directory when present, else defaults; a path the operator
// supplied must exist. Environment variables override select fields for
// secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_CACHE_TTL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Redis.CacheTTLSeconds = x
		}
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("FINNHUB_DAILY_LIMIT"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Finnhub.DailyLimit = x
		}
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.TwelveData.APIKey = v
	}
	if v := os.Getenv("TWELVEDATA_DAILY_LIMIT"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.TwelveData.DailyLimit = x
		}
	}
	if v := os.Getenv("YAHOO_ENABLED"); v != "" {
		cfg.Yahoo.Enabled = parseBool(v, cfg.Yahoo.Enabled)
	}
	if v := os.Getenv("DEFAULT_PROVIDER"); v != "" {
		cfg.Finnhub.Default = false
		cfg.TwelveData.Default = false
		cfg.Yahoo.Default = false
		switch strings.ToLower(v) {
		case "finnhub":
			cfg.Finnhub.Default = true
		case "twelvedata", "twelve_data":
			cfg.TwelveData.Default = true
		case "yahoo":
			cfg.Yahoo.Default = true
		}
	}
	if v := os.Getenv("QUOTE_CACHE_TTL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Quotes.CacheTTLSeconds = x
		}
	}
	if v := os.Getenv("QUOTE_ATTEMPT_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Quotes.AttemptTimeoutSec = x
		}
	}
	if v := os.Getenv("STREAM_POLL_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Stream.PollIntervalSec = x
		}
	}
	if v := os.Getenv("STREAM_MAX_LIFETIME_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Stream.MaxLifetimeSec = x
		}
	}
	if v := os.Getenv("STREAM_RECONNECT_ATTEMPTS"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Stream.ReconnectAttempts = x
		}
	}
}

func atoi(s string) int {
	var x int
	_, _ = fmt.Sscanf(s, "%d", &x)
	return x
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}
