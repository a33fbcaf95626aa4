// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a .env file into the process environment if one is present.
// A missing file is not an error.
func Load() {
	_ = godotenv.Load()
}

// RedisConfig carries the optional presence Redis settings.
type RedisConfig struct {
	Addr                  string
	Username              string
	Password              string
	DB                    int
	SetKey                string
	Channel               string
	MasterName            string
	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string
	TLSServerName         string
	TLSInsecureSkipVerify bool
}

// Enabled reports whether presence announcements should use Redis.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Config stores the ingest server settings.
type Config struct {
	Addr              string
	FrontendOrigins   []string
	OutputRoot        string
	BackendURL        string
	BackendKey        string
	HeartbeatInterval time.Duration
	ActivationWindow  time.Duration
	FFmpegPath        string
	LogLevel          string
	LogFormat         string
	Redis             RedisConfig
}

// FromEnv initialises a Config from environment variables and validates it.
func FromEnv() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads the environment without validating the result. Callers that
// layer overrides on top (command-line flags) validate afterwards.
func Parse() (Config, error) {
	cfg := Config{
		Addr:              envOrDefault("RELAYCAST_ADDR", ":3002"),
		OutputRoot:        envOrDefault("RELAYCAST_OUTPUT_ROOT", "./streams"),
		BackendURL:        strings.TrimSpace(os.Getenv("RELAYCAST_BACKEND_URL")),
		BackendKey:        strings.TrimSpace(os.Getenv("RELAYCAST_BACKEND_KEY")),
		HeartbeatInterval: 15 * time.Second,
		ActivationWindow:  4 * time.Second,
		FFmpegPath:        envOrDefault("RELAYCAST_FFMPEG_PATH", "ffmpeg"),
		LogLevel:          envOrDefault("RELAYCAST_LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("RELAYCAST_LOG_FORMAT", "json"),
		Redis: RedisConfig{
			Addr:          strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_ADDR")),
			Username:      strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_USERNAME")),
			Password:      os.Getenv("RELAYCAST_REDIS_PASSWORD"),
			SetKey:        strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_SET_KEY")),
			Channel:       strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_CHANNEL")),
			MasterName:    strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_MASTER_NAME")),
			TLSCAFile:     strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_TLS_CA")),
			TLSCertFile:   strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_TLS_CERT")),
			TLSKeyFile:    strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_TLS_KEY")),
			TLSServerName: strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_TLS_SERVER_NAME")),
		},
	}

	if origins := strings.TrimSpace(os.Getenv("RELAYCAST_FRONTEND_ORIGIN")); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.FrontendOrigins = append(cfg.FrontendOrigins, trimmed)
			}
		}
	}

	if interval := strings.TrimSpace(os.Getenv("RELAYCAST_HEARTBEAT_INTERVAL")); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("parse RELAYCAST_HEARTBEAT_INTERVAL: %w", err)
		}
		if parsed > 0 {
			cfg.HeartbeatInterval = parsed
		}
	}

	if window := strings.TrimSpace(os.Getenv("RELAYCAST_ACTIVATION_WINDOW")); window != "" {
		parsed, err := time.ParseDuration(window)
		if err != nil {
			return Config{}, fmt.Errorf("parse RELAYCAST_ACTIVATION_WINDOW: %w", err)
		}
		if parsed > 0 {
			cfg.ActivationWindow = parsed
		}
	}

	if db := strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_DB")); db != "" {
		parsed, err := strconv.Atoi(db)
		if err != nil {
			return Config{}, fmt.Errorf("parse RELAYCAST_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = parsed
	}

	if insecure := strings.TrimSpace(os.Getenv("RELAYCAST_REDIS_TLS_INSECURE")); insecure != "" {
		parsed, err := strconv.ParseBool(insecure)
		if err != nil {
			return Config{}, fmt.Errorf("parse RELAYCAST_REDIS_TLS_INSECURE: %w", err)
		}
		cfg.Redis.TLSInsecureSkipVerify = parsed
	}

	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.OutputRoot == "" {
		return errors.New("output root is required")
	}
	if c.BackendURL == "" {
		return errors.New("RELAYCAST_BACKEND_URL is required")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.ActivationWindow <= 0 {
		return errors.New("activation window must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
