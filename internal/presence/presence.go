// Package presence mirrors the set of live streams into Redis so other
// services can discover them and subscribe to lifecycle events.
package presence

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Announcer publishes stream lifecycle changes.
type Announcer interface {
	StreamStarted(ctx context.Context, streamID string) error
	StreamStopped(ctx context.Context, streamID string) error
	Close() error
}

// Noop is the Announcer used when no Redis is configured.
type Noop struct{}

func (Noop) StreamStarted(context.Context, string) error { return nil }
func (Noop) StreamStopped(context.Context, string) error { return nil }
func (Noop) Close() error                                { return nil }

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisConfig configures the Redis-backed announcer.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	SetKey       string
	Channel      string
	MasterName   string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TLS          RedisTLSConfig
}

type event struct {
	Event    string `json:"event"`
	StreamID string `json:"streamId"`
}

// RedisAnnouncer keeps the live-stream set in Redis and publishes start and
// stop events on a channel.
type RedisAnnouncer struct {
	client  redis.UniversalClient
	setKey  string
	channel string
	logger  *slog.Logger
}

// NewRedis connects the announcer. The caller is responsible for ensuring
// the Redis instance is reachable.
func NewRedis(cfg RedisConfig) (*RedisAnnouncer, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	setKey := strings.TrimSpace(cfg.SetKey)
	if setKey == "" {
		setKey = "relaycast:live"
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "relaycast:streams"
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAnnouncer{
		client:  client,
		setKey:  setKey,
		channel: channel,
		logger:  logger,
	}, nil
}

func (a *RedisAnnouncer) StreamStarted(ctx context.Context, streamID string) error {
	if err := a.client.SAdd(ctx, a.setKey, streamID).Err(); err != nil {
		return fmt.Errorf("add live stream: %w", err)
	}
	return a.publish(ctx, "started", streamID)
}

func (a *RedisAnnouncer) StreamStopped(ctx context.Context, streamID string) error {
	if err := a.client.SRem(ctx, a.setKey, streamID).Err(); err != nil {
		return fmt.Errorf("remove live stream: %w", err)
	}
	return a.publish(ctx, "stopped", streamID)
}

func (a *RedisAnnouncer) publish(ctx context.Context, name, streamID string) error {
	payload, err := json.Marshal(event{Event: name, StreamID: streamID})
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	if err := a.client.Publish(ctx, a.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish stream event: %w", err)
	}
	return nil
}

func (a *RedisAnnouncer) Close() error {
	return a.client.Close()
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
