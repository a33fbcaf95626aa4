package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"relaycast/internal/backend"
	"relaycast/internal/config"
	"relaycast/internal/observability/logging"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/presence"
	"relaycast/internal/server"
	"relaycast/internal/stream"
)

const shutdownTimeout = 10 * time.Second

// flagOverrides holds command-line values layered over the environment; zero
// values leave the environment setting in place.
type flagOverrides struct {
	addr              string
	outputRoot        string
	backendURL        string
	backendKey        string
	ffmpegPath        string
	heartbeatInterval time.Duration
	activationWindow  time.Duration
	frontendOrigin    string
	logLevel          string
	logFormat         string
}

func applyFlags(cfg *config.Config, ov flagOverrides) {
	if ov.addr != "" {
		cfg.Addr = ov.addr
	}
	if ov.outputRoot != "" {
		cfg.OutputRoot = ov.outputRoot
	}
	if ov.backendURL != "" {
		cfg.BackendURL = ov.backendURL
	}
	if ov.backendKey != "" {
		cfg.BackendKey = ov.backendKey
	}
	if ov.ffmpegPath != "" {
		cfg.FFmpegPath = ov.ffmpegPath
	}
	if ov.heartbeatInterval > 0 {
		cfg.HeartbeatInterval = ov.heartbeatInterval
	}
	if ov.activationWindow > 0 {
		cfg.ActivationWindow = ov.activationWindow
	}
	if ov.frontendOrigin != "" {
		cfg.FrontendOrigins = nil
		for _, origin := range strings.Split(ov.frontendOrigin, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.FrontendOrigins = append(cfg.FrontendOrigins, trimmed)
			}
		}
	}
	if ov.logLevel != "" {
		cfg.LogLevel = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.LogFormat = ov.logFormat
	}
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	outputRoot := flag.String("output-root", "", "directory holding per-stream HLS output")
	backendURL := flag.String("backend-url", "", "base URL of the control backend")
	backendKey := flag.String("backend-key", "", "shared key for backend requests")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	heartbeatInterval := flag.Duration("heartbeat-interval", 0, "interval between liveness sweeps")
	activationWindow := flag.Duration("activation-window", 0, "quiet period between activation calls")
	frontendOrigin := flag.String("frontend-origin", "", "comma separated origins allowed by CORS")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (text or json)")
	flag.Parse()

	config.Load()
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, flagOverrides{
		addr:              *addr,
		outputRoot:        *outputRoot,
		backendURL:        *backendURL,
		backendKey:        *backendKey,
		ffmpegPath:        *ffmpegPath,
		heartbeatInterval: *heartbeatInterval,
		activationWindow:  *activationWindow,
		frontendOrigin:    *frontendOrigin,
		logLevel:          *logLevel,
		logFormat:         *logFormat,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("ingest server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	met := metrics.New()

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Key:     cfg.BackendKey,
		Logger:  logging.WithComponent(logger, "backend"),
	})
	if err != nil {
		return fmt.Errorf("configure backend client: %w", err)
	}

	announcer, err := configureAnnouncer(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure presence: %w", err)
	}
	defer func() {
		if err := announcer.Close(); err != nil {
			logger.Warn("close presence announcer", slog.String("error", err.Error()))
		}
	}()

	registry := stream.NewRegistry()
	gateway := stream.NewGateway(stream.GatewayConfig{
		Registry:         registry,
		ControlPlane:     backendClient,
		OutputRoot:       cfg.OutputRoot,
		FFmpegPath:       cfg.FFmpegPath,
		ActivationWindow: cfg.ActivationWindow,
		Logger:           logging.WithComponent(logger, "gateway"),
		Metrics:          met,
		Presence:         announcer,
	})

	srv, err := server.New(server.Config{
		OutputRoot:      cfg.OutputRoot,
		FrontendOrigins: cfg.FrontendOrigins,
		Registry:        registry,
		Gateway:         gateway,
		Logger:          logging.WithComponent(logger, "http"),
		Metrics:         met,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopSweeper := stream.StartSweeper(ctx, logging.WithComponent(logger, "sweeper"), registry, cfg.HeartbeatInterval)
	defer stopSweeper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ingest server listening",
			slog.String("addr", cfg.Addr),
			slog.String("output_root", srv.OutputRoot()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
		}

		stopSweeper()
		for _, session := range registry.Snapshot() {
			session.Terminate("server shutting down")
		}
		return nil
	})
	return g.Wait()
}

func configureAnnouncer(cfg config.Config, logger *slog.Logger) (presence.Announcer, error) {
	if !cfg.Redis.Enabled() {
		return presence.Noop{}, nil
	}
	return presence.NewRedis(presence.RedisConfig{
		Addr:       cfg.Redis.Addr,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		SetKey:     cfg.Redis.SetKey,
		Channel:    cfg.Redis.Channel,
		MasterName: cfg.Redis.MasterName,
		Logger:     logging.WithComponent(logger, "presence"),
		TLS: presence.RedisTLSConfig{
			CAFile:             cfg.Redis.TLSCAFile,
			CertFile:           cfg.Redis.TLSCertFile,
			KeyFile:            cfg.Redis.TLSKeyFile,
			ServerName:         cfg.Redis.TLSServerName,
			InsecureSkipVerify: cfg.Redis.TLSInsecureSkipVerify,
		},
	})
}
