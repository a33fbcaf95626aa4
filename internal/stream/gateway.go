package stream

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"relaycast/internal/auth"
	"relaycast/internal/backend"
	"relaycast/internal/observability/metrics"
	"relaycast/internal/presence"
)

// AuthCookie is the cookie publishers present their credential token in.
const AuthCookie = "X-Authorization"

// ControlPlane verifies publisher credentials and receives activation
// notices. backend.Client satisfies it.
type ControlPlane interface {
	Verify(ctx context.Context, creds auth.Credentials) (backend.StreamDescriptor, error)
	Activate(ctx context.Context, streamID string) error
}

// GatewayConfig assembles the collaborators for the ingest endpoint.
type GatewayConfig struct {
	Registry         *Registry
	ControlPlane     ControlPlane
	OutputRoot       string
	FFmpegPath       string
	ActivationWindow time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Presence         presence.Announcer
	// TranscoderArgs overrides the ffmpeg arguments for every session. Used
	// by tests.
	TranscoderArgs []string
}

// Gateway accepts publisher websocket connections, authenticates them
// against the control plane, and hands each one a running session.
type Gateway struct {
	registry         *Registry
	controlPlane     ControlPlane
	outputRoot       string
	ffmpegPath       string
	activationWindow time.Duration
	logger           *slog.Logger
	metrics          *metrics.Metrics
	presence         presence.Announcer
	transcoderArgs   []string
}

func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	announcer := cfg.Presence
	if announcer == nil {
		announcer = presence.Noop{}
	}
	return &Gateway{
		registry:         cfg.Registry,
		controlPlane:     cfg.ControlPlane,
		outputRoot:       cfg.OutputRoot,
		ffmpegPath:       cfg.FFmpegPath,
		activationWindow: cfg.ActivationWindow,
		logger:           logger,
		metrics:          cfg.Metrics,
		presence:         announcer,
		transcoderArgs:   cfg.TranscoderArgs,
	}
}

// HandleUpgrade authenticates the request and, on success, upgrades it to a
// websocket and starts a publishing session. Rejected requests allocate
// nothing: no directory, no process, no registry entry.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(AuthCookie)
	if err != nil {
		g.reject(w, "missing credential cookie", nil)
		return
	}
	creds, err := auth.ParseCredentials(cookie.Value)
	if err != nil {
		g.reject(w, "malformed credential token", err)
		return
	}
	descriptor, err := g.controlPlane.Verify(r.Context(), creds)
	if err != nil {
		g.reject(w, "credential verification failed", err)
		return
	}
	if descriptor.ID == "" {
		g.reject(w, "credential carries no stream id", nil)
		return
	}
	logger := g.logger.With(slog.String("stream_id", descriptor.ID))

	if _, exists := g.registry.Get(descriptor.ID); exists {
		logger.Warn("rejecting publisher, stream already live")
		g.metrics.ObserveUpgrade("conflict")
		http.Error(w, "stream already live", http.StatusConflict)
		return
	}

	dir := filepath.Join(g.outputRoot, descriptor.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error("prepare output directory", slog.String("error", err.Error()))
		g.metrics.ObserveUpgrade("error")
		http.Error(w, "unable to prepare stream output", http.StatusInternalServerError)
		return
	}

	transcoder, err := LaunchTranscoder(TranscoderConfig{
		StreamID:   descriptor.ID,
		Dir:        dir,
		FFmpegPath: g.ffmpegPath,
		Args:       g.transcoderArgs,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("launch transcoder", slog.String("error", err.Error()))
		os.RemoveAll(dir)
		g.metrics.ObserveUpgrade("error")
		http.Error(w, "unable to start transcoder", http.StatusInternalServerError)
		return
	}

	conn, err := Accept(w, r)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		transcoder.Stop()
		os.RemoveAll(dir)
		g.metrics.ObserveUpgrade("error")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := NewSession(SessionConfig{
		ID:               descriptor.ID,
		Conn:             conn,
		Process:          transcoder,
		Dir:              dir,
		Activator:        g.controlPlane,
		ActivationWindow: g.activationWindow,
		Logger:           g.logger,
		Metrics:          g.metrics,
	})
	session.onClosed = g.makeCloseHandler(session)

	if !g.registry.Add(session) {
		// Lost the race against a concurrent upgrade for the same ID.
		logger.Warn("rejecting publisher, stream already live")
		g.metrics.ObserveUpgrade("conflict")
		transcoder.Stop()
		conn.Close()
		os.RemoveAll(dir)
		return
	}

	logger.Info("publisher connected")
	g.metrics.ObserveUpgrade("accepted")
	g.metrics.SessionStarted()
	if err := g.presence.StreamStarted(r.Context(), descriptor.ID); err != nil {
		logger.Warn("announce stream start", slog.String("error", err.Error()))
	}
	session.Start()
}

func (g *Gateway) makeCloseHandler(session *Session) func(reason string) {
	return func(reason string) {
		g.registry.Remove(session)
		g.metrics.SessionEnded()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.presence.StreamStopped(ctx, session.ID()); err != nil {
			g.logger.Warn("announce stream stop",
				slog.String("stream_id", session.ID()),
				slog.String("error", err.Error()))
		}
	}
}

func (g *Gateway) reject(w http.ResponseWriter, message string, err error) {
	if err != nil {
		g.logger.Warn("rejecting publisher", slog.String("reason", message), slog.String("error", err.Error()))
	} else {
		g.logger.Warn("rejecting publisher", slog.String("reason", message))
	}
	g.metrics.ObserveUpgrade("unauthorized")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
