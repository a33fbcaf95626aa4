package stream

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"relaycast/internal/observability/metrics"
)

const defaultActivationWindow = 4 * time.Second

// MediaConn is the connection surface a session consumes. *Conn satisfies it;
// tests substitute scripted connections.
type MediaConn interface {
	ReadMessage(ctx context.Context) (MessageKind, []byte, error)
	WriteText(payload []byte) error
	Close() error
}

// Process is the transcoding process a session feeds. *Transcoder satisfies it.
type Process interface {
	Write(p []byte) (int, error)
	Stop()
	Done() <-chan struct{}
	Err() error
}

// Activator notifies the control plane that a stream has begun producing
// media. backend.Client satisfies it.
type Activator interface {
	Activate(ctx context.Context, streamID string) error
}

// SessionConfig assembles the collaborators for one publisher session.
type SessionConfig struct {
	ID        string
	Conn      MediaConn
	Process   Process
	Dir       string
	Activator Activator
	// ActivationWindow is how long after an activation call completes before
	// another one may be issued.
	ActivationWindow time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	// OnClosed runs once during teardown, after the process has exited and
	// the output directory is gone.
	OnClosed func(reason string)
}

// Session owns one publisher connection and its transcoding process. All of
// its resources are released exactly once, regardless of which failure is
// observed first.
type Session struct {
	id        string
	conn      MediaConn
	proc      Process
	dir       string
	activator Activator
	window    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onClosed  func(reason string)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	alive      bool
	activating bool

	once sync.Once
	done chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.ActivationWindow
	if window <= 0 {
		window = defaultActivationWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        cfg.ID,
		conn:      cfg.Conn,
		proc:      cfg.Process,
		dir:       cfg.Dir,
		activator: cfg.Activator,
		window:    window,
		logger:    logger.With(slog.String("stream_id", cfg.ID)),
		metrics:   cfg.Metrics,
		onClosed:  cfg.OnClosed,
		ctx:       ctx,
		cancel:    cancel,
		alive:     true,
		done:      make(chan struct{}),
	}
}

// ID returns the stream ID this session publishes under.
func (s *Session) ID() string {
	return s.id
}

// Start launches the session's read and supervision loops.
func (s *Session) Start() {
	go s.readLoop()
	go s.watchProcess()
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) readLoop() {
	for {
		kind, payload, err := s.conn.ReadMessage(s.ctx)
		if err != nil {
			s.Terminate("connection closed")
			return
		}
		switch kind {
		case MessageBinary:
			s.handleData(payload)
		case MessagePong:
			s.markAlive()
		case MessageText:
			if string(payload) == "pong" {
				s.markAlive()
			}
		}
	}
}

func (s *Session) handleData(payload []byte) {
	if _, err := s.proc.Write(payload); err != nil {
		s.logger.Debug("drop media write", slog.String("error", err.Error()))
	}
	s.metrics.AddIngestBytes(len(payload))
	s.maybeActivate()
}

// maybeActivate tells the control plane the stream is producing media. Calls
// are throttled: after one completes, no new call is issued until the
// activation window has elapsed. A failed call ends the session.
func (s *Session) maybeActivate() {
	if s.activator == nil {
		return
	}
	s.mu.Lock()
	if s.activating {
		s.mu.Unlock()
		return
	}
	s.activating = true
	s.mu.Unlock()

	go func() {
		err := s.activator.Activate(s.ctx, s.id)
		time.AfterFunc(s.window, func() {
			s.mu.Lock()
			s.activating = false
			s.mu.Unlock()
		})
		if err != nil {
			s.metrics.IncActivationFailure()
			s.logger.Warn("stream activation failed", slog.String("error", err.Error()))
			s.Terminate("activation failed")
		}
	}()
}

func (s *Session) markAlive() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// Sweep is one heartbeat pass over the session. A session that has not
// answered the previous ping is evicted; otherwise its liveness flag is
// cleared and a fresh ping is sent. Teardown runs off the caller's goroutine:
// a transcoder draining its stop grace must not stall the sweep of other
// sessions.
func (s *Session) Sweep() {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.mu.Lock()
	alive := s.alive
	s.alive = false
	s.mu.Unlock()

	if !alive {
		s.metrics.IncEviction()
		go s.Terminate("heartbeat timeout")
		return
	}
	if err := s.conn.WriteText([]byte("ping")); err != nil {
		go s.Terminate("ping failed")
	}
}

func (s *Session) watchProcess() {
	select {
	case <-s.proc.Done():
		if err := s.proc.Err(); err != nil {
			s.logger.Warn("transcoder exited unexpectedly", slog.String("error", err.Error()))
		}
		s.metrics.IncTranscoderExit()
		s.Terminate("transcoder exited")
	case <-s.ctx.Done():
	}
}

// Terminate tears the session down: the connection is closed, the transcoder
// is stopped and awaited, the output directory is removed, and the OnClosed
// hook runs. Concurrent and repeated calls collapse into a single teardown.
func (s *Session) Terminate(reason string) {
	s.once.Do(func() {
		s.logger.Info("session closing", slog.String("reason", reason))
		s.cancel()
		_ = s.conn.Close()
		s.proc.Stop()
		if s.dir != "" {
			if err := os.RemoveAll(s.dir); err != nil {
				s.logger.Warn("remove output directory", slog.String("error", err.Error()))
			}
		}
		if s.onClosed != nil {
			s.onClosed(reason)
		}
		close(s.done)
	})
}
