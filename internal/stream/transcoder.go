package stream

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const stopGrace = 10 * time.Second

// TranscoderConfig describes a single ffmpeg process packaging one
// publisher's stream into HLS.
type TranscoderConfig struct {
	StreamID   string
	Dir        string
	FFmpegPath string
	// Args overrides the default ffmpeg arguments. Used by tests to swap in
	// a lighter process.
	Args   []string
	Logger *slog.Logger
}

// Transcoder supervises an ffmpeg process that consumes media bytes on stdin
// and writes an HLS playlist plus segments into its output directory.
type Transcoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	done chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	exitErr error
}

func defaultTranscodeArgs(dir string) []string {
	return []string{
		"-i", "-",
		"-c:v", "libx264",
		"-crf", "40",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-hls_time", "5",
		"-f", "hls",
		filepath.ToSlash(filepath.Join(dir, "stream.m3u8")),
	}
}

// LaunchTranscoder starts the ffmpeg process for cfg. The returned Transcoder
// owns the process; callers must eventually call Stop or wait for Done.
func LaunchTranscoder(cfg TranscoderConfig) (*Transcoder, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	args := cfg.Args
	if args == nil {
		args = defaultTranscodeArgs(cfg.Dir)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("stream_id", cfg.StreamID))

	cmd := exec.Command(ffmpeg, args...)
	cmd.Stdout = newProcessLogWriter(logger, "stdout")
	cmd.Stderr = newProcessLogWriter(logger, "stderr")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start %s: %w", ffmpeg, err)
	}

	t := &Transcoder{
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		if err != nil {
			logger.Warn("transcoder exited with error", slog.String("error", err.Error()))
		} else {
			logger.Info("transcoder exited")
		}
		close(t.done)
	}()
	return t, nil
}

// Write feeds media bytes to the process. Bytes arriving after the process
// has exited are dropped without error; the exit itself is reported through
// Done and Err.
func (t *Transcoder) Write(p []byte) (int, error) {
	select {
	case <-t.done:
		return len(p), nil
	default:
	}
	n, err := t.stdin.Write(p)
	if err != nil {
		t.logger.Debug("transcoder stdin write failed", slog.String("error", err.Error()))
		return len(p), nil
	}
	return n, nil
}

// Stop closes stdin and interrupts the process so ffmpeg can finalise the
// playlist, escalating to a kill if it does not exit in time. It is safe to
// call multiple times and blocks until the process has exited.
func (t *Transcoder) Stop() {
	t.stopOnce.Do(func() {
		t.stdin.Close()
		select {
		case <-t.done:
			return
		default:
		}
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			t.logger.Debug("signal transcoder", slog.String("error", err.Error()))
		}
		select {
		case <-t.done:
		case <-time.After(stopGrace):
			t.logger.Warn("transcoder did not exit after interrupt, killing")
			_ = t.cmd.Process.Kill()
			<-t.done
		}
	})
	<-t.done
}

// Done is closed once the process has exited.
func (t *Transcoder) Done() <-chan struct{} {
	return t.done
}

// Err reports the process exit error. It is only meaningful after Done is
// closed.
func (t *Transcoder) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

type processLogWriter struct {
	logger *slog.Logger
	stream string
}

func newProcessLogWriter(logger *slog.Logger, stream string) *processLogWriter {
	return &processLogWriter{logger: logger, stream: stream}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("ffmpeg output", slog.String("stream", w.stream), slog.String("line", string(line)))
	}
	return total, nil
}
