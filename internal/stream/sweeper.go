package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// StartSweeper runs the heartbeat loop over the registry: each interval every
// live session is swept, which pings responsive publishers and evicts ones
// that missed the previous ping. The returned func stops the loop and waits
// for it to exit.
func StartSweeper(ctx context.Context, logger *slog.Logger, registry *Registry, interval time.Duration) func() {
	return startSweeperWithTicker(ctx, logger, registry, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSweeperWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	registry *Registry,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sessions := registry.Snapshot()
				if len(sessions) > 0 {
					logger.Debug("sweeping sessions", slog.Int("count", len(sessions)))
				}
				for _, session := range sessions {
					session.Sweep()
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
