package channels

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// ReconnectConfig controls a Reconnector's backoff schedule.
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultReconnectConfig is a reasonable baseline for a long-polling or
// socket-based adapter.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
		Jitter:       true,
	}
}

// Reconnector retries a connection-establishing function with
// exponential backoff until it succeeds, the context is canceled, or
// MaxAttempts is exhausted.
type Reconnector struct {
	Config ReconnectConfig
	Logger *slog.Logger
	Health *BaseHealthAdapter
}

// Run executes fn until it returns nil, ctx ends, or attempts run out.
func (r *Reconnector) Run(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("reconnector: run func is nil")
	}
	cfg := r.Config
	def := DefaultReconnectConfig()
	if cfg.MaxAttempts == 0 {
		cfg = def
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		attempt++
		if r.Health != nil {
			r.Health.RecordReconnectAttempt()
			r.Health.SetStatus(false, err.Error())
		}
		if r.Logger != nil {
			r.Logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return err
		}

		delay := backoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.Factor, cfg.Jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff computes an exponential delay, optionally with up to 20%
// jitter to avoid a reconnect thundering herd across adapters.
func backoff(attempt int, initial, max time.Duration, factor float64, jitter bool) time.Duration {
	d := float64(initial)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	if d > float64(max) {
		d = float64(max)
	}
	delay := time.Duration(d)
	if jitter {
		delay += time.Duration(rand.Int63n(int64(delay)/5 + 1))
	}
	return delay
}
