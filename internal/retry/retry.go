// Package retry runs remote calls with bounded, deterministic exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 1000 * time.Millisecond
	DefaultFactor   = 2.0
)

type Config struct {
	Attempts int
	Delay    time.Duration
	Factor   float64
}

func DefaultConfig() Config {
	return Config{Attempts: DefaultAttempts, Delay: DefaultDelay, Factor: DefaultFactor}
}

func (c Config) Validate() error {
	if c.Attempts <= 0 {
		return apperr.Configuration("retry attempts must be >= 1 (got %d)", c.Attempts)
	}
	if c.Delay < 0 {
		return apperr.Configuration("retry delay must be >= 0 (got %s)", c.Delay)
	}
	if c.Factor <= 0 {
		return apperr.Configuration("retry factor must be > 0 (got %g)", c.Factor)
	}
	return nil
}

// Delays returns the wait before each retry: D, D·F, D·F², ... for
// Attempts-1 retries.
func (c Config) Delays() []time.Duration {
	if c.Attempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, c.Attempts-1)
	d := float64(c.Delay)
	for i := 1; i < c.Attempts; i++ {
		out = append(out, time.Duration(d))
		d *= c.Factor
	}
	return out
}

// Failure describes one failed attempt handed to an Observer.
type Failure struct {
	Op       string
	Attempt  int
	Attempts int
	Err      error
	// Wait is the delay before the next attempt; zero on the final attempt.
	Wait time.Duration
}

// Observer is notified of each failed attempt before the wait starts. It
// cannot influence the retry loop.
type Observer func(ctx context.Context, f Failure)

type Retrier struct {
	cfg       Config
	op        string
	observers []Observer
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Retrier)

// WithName labels log lines and metrics for this retrier.
func WithName(op string) Option {
	return func(r *Retrier) { r.op = op }
}

// WithLogger reports failed attempts as warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) {
		if l == nil {
			return
		}
		r.observers = append(r.observers, func(ctx context.Context, f Failure) {
			if f.Wait > 0 {
				l.WarnContext(ctx, "attempt failed; retrying",
					"op", f.Op, "attempt", f.Attempt, "attempts", f.Attempts,
					"wait", f.Wait, "err", f.Err)
				return
			}
			l.WarnContext(ctx, "attempt failed",
				"op", f.Op, "attempt", f.Attempt, "attempts", f.Attempts, "err", f.Err)
		})
	}
}

func WithObserver(o Observer) Option {
	return func(r *Retrier) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithRetryable overrides which errors are worth another attempt. The
// default retries everything except apperr permanent errors.
func WithRetryable(f func(error) bool) Option {
	return func(r *Retrier) {
		if f != nil {
			r.retryable = f
		}
	}
}

// for tests
func withSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) { r.sleep = f }
}

func New(cfg Config, opts ...Option) *Retrier {
	r := &Retrier{
		cfg:       cfg,
		retryable: func(err error) bool { return !apperr.IsPermanent(err) },
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Retrier) Config() Config { return r.cfg }

// Run is Do for operations without a result value.
func (r *Retrier) Run(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do executes op until it succeeds or the configured attempts are used up.
// On exhaustion it returns the error of the last attempt.
func Do[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := r.cfg.Validate(); err != nil {
		return zero, err
	}

	delays := r.cfg.Delays()
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			observability.IncRetryAttempt(r.op, "ok")
			return v, nil
		}
		lastErr = err

		if !r.retryable(err) {
			observability.IncRetryAttempt(r.op, "permanent")
			r.notify(ctx, Failure{Op: r.op, Attempt: attempt, Attempts: r.cfg.Attempts, Err: err})
			return zero, err
		}
		if attempt == r.cfg.Attempts {
			observability.IncRetryAttempt(r.op, "exhausted")
			r.notify(ctx, Failure{Op: r.op, Attempt: attempt, Attempts: r.cfg.Attempts, Err: err})
			break
		}

		wait := delays[attempt-1]
		observability.IncRetryAttempt(r.op, "retry")
		r.notify(ctx, Failure{Op: r.op, Attempt: attempt, Attempts: r.cfg.Attempts, Err: err, Wait: wait})

		if serr := r.sleep(ctx, wait); serr != nil {
			observability.IncRetryAttempt(r.op, "canceled")
			return zero, fmt.Errorf("%w after attempt %d/%d: %w", apperr.ErrCanceled, attempt, r.cfg.Attempts, serr)
		}
	}
	return zero, lastErr
}

func (r *Retrier) notify(ctx context.Context, f Failure) {
	for _, o := range r.observers {
		func() {
			defer func() { _ = recover() }()
			o(ctx, f)
		}()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCanceled reports whether err came from an aborted retry wait.
func IsCanceled(err error) bool {
	return errors.Is(err, apperr.ErrCanceled)
}
