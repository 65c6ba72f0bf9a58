package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultAttempts    = 3
	defaultBackoffBase = 300 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
)

type retrying struct {
	Engine
	attempts uint64
	base     time.Duration
	log      *slog.Logger
}

// WithRetry wraps an engine so transient failures are retried with
// exponential backoff. attempts is the number of retries after the first
// call. Context errors and ErrPermanent stop immediately.
func WithRetry(eng Engine, attempts int, base time.Duration, logger *slog.Logger) Engine {
	if attempts < 0 || attempts > 10 {
		attempts = defaultAttempts
	}
	if base <= 0 {
		base = defaultBackoffBase
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &retrying{Engine: eng, attempts: uint64(attempts), base: base, log: logger}
}

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	backoff := retry.WithMaxRetries(r.attempts,
		retry.WithMaxDuration(defaultBackoffMax, retry.NewExponential(r.base)))

	var (
		out     string
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var callErr error
		out, callErr = r.Engine.Generate(ctx, req)
		if callErr == nil {
			return nil
		}
		if !IsTransient(ctx, callErr) {
			return callErr
		}
		r.log.Warn("ai call failed, retrying",
			"engine", r.Name(), "model", r.Model(), "attempt", attempt, "err", callErr)
		return retry.RetryableError(callErr)
	})
	return out, err
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(ctx context.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case ctx.Err() != nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrPermanent):
		return false
	}
	return true
}
