package idempotency

import (
	"context"
	"log/slog"
)

// Checker is the idempotency surface the webhook intake and worker use.
// *Store implements it; FailOpen wraps any implementation.
type Checker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	MarkProcessed(ctx context.Context, key string) error
	ReleaseIfProcessing(ctx context.Context, key string) error
}

// FailOpen degrades idempotency-store outages to at-least-once delivery:
// when the store is unreachable, "already processed?" answers false and
// "lock acquired?" answers true, so events keep flowing. Downstream
// handlers are assumed independently idempotent.
type FailOpen struct {
	inner  Checker
	logger *slog.Logger
}

var _ Checker = (*FailOpen)(nil)

// NewFailOpen wraps a Checker with fail-open semantics.
func NewFailOpen(inner Checker, logger *slog.Logger) *FailOpen {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailOpen{inner: inner, logger: logger}
}

// Acquire reports acquired=true when the store errors.
func (f *FailOpen) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := f.inner.Acquire(ctx, key)
	if err != nil {
		f.logger.Warn("idempotency store unavailable, failing open on acquire",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return acquired, err
}

// Get reports "no record" when the store errors.
func (f *FailOpen) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := f.inner.Get(ctx, key)
	if err != nil {
		f.logger.Warn("idempotency store unavailable, failing open on get",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return rec, nil
}

// MarkProcessed logs and swallows store errors; the short processing TTL
// bounds the damage of a lost promotion.
func (f *FailOpen) MarkProcessed(ctx context.Context, key string) error {
	if err := f.inner.MarkProcessed(ctx, key); err != nil {
		f.logger.Warn("idempotency store unavailable on mark processed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ReleaseIfProcessing logs and swallows store errors; the processing TTL
// expires the stranded record on its own.
func (f *FailOpen) ReleaseIfProcessing(ctx context.Context, key string) error {
	if err := f.inner.ReleaseIfProcessing(ctx, key); err != nil {
		f.logger.Warn("idempotency store unavailable on release",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
