package persistence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rivora/rivora/internal/circuitbreaker"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/metrics"
	"github.com/rivora/rivora/internal/stellar"
)

// Fallback tries Primary and falls back to Secondary for both writes and
// reads. Primary failures are logged and counted, never returned. After
// repeated primary failures the breaker skips Primary until it recovers.
type Fallback struct {
	Primary   Strategy
	Secondary Strategy

	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewFallback combines two strategies.
func NewFallback(primary, secondary Strategy, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{Primary: primary, Secondary: secondary, breaker: breaker, logger: logger}
}

// Kind reports the primary's kind.
func (f *Fallback) Kind() Kind { return f.Primary.Kind() }

func (f *Fallback) BuildSave(ctx context.Context, address string, rec ScoreRecord) (*Draft, error) {
	if f.allow() {
		d, err := f.Primary.BuildSave(ctx, address, rec)
		if err == nil {
			f.success()
			return d, nil
		}
		if !f.shouldFallBack(ctx, "build", err) {
			return nil, err
		}
	}
	return f.Secondary.BuildSave(ctx, address, rec)
}

func (f *Fallback) Read(ctx context.Context, address string) (*ScoreRecord, error) {
	if f.allow() {
		rec, err := f.Primary.Read(ctx, address)
		if err == nil {
			f.success()
			return rec, nil
		}
		if errors.Is(err, ErrRecordNotFound) {
			// the primary answered; the record may still be in the secondary
			f.success()
		} else if !f.shouldFallBack(ctx, "read", err) {
			return nil, err
		}
	}
	return f.Secondary.Read(ctx, address)
}

// shouldFallBack records a primary failure and reports whether the secondary
// should be tried. Errors that would fail the same way on any strategy,
// like a missing account or a bad score, are returned as is.
func (f *Fallback) shouldFallBack(ctx context.Context, op string, err error) bool {
	if ctx.Err() != nil {
		f.failure()
		return false
	}
	if errors.Is(err, horizon.ErrAccountNotFound) ||
		errors.Is(err, ErrInvalidScore) ||
		errors.Is(err, stellar.ErrInvalidAddress) {
		f.success()
		return false
	}
	f.failure()
	metrics.PersistenceFallbacksTotal.WithLabelValues(op, string(f.Primary.Kind())).Inc()
	f.logger.Warn("primary persistence strategy failed, falling back",
		"op", op,
		"primary", f.Primary.Kind(),
		"secondary", f.Secondary.Kind(),
		"error", err,
	)
	return true
}

func (f *Fallback) allow() bool {
	return f.breaker == nil || f.breaker.Allow(string(f.Primary.Kind()))
}

func (f *Fallback) success() {
	if f.breaker != nil {
		f.breaker.RecordSuccess(string(f.Primary.Kind()))
	}
}

func (f *Fallback) failure() {
	if f.breaker != nil {
		f.breaker.RecordFailure(string(f.Primary.Kind()))
	}
}
