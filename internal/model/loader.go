package model

import (
	"context"
	"log/slog"
	"time"
)

// Loader warms a registry at startup and keeps retrying while it is Empty,
// so a dataset dropped in after boot is picked up without a restart.
type Loader struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewLoader creates a loader. An interval of zero warms once and exits.
func NewLoader(registry *Registry, interval time.Duration, logger *slog.Logger) *Loader {
	return &Loader{
		registry: registry,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the warm-up loop. Call in a goroutine.
func (l *Loader) Start(ctx context.Context) {
	l.warm(ctx)
	if l.interval <= 0 {
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
			if l.registry.State() == StateEmpty {
				l.warm(ctx)
			}
		}
	}
}

// Stop signals the loader to stop.
func (l *Loader) Stop() {
	select {
	case l.stop <- struct{}{}:
	default:
	}
}

func (l *Loader) warm(ctx context.Context) {
	loaded, err := l.registry.EnsureLoaded(ctx)
	if err != nil {
		l.logger.Warn("model warm-up failed, rule scoring active", "error", err)
		return
	}
	if loaded {
		l.logger.Info("model warm-up completed", "runs", l.registry.TrainingRuns())
	}
}
