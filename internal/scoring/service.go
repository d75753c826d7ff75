package scoring

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/metrics"
	"github.com/rivora/rivora/internal/traces"
	"github.com/rivora/rivora/internal/validation"
)

// batchConcurrency bounds parallel snapshot fetches in ScoreBatch.
const batchConcurrency = 8

// Service fetches snapshots and scores them.
type Service struct {
	source features.SnapshotSource
	orch   *Orchestrator
	logger *slog.Logger
}

// NewService creates a scoring service.
func NewService(source features.SnapshotSource, orch *Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, orch: orch, logger: logger}
}

// Orchestrator returns the underlying orchestrator.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// ScoreAccount validates addr, fetches its snapshot and scores it. An
// account that does not exist scores as the default snapshot.
func (s *Service) ScoreAccount(ctx context.Context, addr string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.ScoreAccount", traces.WalletAddr(addr))
	defer span.End()

	if err := validation.CheckAddress(addr); err != nil {
		return nil, err
	}

	snap, err := s.source.Snapshot(ctx, addr)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	res := s.orch.Score(ctx, snap)
	span.SetAttributes(traces.Method(string(res.Scores.Method)))
	metrics.ScoresComputedTotal.WithLabelValues(string(res.Scores.Method)).Inc()

	logging.LOr(ctx, s.logger).Info("wallet scored",
		"wallet", addr,
		"risk", res.Scores.Risk,
		"health", res.Scores.Health,
		"user_type", res.UserType,
		"method", res.Scores.Method,
		"data_quality", res.DataQuality,
	)
	return res, nil
}

// BatchItem is one entry of a batch result. Exactly one of Result and Err
// is set.
type BatchItem struct {
	Address string
	Result  *Result
	Err     error
}

// ScoreBatch scores every address, in order, with bounded concurrency.
// Per-address failures are reported in their item and do not stop the
// batch.
func (s *Service) ScoreBatch(ctx context.Context, addrs []string) []BatchItem {
	metrics.BatchSize.Observe(float64(len(addrs)))

	items := make([]BatchItem, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, addr := range addrs {
		items[i].Address = addr
		g.Go(func() error {
			res, err := s.ScoreAccount(gctx, addr)
			items[i].Result = res
			items[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return items
}
