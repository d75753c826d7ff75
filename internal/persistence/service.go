package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rivora/rivora/internal/history"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/metrics"
	"github.com/rivora/rivora/internal/pagination"
	"github.com/rivora/rivora/internal/stellar"
	"github.com/rivora/rivora/internal/traces"
)

// Service is the persistence entry point used by the HTTP handlers, the
// MCP tools and the CLI.
type Service struct {
	strategy Strategy
	ledger   Ledger
	network  stellar.Network
	history  history.Store
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records drafts and submissions in store.
func WithHistory(store history.Store) Option {
	return func(s *Service) { s.history = store }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a persistence service. ledger is used for submission;
// strategy reads and writes records.
func NewService(strategy Strategy, ledger Ledger, network stellar.Network, opts ...Option) *Service {
	s := &Service{
		strategy: strategy,
		ledger:   ledger,
		network:  network,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Network returns the configured network.
func (s *Service) Network() stellar.Network { return s.network }

// Mode describes the configured strategy: contract, native, or
// contract+native for a fallback.
func (s *Service) Mode() string {
	if f, ok := s.strategy.(*Fallback); ok {
		return string(f.Primary.Kind()) + "+" + string(f.Secondary.Kind())
	}
	return string(s.strategy.Kind())
}

// PrepareSave validates the scores and builds an unsigned draft for the
// wallet to sign. The account sequence is fetched fresh for every draft.
func (s *Service) PrepareSave(ctx context.Context, address string, trust, health float64, userType string) (*Draft, error) {
	ctx, span := traces.StartSpan(ctx, "persistence.PrepareSave", traces.WalletAddr(address))
	defer span.End()

	if !stellar.ValidAccount(address) {
		return nil, stellar.ErrInvalidAddress
	}
	rec, err := NewRecord(address, trust, health, userType, s.now())
	if err != nil {
		return nil, err
	}

	draft, err := s.strategy.BuildSave(ctx, address, rec)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Strategy(string(draft.Strategy)))
	metrics.DraftsTotal.WithLabelValues(string(draft.Strategy)).Inc()

	s.log(ctx).Info("save draft prepared",
		"wallet", address,
		"strategy", draft.Strategy,
		"ops", draft.OperationCount,
		"fee", draft.Fee,
		"sequence", draft.Sequence,
	)
	s.record(ctx, &history.Entry{
		Address:     address,
		Kind:        history.KindDraft,
		Strategy:    string(draft.Strategy),
		Network:     string(draft.Network),
		Status:      history.StatusPrepared,
		TxHash:      draft.Hash,
		TrustRating: rec.TrustRating,
		HealthScore: rec.HealthScore,
		UserType:    rec.UserType,
	})
	return draft, nil
}

// SubmitSigned relays a signed envelope to Horizon. The network must match
// the service's. It is never retried. wallet is the address the draft was
// prepared for; history is keyed by the envelope source when it parses and
// by wallet when it does not.
func (s *Service) SubmitSigned(ctx context.Context, envelopeXDR, network, wallet string) (*horizon.SubmitResult, error) {
	ctx, span := traces.StartSpan(ctx, "persistence.SubmitSigned", traces.Network(network))
	defer span.End()

	if network != "" {
		n, err := stellar.ParseNetwork(network)
		if err != nil || n != s.network {
			return nil, fmt.Errorf("%w: got %q, serving %q", ErrNetworkMismatch, network, s.network)
		}
	}
	envelopeXDR = strings.TrimSpace(envelopeXDR)
	info, err := stellar.InspectEnvelope(envelopeXDR, s.network)
	if err != nil {
		traces.Fail(span, err)
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		s.log(ctx).Warn("unreadable signed envelope", "wallet", wallet, "error", err)
		s.record(ctx, &history.Entry{
			Address: wallet,
			Kind:    history.KindSubmission,
			Network: string(s.network),
			Status:  history.StatusRejected,
			Error:   err.Error(),
		})
		return nil, err
	}
	source := info.Source
	if info.FeeBump {
		s.log(ctx).Debug("fee-bump envelope", "wallet", source, "hash", info.Hash)
	}

	res, err := s.ledger.Submit(ctx, envelopeXDR)
	entry := &history.Entry{
		Address: source,
		Kind:    history.KindSubmission,
		Network: string(s.network),
		TxHash:  info.Hash,
	}
	if err != nil {
		traces.Fail(span, err)
		var serr *horizon.SubmitError
		if errors.As(err, &serr) {
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			entry.Status = history.StatusRejected
			s.log(ctx).Warn("transaction rejected",
				"wallet", source,
				"result", serr.Transaction,
				"operations", serr.Operations,
			)
		} else {
			metrics.SubmissionsTotal.WithLabelValues("error").Inc()
			entry.Status = history.StatusFailed
			s.log(ctx).Error("transaction submission failed", "wallet", source, "error", err)
		}
		entry.Error = err.Error()
		s.record(ctx, entry)
		return nil, err
	}

	span.SetAttributes(traces.TxHash(res.Hash))
	metrics.SubmissionsTotal.WithLabelValues("success").Inc()
	s.log(ctx).Info("transaction submitted", "wallet", source, "hash", res.Hash, "ledger", res.Ledger)
	entry.Status = history.StatusSuccess
	entry.TxHash = res.Hash
	entry.Ledger = res.Ledger
	s.record(ctx, entry)
	return res, nil
}

// Verification is the result of VerifyOnChain.
type Verification struct {
	Verified bool         `json:"verified"`
	Record   *ScoreRecord `json:"scores"`
	Strategy Kind         `json:"strategy,omitempty"`
}

// VerifyOnChain reads the stored record. A wallet with no record is not an
// error; it returns Verified=false.
func (s *Service) VerifyOnChain(ctx context.Context, address string) (*Verification, error) {
	ctx, span := traces.StartSpan(ctx, "persistence.VerifyOnChain", traces.WalletAddr(address))
	defer span.End()

	if !stellar.ValidAccount(address) {
		return nil, stellar.ErrInvalidAddress
	}
	rec, err := s.strategy.Read(ctx, address)
	if errors.Is(err, ErrRecordNotFound) {
		return &Verification{}, nil
	}
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	return &Verification{Verified: true, Record: rec, Strategy: rec.Source}, nil
}

// HistoryPage is one page of an address's history.
type HistoryPage struct {
	Entries    []*history.Entry `json:"entries"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

// History lists recorded drafts and submissions for an address, newest
// first. cursor is the NextCursor of the previous page, or empty.
func (s *Service) History(ctx context.Context, address, cursor string, limit int) (*HistoryPage, error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return &HistoryPage{Entries: []*history.Entry{}}, nil
	}

	limit = history.ClampLimit(limit)
	entries, err := s.history.List(ctx, address, history.Query{Limit: limit + 1, Before: before})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries, next, more := pagination.ComputePage(entries, limit, history.CursorOf)
	if entries == nil {
		entries = []*history.Entry{}
	}
	return &HistoryPage{Entries: entries, NextCursor: next, HasMore: more}, nil
}

func (s *Service) record(ctx context.Context, e *history.Entry) {
	if s.history == nil || e.Address == "" {
		return
	}
	if err := s.history.Record(ctx, e); err != nil {
		s.log(ctx).Warn("failed to record history", "wallet", e.Address, "kind", e.Kind, "error", err)
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.LOr(ctx, s.logger)
}
