package horizon

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/traces"
)

// SnapshotSource builds feature snapshots from Horizon.
type SnapshotSource struct {
	client *Client
	limit  int
	now    func() time.Time
}

// NewSnapshotSource creates a snapshot source reading pages of up to limit
// records. A non-positive limit means DefaultPageLimit.
func NewSnapshotSource(client *Client, limit int) *SnapshotSource {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &SnapshotSource{client: client, limit: limit, now: time.Now}
}

var _ features.SnapshotSource = (*SnapshotSource)(nil)

// Snapshot fetches balances, transactions, operations and the account's
// first transaction concurrently. A missing account yields the default
// snapshot with Found=false.
func (s *SnapshotSource) Snapshot(ctx context.Context, address string) (*features.Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "horizon.Snapshot", traces.WalletAddr(address))
	defer span.End()

	var (
		acct   *Account
		txs    []Transaction
		ops    []Operation
		oldest *Transaction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = s.client.Account(gctx, address)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.client.Transactions(gctx, address, s.limit)
		return err
	})
	g.Go(func() error {
		var err error
		ops, err = s.client.Operations(gctx, address, s.limit)
		return err
	})
	g.Go(func() error {
		var err error
		oldest, err = s.client.OldestTransaction(gctx, address)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return features.Empty(address), nil
		}
		traces.Fail(span, err)
		return nil, err
	}

	snap := &features.Snapshot{
		Address:      address,
		Found:        true,
		Balances:     make([]features.Balance, 0, len(acct.Balances)),
		Transactions: make([]features.Transaction, 0, len(txs)),
		Operations:   make([]features.Operation, 0, len(ops)),
	}
	for _, b := range acct.Balances {
		amount, err := strconv.ParseFloat(b.Amount, 64)
		if err != nil {
			amount = 0
		}
		snap.Balances = append(snap.Balances, features.Balance{
			AssetType:   b.AssetType,
			AssetCode:   b.AssetCode,
			AssetIssuer: b.AssetIssuer,
			Amount:      amount,
		})
	}
	for _, tx := range txs {
		snap.Transactions = append(snap.Transactions, features.Transaction{
			Hash:           tx.Hash,
			CreatedAt:      tx.CreatedAt,
			FeeCharged:     tx.FeeCharged,
			OperationCount: tx.OperationCount,
			Successful:     tx.Successful,
		})
	}
	for _, op := range ops {
		snap.Operations = append(snap.Operations, features.Operation{
			Type:       op.Type,
			CreatedAt:  op.CreatedAt,
			Successful: op.Successful,
		})
	}
	if oldest != nil && !oldest.CreatedAt.IsZero() {
		days := s.now().Sub(oldest.CreatedAt).Hours() / 24
		if days > 0 {
			snap.AccountAgeDays = days
		}
	}
	return snap, nil
}
