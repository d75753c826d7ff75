package history

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, e *Entry) error {
	const q = `
		INSERT INTO score_history
			(address, kind, strategy, network, status, tx_hash, ledger,
			 trust_rating, health_score, user_type, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at`

	return p.db.QueryRowContext(ctx, q,
		e.Address,
		string(e.Kind),
		e.Strategy,
		e.Network,
		e.Status,
		e.TxHash,
		e.Ledger,
		e.TrustRating,
		e.HealthScore,
		e.UserType,
		e.Error,
	).Scan(&e.ID, &e.CreatedAt)
}

func (p *PostgresStore) List(ctx context.Context, address string, q Query) ([]*Entry, error) {
	const base = `
		SELECT id, address, kind, strategy, network, status, tx_hash, ledger,
			   trust_rating, health_score, user_type, error, created_at
		FROM score_history
		WHERE address = $1`

	var (
		rows *sql.Rows
		err  error
	)
	if q.Before == nil {
		rows, err = p.db.QueryContext(ctx, base+`
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, address, q.fetch())
	} else {
		rows, err = p.db.QueryContext(ctx, base+`
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, address, q.Before.CreatedAt, q.Before.ID, q.fetch())
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var kind string
		if err := rows.Scan(&e.ID, &e.Address, &kind, &e.Strategy, &e.Network, &e.Status,
			&e.TxHash, &e.Ledger, &e.TrustRating, &e.HealthScore, &e.UserType, &e.Error,
			&e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
