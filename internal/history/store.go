// Package history records the save drafts the service prepares and the
// results of every submission it relays.
package history

import (
	"context"
	"time"

	"github.com/rivora/rivora/internal/pagination"
)

// Kind distinguishes prepared drafts from relayed submissions.
type Kind string

const (
	KindDraft      Kind = "draft"
	KindSubmission Kind = "submission"
)

// Statuses.
const (
	StatusPrepared = "prepared"
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// DefaultLimit and MaxLimit bound List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is one history row.
type Entry struct {
	ID          int64     `json:"id"`
	Address     string    `json:"walletAddress"`
	Kind        Kind      `json:"kind"`
	Strategy    string    `json:"strategy,omitempty"`
	Network     string    `json:"network,omitempty"`
	Status      string    `json:"status"`
	TxHash      string    `json:"transactionHash,omitempty"`
	Ledger      int64     `json:"ledger,omitempty"`
	TrustRating float64   `json:"trustRating,omitempty"`
	HealthScore float64   `json:"healthScore,omitempty"`
	UserType    string    `json:"userType,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists history entries.
type Store interface {
	// Record saves e and fills in its ID and CreatedAt.
	Record(ctx context.Context, e *Entry) error

	// List returns an address's entries, newest first.
	List(ctx context.Context, address string, q Query) ([]*Entry, error)
}

// Query selects one page of an address's entries.
type Query struct {
	// Limit is the page size. Zero means DefaultLimit.
	Limit int
	// Before, when set, skips entries at or ahead of the cursor.
	Before *pagination.Cursor
}

// fetch is the number of rows a store reads. One row beyond MaxLimit is
// allowed so callers can look ahead for another page.
func (q Query) fetch() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return min(q.Limit, MaxLimit+1)
}

// included reports whether e falls inside the query's window.
func (q Query) included(e *Entry) bool {
	return q.Before == nil || q.Before.After(e.CreatedAt, e.ID)
}

// CursorOf returns the pagination position of e.
func CursorOf(e *Entry) pagination.Cursor {
	return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// ClampLimit bounds a requested page size to [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
