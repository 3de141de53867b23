package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market projection queries.
type MarketFilter struct {
	State   State
	Creator *Address
	ListOpts
}

// JournalStore persists applied commands in sequence order.
type JournalStore interface {
	Append(ctx context.Context, entry JournalEntry) error
	ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]JournalEntry, error)
	ListByMarket(ctx context.Context, marketID string) ([]JournalEntry, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// MarketStore persists the read projection of markets.
type MarketStore interface {
	Upsert(ctx context.Context, market MarketView) error
	GetByID(ctx context.Context, id string) (MarketView, error)
	List(ctx context.Context, filter MarketFilter) ([]MarketView, error)
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]MarketView, error)
	MarkArchived(ctx context.Context, id string, path string, at time.Time) error
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
