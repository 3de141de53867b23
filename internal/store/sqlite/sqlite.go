// Package sqlite is the embedded, single-file backend: the same journal and
// market projection stores as the PostgreSQL backend, on pure-Go SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/castbet/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
    seq          INTEGER PRIMARY KEY,
    request_id   TEXT     NOT NULL UNIQUE,
    op           TEXT     NOT NULL,
    market_id    TEXT     NOT NULL DEFAULT '',
    caller       TEXT     NOT NULL,
    at           DATETIME NOT NULL,
    payload      BLOB     NOT NULL,
    recorded_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_market ON journal(market_id, seq);

CREATE TABLE IF NOT EXISTS markets (
    id            TEXT PRIMARY KEY,
    creator       TEXT     NOT NULL,
    state         TEXT     NOT NULL,
    paid_out      INTEGER  NOT NULL DEFAULT 0,
    resolved_at   DATETIME,
    archived_at   DATETIME,
    archive_path  TEXT,
    view          BLOB     NOT NULL,
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_markets_state ON markets(state, created_at DESC);
`

// DB is an open SQLite database with the castbet schema applied.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks the database handle.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Journal returns the journal store.
func (d *DB) Journal() *JournalStore { return &JournalStore{db: d.db} }

// Markets returns the market projection store.
func (d *DB) Markets() *MarketStore { return &MarketStore{db: d.db} }

// JournalStore implements domain.JournalStore.
type JournalStore struct {
	db *sql.DB
}

// Append writes e. A duplicate seq or request id yields domain.ErrAlreadyExists.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (seq, request_id, op, market_id, caller, at, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e.Seq), e.RequestID, e.Op, e.MarketID, e.Caller.Hex(),
		e.At.UTC(), []byte(e.Payload), time.Now().UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("sqlite: append journal seq %d: %w", e.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: append journal seq %d: %w", e.Seq, err)
	}
	return nil
}

// ReadFrom returns up to limit entries after afterSeq in ascending order.
func (s *JournalStore) ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, request_id, op, market_id, caller, at, payload, recorded_at
		FROM journal WHERE seq > ? ORDER BY seq ASC LIMIT ?`, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read journal: %w", err)
	}
	defer rows.Close()
	return scanJournal(rows)
}

// ListByMarket returns the entries touching marketID in seq order.
func (s *JournalStore) ListByMarket(ctx context.Context, marketID string) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, request_id, op, market_id, caller, at, payload, recorded_at
		FROM journal WHERE market_id = ? ORDER BY seq ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list journal by market: %w", err)
	}
	defer rows.Close()
	return scanJournal(rows)
}

// LastSeq returns the highest seq, or 0.
func (s *JournalStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM journal`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlite: journal last seq: %w", err)
	}
	return uint64(seq), nil
}

func scanJournal(rows *sql.Rows) ([]domain.JournalEntry, error) {
	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			seq     int64
			caller  string
			payload []byte
		)
		if err := rows.Scan(&seq, &e.RequestID, &e.Op, &e.MarketID, &caller, &e.At, &payload, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan journal: %w", err)
		}
		e.Seq = uint64(seq)
		e.Caller = common.HexToAddress(caller)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	db *sql.DB
}

// Upsert replaces the projection of m, preserving archive columns.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketView) error {
	view, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sqlite: marshal market %s: %w", m.ID, err)
	}
	var resolvedAt any
	if m.ResolvedAt != nil {
		resolvedAt = m.ResolvedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO markets (id, creator, state, paid_out, resolved_at, view, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state       = excluded.state,
			paid_out    = excluded.paid_out,
			resolved_at = excluded.resolved_at,
			view        = excluded.view`,
		m.ID, m.Creator.Hex(), string(m.State), m.PaidOut, resolvedAt, view, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns one projection.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.MarketView, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT view FROM markets WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MarketView{}, fmt.Errorf("sqlite: get market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("sqlite: get market %s: %w", id, err)
	}
	var v domain.MarketView
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.MarketView{}, fmt.Errorf("sqlite: decode market %s: %w", id, err)
	}
	return v, nil
}

// List returns projections matching filter, newest first.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketView, error) {
	query := `SELECT view FROM markets WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.Creator != nil {
		query += ` AND creator = ?`
		args = append(args, filter.Creator.Hex())
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.Until.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}
	return s.queryViews(ctx, query, args...)
}

// ListArchivable returns paid-out markets resolved before the cutoff.
func (s *MarketStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.MarketView, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryViews(ctx, `
		SELECT view FROM markets
		WHERE paid_out = 1 AND archived_at IS NULL AND resolved_at < ?
		ORDER BY resolved_at ASC LIMIT ?`, before.UTC(), limit)
}

// MarkArchived records the archive location.
func (s *MarketStore) MarkArchived(ctx context.Context, id, path string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE markets SET archived_at = ?, archive_path = ? WHERE id = ?`, at.UTC(), path, id)
	if err != nil {
		return fmt.Errorf("sqlite: mark market %s archived: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: mark market %s archived: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Count returns the number of projected markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count markets: %w", err)
	}
	return n, nil
}

func (s *MarketStore) queryViews(ctx context.Context, query string, args ...any) ([]domain.MarketView, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketView
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan market: %w", err)
		}
		var v domain.MarketView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("sqlite: decode market: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
