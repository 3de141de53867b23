package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/castbet/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `seq, request_id, op, market_id, caller, at, payload, recorded_at`

// Append writes entry. A duplicate seq or request id is reported as
// domain.ErrAlreadyExists so the sequencer halts instead of forking history.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	const query = `
		INSERT INTO journal (seq, request_id, op, market_id, caller, at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		int64(e.Seq), e.RequestID, e.Op, e.MarketID, e.Caller.Hex(), e.At.UTC(), []byte(e.Payload),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: append journal seq %d: %w", e.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append journal seq %d: %w", e.Seq, err)
	}
	return nil
}

// ReadFrom returns up to limit entries with seq > afterSeq in ascending order.
func (s *JournalStore) ReadFrom(ctx context.Context, afterSeq uint64, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + journalSelectCols + ` FROM journal WHERE seq > $1 ORDER BY seq ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: read journal: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal: %w", err)
	}
	return entries, nil
}

// ListByMarket returns every entry touching marketID in seq order.
func (s *JournalStore) ListByMarket(ctx context.Context, marketID string) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalSelectCols + ` FROM journal WHERE market_id = $1 ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal by market: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal by market: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty journal.
func (s *JournalStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM journal`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: journal last seq: %w", err)
	}
	return uint64(seq), nil
}

func scanJournalRows(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			seq     int64
			caller  string
			payload []byte
		)
		if err := rows.Scan(&seq, &e.RequestID, &e.Op, &e.MarketID, &caller, &e.At, &payload, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Caller = common.HexToAddress(caller)
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
