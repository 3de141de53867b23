package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/castbet/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. The full view
// is stored as JSONB; the remaining columns exist for filtering and reporting.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or replaces the projection of a market. Archive columns are
// left untouched on update.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketView) error {
	view, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("postgres: marshal market view %s: %w", m.ID, err)
	}
	seed, err := m.SeedYes.Add(m.SeedNo)
	if err != nil {
		return fmt.Errorf("postgres: market %s seed: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets (
			id, creator, question, state, outcome, void, deadline,
			total_yes, total_no, seed_total, escrow,
			paid_out, resolved_at, view, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			state       = EXCLUDED.state,
			outcome     = EXCLUDED.outcome,
			void        = EXCLUDED.void,
			deadline    = EXCLUDED.deadline,
			total_yes   = EXCLUDED.total_yes,
			total_no    = EXCLUDED.total_no,
			seed_total  = EXCLUDED.seed_total,
			escrow      = EXCLUDED.escrow,
			paid_out    = EXCLUDED.paid_out,
			resolved_at = EXCLUDED.resolved_at,
			view        = EXCLUDED.view,
			updated_at  = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Creator.Hex(), m.Question, string(m.State), string(m.Outcome), m.Void, m.Deadline,
		m.TotalYes.String(), m.TotalNo.String(), seed.String(), m.Escrow.String(),
		m.PaidOut, m.ResolvedAt, view, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns the projection of a market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.MarketView, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT view FROM markets WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("postgres: get market %s: %w", id, notFound(err))
	}
	var v domain.MarketView
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.MarketView{}, fmt.Errorf("postgres: decode market %s: %w", id, err)
	}
	return v, nil
}

// List returns projections matching filter, newest first.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.MarketView, error) {
	query := `SELECT view FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.Creator != nil {
		query += fmt.Sprintf(" AND creator = $%d", argIdx)
		args = append(args, filter.Creator.Hex())
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filter.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	views, err := scanViewRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return views, nil
}

// ListArchivable returns fully paid-out markets resolved before the cutoff
// that have not been archived yet.
func (s *MarketStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.MarketView, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT view FROM markets
		WHERE paid_out AND archived_at IS NULL AND resolved_at < $1
		ORDER BY resolved_at ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list archivable markets: %w", err)
	}
	defer rows.Close()

	views, err := scanViewRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan archivable markets: %w", err)
	}
	return views, nil
}

// MarkArchived records where a market's archive was written.
func (s *MarketStore) MarkArchived(ctx context.Context, id, path string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET archived_at = $2, archive_path = $3 WHERE id = $1`, id, at, path)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark market %s archived: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Count returns the number of projected markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func scanViewRows(rows pgx.Rows) ([]domain.MarketView, error) {
	var views []domain.MarketView
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v domain.MarketView
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}
