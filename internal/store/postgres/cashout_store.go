package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// CashoutStore implements domain.CashoutStore using PostgreSQL. Both tables
// are append-only receipts; nothing ever updates or deletes them.
type CashoutStore struct {
	pool *pgxpool.Pool
}

// NewCashoutStore creates a store backed by the given connection pool.
func NewCashoutStore(pool *pgxpool.Pool) *CashoutStore {
	return &CashoutStore{pool: pool}
}

// InsertCashout records a completed sweep withdrawal.
func (s *CashoutStore) InsertCashout(ctx context.Context, rec domain.CashoutRecord) error {
	const query = `
		INSERT INTO cashouts (id, user_id, amount, destination, tx_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Amount, rec.Destination, rec.TxRef, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cashout %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// InsertFeeEvent records a fee payout made from realized profit.
func (s *CashoutStore) InsertFeeEvent(ctx context.Context, evt domain.FeeDistributionEvent) error {
	const query = `
		INSERT INTO fee_events (id, user_id, trade_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		evt.ID, evt.UserID, evt.TradeID, evt.Amount, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fee event %s: %w", evt.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// ListCashouts returns a user's cashout receipts newest first.
func (s *CashoutStore) ListCashouts(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.CashoutRecord, error) {
	query := `SELECT id, user_id, amount, destination, tx_ref, created_at
		FROM cashouts WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cashouts %s: %w", userID, err)
	}
	defer rows.Close()

	var recs []domain.CashoutRecord
	for rows.Next() {
		var rec domain.CashoutRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Amount, &rec.Destination, &rec.TxRef, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cashout: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.CashoutStore = (*CashoutStore)(nil)
