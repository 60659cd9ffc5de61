package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a store backed by the given connection pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `id, user_id, market_id, token_id, outcome, side,
	notional, shares, price, source_trader, tx_ref, title, status,
	realized_pnl, exit_price, created_at, closed_at`

func scanTradeRecord(row pgx.Row) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.MarketID, &rec.TokenID, &rec.Outcome,
		&rec.Side, &rec.Notional, &rec.Shares, &rec.Price, &rec.SourceTrader,
		&rec.TxRef, &rec.Title, &rec.Status, &rec.RealizedPnL, &rec.ExitPrice,
		&rec.CreatedAt, &rec.ClosedAt,
	)
	return rec, err
}

func scanTradeRecordRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTradeRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Create inserts a new trade record. Duplicate IDs are rejected with
// domain.ErrAlreadyExists.
func (s *TradeRecordStore) Create(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, user_id, market_id, token_id, outcome, side,
			notional, shares, price, source_trader, tx_ref, title, status,
			realized_pnl, exit_price, created_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		) ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.MarketID, rec.TokenID, rec.Outcome, string(rec.Side),
		rec.Notional, rec.Shares, rec.Price, rec.SourceTrader, rec.TxRef, rec.Title,
		string(rec.Status), rec.RealizedPnL, rec.ExitPrice, rec.CreatedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Close marks an open record closed, recording the exit price and realized
// profit. Closing an already-closed or unknown record returns
// domain.ErrNotFound.
func (s *TradeRecordStore) Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error {
	const query = `
		UPDATE trade_records
		SET status = 'closed', exit_price = $2, realized_pnl = $3, closed_at = $4
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, realizedPnL, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close trade record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpenByMarket returns the user's open record for a market outcome, or
// domain.ErrNotFound. At most one open record per (user, market, outcome)
// exists; the engine enforces this before dispatching a BUY.
func (s *TradeRecordStore) GetOpenByMarket(ctx context.Context, userID, marketID, outcome string) (domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records
		WHERE user_id = $1 AND market_id = $2 AND outcome = $3 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1`

	rec, err := scanTradeRecord(s.pool.QueryRow(ctx, query, userID, marketID, outcome))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get open record %s/%s: %w", userID, marketID, err)
	}
	return rec, nil
}

// ListByUser returns a user's records newest first, with pagination and
// optional time filtering.
func (s *TradeRecordStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records WHERE user_id = $1`
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
		return nil, fmt.Errorf("postgres: list trade records %s: %w", userID, err)
	}
	defer rows.Close()

	recs, err := scanTradeRecordRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records %s: %w", userID, err)
	}
	return recs, nil
}

// LastTimestamp returns the creation time of the user's most recent record,
// or the zero time when the user has none. The host uses it as a fallback
// resume cursor when Redis has lost the primary one.
func (s *TradeRecordStore) LastTimestamp(ctx context.Context, userID string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(created_at) FROM trade_records WHERE user_id = $1", userID,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last trade timestamp %s: %w", userID, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListClosedBefore returns closed records older than the cutoff, oldest
// first, for archival to blob storage.
func (s *TradeRecordStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records
		WHERE status = 'closed' AND closed_at < $1
		ORDER BY closed_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanTradeRecordRows(rows)
}

// DeleteByIDs removes records by ID after they have been archived.
func (s *TradeRecordStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM trade_records WHERE id = ANY($1)`, ids,
	); err != nil {
		return fmt.Errorf("postgres: delete trade records: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
