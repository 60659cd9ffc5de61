package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL. The engine is
// the single writer for its user's row; the upsert simply replaces the
// aggregates wholesale.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a store backed by the given connection pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Upsert replaces the user's aggregate row.
func (s *StatsStore) Upsert(ctx context.Context, stats domain.UserStats) error {
	const query = `
		INSERT INTO user_stats (
			user_id, realized_pnl, volume, trade_count, wins, losses,
			cash_balance, portfolio_value, allowance_granted, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			realized_pnl = EXCLUDED.realized_pnl,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			cash_balance = EXCLUDED.cash_balance,
			portfolio_value = EXCLUDED.portfolio_value,
			allowance_granted = EXCLUDED.allowance_granted,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		stats.UserID, stats.RealizedPnL, stats.Volume, stats.TradeCount,
		stats.Wins, stats.Losses, stats.CashBalance, stats.PortfolioValue,
		stats.AllowanceGranted, stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert stats %s: %w", stats.UserID, err)
	}
	return nil
}

// Get returns the user's aggregates, or domain.ErrNotFound.
func (s *StatsStore) Get(ctx context.Context, userID string) (domain.UserStats, error) {
	const query = `
		SELECT user_id, realized_pnl, volume, trade_count, wins, losses,
			cash_balance, portfolio_value, allowance_granted, updated_at
		FROM user_stats WHERE user_id = $1`

	var stats domain.UserStats
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&stats.UserID, &stats.RealizedPnL, &stats.Volume, &stats.TradeCount,
		&stats.Wins, &stats.Losses, &stats.CashBalance, &stats.PortfolioValue,
		&stats.AllowanceGranted, &stats.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserStats{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("postgres: get stats %s: %w", userID, err)
	}
	return stats, nil
}

// Compile-time interface check.
var _ domain.StatsStore = (*StatsStore)(nil)
