package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// EngineConfigStore implements domain.EngineConfigStore using PostgreSQL.
type EngineConfigStore struct {
	pool *pgxpool.Pool
}

// NewEngineConfigStore creates a store backed by the given connection pool.
func NewEngineConfigStore(pool *pgxpool.Pool) *EngineConfigStore {
	return &EngineConfigStore{pool: pool}
}

const engineConfigCols = `user_id, target_wallets, private_key, encrypted_key_path,
	key_password, funder_address, risk_profile, multiplier, max_trade_notional,
	take_profit_pct, cashout_enabled, cashout_retention, cashout_destination,
	fee_share_bps, start_cursor, enabled, updated_at`

func scanEngineConfig(row pgx.Row) (domain.EngineConfig, error) {
	var cfg domain.EngineConfig
	err := row.Scan(
		&cfg.UserID, &cfg.TargetWallets, &cfg.PrivateKey, &cfg.EncryptedKeyPath,
		&cfg.KeyPassword, &cfg.FunderAddress, &cfg.RiskProfile, &cfg.Multiplier,
		&cfg.MaxTradeNotional, &cfg.TakeProfitPct, &cfg.Cashout.Enabled,
		&cfg.Cashout.RetentionCeiling, &cfg.Cashout.Destination,
		&cfg.FeeShareBps, &cfg.StartCursor, &cfg.Enabled, &cfg.UpdatedAt,
	)
	return cfg, err
}

// Upsert creates or fully replaces a user's engine configuration.
func (s *EngineConfigStore) Upsert(ctx context.Context, cfg domain.EngineConfig) error {
	const query = `
		INSERT INTO engine_configs (
			user_id, target_wallets, private_key, encrypted_key_path,
			key_password, funder_address, risk_profile, multiplier,
			max_trade_notional, take_profit_pct, cashout_enabled,
			cashout_retention, cashout_destination, fee_share_bps,
			start_cursor, enabled, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		) ON CONFLICT (user_id) DO UPDATE SET
			target_wallets = EXCLUDED.target_wallets,
			private_key = EXCLUDED.private_key,
			encrypted_key_path = EXCLUDED.encrypted_key_path,
			key_password = EXCLUDED.key_password,
			funder_address = EXCLUDED.funder_address,
			risk_profile = EXCLUDED.risk_profile,
			multiplier = EXCLUDED.multiplier,
			max_trade_notional = EXCLUDED.max_trade_notional,
			take_profit_pct = EXCLUDED.take_profit_pct,
			cashout_enabled = EXCLUDED.cashout_enabled,
			cashout_retention = EXCLUDED.cashout_retention,
			cashout_destination = EXCLUDED.cashout_destination,
			fee_share_bps = EXCLUDED.fee_share_bps,
			start_cursor = EXCLUDED.start_cursor,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		cfg.UserID, cfg.TargetWallets, cfg.PrivateKey, cfg.EncryptedKeyPath,
		cfg.KeyPassword, cfg.FunderAddress, string(cfg.RiskProfile), cfg.Multiplier,
		cfg.MaxTradeNotional, cfg.TakeProfitPct, cfg.Cashout.Enabled,
		cfg.Cashout.RetentionCeiling, cfg.Cashout.Destination, cfg.FeeShareBps,
		cfg.StartCursor, cfg.Enabled, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert engine config %s: %w", cfg.UserID, err)
	}
	return nil
}

// Get returns the user's engine configuration, or domain.ErrNotFound.
func (s *EngineConfigStore) Get(ctx context.Context, userID string) (domain.EngineConfig, error) {
	query := `SELECT ` + engineConfigCols + ` FROM engine_configs WHERE user_id = $1`

	cfg, err := scanEngineConfig(s.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EngineConfig{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EngineConfig{}, fmt.Errorf("postgres: get engine config %s: %w", userID, err)
	}
	return cfg, nil
}

// ListEnabled returns every enabled configuration, ordered by user ID so
// the host rebuilds engines in a stable order after a restart.
func (s *EngineConfigStore) ListEnabled(ctx context.Context) ([]domain.EngineConfig, error) {
	query := `SELECT ` + engineConfigCols + ` FROM engine_configs WHERE enabled ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list enabled engine configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.EngineConfig
	for rows.Next() {
		cfg, err := scanEngineConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan engine config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// SetEnabled flips a user's enabled flag without touching the rest of the
// configuration.
func (s *EngineConfigStore) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE engine_configs SET enabled = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: set enabled %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.EngineConfigStore = (*EngineConfigStore)(nil)
