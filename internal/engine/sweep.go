package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Sweeper withdraws settled cash above the retention ceiling to the user's
// destination address. Failures are logged and retried on the next tick
// with no backoff escalation: a missed sweep idles capital but breaks
// nothing.
type Sweeper struct {
	adapter    domain.ExchangeAdapter
	withdrawer domain.Withdrawer
	cashouts   domain.CashoutStore
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper. withdrawer may be nil when the venue
// binding has no withdrawal path; Sweep then does nothing.
func NewSweeper(adapter domain.ExchangeAdapter, withdrawer domain.Withdrawer, cashouts domain.CashoutStore, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		adapter:    adapter,
		withdrawer: withdrawer,
		cashouts:   cashouts,
		logger:     logger.With(slog.String("component", "sweep")),
	}
}

// Sweep checks the settled balance against the policy and withdraws the
// surplus. It returns the receipt when a withdrawal happened, nil when the
// policy is disabled or nothing exceeded the ceiling.
func (s *Sweeper) Sweep(ctx context.Context, cfg domain.EngineConfig) (*domain.CashoutRecord, error) {
	if !cfg.Cashout.Enabled || s.withdrawer == nil {
		return nil, nil
	}
	if cfg.Cashout.Destination == "" {
		return nil, domain.ErrMissingWallet
	}

	balance, err := s.adapter.FetchBalance(ctx, s.adapter.GetFunderAddress())
	if err != nil {
		return nil, err
	}

	surplus := balance - cfg.Cashout.RetentionCeiling
	if surplus <= 0 {
		return nil, nil
	}

	txRef, err := s.withdrawer.Withdraw(ctx, surplus, cfg.Cashout.Destination)
	if err != nil {
		return nil, err
	}

	rec := domain.CashoutRecord{
		ID:          uuid.New().String(),
		UserID:      cfg.UserID,
		Amount:      surplus,
		Destination: cfg.Cashout.Destination,
		TxRef:       txRef,
		CreatedAt:   time.Now().UTC(),
	}
	if s.cashouts != nil {
		if err := s.cashouts.InsertCashout(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "cashout receipt insert failed",
				slog.String("id", rec.ID),
				slog.Any("error", err),
			)
		}
	}

	s.logger.InfoContext(ctx, "swept surplus cash",
		slog.String("user_id", cfg.UserID),
		slog.Float64("amount", surplus),
		slog.String("tx_ref", txRef),
	)
	return &rec, nil
}
