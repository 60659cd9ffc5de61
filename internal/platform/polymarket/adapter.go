// Package polymarket implements the exchange adapter capability against the
// Polymarket CLOB, Gamma, and Data APIs.
package polymarket

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/crypto"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Config carries everything needed to bind one user to the venue.
type Config struct {
	ClobHost      string
	GammaHost     string
	DataHost      string
	ChainID       int
	SignatureType int
	EnrichTimeout time.Duration

	// Per-user credentials.
	Key           crypto.KeySource
	FunderAddress string
}

// Adapter is the Polymarket implementation of domain.ExchangeAdapter. It
// composes the CLOB (orders, balances), Gamma (metadata), Data (positions,
// trades), and relayer (withdrawals, redemptions) clients for one user.
type Adapter struct {
	cfg     Config
	clob    *ClobClient
	gamma   *GammaClient
	data    *DataClient
	relayer *RelayerClient
}

// NewAdapter creates an unbound Adapter. Initialize must be called before
// any other method.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Initialize resolves the user's key and constructs the venue clients.
func (a *Adapter) Initialize(ctx context.Context) error {
	keyHex, err := crypto.ResolveKey(a.cfg.Key)
	if err != nil {
		return fmt.Errorf("polymarket: resolve key: %w", domain.ErrMissingKey)
	}

	signer, err := crypto.NewSigner(keyHex, a.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("polymarket: build signer: %w", err)
	}

	funder := a.cfg.FunderAddress
	if funder == "" {
		funder = signer.Address().Hex()
	}

	a.clob = NewClobClient(a.cfg.ClobHost, signer, funder, a.cfg.SignatureType)
	a.gamma = NewGammaClient(a.cfg.GammaHost, a.cfg.EnrichTimeout)
	a.data = NewDataClient(a.cfg.DataHost)
	a.relayer = NewRelayerClient(a.clob)
	return nil
}

// Authenticate performs the CLOB handshake, deriving HMAC credentials.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if a.clob == nil {
		return fmt.Errorf("polymarket: authenticate before initialize")
	}
	return a.clob.DeriveAPIKey(ctx)
}

// FetchBalance returns the settled USD balance for the address. The CLOB
// only reports the authenticated funder's balance; other addresses are
// rejected.
func (a *Adapter) FetchBalance(ctx context.Context, address string) (float64, error) {
	if address != "" && address != a.clob.Funder() {
		return 0, fmt.Errorf("polymarket: balance for foreign address %s: %w", address, domain.ErrUnauthorized)
	}
	balance, _, err := a.clob.FetchBalance(ctx)
	return balance, err
}

// FetchAllowance reports whether the spending allowance is granted.
func (a *Adapter) FetchAllowance(ctx context.Context) (bool, error) {
	_, allowance, err := a.clob.FetchBalance(ctx)
	return allowance, err
}

// GetMarketPrice returns the current midpoint price for the token.
func (a *Adapter) GetMarketPrice(ctx context.Context, marketID, tokenID string) (float64, error) {
	return a.clob.GetPrice(ctx, tokenID)
}

// GetOrderBook returns the venue book snapshot for the token.
func (a *Adapter) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	return a.clob.GetBook(ctx, tokenID)
}

// GetPositions returns the venue's authoritative positions for the address.
func (a *Adapter) GetPositions(ctx context.Context, address string) ([]domain.VenuePosition, error) {
	if address == "" {
		address = a.clob.Funder()
	}
	return a.data.GetPositions(ctx, address)
}

// CreateOrder dispatches an order to the CLOB.
func (a *Adapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	return a.clob.PostOrder(ctx, req)
}

// CancelOrder cancels a resting order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.clob.CancelOrder(ctx, orderID)
}

// RedeemPosition claims the payout of a resolved market.
func (a *Adapter) RedeemPosition(ctx context.Context, marketID, tokenID string) (string, error) {
	return a.relayer.Redeem(ctx, marketID, tokenID)
}

// GetFunderAddress returns the proxy wallet holding the user's funds.
func (a *Adapter) GetFunderAddress() string {
	if a.clob == nil {
		return a.cfg.FunderAddress
	}
	return a.clob.Funder()
}

// GetMarketMeta fetches best-effort display metadata for a market.
func (a *Adapter) GetMarketMeta(ctx context.Context, marketID string) (domain.MarketMeta, error) {
	return a.gamma.GetMarketMeta(ctx, marketID)
}

// TradesSince exposes the wallet trade feed for the signal source.
func (a *Adapter) TradesSince(ctx context.Context, wallets []string, since int64) ([]domain.TradeSignal, error) {
	return a.data.TradesSince(ctx, wallets, since)
}

// Withdraw sweeps surplus collateral to an external destination.
func (a *Adapter) Withdraw(ctx context.Context, amount float64, destination string) (string, error) {
	return a.relayer.Withdraw(ctx, amount, destination)
}

// Compile-time interface checks.
var (
	_ domain.ExchangeAdapter = (*Adapter)(nil)
	_ domain.MarketEnricher  = (*Adapter)(nil)
	_ domain.WalletTradeFeed = (*Adapter)(nil)
	_ domain.Withdrawer      = (*Adapter)(nil)
)
