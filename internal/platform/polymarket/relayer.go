package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// RelayerClient performs gasless proxy-wallet operations (withdrawals and
// position redemptions) through the relayer endpoints. The Polymarket
// infrastructure submits the on-chain transaction on the user's behalf, so
// the user never needs MATIC for gas.
type RelayerClient struct {
	clob *ClobClient
}

// NewRelayerClient creates a RelayerClient that authenticates through the
// given CLOB client.
func NewRelayerClient(clob *ClobClient) *RelayerClient {
	return &RelayerClient{clob: clob}
}

// Withdraw moves settled collateral from the user's proxy wallet to an
// external destination address and returns the relayed transaction hash.
func (r *RelayerClient) Withdraw(ctx context.Context, amount float64, destination string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("polymarket/relayer: withdraw amount %v must be positive", amount)
	}

	units := new(big.Int).SetInt64(int64(amount * usdcDecimals))
	body := map[string]any{
		"from":      r.clob.Funder(),
		"to":        destination,
		"amount":    units.String(),
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}

	respBody, err := r.clob.doAuthenticatedRequest(ctx, http.MethodPost, "/relayer/withdraw", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/relayer: withdraw: %w", err)
	}

	var result struct {
		Success         bool   `json:"success"`
		TransactionHash string `json:"transactionHash"`
		ErrorMsg        string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/relayer: decode withdraw response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket/relayer: withdraw rejected: %s", result.ErrorMsg)
	}
	return result.TransactionHash, nil
}

// Redeem claims the payout of a resolved market's outcome token and
// returns the relayed transaction hash.
func (r *RelayerClient) Redeem(ctx context.Context, marketID, tokenID string) (string, error) {
	body := map[string]any{
		"conditionId": marketID,
		"tokenId":     tokenID,
		"owner":       r.clob.Funder(),
	}

	respBody, err := r.clob.doAuthenticatedRequest(ctx, http.MethodPost, "/relayer/redeem", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/relayer: redeem %s: %w", marketID, err)
	}

	var result struct {
		Success         bool   `json:"success"`
		TransactionHash string `json:"transactionHash"`
		ErrorMsg        string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket/relayer: decode redeem response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket/relayer: redeem rejected: %s", result.ErrorMsg)
	}
	return result.TransactionHash, nil
}

// Compile-time interface check.
var _ domain.Withdrawer = (*RelayerClient)(nil)
