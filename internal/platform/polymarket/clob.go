package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/crypto"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// usdcDecimals scales USD notionals to the collateral token's base units.
const usdcDecimals = 1e6

// ClobClient is the REST client for the Polymarket CLOB API. One instance
// exists per engine, bound to that user's signer and (after the auth
// handshake) HMAC credentials.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	creds         *crypto.APICreds
	funder        string // proxy wallet holding the user's collateral
	signatureType int
}

// NewClobClient creates a CLOB client for one user. funder is the proxy
// wallet address; signatureType selects EOA (1) or Safe (2) signing.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		signer:        signer,
		funder:        funder,
		signatureType: signatureType,
	}
}

// Funder returns the proxy wallet address this client trades from.
func (c *ClobClient) Funder() string {
	return c.funder
}

// DeriveAPIKey performs the CLOB L1 auth flow: it signs a ClobAuth EIP-712
// message and exchanges it for HMAC credentials at the derive-api-key
// endpoint. On success subsequent requests are L2-authenticated.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	const nonce int64 = 0

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.creds = &crypto.APICreds{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// GetPrice returns the current midpoint price for an outcome token.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, "/midpoint?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	var out struct {
		Mid flexFloat `json:"mid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	return float64(out.Mid), nil
}

// GetBook returns the order book snapshot for an outcome token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book apiBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.toOrderBook(), nil
}

// FetchBalance returns the settled collateral balance (USD) available to
// the given address, along with whether the spending allowance is granted.
func (c *ClobClient) FetchBalance(ctx context.Context) (balance float64, allowance bool, err error) {
	body, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, false, fmt.Errorf("polymarket/clob: balance-allowance: %w", err)
	}

	var out struct {
		Balance   flexFloat `json:"balance"`
		Allowance flexFloat `json:"allowance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, false, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	return float64(out.Balance) / usdcDecimals, out.Allowance > 0, nil
}

// PostOrder signs and submits a marketable limit order sized from the
// request's USD notional and limit price.
func (c *ClobClient) PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket/clob: limit price %v out of (0,1)", req.Price)
	}

	// Integer base-unit amounts for the signed payload.
	notionalUnits := new(big.Int).SetInt64(int64(req.Notional * usdcDecimals))
	shareUnits := new(big.Int).SetInt64(int64(req.Notional / req.Price * usdcDecimals))

	var makerAmount, takerAmount *big.Int
	var sideCode int
	switch req.Side {
	case domain.OrderSideBuy:
		makerAmount, takerAmount = notionalUnits, shareUnits
		sideCode = 0
	case domain.OrderSideSell:
		makerAmount, takerAmount = shareUnits, notionalUnits
		sideCode = 1
	default:
		return domain.OrderOutcome{}, fmt.Errorf("polymarket/clob: unknown side %q", req.Side)
	}

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(time.Now().UnixNano(), 10),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: c.signatureType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          string(req.Side),
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
		},
		"owner":     uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.funder)).String(),
		"orderType": "FAK", // fill-and-kill: take what the book offers, never rest
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult apiOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.toOutcome(req.Side), nil
}

// CancelOrder cancels a single resting order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// doGet performs an unauthenticated GET against the CLOB API.
func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, checkHTTPStatus(resp.StatusCode, respBody)
}

// doAuthenticatedRequest performs an L2 HMAC-authenticated request.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.creds == nil {
		return nil, domain.ErrUnauthorized
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, checkHTTPStatus(resp.StatusCode, respBody)
}

// checkHTTPStatus maps HTTP status codes to domain sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case statusCode == http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}
