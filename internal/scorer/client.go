// Package scorer is the HTTP client for the external risk-advisory service
// consulted before every dispatch.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Client implements domain.AdvisoryScorer against the scorer service's
// analyze endpoint. Callers treat any error as a denial, so a slow or down
// scorer fails closed.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a scorer client. timeout bounds every analyze call; zero
// selects a 5-second default.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	MarketID    string  `json:"market_id"`
	TokenID     string  `json:"token_id"`
	Outcome     string  `json:"outcome"`
	Side        string  `json:"side"`
	Notional    float64 `json:"notional"`
	Price       float64 `json:"price"`
	RiskProfile string  `json:"risk_profile"`
}

type analyzeResponse struct {
	Approve bool    `json:"approve"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score"`
}

// Analyze submits one signal for judgement.
func (c *Client) Analyze(ctx context.Context, req domain.ScoreRequest) (domain.Decision, error) {
	payload := analyzeRequest{
		MarketID:    req.MarketID,
		TokenID:     req.TokenID,
		Outcome:     req.Outcome,
		Side:        string(req.Side),
		Notional:    req.Notional,
		Price:       req.Price,
		RiskProfile: string(req.RiskProfile),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("scorer: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("scorer: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("scorer: analyze request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("scorer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Decision{}, fmt.Errorf("scorer: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out analyzeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.Decision{}, fmt.Errorf("scorer: decode response: %w", err)
	}

	return domain.Decision{
		Approve: out.Approve,
		Reason:  out.Reason,
		Score:   out.Score,
	}, nil
}

// Compile-time interface check.
var _ domain.AdvisoryScorer = (*Client)(nil)
