package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used for
// best-effort market metadata enrichment. Calls are bounded by a short
// timeout so a slow metadata fetch never delays trade execution.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client. timeout bounds every request.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetMarketMeta looks a market up by its condition ID and returns display
// metadata plus its resolution state.
func (g *GammaClient) GetMarketMeta(ctx context.Context, marketID string) (domain.MarketMeta, error) {
	params := url.Values{}
	params.Set("condition_ids", marketID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.MarketMeta{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return domain.MarketMeta{}, domain.ErrNotFound
	}
	return markets[0].toMeta(), nil
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
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

// Compile-time interface check.
var _ domain.MarketEnricher = (*GammaClient)(nil)
