package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// historical trades and on-chain position state per wallet. It is shared by
// every signal source in the process; the scheduler's round-robin gate
// bounds its aggregate call rate.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a Data API client.
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Paging bounds for the /trades endpoint. maxTradePages caps a resume after
// very long downtime; past that the next poll continues from the advanced
// cursor.
const (
	tradePageSize = 100
	maxTradePages = 50
)

// TradesSince returns trades made by any of the given wallets at or after
// the Unix-seconds cursor, oldest first. The venue returns newest-first
// pages, so the client pages deeper until a page crosses the cursor (or
// runs short), then re-sorts into observation order.
func (d *DataClient) TradesSince(ctx context.Context, wallets []string, since int64) ([]domain.TradeSignal, error) {
	if len(wallets) == 0 {
		return nil, nil
	}

	var signals []domain.TradeSignal
	for page := 0; page < maxTradePages; page++ {
		params := url.Values{}
		params.Set("user", strings.Join(wallets, ","))
		params.Set("limit", strconv.Itoa(tradePageSize))
		params.Set("offset", strconv.Itoa(page*tradePageSize))

		body, err := d.doGet(ctx, "/trades?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("polymarket/data: get trades: %w", err)
		}

		var trades []apiTrade
		if err := json.Unmarshal(body, &trades); err != nil {
			return nil, fmt.Errorf("polymarket/data: decode trades: %w", err)
		}

		crossed := false
		for i := range trades {
			if trades[i].Timestamp < since {
				crossed = true
				continue
			}
			signals = append(signals, trades[i].toSignal())
		}
		if crossed || len(trades) < tradePageSize {
			break
		}
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].ObservedAt.Before(signals[j].ObservedAt)
	})
	return signals, nil
}

// GetPositions returns the venue's authoritative on-chain positions for a
// wallet. Dust below one cent of share value is filtered out.
func (d *DataClient) GetPositions(ctx context.Context, address string) ([]domain.VenuePosition, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("sizeThreshold", strconv.FormatFloat(0.01, 'f', -1, 64))

	body, err := d.doGet(ctx, "/positions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions %s: %w", address, err)
	}

	var positions []apiPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(positions))
	for i := range positions {
		out = append(out, positions[i].toVenuePosition())
	}
	return out, nil
}

func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
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
var _ domain.WalletTradeFeed = (*DataClient)(nil)
