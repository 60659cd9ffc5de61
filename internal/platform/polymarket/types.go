package polymarket

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// flexFloat tolerates numbers that the venue APIs return either as JSON
// numbers or as quoted strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// apiTrade is one entry from the data API's /trades endpoint.
type apiTrade struct {
	TransactionHash string    `json:"transactionHash"`
	ProxyWallet     string    `json:"proxyWallet"`
	ConditionID     string    `json:"conditionId"`
	Asset           string    `json:"asset"`
	Outcome         string    `json:"outcome"`
	Side            string    `json:"side"` // "BUY" or "SELL"
	Size            flexFloat `json:"size"`
	Price           flexFloat `json:"price"`
	Timestamp       int64     `json:"timestamp"`
}

func (t *apiTrade) toSignal() domain.TradeSignal {
	side := domain.OrderSideBuy
	if strings.EqualFold(t.Side, "SELL") {
		side = domain.OrderSideSell
	}
	return domain.TradeSignal{
		TradeID:    t.TransactionHash,
		MarketID:   t.ConditionID,
		TokenID:    t.Asset,
		Outcome:    t.Outcome,
		Side:       side,
		Notional:   float64(t.Size) * float64(t.Price),
		Price:      float64(t.Price),
		Trader:     t.ProxyWallet,
		ObservedAt: time.Unix(t.Timestamp, 0).UTC(),
	}
}

// apiPosition is one entry from the data API's /positions endpoint.
type apiPosition struct {
	ConditionID string    `json:"conditionId"`
	Asset       string    `json:"asset"`
	Outcome     string    `json:"outcome"`
	Size        flexFloat `json:"size"`
	AvgPrice    flexFloat `json:"avgPrice"`
	CurPrice    flexFloat `json:"curPrice"`
	Title       string    `json:"title"`
	Icon        string    `json:"icon"`
	Slug        string    `json:"slug"`
	EventSlug   string    `json:"eventSlug"`
	Redeemable  bool      `json:"redeemable"`
}

func (p *apiPosition) toVenuePosition() domain.VenuePosition {
	return domain.VenuePosition{
		MarketID:   p.ConditionID,
		TokenID:    p.Asset,
		Outcome:    p.Outcome,
		Shares:     float64(p.Size),
		AvgPrice:   float64(p.AvgPrice),
		CurPrice:   float64(p.CurPrice),
		Title:      p.Title,
		Image:      p.Icon,
		MarketSlug: p.Slug,
		EventSlug:  p.EventSlug,
		Redeemable: p.Redeemable,
	}
}

// apiMarket is the Gamma API's market shape, reduced to the fields the
// enricher needs.
type apiMarket struct {
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Image       string `json:"image"`
	Slug        string `json:"slug"`
	EventSlug   string `json:"eventSlug"`
	Closed      bool   `json:"closed"`
	Active      bool   `json:"active"`
}

func (m *apiMarket) toMeta() domain.MarketMeta {
	return domain.MarketMeta{
		Title:      m.Question,
		Image:      m.Image,
		MarketSlug: m.Slug,
		EventSlug:  m.EventSlug,
		Resolved:   m.Closed,
	}
}

// apiBookLevel is one price level in the CLOB book response.
type apiBookLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// apiBook is the CLOB /book response.
type apiBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []apiBookLevel `json:"bids"`
	Asks    []apiBookLevel `json:"asks"`
}

func (b *apiBook) toOrderBook() domain.OrderBook {
	book := domain.OrderBook{TokenID: b.AssetID}
	for _, l := range b.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: float64(l.Price), Size: float64(l.Size)})
	}
	for _, l := range b.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: float64(l.Price), Size: float64(l.Size)})
	}
	return book
}

// apiOrderResult is the CLOB's response to order submission.
type apiOrderResult struct {
	Success         bool      `json:"success"`
	ErrorMsg        string    `json:"errorMsg"`
	OrderID         string    `json:"orderID"`
	TransactionHash string    `json:"transactionsHash"`
	Status          string    `json:"status"` // "matched", "delayed", "unmatched"
	TakingAmount    flexFloat `json:"takingAmount"`
	MakingAmount    flexFloat `json:"makingAmount"`
}

// toOutcome translates the venue's order status into the engine's
// execution vocabulary. Maker and taker amounts are in the base collateral
// and the outcome token respectively for a BUY, reversed for a SELL.
func (r *apiOrderResult) toOutcome(side domain.OrderSide) domain.OrderOutcome {
	out := domain.OrderOutcome{
		OrderID: r.OrderID,
		TxRef:   r.TransactionHash,
		Message: r.ErrorMsg,
	}

	var notional, shares float64
	switch side {
	case domain.OrderSideBuy:
		notional = float64(r.MakingAmount)
		shares = float64(r.TakingAmount)
	case domain.OrderSideSell:
		notional = float64(r.TakingAmount)
		shares = float64(r.MakingAmount)
	}
	out.FilledNotional = notional
	out.FilledShares = shares
	if shares > 0 {
		out.AvgPrice = notional / shares
	}

	switch {
	case !r.Success:
		out.Status = domain.ExecFailed
	case r.Status == "matched":
		out.Status = domain.ExecFilled
	case r.Status == "delayed":
		out.Status = domain.ExecPartial
	default:
		out.Status = domain.ExecFailed
		if out.Message == "" {
			out.Message = "order not matched: " + r.Status
		}
	}
	return out
}
