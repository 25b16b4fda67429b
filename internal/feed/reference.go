package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"danso/internal/domain"
)

// Quote fetches the latest bid and ask for ticker.
func (c *Client) Quote(ctx context.Context, ticker string) (domain.Quote, error) {
	ticker = strings.ToUpper(ticker)
	raw, err := c.get(ctx, "/api/quote/"+url.PathEscape(ticker))
	if err != nil {
		return domain.Quote{}, err
	}
	return DecodeQuote(raw, ticker)
}

// Details fetches company reference data and financials for ticker.
func (c *Client) Details(ctx context.Context, ticker string) (domain.Details, error) {
	raw, err := c.get(ctx, "/api/details/"+url.PathEscape(strings.ToUpper(ticker)))
	if err != nil {
		return domain.Details{}, err
	}
	return DecodeDetails(raw)
}

// MarketOverview fetches the day's top gainers and losers.
func (c *Client) MarketOverview(ctx context.Context) (domain.MarketOverview, error) {
	raw, err := c.get(ctx, "/api/market_overview")
	if err != nil {
		return domain.MarketOverview{}, err
	}
	return DecodeMarketOverview(raw)
}

type wireQuote struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Ticker    string    `json:"ticker"`
	BidPrice  optNumber `json:"bid_price"`
	BidSize   optNumber `json:"bid_size"`
	AskPrice  optNumber `json:"ask_price"`
	AskSize   optNumber `json:"ask_size"`
	Timestamp wireTime  `json:"sip_timestamp"`
}

// DecodeQuote parses a quote body. The server returns the quote object
// itself, or {"status": "error", "message": ...} when it has none.
func DecodeQuote(raw []byte, ticker string) (domain.Quote, error) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Quote{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.EqualFold(w.Status, "error") {
		return domain.Quote{}, fmt.Errorf("%w: %s", ErrStatus, w.Message)
	}
	if !w.BidPrice.set && !w.AskPrice.set {
		return domain.Quote{}, fmt.Errorf("%w: quote without bid or ask", ErrMalformed)
	}
	q := domain.Quote{
		Ticker:   strings.ToUpper(ticker),
		BidPrice: w.BidPrice.decimal(),
		BidSize:  int64(w.BidSize.float()),
		AskPrice: w.AskPrice.decimal(),
		AskSize:  int64(w.AskSize.float()),
		Time:     w.Timestamp.t,
	}
	if w.Ticker != "" {
		q.Ticker = strings.ToUpper(w.Ticker)
	}
	return q, nil
}

type wireDetails struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Results *struct {
		Ticker      string `json:"ticker"`
		Name        string `json:"name"`
		Industry    string `json:"industry"`
		Description string `json:"description"`
		LogoURL     string `json:"logo_url"`
		Financials  struct {
			MarketCap     optNumber `json:"market_cap"`
			PERatio       optNumber `json:"pe_ratio"`
			PSRatio       optNumber `json:"ps_ratio"`
			DividendYield optNumber `json:"dividend_yield"`
		} `json:"financials"`
	} `json:"results"`
}

// DecodeDetails parses a {status, results} company details body.
func DecodeDetails(raw []byte) (domain.Details, error) {
	var w wireDetails
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Details{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(w.Status, "OK") {
		return domain.Details{}, fmt.Errorf("%w: %s", ErrStatus, statusText(w.Status, w.Message))
	}
	if w.Results == nil || w.Results.Ticker == "" {
		return domain.Details{}, fmt.Errorf("%w: details without ticker", ErrMalformed)
	}
	r := w.Results
	return domain.Details{
		Ticker:        strings.ToUpper(r.Ticker),
		Name:          r.Name,
		Industry:      r.Industry,
		Description:   r.Description,
		LogoURL:       r.LogoURL,
		MarketCap:     r.Financials.MarketCap.null(),
		PERatio:       r.Financials.PERatio.null(),
		PSRatio:       r.Financials.PSRatio.null(),
		DividendYield: r.Financials.DividendYield.null(),
	}, nil
}

type wireMover struct {
	Ticker string `json:"ticker"`
	Day    struct {
		Close optNumber `json:"c"`
	} `json:"day"`
	ChangePct optNumber `json:"todaysChangePerc"`
}

type wireOverview struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Gainers []wireMover `json:"gainers"`
	Losers  []wireMover `json:"losers"`
}

// DecodeMarketOverview parses a {status, gainers, losers} body. Entries
// without a ticker are skipped.
func DecodeMarketOverview(raw []byte) (domain.MarketOverview, error) {
	var w wireOverview
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.MarketOverview{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(w.Status, "OK") {
		return domain.MarketOverview{}, fmt.Errorf("%w: %s", ErrStatus, statusText(w.Status, w.Message))
	}
	return domain.MarketOverview{
		Gainers: movers(w.Gainers),
		Losers:  movers(w.Losers),
	}, nil
}

func movers(ws []wireMover) []domain.Mover {
	out := make([]domain.Mover, 0, len(ws))
	for _, m := range ws {
		if m.Ticker == "" {
			continue
		}
		out = append(out, domain.Mover{
			Ticker:    strings.ToUpper(m.Ticker),
			Price:     m.Day.Close.null(),
			ChangePct: m.ChangePct.null(),
		})
	}
	return out
}

func statusText(status, message string) string {
	if message != "" {
		return message
	}
	return status
}
