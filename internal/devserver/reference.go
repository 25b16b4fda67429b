package devserver

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"
)

// Quote is the top-of-book document on the quote endpoint.
type Quote struct {
	BidPrice     float64 `json:"bid_price"`
	BidSize      int     `json:"bid_size"`
	AskPrice     float64 `json:"ask_price"`
	AskSize      int     `json:"ask_size"`
	SIPTimestamp int64   `json:"sip_timestamp"` // unix nanoseconds
}

// Financials are the optional figures on the details endpoint.
type Financials struct {
	MarketCap     *float64 `json:"market_cap"`
	PERatio       *float64 `json:"pe_ratio"`
	PSRatio       *float64 `json:"ps_ratio"`
	DividendYield *float64 `json:"dividend_yield"`
}

// CompanyDetails is the reference document on the details endpoint.
type CompanyDetails struct {
	Ticker      string     `json:"ticker"`
	Name        string     `json:"name"`
	Industry    string     `json:"industry"`
	Description string     `json:"description"`
	LogoURL     string     `json:"logo_url"`
	Financials  Financials `json:"financials"`
}

// Mover is one gainers or losers entry on the market overview endpoint.
type Mover struct {
	Ticker string `json:"ticker"`
	Day    struct {
		Close float64 `json:"c"`
	} `json:"day"`
	TodaysChangePerc float64 `json:"todaysChangePerc"`
}

// SetDetails stores the reference data served for d.Ticker.
func (b *Board) SetDetails(d CompanyDetails) {
	d.Ticker = strings.ToUpper(d.Ticker)
	b.mu.Lock()
	b.details[d.Ticker] = d
	b.mu.Unlock()
}

// Details returns the reference data for ticker, if any was set.
func (b *Board) Details(ticker string) (CompanyDetails, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.details[strings.ToUpper(ticker)]
	return d, ok
}

// Quote returns a one-cent market around the ticker's reported price. Sizes
// are deterministic per ticker and second. Unknown tickers have no quote.
func (b *Board) Quote(ticker string) (Quote, bool) {
	ticker = strings.ToUpper(ticker)
	b.mu.RLock()
	price, ok := 0.0, false
	for _, t := range b.targets {
		if t.Ticker == ticker {
			price, ok = t.Price, true
		}
	}
	now := b.now()
	b.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}

	h := fnv.New64a()
	h.Write([]byte(ticker))
	seed := h.Sum64() ^ uint64(now.Unix())
	return Quote{
		BidPrice:     round2(math.Max(0.01, price-0.01)),
		BidSize:      1 + int(seed%20),
		AskPrice:     round2(price + 0.01),
		AskSize:      1 + int((seed>>8)%20),
		SIPTimestamp: now.Truncate(time.Second).UnixNano(),
	}, true
}

// MarketOverview ranks the board's tickers by change since their first
// reported price and returns up to n gainers and n losers. Unchanged tickers
// appear in neither list.
func (b *Board) MarketOverview(n int) (gainers, losers []Mover) {
	b.mu.RLock()
	all := make([]Mover, 0, len(b.targets))
	for _, t := range b.targets {
		open, ok := b.opens[t.Ticker]
		if !ok || open == 0 {
			continue
		}
		var m Mover
		m.Ticker = t.Ticker
		m.Day.Close = t.Price
		m.TodaysChangePerc = round2((t.Price - open) / open * 100)
		all = append(all, m)
	}
	b.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].TodaysChangePerc != all[j].TodaysChangePerc {
			return all[i].TodaysChangePerc > all[j].TodaysChangePerc
		}
		return all[i].Ticker < all[j].Ticker
	})
	gainers, losers = []Mover{}, []Mover{}
	for _, m := range all {
		if m.TodaysChangePerc > 0 && len(gainers) < n {
			gainers = append(gainers, m)
		}
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TodaysChangePerc < 0 && len(losers) < n {
			losers = append(losers, all[i])
		}
	}
	return gainers, losers
}
