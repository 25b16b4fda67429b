package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"danso/internal/domain"
	"danso/internal/util"
)

// CandleSource supplies the candle series for one ticker.
type CandleSource interface {
	Candles(ctx context.Context, ticker string) ([]domain.Candle, error)
}

// AlpacaCandles fetches one-minute bars and latest quotes directly from the
// Alpaca market-data API. It is used instead of the server's chart and quote
// endpoints when credentials are configured.
type AlpacaCandles struct {
	bars     func(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	quote    func(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
	feed     string
	lookback time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewAlpacaCandles creates a candle source with the given credentials.
// dataURL may be empty to use the SDK default.
func NewAlpacaCandles(apiKey, apiSecret, dataURL string) *AlpacaCandles {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	client := marketdata.NewClient(opts)
	return &AlpacaCandles{
		bars:     client.GetBars,
		quote:    client.GetLatestQuote,
		feed:     "iex",
		lookback: 16 * time.Hour,
		now:      time.Now,
		log:      slog.Default().With("source", "alpaca"),
	}
}

// Candles returns one-minute bars covering the lookback window, oldest first.
// The SDK takes no context, so the call is abandoned when ctx is done and a
// late result is dropped.
func (a *AlpacaCandles) Candles(ctx context.Context, ticker string) ([]domain.Candle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	symbol := strings.ToUpper(ticker)
	end := a.now()
	bars, err := util.Await(ctx, func(context.Context) ([]marketdata.Bar, error) {
		return a.bars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneMin,
			Start:      end.Add(-a.lookback),
			End:        end,
			Feed:       a.feed,
			TotalLimit: 5000,
		})
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, domain.Candle{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	a.log.Debug("alpaca bars", "ticker", symbol, "count", len(candles))
	return candles, nil
}

// Quote returns the latest bid and ask for ticker.
func (a *AlpacaCandles) Quote(ctx context.Context, ticker string) (domain.Quote, error) {
	symbol := strings.ToUpper(ticker)
	q, err := util.Await(ctx, func(context.Context) (*marketdata.Quote, error) {
		return a.quote(symbol, marketdata.GetLatestQuoteRequest{Feed: a.feed})
	})
	if ctx.Err() != nil {
		return domain.Quote{}, ctx.Err()
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("GetLatestQuote %s: %w", symbol, err)
	}
	if q == nil {
		return domain.Quote{}, fmt.Errorf("%w: no quote for %s", ErrStatus, symbol)
	}
	return domain.Quote{
		Ticker:   symbol,
		BidPrice: decimal.NewFromFloat(q.BidPrice),
		BidSize:  int64(q.BidSize),
		AskPrice: decimal.NewFromFloat(q.AskPrice),
		AskSize:  int64(q.AskSize),
		Time:     q.Timestamp,
	}, nil
}
