package dashboard

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"danso/internal/domain"
)

func TestRenderInfo(t *testing.T) {
	st := plainStyles()
	if got := RenderInfo(st, nil, nil, 80); got != "" {
		t.Errorf("RenderInfo(nil, nil) = %q, want empty", got)
	}

	q := &domain.Quote{
		Ticker:   "AAPL",
		BidPrice: decimal.RequireFromString("190.11"),
		BidSize:  3,
		AskPrice: decimal.RequireFromString("190.13"),
		AskSize:  1200,
	}
	d := &domain.Details{
		Ticker:    "AAPL",
		Name:      "Apple Inc.",
		MarketCap: decimal.NewNullDecimal(decimal.RequireFromString("2950000000000")),
		PERatio:   decimal.NewNullDecimal(decimal.RequireFromString("29.4")),
	}
	got := RenderInfo(st, q, d, 80)
	for _, want := range []string{"$190.11 (x3)", "$190.13 (x1,200)", "Apple Inc.", "Unknown Sector", "$2.95T", "29.40"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderInfo() missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "P/S") || !strings.Contains(got, Unavailable) {
		t.Errorf("RenderInfo() should mark the missing P/S ratio:\n%s", got)
	}

	quoteOnly := RenderInfo(st, q, nil, 80)
	if strings.Contains(quoteOnly, "Market cap") {
		t.Errorf("quote-only info shows financials:\n%s", quoteOnly)
	}
}

func TestFormatLarge(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2950000000000", "$2.95T"},
		{"41200000000", "$41.20B"},
		{"7500000", "$7.50M"},
		{"950000", "$950000"},
	}
	for _, tt := range tests {
		if got := FormatLarge(decimal.NewNullDecimal(decimal.RequireFromString(tt.in))); got != tt.want {
			t.Errorf("FormatLarge(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatLarge(decimal.NullDecimal{}); got != Unavailable {
		t.Errorf("FormatLarge(null) = %q, want %q", got, Unavailable)
	}
}

func TestRenderMovers(t *testing.T) {
	st := plainStyles()
	if got := RenderMovers(st, domain.MarketOverview{}, 80); got != "" {
		t.Errorf("RenderMovers(empty) = %q, want empty", got)
	}

	ov := domain.MarketOverview{
		Gainers: []domain.Mover{{
			Ticker:    "SOFI",
			Price:     decimal.NewNullDecimal(decimal.RequireFromString("7.36")),
			ChangePct: decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
		}},
		Losers: []domain.Mover{{
			Ticker:    "PLTR",
			Price:     decimal.NewNullDecimal(decimal.RequireFromString("24.91")),
			ChangePct: decimal.NewNullDecimal(decimal.RequireFromString("-4.2")),
		}},
	}
	got := RenderMovers(st, ov, 80)
	if !strings.Contains(got, "SOFI $7.36 +12.50%") || !strings.Contains(got, "PLTR $24.91 -4.20%") {
		t.Errorf("RenderMovers() = %q", got)
	}
	if strings.Index(got, "SOFI") > strings.Index(got, "PLTR") {
		t.Errorf("RenderMovers() = %q, want gainers before losers", got)
	}

	narrow := RenderMovers(st, ov, 30)
	if !strings.Contains(narrow, "SOFI") || strings.Contains(narrow, "PLTR") {
		t.Errorf("RenderMovers(width 30) = %q, want only the entries that fit", narrow)
	}
}
