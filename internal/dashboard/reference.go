package dashboard

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"danso/internal/domain"
)

// RenderInfo draws the quote and company details for the selected ticker.
// It returns "" when neither has loaded.
func RenderInfo(st Styles, q *domain.Quote, d *domain.Details, width int) string {
	if q == nil && d == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(st.Title.Render(truncate(" QUOTE ", width)))

	line := func(label, value string) {
		b.WriteString("\n  ")
		b.WriteString(st.Label.Render(padOrTrunc(label, 12)))
		if value == Unavailable {
			b.WriteString(st.Dim.Render(value))
			return
		}
		b.WriteString(truncate(value, width-14))
	}

	if q != nil {
		line("Bid", fmt.Sprintf("%s (x%s)", FormatPrice(q.BidPrice), FormatInt(int(q.BidSize))))
		line("Ask", fmt.Sprintf("%s (x%s)", FormatPrice(q.AskPrice), FormatInt(int(q.AskSize))))
	}
	if d != nil {
		name := d.Name
		if name == "" {
			name = d.Ticker
		}
		industry := d.Industry
		if industry == "" {
			industry = "Unknown Sector"
		}
		b.WriteString("\n  ")
		b.WriteString(st.Ticker.Render(truncate(name, width-2)))
		b.WriteString("\n  ")
		b.WriteString(st.Dim.Render(truncate(industry, width-2)))
		if d.Description != "" {
			b.WriteString("\n  ")
			b.WriteString(truncate(d.Description, width-2))
		}
		line("Market cap", FormatLarge(d.MarketCap))
		line("P/E", FormatDecimal(d.PERatio, 2))
		line("P/S", FormatDecimal(d.PSRatio, 2))
		line("Div yield", FormatPercent(d.DividendYield))
	}
	return b.String()
}

// FormatLarge formats an optional dollar amount with a T, B or M suffix.
func FormatLarge(d decimal.NullDecimal) string {
	if !d.Valid {
		return Unavailable
	}
	v := d.Decimal
	for _, u := range []struct {
		suffix string
		scale  int64
	}{{"T", 1e12}, {"B", 1e9}, {"M", 1e6}} {
		if v.Abs().GreaterThanOrEqual(decimal.NewFromInt(u.scale)) {
			return "$" + v.Div(decimal.NewFromInt(u.scale)).StringFixed(2) + u.suffix
		}
	}
	return "$" + v.StringFixed(0)
}

// MoverText is the plain text of one market overview entry.
func MoverText(m domain.Mover) string {
	price := Unavailable
	if m.Price.Valid {
		price = FormatPrice(m.Price.Decimal)
	}
	change := "0.00%"
	if m.ChangePct.Valid {
		change = FormatPercent(m.ChangePct)
	}
	return m.Ticker + " " + price + " " + change
}

// RenderMovers draws the gainers then losers on one line, cut to width. It
// returns "" for an empty overview.
func RenderMovers(st Styles, ov domain.MarketOverview, width int) string {
	all := make([]domain.Mover, 0, len(ov.Gainers)+len(ov.Losers))
	all = append(all, ov.Gainers...)
	all = append(all, ov.Losers...)
	if len(all) == 0 {
		return ""
	}

	label := " MOVERS "
	used := len(label)
	var b strings.Builder
	b.WriteString(st.Title.Render(label))
	for _, m := range all {
		text := "  " + MoverText(m)
		if width > 0 && used+len(text) > width {
			break
		}
		used += len(text)
		style := st.Dim
		switch {
		case m.ChangePct.Valid && m.ChangePct.Decimal.IsPositive():
			style = st.Up
		case m.ChangePct.Valid && m.ChangePct.Decimal.IsNegative():
			style = st.Down
		}
		b.WriteString(style.Render(text))
	}
	return b.String()
}
