package dashboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Unavailable is shown for metrics the server did not report.
const Unavailable = "N/A"

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPrice formats a price as $X.XX. Sub-dollar prices keep four decimals.
func FormatPrice(p decimal.Decimal) string {
	if p.Abs().LessThan(decimal.NewFromInt(1)) && !p.IsZero() {
		return "$" + p.StringFixed(4)
	}
	return "$" + p.StringFixed(2)
}

// FormatScore formats a normalized 0–100 score as a whole number. Every view
// region uses it, so a score reads the same everywhere.
func FormatScore(score float64) string {
	return strconv.Itoa(roundScore(score))
}

func roundScore(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	n := int(math.Round(score))
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}

// FormatDecimal formats an optional value with the given number of places,
// or Unavailable when absent.
func FormatDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return Unavailable
	}
	return d.Decimal.StringFixed(places)
}

// FormatPercent formats an optional percentage as "+X.XX%" or "-X.XX%", or
// Unavailable when absent.
func FormatPercent(d decimal.NullDecimal) string {
	if !d.Valid {
		return Unavailable
	}
	s := d.Decimal.StringFixed(2)
	if d.Decimal.IsPositive() {
		s = "+" + s
	}
	return s + "%"
}

// FormatCount formats an optional count, using a K suffix for large values.
func FormatCount(d decimal.NullDecimal) string {
	if !d.Valid {
		return Unavailable
	}
	f := d.Decimal.InexactFloat64()
	if math.Abs(f) >= 100_000 {
		return fmt.Sprintf("%.0fK", f/1e3)
	}
	return d.Decimal.Round(0).String()
}

// padOrTrunc fits s into width runes. Zero width leaves s unchanged.
func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	n := utf8.RuneCountInString(s)
	if n == width {
		return s
	}
	if n < width {
		return s + strings.Repeat(" ", width-n)
	}
	r := []rune(s)
	if width == 1 {
		return string(r[:1])
	}
	return string(r[:width-1]) + "…"
}

// truncate shortens s to width runes without padding.
func truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	return padOrTrunc(s, width)
}
