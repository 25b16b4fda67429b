// Package domain defines the canonical types shared by every part of the
// dashboard engine. Server payloads are converted into these types at the
// feed boundary; nothing downstream sees raw server shapes.
package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the scanner state reported for a tracked ticker.
type Status string

const (
	StatusWatching Status = "WATCHING"
	StatusAiming   Status = "AIMING"
	StatusFired    Status = "FIRED"
)

// ParseStatus maps a server status tag onto a Status. Empty input defaults to
// WATCHING. The second result is false for tags with no known equivalent.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "WATCHING", "WATCH", "IDLE":
		return StatusWatching, true
	case "AIMING", "AIM", "SETUP":
		return StatusAiming, true
	case "FIRED", "FIRE", "ENTRY", "SIGNAL":
		return StatusFired, true
	default:
		return "", false
	}
}

// TargetSnapshot is the latest server-reported state for one ticker.
// Optional microstructure values are Null (Valid == false) when the server
// did not report them; zero is a valid reading.
type TargetSnapshot struct {
	Ticker string
	Price  decimal.Decimal
	Score  float64 // always 0–100, see NormalizeScore
	Status Status

	OBI          decimal.NullDecimal // order-flow imbalance
	VPIN         decimal.NullDecimal // toxicity
	TickSpeed    decimal.NullDecimal
	VWAPDistance decimal.NullDecimal // percent
	Spread       decimal.NullDecimal // percent
	OBIMomentum  decimal.NullDecimal
	TickAccel    decimal.NullDecimal
}

// SignalLogEntry is an immutable record of a signal fired by the server.
type SignalLogEntry struct {
	Ticker   string
	Price    decimal.Decimal
	Time     time.Time
	Action   string
	Score    float64 // 0–100; meaningful only when HasScore
	HasScore bool
}

// Meta carries optional scanner status reported alongside a snapshot.
type Meta struct {
	LastScan      string
	WatchingCount int
	HasWatching   bool
}

// Snapshot is one complete server-reported state. Targets keep server order
// and tickers are unique; Logs are ordered most recent first.
type Snapshot struct {
	Targets []TargetSnapshot
	Logs    []SignalLogEntry
	Meta    Meta
}

// Candle is one OHLC bar used by the chart.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Up reports whether the candle closed at or above its open.
func (c Candle) Up() bool { return c.Close >= c.Open }

// NormalizeScore converts a raw server score onto the 0–100 scale. The server
// emits either a 0–1 probability or an already scaled value for the same
// field; values <= 1 are treated as probabilities. The result is clamped.
func NormalizeScore(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	v := raw
	if v <= 1 {
		v *= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Quote is the latest top-of-book for one ticker.
type Quote struct {
	Ticker   string
	BidPrice decimal.Decimal
	BidSize  int64
	AskPrice decimal.Decimal
	AskSize  int64
	Time     time.Time // zero when the source did not report it
}

// Details is the reference data shown alongside the chart. Financial
// figures are Null when the source did not report them.
type Details struct {
	Ticker        string
	Name          string
	Industry      string
	Description   string
	LogoURL       string
	MarketCap     decimal.NullDecimal
	PERatio       decimal.NullDecimal
	PSRatio       decimal.NullDecimal
	DividendYield decimal.NullDecimal
}

// Mover is one entry of the market overview bar.
type Mover struct {
	Ticker    string
	Price     decimal.NullDecimal
	ChangePct decimal.NullDecimal
}

// MarketOverview lists the day's top gainers and losers in server order.
type MarketOverview struct {
	Gainers []Mover
	Losers  []Mover
}
