// Package devserver is a local implementation of the signal server contract
// the client consumes: snapshot and chart endpoints, the notification
// backend, quote and reference data, websocket push and the gRPC snapshot
// stream. It backs local runs
// and end-to-end tests.
package devserver

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
)

// Target is one scanner row as the server reports it.
type Target struct {
	Ticker    string   `json:"ticker"`
	Price     float64  `json:"price"`
	AIProb    float64  `json:"ai_prob"`
	Status    string   `json:"status"`
	OBI       *float64 `json:"obi,omitempty"`
	VPIN      *float64 `json:"vpin,omitempty"`
	TickSpeed *float64 `json:"tick_speed,omitempty"`
	VWAPDist  *float64 `json:"vwap_dist,omitempty"`
}

// LogEntry is one fired signal as the server reports it.
type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Ticker    string  `json:"ticker"`
	Action    string  `json:"action"`
	Price     float64 `json:"price"`
	Score     float64 `json:"score"`
}

// Candle is one OHLC bar on the chart endpoint. Time is unix seconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

const maxLogs = 50

// Board holds the scanner state and publishes every change.
type Board struct {
	mu       sync.RWMutex
	targets  []Target
	logs     []LogEntry
	lastScan time.Time
	payload  []byte
	chart    map[string]int
	opens    map[string]float64 // first price seen per ticker
	details  map[string]CompanyDetails
	now      func() time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan []byte
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	b := &Board{
		chart:   make(map[string]int),
		opens:   make(map[string]float64),
		details: make(map[string]CompanyDetails),
		now:     time.Now,
		subs:    make(map[int]chan []byte),
	}
	b.mu.Lock()
	b.rebuildLocked()
	b.mu.Unlock()
	return b
}

// SetTargets replaces the scanner rows and publishes the new state.
func (b *Board) SetTargets(targets []Target) {
	b.mu.Lock()
	b.targets = append([]Target(nil), targets...)
	for _, t := range b.targets {
		if _, ok := b.opens[t.Ticker]; !ok && t.Price > 0 {
			b.opens[t.Ticker] = t.Price
		}
	}
	b.lastScan = b.now()
	b.rebuildLocked()
	raw := b.payload
	b.mu.Unlock()
	b.publish(raw)
}

// AppendLog records a fired signal and publishes the new state.
func (b *Board) AppendLog(e LogEntry) {
	b.mu.Lock()
	if e.Timestamp == "" {
		e.Timestamp = b.now().Format("2006-01-02 15:04:05")
	}
	b.logs = append([]LogEntry{e}, b.logs...)
	if len(b.logs) > maxLogs {
		b.logs = b.logs[:maxLogs]
	}
	b.rebuildLocked()
	raw := b.payload
	b.mu.Unlock()
	b.publish(raw)
}

// Targets returns a copy of the current rows.
func (b *Board) Targets() []Target {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Target(nil), b.targets...)
}

// Payload returns the current {targets, logs} document.
func (b *Board) Payload() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.payload
}

func (b *Board) rebuildLocked() {
	doc := struct {
		Targets []Target   `json:"targets"`
		Logs    []LogEntry `json:"logs"`
	}{b.targets, b.logs}
	if doc.Targets == nil {
		doc.Targets = []Target{}
	}
	if doc.Logs == nil {
		doc.Logs = []LogEntry{}
	}
	raw, _ := json.Marshal(doc)
	b.payload = raw
}

// LegacyPayload renders the older dashboard document: scan status, signals
// and recommendations (rows with a score of at least 0.8).
func (b *Board) LegacyPayload() any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	type signal struct {
		Ticker string  `json:"ticker"`
		Price  float64 `json:"price"`
		Time   string  `json:"time"`
	}
	type recommendation struct {
		Ticker           string  `json:"ticker"`
		Price            float64 `json:"price"`
		Time             string  `json:"time"`
		ProbabilityScore float64 `json:"probability_score"`
	}

	scan := ""
	if !b.lastScan.IsZero() {
		scan = b.lastScan.Format("15:04:05")
	}
	watching := make([]string, 0, len(b.targets))
	recs := []recommendation{}
	for _, t := range b.targets {
		watching = append(watching, t.Ticker)
		if t.AIProb >= 0.8 {
			recs = append(recs, recommendation{t.Ticker, t.Price, scan, math.Round(t.AIProb * 100)})
		}
	}
	signals := []signal{}
	for _, l := range b.logs {
		signals = append(signals, signal{l.Ticker, l.Price, l.Timestamp})
	}

	return map[string]any{
		"status": map[string]any{
			"last_scan_time":   scan,
			"watching_count":   len(watching),
			"watching_tickers": watching,
		},
		"signals":         signals,
		"recommendations": recs,
	}
}

// Candles returns a deterministic one-minute series for ticker ending at the
// current minute, anchored on the ticker's reported price when known.
func (b *Board) Candles(ticker string, n int) []Candle {
	ticker = strings.ToUpper(ticker)
	b.mu.Lock()
	b.chart[ticker]++
	anchor := 100.0
	for _, t := range b.targets {
		if t.Ticker == ticker {
			anchor = t.Price
		}
	}
	end := b.now().Truncate(time.Minute)
	b.mu.Unlock()

	h := fnv.New64a()
	h.Write([]byte(ticker))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(end.Unix()/60)))

	candles := make([]Candle, n)
	price := anchor
	// Walk backwards from the anchor so the last close matches it.
	for i := n - 1; i >= 0; i-- {
		cl := price
		op := cl * (1 + (rng.Float64()-0.5)*0.004)
		hi := math.Max(op, cl) * (1 + rng.Float64()*0.002)
		lo := math.Min(op, cl) * (1 - rng.Float64()*0.002)
		candles[i] = Candle{
			Time:   end.Add(-time.Duration(n-1-i) * time.Minute).Unix(),
			Open:   round2(op),
			High:   round2(hi),
			Low:    round2(lo),
			Close:  round2(cl),
			Volume: float64(1000 + rng.IntN(9000)),
		}
		price = op
	}
	return candles
}

func (b *Board) countChart(ticker string) {
	b.mu.Lock()
	b.chart[strings.ToUpper(ticker)]++
	b.mu.Unlock()
}

// ChartCalls returns how many chart requests were served per ticker.
func (b *Board) ChartCalls() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.chart))
	for k, v := range b.chart {
		out[k] = v
	}
	return out
}

// Subscribe creates a new subscription channel for published documents.
func (b *Board) Subscribe(bufSize int) (id int, ch <-chan []byte) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan []byte, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Board) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Board) publish(raw []byte) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- raw:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Board) Subscribers() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// sortedTickers returns the board's tickers in ascending order.
func sortedTickers(targets []Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Ticker
	}
	sort.Strings(out)
	return out
}
