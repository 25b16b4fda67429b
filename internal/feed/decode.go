// Package feed converts the signal server's JSON contract into domain types
// and provides the HTTP client and candle sources that consume it.
//
// DecodeSnapshot is the only normalization path: the HTTP poller and every
// push transport hand their raw payloads to it, so all sources produce
// identical domain.Snapshot values.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"danso/internal/domain"
)

// ErrMalformed marks a payload that cannot be applied. Malformed payloads are
// discarded whole, never partially applied.
var ErrMalformed = errors.New("malformed payload")

// optNumber is a JSON number that may be absent, null, a number or a numeric
// string. The original text is kept so decimals survive without float loss.
type optNumber struct {
	text string
	set  bool
}

func (n *optNumber) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			return nil
		}
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	n.text = s
	n.set = true
	return nil
}

func (n optNumber) float() float64 {
	f, _ := strconv.ParseFloat(n.text, 64)
	return f
}

func (n optNumber) decimal() decimal.Decimal {
	d, err := decimal.NewFromString(n.text)
	if err != nil {
		return decimal.NewFromFloat(n.float())
	}
	return d
}

func (n optNumber) null() decimal.NullDecimal {
	if !n.set {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(n.decimal())
}

// first returns the first reported value among field aliases.
func first(ns ...optNumber) optNumber {
	for _, n := range ns {
		if n.set {
			return n
		}
	}
	return optNumber{}
}

// wireTime accepts "2006-01-02 15:04:05", RFC 3339 or unix seconds/millis.
type wireTime struct {
	t   time.Time
	set bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"15:04:05",
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if !strings.HasPrefix(s, `"`) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid time %s", b)
		}
		w.t = epoch(f)
		w.set = true
		return nil
	}
	unq, err := strconv.Unquote(s)
	if err != nil {
		return err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, unq); err == nil {
			w.t = t
			w.set = true
			return nil
		}
	}
	return fmt.Errorf("invalid time %q", unq)
}

// epoch interprets v as unix seconds, milliseconds, microseconds or
// nanoseconds depending on its magnitude.
func epoch(v float64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, int64(v)).UTC()
	case v > 1e14:
		return time.UnixMicro(int64(v)).UTC()
	case v > 1e12:
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

type wireTarget struct {
	Ticker string    `json:"ticker"`
	Price  optNumber `json:"price"`
	Status string    `json:"status"`

	Score            optNumber `json:"score"`
	AIScore          optNumber `json:"ai_score"`
	AIProb           optNumber `json:"ai_prob"`
	ProbabilityScore optNumber `json:"probability_score"`

	OBI                optNumber `json:"obi"`
	OrderFlowImbalance optNumber `json:"orderFlowImbalance"`
	VPIN               optNumber `json:"vpin"`
	Toxicity           optNumber `json:"toxicity"`
	TickSpeed          optNumber `json:"tick_speed"`
	TickSpeedAlt       optNumber `json:"tickSpeed"`
	VWAPDist           optNumber `json:"vwap_dist"`
	VWAPDistance       optNumber `json:"vwapDistance"`
	Spread             optNumber `json:"spread"`
	OBIMomentum        optNumber `json:"obi_mom"`
	TickAccel          optNumber `json:"tick_accel"`
}

type wireLog struct {
	Ticker    string    `json:"ticker"`
	Price     optNumber `json:"price"`
	Action    string    `json:"action"`
	Time      wireTime  `json:"time"`
	Timestamp wireTime  `json:"timestamp"`
	Score     optNumber `json:"score"`
	AIProb    optNumber `json:"ai_prob"`
}

type wireStatus struct {
	LastScanTime  string     `json:"last_scan_time"`
	WatchingCount *optNumber `json:"watching_count"`
}

// wireSnapshot accepts both the current shape ({targets, logs}) and the
// legacy dashboard shape ({status, signals, recommendations}).
type wireSnapshot struct {
	Targets json.RawMessage `json:"targets"`
	Logs    []wireLog       `json:"logs"`

	Status          json.RawMessage `json:"status"`
	Signals         []wireLog       `json:"signals"`
	Recommendations []wireTarget    `json:"recommendations"`
}

func present(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) > 0 && !bytes.Equal(s, []byte("null"))
}

// DecodeSnapshot parses and normalizes a snapshot payload. Scores are mapped
// onto 0–100, tickers are upper-cased and must be unique, and logs are
// ordered most recent first. Any violation returns an error wrapping
// ErrMalformed.
func DecodeSnapshot(raw []byte) (domain.Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case present(w.Targets):
		var targets []wireTarget
		if err := json.Unmarshal(w.Targets, &targets); err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: targets: %v", ErrMalformed, err)
		}
		return buildSnapshot(targets, w.Logs, domain.StatusWatching, "", domain.Meta{})
	case present(w.Status) || w.Recommendations != nil || w.Signals != nil:
		meta, err := decodeMeta(w.Status)
		if err != nil {
			return domain.Snapshot{}, err
		}
		return buildSnapshot(w.Recommendations, w.Signals, domain.StatusAiming, "SIGNAL", meta)
	default:
		return domain.Snapshot{}, fmt.Errorf("%w: no targets in payload", ErrMalformed)
	}
}

func decodeMeta(raw json.RawMessage) (domain.Meta, error) {
	if !present(raw) {
		return domain.Meta{}, nil
	}
	var st wireStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.Meta{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	meta := domain.Meta{LastScan: st.LastScanTime}
	if st.WatchingCount != nil && st.WatchingCount.set {
		meta.WatchingCount = int(st.WatchingCount.float())
		meta.HasWatching = true
	}
	return meta, nil
}

func buildSnapshot(targets []wireTarget, logs []wireLog, defaultStatus domain.Status, defaultAction string, meta domain.Meta) (domain.Snapshot, error) {
	snap := domain.Snapshot{
		Targets: make([]domain.TargetSnapshot, 0, len(targets)),
		Logs:    make([]domain.SignalLogEntry, 0, len(logs)),
		Meta:    meta,
	}

	seen := make(map[string]bool, len(targets))
	for i, wt := range targets {
		t, err := normalizeTarget(wt, defaultStatus)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: target %d: %v", ErrMalformed, i, err)
		}
		if seen[t.Ticker] {
			return domain.Snapshot{}, fmt.Errorf("%w: duplicate ticker %q", ErrMalformed, t.Ticker)
		}
		seen[t.Ticker] = true
		snap.Targets = append(snap.Targets, t)
	}

	for i, wl := range logs {
		e, err := normalizeLog(wl, defaultAction)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: log %d: %v", ErrMalformed, i, err)
		}
		snap.Logs = append(snap.Logs, e)
	}
	sort.SliceStable(snap.Logs, func(i, j int) bool {
		return snap.Logs[i].Time.After(snap.Logs[j].Time)
	})
	return snap, nil
}

func normalizeTarget(wt wireTarget, defaultStatus domain.Status) (domain.TargetSnapshot, error) {
	ticker := strings.ToUpper(strings.TrimSpace(wt.Ticker))
	if ticker == "" {
		return domain.TargetSnapshot{}, errors.New("missing ticker")
	}
	if !wt.Price.set {
		return domain.TargetSnapshot{}, fmt.Errorf("%s: missing price", ticker)
	}
	price := wt.Price.decimal()
	if price.IsNegative() {
		return domain.TargetSnapshot{}, fmt.Errorf("%s: negative price", ticker)
	}
	score := first(wt.Score, wt.AIScore, wt.AIProb, wt.ProbabilityScore)
	if !score.set {
		return domain.TargetSnapshot{}, fmt.Errorf("%s: missing score", ticker)
	}

	status := defaultStatus
	if wt.Status != "" {
		s, ok := domain.ParseStatus(wt.Status)
		if !ok {
			return domain.TargetSnapshot{}, fmt.Errorf("%s: unknown status %q", ticker, wt.Status)
		}
		status = s
	}

	return domain.TargetSnapshot{
		Ticker:       ticker,
		Price:        price,
		Score:        domain.NormalizeScore(score.float()),
		Status:       status,
		OBI:          first(wt.OBI, wt.OrderFlowImbalance).null(),
		VPIN:         first(wt.VPIN, wt.Toxicity).null(),
		TickSpeed:    first(wt.TickSpeed, wt.TickSpeedAlt).null(),
		VWAPDistance: first(wt.VWAPDist, wt.VWAPDistance).null(),
		Spread:       wt.Spread.null(),
		OBIMomentum:  wt.OBIMomentum.null(),
		TickAccel:    wt.TickAccel.null(),
	}, nil
}

func normalizeLog(wl wireLog, defaultAction string) (domain.SignalLogEntry, error) {
	ticker := strings.ToUpper(strings.TrimSpace(wl.Ticker))
	if ticker == "" {
		return domain.SignalLogEntry{}, errors.New("missing ticker")
	}
	if !wl.Price.set {
		return domain.SignalLogEntry{}, fmt.Errorf("%s: missing price", ticker)
	}
	ts := wl.Time
	if !ts.set {
		ts = wl.Timestamp
	}
	if !ts.set {
		return domain.SignalLogEntry{}, fmt.Errorf("%s: missing time", ticker)
	}
	action := strings.ToUpper(strings.TrimSpace(wl.Action))
	if action == "" {
		action = defaultAction
	}
	if action == "" {
		return domain.SignalLogEntry{}, fmt.Errorf("%s: missing action", ticker)
	}

	e := domain.SignalLogEntry{
		Ticker: ticker,
		Price:  wl.Price.decimal(),
		Time:   ts.t,
		Action: action,
	}
	if s := first(wl.Score, wl.AIProb); s.set {
		e.Score = domain.NormalizeScore(s.float())
		e.HasScore = true
	}
	return e, nil
}

// ---------------------------------------------------------------------------
// Candles
// ---------------------------------------------------------------------------

type wireCandle struct {
	Time   wireTime  `json:"time"`
	Open   optNumber `json:"open"`
	High   optNumber `json:"high"`
	Low    optNumber `json:"low"`
	Close  optNumber `json:"close"`
	Volume optNumber `json:"volume"`
}

type wireCandles struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Results []wireCandle `json:"results"`
}

// DecodeCandles parses a candle response ({status, results}). A status other
// than "OK" returns ErrStatus; an OK response with no results returns an
// empty slice.
func DecodeCandles(raw []byte) ([]domain.Candle, error) {
	var w wireCandles
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(w.Status, "OK") {
		msg := w.Message
		if msg == "" {
			msg = w.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrStatus, msg)
	}

	candles := make([]domain.Candle, 0, len(w.Results))
	for i, wc := range w.Results {
		if !wc.Time.set || !wc.Open.set || !wc.High.set || !wc.Low.set {
			return nil, fmt.Errorf("%w: candle %d incomplete", ErrMalformed, i)
		}
		c := domain.Candle{
			Time:   wc.Time.t,
			Open:   wc.Open.float(),
			High:   wc.High.float(),
			Low:    wc.Low.float(),
			Close:  wc.Open.float(),
			Volume: wc.Volume.float(),
		}
		// The server substitutes open for a missing close.
		if wc.Close.set {
			c.Close = wc.Close.float()
		}
		if c.High < c.Low {
			return nil, fmt.Errorf("%w: candle %d high below low", ErrMalformed, i)
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}
