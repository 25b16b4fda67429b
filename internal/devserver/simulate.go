package devserver

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Simulator random-walks a set of tickers on the server's board and fires
// signals when a score crosses the fire line.
type Simulator struct {
	srv      *Server
	rng      *rand.Rand
	period   time.Duration
	fireLine float64
	log      *slog.Logger
}

// NewSimulator creates a simulator seeded with tickers at the given prices.
func NewSimulator(srv *Server, seed uint64, period time.Duration, prices map[string]float64, log *slog.Logger) *Simulator {
	targets := make([]Target, 0, len(prices))
	for _, ticker := range sortedTickers(priceTargets(prices)) {
		targets = append(targets, Target{Ticker: ticker, Price: prices[ticker], AIProb: 0.5, Status: "WATCHING"})
	}
	srv.Board().SetTargets(targets)
	return &Simulator{
		srv:      srv,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		period:   period,
		fireLine: 0.9,
		log:      log,
	}
}

// Run steps the board every period until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step moves every ticker once and publishes the result.
func (s *Simulator) Step() {
	targets := s.srv.Board().Targets()
	var fired []LogEntry
	for i := range targets {
		t := &targets[i]
		t.Price = math.Max(0.01, round2(t.Price*(1+(s.rng.Float64()-0.5)*0.01)))
		t.AIProb = clamp01(t.AIProb + (s.rng.Float64()-0.5)*0.1)

		prev := t.Status
		switch {
		case t.AIProb >= s.fireLine:
			t.Status = "FIRED"
		case t.AIProb >= 0.8:
			t.Status = "AIMING"
		default:
			t.Status = "WATCHING"
		}
		if t.Status == "FIRED" && prev != "FIRED" {
			fired = append(fired, LogEntry{Ticker: t.Ticker, Action: "FIRED", Price: t.Price, Score: t.AIProb})
		}
		t.OBI = ptr(round2(s.rng.Float64()*2 - 1))
		t.VPIN = ptr(round2(s.rng.Float64()))
		t.TickSpeed = ptr(float64(s.rng.IntN(400)))
		t.VWAPDist = ptr(round2((s.rng.Float64() - 0.5) * 2))
	}
	s.srv.Board().SetTargets(targets)
	for _, e := range fired {
		s.srv.Fire(e)
	}
	s.log.Debug("simulation step", "targets", len(targets), "fired", len(fired))
}

func priceTargets(prices map[string]float64) []Target {
	out := make([]Target, 0, len(prices))
	for ticker := range prices {
		out = append(out, Target{Ticker: ticker})
	}
	return out
}

func clamp01(v float64) float64 { return math.Min(1, math.Max(0, v)) }

func ptr(v float64) *float64 { return &v }
