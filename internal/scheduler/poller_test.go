package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"danso/internal/domain"
	"danso/internal/feed"
	"danso/internal/live"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fetcherFunc adapts a function to SnapshotFetcher.
type fetcherFunc func(ctx context.Context) (domain.Snapshot, error)

func (f fetcherFunc) Snapshot(ctx context.Context) (domain.Snapshot, error) { return f(ctx) }

func oneTarget(ticker string, score float64) domain.Snapshot {
	return domain.Snapshot{Targets: []domain.TargetSnapshot{{
		Ticker: ticker,
		Price:  decimal.NewFromInt(100),
		Score:  score,
		Status: domain.StatusWatching,
	}}}
}

func TestTickApplies(t *testing.T) {
	store := live.NewStore()
	p := New(fetcherFunc(func(context.Context) (domain.Snapshot, error) {
		return oneTarget("AAPL", 82), nil
	}), store, time.Second, time.Second, discardLogger())

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if _, ok := store.Get("AAPL"); !ok {
		t.Error("AAPL not applied")
	}
	if st := p.Stats(); st.Applied != 1 || st.LastSuccess.IsZero() {
		t.Errorf("Stats() = %+v, want one applied", st)
	}
}

func TestTickSkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	p := New(fetcherFunc(func(ctx context.Context) (domain.Snapshot, error) {
		calls.Add(1)
		close(entered)
		<-release
		return oneTarget("AAPL", 50), nil
	}), live.NewStore(), time.Second, 5*time.Second, discardLogger())

	done := make(chan error, 1)
	go func() { done <- p.Tick(context.Background()) }()
	<-entered

	for i := 0; i < 3; i++ {
		if err := p.Tick(context.Background()); !errors.Is(err, ErrInFlight) {
			t.Errorf("overlapping Tick() = %v, want ErrInFlight", err)
		}
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Tick() error: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("fetcher called %d times, want 1", calls.Load())
	}
	if st := p.Stats(); st.Skipped != 3 || st.Applied != 1 {
		t.Errorf("Stats() = %+v, want 3 skipped and 1 applied", st)
	}
}

func TestTickFailureKeepsState(t *testing.T) {
	store := live.NewStore()
	store.Apply(oneTarget("AAPL", 82))

	boom := errors.New("connection refused")
	p := New(fetcherFunc(func(context.Context) (domain.Snapshot, error) {
		return domain.Snapshot{}, boom
	}), store, time.Second, time.Second, discardLogger())

	if err := p.Tick(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Tick() error = %v, want %v", err, boom)
	}
	if store.Version() != 1 {
		t.Errorf("store version = %d, want unchanged 1", store.Version())
	}
	if got, ok := store.Get("AAPL"); !ok || got.Score != 82 {
		t.Errorf("AAPL = %+v, %v; want prior state kept", got, ok)
	}
	if st := p.Stats(); st.Failed != 1 || !errors.Is(st.LastError, boom) {
		t.Errorf("Stats() = %+v, want one failure", st)
	}
}

func TestTickTimeout(t *testing.T) {
	p := New(fetcherFunc(func(ctx context.Context) (domain.Snapshot, error) {
		<-ctx.Done()
		return domain.Snapshot{}, ctx.Err()
	}), live.NewStore(), time.Second, 20*time.Millisecond, discardLogger())

	err := p.Tick(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Tick() error = %v, want deadline exceeded", err)
	}
	// The guard is released after a timeout.
	if p.inFlight.Load() {
		t.Error("in-flight flag still set after timeout")
	}
}

func TestPushUsesSameDecodePath(t *testing.T) {
	store := live.NewStore()
	p := New(fetcherFunc(func(context.Context) (domain.Snapshot, error) {
		return domain.Snapshot{}, nil
	}), store, time.Second, time.Second, discardLogger())

	if err := p.Push([]byte(`{"targets": [{"ticker": "nvda", "price": 900, "ai_prob": 0.7}]}`)); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	got, ok := store.Get("NVDA")
	if !ok || got.Score != 70 {
		t.Errorf("NVDA = %+v, %v; want score 70", got, ok)
	}

	if err := p.Push([]byte(`{"targets": [{"ticker": "NVDA"}]}`)); !errors.Is(err, feed.ErrMalformed) {
		t.Errorf("Push(malformed) = %v, want ErrMalformed", err)
	}
	if store.Version() != 1 {
		t.Errorf("store version = %d, want 1 after rejected push", store.Version())
	}
	if st := p.Stats(); st.Pushed != 1 || st.Failed != 1 {
		t.Errorf("Stats() = %+v, want 1 pushed and 1 failed", st)
	}
}

func TestRunTicksImmediatelyAndStops(t *testing.T) {
	var calls atomic.Int32
	p := New(fetcherFunc(func(context.Context) (domain.Snapshot, error) {
		calls.Add(1)
		return oneTarget("AAPL", 10), nil
	}), live.NewStore(), 20*time.Millisecond, time.Second, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks ran", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
