package live

import (
	"testing"

	"github.com/shopspring/decimal"

	"danso/internal/domain"
)

func target(ticker string, price float64, score float64) domain.TargetSnapshot {
	return domain.TargetSnapshot{
		Ticker: ticker,
		Price:  decimal.NewFromFloat(price),
		Score:  score,
		Status: domain.StatusWatching,
	}
}

func TestStoreApplyReplacesWholesale(t *testing.T) {
	s := NewStore()
	if s.Version() != 0 {
		t.Fatalf("Version() = %d, want 0", s.Version())
	}

	s.Apply(domain.Snapshot{Targets: []domain.TargetSnapshot{target("AAPL", 190, 82), target("TSLA", 250, 64)}})
	v := s.Apply(domain.Snapshot{Targets: []domain.TargetSnapshot{target("MSFT", 410, 91)}})
	if v != 2 {
		t.Errorf("Apply() version = %d, want 2", v)
	}

	if _, ok := s.Get("AAPL"); ok {
		t.Error("AAPL should be gone after a snapshot without it")
	}
	got, ok := s.Get("MSFT")
	if !ok {
		t.Fatal("MSFT missing")
	}
	if got.Score != 91 {
		t.Errorf("MSFT Score = %v, want 91", got.Score)
	}

	view := s.Snapshot()
	if view.Version != 2 || len(view.Snapshot.Targets) != 1 {
		t.Errorf("Snapshot() = version %d with %d targets, want 2 with 1", view.Version, len(view.Snapshot.Targets))
	}
	if view.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set after apply")
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	in := domain.Snapshot{Targets: []domain.TargetSnapshot{target("AAPL", 190, 82)}}
	s.Apply(in)

	// Mutating the input or a returned view must not reach the store.
	in.Targets[0].Score = 1
	view := s.Snapshot()
	view.Snapshot.Targets[0].Score = 2

	got, _ := s.Get("AAPL")
	if got.Score != 82 {
		t.Errorf("stored Score = %v, want 82", got.Score)
	}
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()
	id, ch := s.Subscribe(1)

	s.Apply(domain.Snapshot{Targets: []domain.TargetSnapshot{target("AAPL", 1, 1)}})
	// Buffer full: this event is dropped rather than blocking Apply.
	s.Apply(domain.Snapshot{})

	evt := <-ch
	if evt.Version != 1 || evt.Targets != 1 {
		t.Errorf("event = %+v, want version 1 with 1 target", evt)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event %+v", evt)
	default:
	}

	s.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	// Unknown ids are ignored.
	s.Unsubscribe(id)
}
