// Package live holds the client-side state store for the latest server
// snapshot, plus the push transports that feed it.
package live

import (
	"sync"
	"time"

	"danso/internal/domain"
)

// Event is emitted to subscribers when a snapshot is applied.
type Event struct {
	Version uint64
	Targets int
}

// View is a consistent copy of the store at one version. Callers own it.
type View struct {
	Snapshot  domain.Snapshot
	Version   uint64
	UpdatedAt time.Time
}

// Store holds the latest applied snapshot. Every successful apply replaces
// the whole state; readers never observe a mix of two snapshots.
type Store struct {
	mu       sync.RWMutex
	snap     domain.Snapshot
	byTicker map[string]int
	version  uint64
	updated  time.Time
	now      func() time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates an empty store at version 0.
func NewStore() *Store {
	return &Store{
		byTicker: make(map[string]int),
		now:      time.Now,
		subs:     make(map[int]chan Event),
	}
}

// Apply replaces the current state with snap and notifies subscribers. The
// snapshot is copied, so the caller may reuse it. It returns the new version.
func (s *Store) Apply(snap domain.Snapshot) uint64 {
	next := copySnapshot(snap)
	idx := make(map[string]int, len(next.Targets))
	for i, t := range next.Targets {
		idx[t.Ticker] = i
	}

	s.mu.Lock()
	s.snap = next
	s.byTicker = idx
	s.version++
	s.updated = s.now()
	evt := Event{Version: s.version, Targets: len(next.Targets)}
	s.mu.Unlock()

	// Notify subscribers (non-blocking send).
	s.subsMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	s.subsMu.Unlock()

	return evt.Version
}

// Get returns the current state for ticker.
func (s *Store) Get(ticker string) (domain.TargetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byTicker[ticker]
	if !ok {
		return domain.TargetSnapshot{}, false
	}
	return s.snap.Targets[i], true
}

// Snapshot returns a copy of the current state with its version.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Snapshot:  copySnapshot(s.snap),
		Version:   s.version,
		UpdatedAt: s.updated,
	}
}

// Version returns the number of snapshots applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe creates a new subscription channel for apply events.
func (s *Store) Subscribe(bufSize int) (id int, ch <-chan Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id = s.nextSubID
	s.nextSubID++
	c := make(chan Event, bufSize)
	s.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func copySnapshot(snap domain.Snapshot) domain.Snapshot {
	out := domain.Snapshot{Meta: snap.Meta}
	out.Targets = make([]domain.TargetSnapshot, len(snap.Targets))
	copy(out.Targets, snap.Targets)
	out.Logs = make([]domain.SignalLogEntry, len(snap.Logs))
	copy(out.Logs, snap.Logs)
	return out
}
