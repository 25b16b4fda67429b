// Package scheduler drives periodic snapshot refreshes into the state store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"danso/internal/domain"
	"danso/internal/feed"
)

// ErrInFlight is returned by Tick when the previous request has not finished.
// The tick is skipped, not queued.
var ErrInFlight = errors.New("refresh already in flight")

// SnapshotFetcher retrieves the current server snapshot.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Applier accepts decoded snapshots. live.Store implements it.
type Applier interface {
	Apply(snap domain.Snapshot) uint64
}

// Stats is a point-in-time view of poller counters.
type Stats struct {
	Applied     int64
	Skipped     int64
	Failed      int64
	Pushed      int64
	LastSuccess time.Time
	LastError   error
}

// Poller issues at most one snapshot request at a time. A failed or
// malformed refresh leaves the store as it was.
type Poller struct {
	fetcher SnapshotFetcher
	store   Applier
	period  time.Duration
	timeout time.Duration
	log     *slog.Logger

	inFlight atomic.Bool
	applied  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
	pushed   atomic.Int64

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
	now         func() time.Time
}

// New creates a poller that refreshes every period, bounding each request by
// timeout.
func New(fetcher SnapshotFetcher, store Applier, period, timeout time.Duration, log *slog.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		store:   store,
		period:  period,
		timeout: timeout,
		log:     log.With("component", "poller"),
		now:     time.Now,
	}
}

// Tick performs one refresh unless another is still outstanding, in which
// case it returns ErrInFlight immediately.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.log.Debug("tick skipped, request in flight")
		return ErrInFlight
	}
	defer p.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	snap, err := p.fetcher.Snapshot(ctx)
	if err != nil {
		p.fail(err)
		return fmt.Errorf("refresh: %w", err)
	}
	version := p.store.Apply(snap)
	p.succeed()
	p.log.Debug("snapshot applied", "version", version, "targets", len(snap.Targets),
		"logs", len(snap.Logs), "elapsed", p.now().Sub(start))
	return nil
}

// Push decodes an unsolicited payload and applies it through the same path
// as a polled snapshot. It satisfies live.Sink.
func (p *Poller) Push(raw []byte) error {
	snap, err := feed.DecodeSnapshot(raw)
	if err != nil {
		p.fail(err)
		return err
	}
	version := p.store.Apply(snap)
	p.pushed.Add(1)
	p.succeed()
	p.log.Debug("pushed snapshot applied", "version", version, "targets", len(snap.Targets))
	return nil
}

// Run ticks immediately and then every period until ctx is cancelled. Ticks
// run on their own goroutine so a slow request surfaces as skipped ticks
// rather than a drifting schedule.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Tick(ctx); err != nil && !errors.Is(err, ErrInFlight) && ctx.Err() == nil {
				p.log.Warn("snapshot refresh failed", "error", err)
			}
		}()
	}

	tick()
	t := time.NewTicker(p.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			tick()
		}
	}
}

// Stats returns the current counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Applied:     p.applied.Load(),
		Skipped:     p.skipped.Load(),
		Failed:      p.failed.Load(),
		Pushed:      p.pushed.Load(),
		LastSuccess: p.lastSuccess,
		LastError:   p.lastErr,
	}
}

func (p *Poller) succeed() {
	p.applied.Add(1)
	p.mu.Lock()
	p.lastSuccess = p.now()
	p.lastErr = nil
	p.mu.Unlock()
}

func (p *Poller) fail(err error) {
	p.failed.Add(1)
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}
