// Package chart manages the single live candlestick chart bound to the
// selected ticker.
package chart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"danso/internal/domain"
	"danso/internal/util"
)

// Source supplies candles for one ticker. feed.Client and feed.AlpacaCandles
// implement it.
type Source interface {
	Candles(ctx context.Context, ticker string) ([]domain.Candle, error)
}

// QuoteSource supplies the latest quote shown beside the chart.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (domain.Quote, error)
}

// DetailsSource supplies company reference data for the session's ticker.
type DetailsSource interface {
	Details(ctx context.Context, ticker string) (domain.Details, error)
}

// Surface is a drawing surface for one session. The manager serializes all
// calls, so implementations need no locking of their own.
type Surface interface {
	SetData(candles []domain.Candle)
	Resize(width, height int)
	View() string
	Release() error
}

// SurfaceFactory creates the surface for a session once its first candles
// arrive.
type SurfaceFactory func(ticker string, width, height int) Surface

// State is the session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Status describes the current session.
type Status struct {
	State       State
	Ticker      string
	Candles     int
	Refreshing  bool
	Placeholder string
	LastError   error
	LastLoad    time.Time

	Quote   *domain.Quote   // nil until a quote has loaded
	Details *domain.Details // nil until details have loaded
}

type session struct {
	ticker      string
	state       State
	surface     Surface
	candles     int
	placeholder string
	lastErr     error
	lastLoad    time.Time

	quote        *domain.Quote
	details      *domain.Details
	detailsTried bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns at most one chart session. Select and Close are serialized;
// the previous session's refresh loop has exited and its surface has been
// released before a new session is constructed.
type Manager struct {
	source     Source
	quotes     QuoteSource
	details    DetailsSource
	newSurface SurfaceFactory
	refresh    time.Duration
	timeout    time.Duration
	visible    func() bool
	log        *slog.Logger

	opMu sync.Mutex // serializes Select and Close

	mu      sync.Mutex // guards everything below
	session *session
	width   int
	height  int

	updates chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithVisibility sets the check the refresh loop uses to stop itself once
// the chart is no longer shown.
func WithVisibility(visible func() bool) Option {
	return func(m *Manager) { m.visible = visible }
}

// WithQuotes refreshes the session's quote alongside its candles.
func WithQuotes(q QuoteSource) Option {
	return func(m *Manager) { m.quotes = q }
}

// WithDetails loads company details once per session.
func WithDetails(d DetailsSource) Option {
	return func(m *Manager) { m.details = d }
}

// WithTimeout bounds each candle request.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithSize sets the initial surface size.
func WithSize(width, height int) Option {
	return func(m *Manager) { m.width, m.height = width, height }
}

// NewManager creates a manager that refreshes the open session every
// refresh interval.
func NewManager(source Source, newSurface SurfaceFactory, refresh time.Duration, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		newSurface: newSurface,
		refresh:    refresh,
		timeout:    4 * time.Second,
		visible:    func() bool { return true },
		log:        log.With("component", "chart"),
		width:      80,
		height:     14,
		updates:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Updates signals (coalesced) whenever the chart view may have changed.
func (m *Manager) Updates() <-chan struct{} { return m.updates }

// Select binds the chart to ticker. An open session for a different ticker
// is torn down first. Selecting the ticker that is already open is a no-op
// unless its refresh loop has stopped, in which case the session restarts.
func (m *Manager) Select(ticker string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	cur := m.session
	if cur != nil && cur.ticker == ticker && !loopDone(cur) {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	m.teardown(cur)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ticker: ticker,
		state:  StateOpening,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	m.log.Info("chart session opening", "ticker", ticker)
	go m.run(ctx, s)
	m.notify()
}

// Close tears down the current session, if any.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	cur := m.session
	m.session = nil
	m.mu.Unlock()

	if cur != nil {
		m.teardown(cur)
		m.notify()
	}
}

// Resize changes the surface size in place; the session is kept.
func (m *Manager) Resize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width, m.height = width, height
	if m.session != nil && m.session.surface != nil {
		m.session.surface.Resize(width, height)
	}
}

// Status reports the current session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	if s == nil {
		return Status{State: StateClosed}
	}
	return Status{
		State:       s.state,
		Ticker:      s.ticker,
		Candles:     s.candles,
		Refreshing:  !loopDone(s),
		Placeholder: s.placeholder,
		LastError:   s.lastErr,
		LastLoad:    s.lastLoad,
		Quote:       s.quote,
		Details:     s.details,
	}
}

// View renders the chart, its placeholder, or nothing when closed.
func (m *Manager) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	switch {
	case s == nil:
		return ""
	case s.surface != nil:
		return s.surface.View()
	case s.placeholder != "":
		return s.placeholder
	default:
		return fmt.Sprintf("Loading %s chart…", s.ticker)
	}
}

// teardown cancels the session's loop, waits for it to exit and releases the
// surface. A release failure is logged and otherwise ignored.
func (m *Manager) teardown(s *session) {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done

	m.mu.Lock()
	surf := s.surface
	s.surface = nil
	s.state = StateClosed
	m.mu.Unlock()

	if surf != nil {
		if err := surf.Release(); err != nil {
			m.log.Warn("chart surface release failed", "ticker", s.ticker, "error", err)
		}
	}
	m.log.Info("chart session closed", "ticker", s.ticker)
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)

	m.load(ctx, s)

	t := time.NewTicker(m.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !m.active(s) || !m.visible() {
			m.log.Debug("chart refresh loop stopping", "ticker", s.ticker)
			return
		}
		m.load(ctx, s)
	}
}

func (m *Manager) active(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == s
}

// load refreshes the session's candles and quote, and its details on the
// first pass. Every source call is abandoned when the session is cancelled,
// so teardown never waits on a stalled request.
func (m *Manager) load(ctx context.Context, s *session) {
	lctx, cancel := context.WithTimeout(ctx, m.timeout)
	candles, err := util.Await(lctx, func(c context.Context) ([]domain.Candle, error) {
		return m.source.Candles(c, s.ticker)
	})
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.loadInfo(ctx, s)

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	s.state = StateOpen
	switch {
	case err != nil:
		s.lastErr = err
		if s.surface == nil {
			s.placeholder = fmt.Sprintf("Chart unavailable for %s", s.ticker)
		}
		m.log.Warn("chart data load failed", "ticker", s.ticker, "error", err)
	case len(candles) == 0:
		s.lastErr = nil
		if s.surface == nil {
			s.placeholder = fmt.Sprintf("No chart data available for %s", s.ticker)
		}
	default:
		s.lastErr = nil
		s.placeholder = ""
		if s.surface == nil {
			s.surface = m.newSurface(s.ticker, m.width, m.height)
		}
		s.surface.SetData(candles)
		s.candles = len(candles)
		s.lastLoad = time.Now()
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) loadInfo(ctx context.Context, s *session) {
	if m.quotes != nil {
		lctx, cancel := context.WithTimeout(ctx, m.timeout)
		q, err := util.Await(lctx, func(c context.Context) (domain.Quote, error) {
			return m.quotes.Quote(c, s.ticker)
		})
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.log.Debug("quote load failed", "ticker", s.ticker, "error", err)
		default:
			m.mu.Lock()
			if m.session == s {
				s.quote = &q
			}
			m.mu.Unlock()
		}
	}

	if m.details == nil || s.detailsTried {
		return
	}
	s.detailsTried = true
	lctx, cancel := context.WithTimeout(ctx, m.timeout)
	d, err := util.Await(lctx, func(c context.Context) (domain.Details, error) {
		return m.details.Details(c, s.ticker)
	})
	cancel()
	switch {
	case ctx.Err() != nil:
	case err != nil:
		m.log.Debug("details load failed", "ticker", s.ticker, "error", err)
	default:
		m.mu.Lock()
		if m.session == s {
			s.details = &d
		}
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func loopDone(s *session) bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
