package chart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"danso/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource counts candle requests per ticker.
type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	empty map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, fail: map[string]error{}, empty: map[string]bool{}}
}

func (f *fakeSource) Candles(ctx context.Context, ticker string) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ticker]++
	if err := f.fail[ticker]; err != nil {
		return nil, err
	}
	if f.empty[ticker] {
		return nil, nil
	}
	return []domain.Candle{
		{Time: time.Unix(60, 0), Open: 10, High: 12, Low: 9, Close: 11},
		{Time: time.Unix(120, 0), Open: 11, High: 11.5, Low: 10, Close: 10.5},
	}, nil
}

func (f *fakeSource) count(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

func (f *fakeSource) setFail(ticker string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[ticker] = err
}

// fakeSurface records lifecycle calls.
type fakeSurface struct {
	ticker     string
	w, h       int
	data       int
	released   atomic.Int32
	releaseErr error
}

func (s *fakeSurface) SetData(c []domain.Candle) { s.data = len(c) }
func (s *fakeSurface) Resize(w, h int)           { s.w, s.h = w, h }
func (s *fakeSurface) View() string              { return "surface:" + s.ticker }
func (s *fakeSurface) Release() error {
	s.released.Add(1)
	return s.releaseErr
}

type surfaces struct {
	mu         sync.Mutex
	made       []*fakeSurface
	releaseErr error
}

func (ss *surfaces) factory(ticker string, w, h int) Surface {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s := &fakeSurface{ticker: ticker, w: w, h: h, releaseErr: ss.releaseErr}
	ss.made = append(ss.made, s)
	return s
}

func (ss *surfaces) all() []*fakeSurface {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]*fakeSurface(nil), ss.made...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSelectSwitchStopsPreviousSession(t *testing.T) {
	src := newFakeSource()
	ss := &surfaces{}
	m := NewManager(src, ss.factory, 5*time.Millisecond, discardLogger())
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "AAPL refreshes", func() bool { return src.count("AAPL") >= 3 })

	m.Select("TSLA")
	aCalls := src.count("AAPL")

	waitFor(t, "TSLA refreshes", func() bool { return src.count("TSLA") >= 5 })
	if got := src.count("AAPL"); got != aCalls {
		t.Errorf("AAPL calls after switch = %d, want %d", got, aCalls)
	}

	st := m.Status()
	if st.State != StateOpen || st.Ticker != "TSLA" {
		t.Errorf("Status() = %+v, want OPEN(TSLA)", st)
	}

	made := ss.all()
	if len(made) != 2 {
		t.Fatalf("surfaces created = %d, want 2", len(made))
	}
	if made[0].ticker != "AAPL" || made[0].released.Load() != 1 {
		t.Errorf("AAPL surface released %d times, want 1", made[0].released.Load())
	}
	if made[1].released.Load() != 0 {
		t.Error("TSLA surface should still be live")
	}
}

func TestSelectSameTickerIsNoop(t *testing.T) {
	src := newFakeSource()
	ss := &surfaces{}
	m := NewManager(src, ss.factory, time.Hour, discardLogger())
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "initial load", func() bool { return m.Status().State == StateOpen })
	m.Select("AAPL")

	if got := src.count("AAPL"); got != 1 {
		t.Errorf("AAPL calls = %d, want 1", got)
	}
	if got := len(ss.all()); got != 1 {
		t.Errorf("surfaces created = %d, want 1", got)
	}
}

func TestLoadFailureShowsPlaceholder(t *testing.T) {
	src := newFakeSource()
	src.setFail("AAPL", errors.New("502 bad gateway"))
	ss := &surfaces{}
	m := NewManager(src, ss.factory, 5*time.Millisecond, discardLogger())
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "placeholder", func() bool { return m.Status().Placeholder != "" })

	if v := m.View(); v != "Chart unavailable for AAPL" {
		t.Errorf("View() = %q, want placeholder", v)
	}
	if len(ss.all()) != 0 {
		t.Error("no surface should be created before data arrives")
	}

	src.setFail("AAPL", nil)
	waitFor(t, "recovery", func() bool { return m.Status().Candles == 2 })
	if v := m.View(); v != "surface:AAPL" {
		t.Errorf("View() = %q, want surface", v)
	}

	// Later failures keep the last good data on screen.
	src.setFail("AAPL", errors.New("timeout"))
	n := src.count("AAPL")
	waitFor(t, "failed refresh", func() bool { return src.count("AAPL") > n+1 })
	if v := m.View(); v != "surface:AAPL" {
		t.Errorf("View() after failure = %q, want last good surface", v)
	}
	if m.Status().LastError == nil {
		t.Error("LastError should record the failed refresh")
	}
}

func TestEmptyDataShowsPlaceholder(t *testing.T) {
	src := newFakeSource()
	src.empty["AAPL"] = true
	m := NewManager(src, (&surfaces{}).factory, time.Hour, discardLogger())
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "placeholder", func() bool { return m.Status().State == StateOpen })
	if v := m.View(); v != "No chart data available for AAPL" {
		t.Errorf("View() = %q, want empty placeholder", v)
	}
}

func TestResizeKeepsSession(t *testing.T) {
	src := newFakeSource()
	ss := &surfaces{}
	m := NewManager(src, ss.factory, time.Hour, discardLogger(), WithSize(60, 10))
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "surface", func() bool { return len(ss.all()) == 1 })
	m.Resize(120, 30)

	made := ss.all()
	if len(made) != 1 {
		t.Fatalf("surfaces created = %d, want 1 after resize", len(made))
	}
	m.mu.Lock()
	w, h := made[0].w, made[0].h
	m.mu.Unlock()
	if w != 120 || h != 30 {
		t.Errorf("surface size = %dx%d, want 120x30", w, h)
	}
	if made[0].released.Load() != 0 {
		t.Error("resize must not release the surface")
	}
}

func TestRefreshLoopStopsWhenHidden(t *testing.T) {
	src := newFakeSource()
	var visible atomic.Bool
	visible.Store(true)
	m := NewManager(src, (&surfaces{}).factory, 5*time.Millisecond, discardLogger(),
		WithVisibility(visible.Load))
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "refreshes", func() bool { return src.count("AAPL") >= 2 })
	visible.Store(false)
	waitFor(t, "loop exit", func() bool { return !m.Status().Refreshing })

	n := src.count("AAPL")
	time.Sleep(30 * time.Millisecond)
	if got := src.count("AAPL"); got != n {
		t.Errorf("calls after loop exit = %d, want %d", got, n)
	}

	// Selecting again restarts the stopped session.
	visible.Store(true)
	m.Select("AAPL")
	waitFor(t, "restart", func() bool { return src.count("AAPL") > n })
}

func TestReleaseFailureDoesNotBlockReplacement(t *testing.T) {
	src := newFakeSource()
	ss := &surfaces{releaseErr: errors.New("surface busy")}
	m := NewManager(src, ss.factory, time.Hour, discardLogger())
	defer m.Close()

	m.Select("AAPL")
	waitFor(t, "AAPL surface", func() bool { return len(ss.all()) == 1 })
	m.Select("TSLA")
	waitFor(t, "TSLA surface", func() bool { return len(ss.all()) == 2 })

	if st := m.Status(); st.Ticker != "TSLA" || st.State != StateOpen {
		t.Errorf("Status() = %+v, want OPEN(TSLA)", st)
	}
}

func TestCloseReleases(t *testing.T) {
	src := newFakeSource()
	ss := &surfaces{}
	m := NewManager(src, ss.factory, 5*time.Millisecond, discardLogger())

	m.Select("AAPL")
	waitFor(t, "surface", func() bool { return len(ss.all()) == 1 })
	m.Close()

	if st := m.Status(); st.State != StateClosed {
		t.Errorf("Status() = %+v, want CLOSED", st)
	}
	if ss.all()[0].released.Load() != 1 {
		t.Error("surface not released on Close")
	}
	if m.View() != "" {
		t.Errorf("View() = %q, want empty when closed", m.View())
	}
	n := src.count("AAPL")
	time.Sleep(20 * time.Millisecond)
	if src.count("AAPL") != n {
		t.Error("refresh continued after Close")
	}
	m.Close()
}

// stallSource blocks AAPL requests until released, ignoring ctx.
type stallSource struct {
	*fakeSource
	started chan struct{}
	release chan struct{}
}

func (s *stallSource) Candles(ctx context.Context, ticker string) ([]domain.Candle, error) {
	if ticker == "AAPL" {
		s.started <- struct{}{}
		<-s.release
	}
	return s.fakeSource.Candles(ctx, ticker)
}

func TestSwitchDoesNotWaitForStalledSource(t *testing.T) {
	src := &stallSource{fakeSource: newFakeSource(), started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(src.release)
	m := NewManager(src, (&surfaces{}).factory, time.Hour, discardLogger(), WithTimeout(time.Minute))
	defer m.Close()

	m.Select("AAPL")
	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("AAPL request never started")
	}

	switched := make(chan struct{})
	go func() {
		m.Select("TSLA")
		close(switched)
	}()
	select {
	case <-switched:
	case <-time.After(time.Second):
		t.Fatal("Select blocked on a stalled request")
	}
	waitFor(t, "TSLA data", func() bool {
		st := m.Status()
		return st.Ticker == "TSLA" && st.Candles == 2
	})
}

type fakeInfo struct {
	mu      sync.Mutex
	details map[string]int
}

func (f *fakeInfo) Quote(_ context.Context, ticker string) (domain.Quote, error) {
	return domain.Quote{Ticker: ticker, BidSize: 3, AskSize: 5}, nil
}

func (f *fakeInfo) Details(_ context.Context, ticker string) (domain.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[ticker]++
	return domain.Details{Ticker: ticker, Name: ticker + " Inc."}, nil
}

func (f *fakeInfo) detailCalls(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.details[ticker]
}

func TestSessionLoadsQuoteAndDetails(t *testing.T) {
	src := newFakeSource()
	info := &fakeInfo{details: map[string]int{}}
	m := NewManager(src, (&surfaces{}).factory, 5*time.Millisecond, discardLogger(),
		WithQuotes(info), WithDetails(info))
	defer m.Close()

	if st := m.Status(); st.Quote != nil || st.Details != nil {
		t.Fatalf("closed Status() = %+v, want no quote or details", st)
	}
	m.Select("AAPL")
	waitFor(t, "quote and details", func() bool {
		st := m.Status()
		return st.Quote != nil && st.Details != nil
	})
	st := m.Status()
	if st.Quote.Ticker != "AAPL" || st.Quote.AskSize != 5 || st.Details.Name != "AAPL Inc." {
		t.Errorf("Status() quote = %+v details = %+v", st.Quote, st.Details)
	}

	waitFor(t, "refreshes", func() bool { return src.count("AAPL") >= 3 })
	if n := info.detailCalls("AAPL"); n != 1 {
		t.Errorf("details calls = %d, want 1 per session", n)
	}

	m.Select("TSLA")
	st = m.Status()
	if st.Quote != nil && st.Quote.Ticker != "TSLA" {
		t.Errorf("TSLA session carries quote for %s", st.Quote.Ticker)
	}
	if st.Details != nil && st.Details.Ticker != "TSLA" {
		t.Errorf("TSLA session carries details for %s", st.Details.Ticker)
	}
}

func TestTextSurface(t *testing.T) {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	plain := r.NewStyle()

	s := NewTextSurface("AAPL", 30, 8, plain, plain, plain)
	s.SetData([]domain.Candle{
		{Open: 10, High: 12, Low: 9, Close: 11},
		{Open: 11, High: 11.5, Low: 10, Close: 10.5},
	})
	v := s.View()
	lines := strings.Split(v, "\n")
	if len(lines) != 8 {
		t.Fatalf("View() has %d lines, want 8:\n%s", len(lines), v)
	}
	if !strings.HasPrefix(lines[0], "AAPL 1m") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(v, "┃") || !strings.Contains(v, "│") {
		t.Errorf("View() missing bodies or wicks:\n%s", v)
	}
	if !strings.Contains(lines[1], "12.00") || !strings.Contains(lines[7], "9.00") {
		t.Errorf("axis labels missing:\n%s", v)
	}

	s.Resize(40, 10)
	if w, h := s.Size(); w != 40 || h != 10 {
		t.Errorf("Size() = %dx%d, want 40x10", w, h)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release() = %v, want ErrReleased", err)
	}
}
