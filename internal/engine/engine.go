// Package engine is the client controller. It owns the state store, the
// update scheduler, the push channel, the chart session manager, the
// notification manager, the market overview and the current selection.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"danso/internal/chart"
	"danso/internal/config"
	"danso/internal/dashboard"
	"danso/internal/domain"
	"danso/internal/feed"
	"danso/internal/live"
	"danso/internal/notify"
	"danso/internal/scheduler"
)

const maxNotices = 5

// Screen is one rendered frame.
type Screen struct {
	Movers    string
	Dashboard dashboard.View
	Chart     string
	Info      string
	Notices   []string
	Status    string
}

// String joins the regions in display order.
func (s Screen) String() string {
	var parts []string
	if s.Movers != "" {
		parts = append(parts, s.Movers)
	}
	parts = append(parts, s.Dashboard.List, s.Dashboard.Panel)
	if s.Chart != "" {
		parts = append(parts, s.Chart)
	}
	if s.Info != "" {
		parts = append(parts, s.Info)
	}
	parts = append(parts, s.Dashboard.Feed)
	if len(s.Notices) > 0 {
		parts = append(parts, strings.Join(s.Notices, "\n"))
	}
	if s.Status != "" {
		parts = append(parts, s.Status)
	}
	return strings.Join(parts, "\n\n")
}

// Engine wires the client components together. All methods are safe for
// concurrent use.
type Engine struct {
	cfg    *config.Config
	log    *slog.Logger
	styles dashboard.Styles

	client *feed.Client
	store  *live.Store
	poller *scheduler.Poller
	push   live.Pusher
	charts *chart.Manager
	worker *notify.Worker
	notify *notify.Manager

	selMu sync.Mutex // held across a selection change and its chart update

	mu        sync.Mutex
	selected  string
	showChart bool
	notices   []notify.Notification
	status    string
	movers    domain.MarketOverview

	changed chan struct{}
}

// New builds an engine from cfg. ask prompts the user for notification
// permission; it may be nil when the permission is configured up front.
func New(cfg *config.Config, ask notify.AskFunc, styles dashboard.Styles, log *slog.Logger) (*Engine, error) {
	perm, err := notify.ParsePermission(cfg.Notify.Permission)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		styles:    styles,
		store:     live.NewStore(),
		showChart: true,
		changed:   make(chan struct{}, 1),
	}

	e.client = feed.NewClient(cfg.Server.BaseURL,
		feed.WithSnapshotPath(cfg.Server.SnapshotPath),
		feed.WithLogger(log.With("component", "feed")))
	e.poller = scheduler.New(e.client, e.store, cfg.Engine.PollInterval, cfg.Engine.RequestTimeout, log)

	switch cfg.Push.Transport {
	case "websocket":
		e.push = live.NewWSClient(cfg.Push.URL, e.poller.Push, log)
	case "grpc":
		e.push = live.NewGRPCClient(cfg.Push.URL, e.poller.Push, log)
	}

	var (
		candles chart.Source      = e.client
		quotes  chart.QuoteSource = e.client
	)
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		alpaca := feed.NewAlpacaCandles(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
		candles, quotes = alpaca, alpaca
		log.Info("using alpaca candle and quote source")
	}
	e.charts = chart.NewManager(candles,
		chart.TextSurfaceFactory(styles.Up, styles.Down, styles.Dim),
		cfg.Chart.RefreshInterval,
		log,
		chart.WithVisibility(e.chartVisible),
		chart.WithTimeout(cfg.Engine.RequestTimeout),
		chart.WithSize(80, cfg.Chart.Height),
		chart.WithQuotes(quotes),
		chart.WithDetails(e.client),
	)

	workerURL, err := resolveWorkerURL(cfg)
	if err != nil {
		return nil, err
	}
	var registrar notify.Registrar
	if workerURL != "" {
		e.worker = notify.NewWorker(workerURL, e.addNotice, log)
		registrar = e.worker
	}
	e.notify = notify.NewManager(notify.NewProcessPermission(perm, ask), registrar, e.client,
		cfg.Notify.ReadyTimeout, log)

	return e, nil
}

// resolveWorkerURL returns the configured delivery worker endpoint, or the
// server's /ws/push when none is set.
func resolveWorkerURL(cfg *config.Config) (string, error) {
	if cfg.Notify.WorkerURL != "" {
		return cfg.Notify.WorkerURL, nil
	}
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/push"
	return u.String(), nil
}

// Run loads the market overview once, starts the poller, the push channel
// and the delivery worker and blocks until ctx is cancelled. The chart
// session is closed on return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.charts.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.LoadMarketOverview(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("market overview unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error { return e.poller.Run(ctx) })
	if e.push != nil {
		g.Go(func() error { return e.push.Run(ctx) })
	}
	if e.worker != nil {
		g.Go(func() error { return e.worker.Run(ctx) })
	}
	g.Go(func() error {
		id, events := e.store.Subscribe(4)
		defer e.store.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-events:
				e.signal()
			case <-e.charts.Updates():
				e.signal()
			}
		}
	})
	return g.Wait()
}

// LoadMarketOverview fetches the gainers and losers bar. A failure keeps the
// previous overview.
func (e *Engine) LoadMarketOverview(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.RequestTimeout)
	defer cancel()
	ov, err := e.client.MarketOverview(rctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.movers = ov
	e.mu.Unlock()
	e.signal()
	return nil
}

// Refresh performs one snapshot retrieval outside the schedule.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.poller.Tick(ctx)
}

// Changed delivers a value whenever the rendered output may have changed.
func (e *Engine) Changed() <-chan struct{} { return e.changed }

func (e *Engine) signal() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// Select makes ticker the current selection and binds the chart to it. With
// the chart hidden, any previous session is closed instead.
func (e *Engine) Select(ticker string) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		e.Deselect()
		return
	}
	e.selMu.Lock()
	defer e.selMu.Unlock()

	e.mu.Lock()
	e.selected = ticker
	show := e.showChart
	e.mu.Unlock()
	if show {
		e.charts.Select(ticker)
	} else {
		e.charts.Close()
	}
	e.signal()
}

// Deselect clears the selection and closes the chart.
func (e *Engine) Deselect() {
	e.selMu.Lock()
	defer e.selMu.Unlock()

	e.mu.Lock()
	e.selected = ""
	e.mu.Unlock()
	e.charts.Close()
	e.signal()
}

// Move selects the ticker delta rows away from the current selection in
// ranked order. With no selection it starts from the top row.
func (e *Engine) Move(delta int) {
	ranked := dashboard.Rank(e.store.Snapshot().Snapshot.Targets)
	if len(ranked) == 0 {
		return
	}
	cur := e.Selected()
	idx := -1
	for i, t := range ranked {
		if t.Ticker == cur {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		idx = 0
	default:
		idx += delta
	}
	idx = max(0, min(len(ranked)-1, idx))
	if ranked[idx].Ticker != cur {
		e.Select(ranked[idx].Ticker)
	}
}

// Selected returns the current selection, or "" when none.
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// ToggleChart shows or hides the chart pane. Hiding closes the session;
// showing again starts a fresh session for the selection.
func (e *Engine) ToggleChart() {
	e.selMu.Lock()
	defer e.selMu.Unlock()

	e.mu.Lock()
	e.showChart = !e.showChart
	show, ticker := e.showChart, e.selected
	e.mu.Unlock()
	switch {
	case !show:
		e.charts.Close()
	case ticker != "":
		e.charts.Select(ticker)
	}
	e.signal()
}

func (e *Engine) chartVisible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.showChart && e.selected != ""
}

// Resize adapts the chart surface to the available width at the configured
// chart height.
func (e *Engine) Resize(width int) {
	e.charts.Resize(width, e.cfg.Chart.Height)
}

// EnableNotifications runs the subscription flow and returns the message to
// show the user.
func (e *Engine) EnableNotifications(ctx context.Context) string {
	err := e.notify.RequestPermission(ctx)
	msg := "Notifications enabled."
	if err != nil {
		e.log.Warn("enabling notifications failed", "error", err)
		msg = notify.Explain(err)
	} else if n := e.cfg.Notify.AlertThreshold; n > 0 {
		if err := e.notify.SaveThreshold(ctx, n); err != nil {
			msg = notify.Explain(err)
		}
	}
	e.setStatus(msg)
	return msg
}

// SaveThreshold stores the alert threshold and returns the message to show
// the user.
func (e *Engine) SaveThreshold(ctx context.Context, threshold int) string {
	msg := fmt.Sprintf("Alert threshold set to %d.", threshold)
	if err := e.notify.SaveThreshold(ctx, threshold); err != nil {
		msg = notify.Explain(err)
	}
	e.setStatus(msg)
	return msg
}

// NotificationState returns the subscription state.
func (e *Engine) NotificationState() notify.State { return e.notify.State() }

// Stats returns the scheduler counters.
func (e *Engine) Stats() scheduler.Stats { return e.poller.Stats() }

// ChartStatus returns the chart session status.
func (e *Engine) ChartStatus() chart.Status { return e.charts.Status() }

// Store exposes the state store for read-only consumers.
func (e *Engine) Store() *live.Store { return e.store }

func (e *Engine) setStatus(msg string) {
	e.mu.Lock()
	e.status = msg
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) addNotice(n notify.Notification) {
	e.mu.Lock()
	e.notices = append([]notify.Notification{n}, e.notices...)
	if len(e.notices) > maxNotices {
		e.notices = e.notices[:maxNotices]
	}
	e.mu.Unlock()
	e.log.Info("notification shown", "title", n.Title)
	e.signal()
}

// Notices returns the recent foreground notifications, newest first.
func (e *Engine) Notices() []notify.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Notification(nil), e.notices...)
}

// Render produces the current frame from the store, the selection and the
// chart session.
func (e *Engine) Render(width int) Screen {
	view := e.store.Snapshot()

	e.mu.Lock()
	selected, show, status, movers := e.selected, e.showChart, e.status, e.movers
	notices := make([]string, len(e.notices))
	for i, n := range e.notices {
		notices[i] = e.styles.Dim.Render(n.Received.Format(time.TimeOnly)) + " " + n.Title + ": " + n.Body
	}
	e.mu.Unlock()

	sc := Screen{
		Movers: dashboard.RenderMovers(e.styles, movers, width),
		Dashboard: dashboard.Render(dashboard.Input{
			Snapshot: view.Snapshot,
			Selected: selected,
			Width:    width,
			Styles:   e.styles,
		}),
		Notices: notices,
		Status:  status,
	}
	if show && selected != "" {
		sc.Chart = e.charts.View()
		st := e.charts.Status()
		if st.Ticker == selected {
			sc.Info = dashboard.RenderInfo(e.styles, st.Quote, st.Details, width)
		}
	}
	return sc
}
