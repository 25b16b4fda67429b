package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"danso/internal/config"
	"danso/internal/dashboard"
	"danso/internal/engine"
	"danso/internal/notify"
	"danso/internal/util"
)

var (
	headerBarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	promptBarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type keyMap struct {
	Up, Down, Chart, Deselect, Notify, Threshold, Quit key.Binding
}

var keys = keyMap{
	Up:        key.NewBinding(key.WithKeys("up", "k")),
	Down:      key.NewBinding(key.WithKeys("down", "j")),
	Chart:     key.NewBinding(key.WithKeys("c")),
	Deselect:  key.NewBinding(key.WithKeys("esc")),
	Notify:    key.NewBinding(key.WithKeys("n")),
	Threshold: key.NewBinding(key.WithKeys("t")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// Messages.
type tickMsg time.Time
type changedMsg struct{}
type statusMsg string

// promptMsg asks the user to allow notifications. The answer goes to reply;
// a nil answer means the prompt was dismissed.
type promptMsg struct {
	reply chan *bool
}

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitChanged(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		<-eng.Changed()
		return changedMsg{}
	}
}

type inputMode int

const (
	modeBrowse inputMode = iota
	modePrompt
	modeThreshold
)

type model struct {
	eng    *engine.Engine
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	viewport      viewport.Model
	ready         bool
	width, height int

	mode      inputMode
	prompt    chan *bool
	threshold textinput.Model
}

func initialModel(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, logger *slog.Logger) model {
	ti := textinput.New()
	ti.Placeholder = "0-100"
	ti.CharLimit = 3
	ti.Width = 5
	return model{eng: eng, ctx: ctx, cancel: cancel, logger: logger, threshold: ti}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitChanged(m.eng))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.mode {
		case modePrompt:
			return m.updatePrompt(msg)
		case modeThreshold:
			return m.updateThreshold(msg)
		}
		switch {
		case key.Matches(msg, keys.Quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			m.eng.Move(-1)
		case key.Matches(msg, keys.Down):
			m.eng.Move(1)
		case key.Matches(msg, keys.Chart):
			m.eng.ToggleChart()
		case key.Matches(msg, keys.Deselect):
			m.eng.Deselect()
		case key.Matches(msg, keys.Notify):
			eng, ctx := m.eng, m.ctx
			return m, func() tea.Msg { return statusMsg(eng.EnableNotifications(ctx)) }
		case key.Matches(msg, keys.Threshold):
			m.mode = modeThreshold
			m.threshold.SetValue("")
			return m, m.threshold.Focus()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		m.refresh()
		return m, nil

	case promptMsg:
		m.mode = modePrompt
		m.prompt = msg.reply
		return m, nil

	case statusMsg:
		m.logger.Info("user message", "text", string(msg))
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitChanged(m.eng)

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(1, m.height-2)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.eng.Resize(m.width)
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var answer *bool
	switch strings.ToLower(msg.String()) {
	case "y":
		answer = ptr(true)
	case "n":
		answer = ptr(false)
	case "esc", "ctrl+c":
	default:
		return m, nil
	}
	m.prompt <- answer
	m.prompt = nil
	m.mode = modeBrowse
	return m, nil
}

func (m model) updateThreshold(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.threshold.Blur()
		return m, nil
	case "enter":
		m.mode = modeBrowse
		m.threshold.Blur()
		eng, ctx := m.eng, m.ctx
		n, err := strconv.Atoi(strings.TrimSpace(m.threshold.Value()))
		if err != nil {
			return m, func() tea.Msg { return statusMsg(notify.Explain(notify.ErrInvalidThreshold)) }
		}
		return m, func() tea.Msg { return statusMsg(eng.SaveThreshold(ctx, n)) }
	}
	var cmd tea.Cmd
	m.threshold, cmd = m.threshold.Update(msg)
	return m, cmd
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.eng.Render(m.width).String())
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	stats := m.eng.Stats()
	last := "never"
	if !stats.LastSuccess.IsZero() {
		last = stats.LastSuccess.Format(time.TimeOnly)
	}
	headerText := fmt.Sprintf(" danso    updated: %s    polls: %s  skipped: %s  failed: %s    alerts: %s ",
		last,
		dashboard.FormatInt(int(stats.Applied)),
		dashboard.FormatInt(int(stats.Skipped)),
		dashboard.FormatInt(int(stats.Failed)),
		strings.ToLower(m.eng.NotificationState().String()),
	)
	header := headerBarStyle.Render(padOrTrunc(headerText, m.width))

	var footer string
	switch m.mode {
	case modePrompt:
		footer = promptBarStyle.Render(padOrTrunc(" Allow notifications from danso? [y]es / [n]o / esc ", m.width))
	case modeThreshold:
		footer = promptBarStyle.Render(padOrTrunc(" Alert threshold: "+m.threshold.View()+"  enter save  esc cancel ", m.width))
	default:
		footerLeft := " q quit  up/dn select  esc clear  c chart  n notifications  t threshold  pgup/dn scroll"
		footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
		gap := max(1, m.width-len(footerLeft)-len(footerRight))
		footer = footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))
	}

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// padOrTrunc fits s, which may carry escape sequences, into width cells.
func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	w := ansi.StringWidth(s)
	if w > width {
		return ansi.Truncate(s, width, "…")
	}
	return s + strings.Repeat(" ", width-w)
}

func ptr(b bool) *bool { return &b }

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logFile := util.NewRotatingFile(cfg.Logging.File, 50, 3)
	defer logFile.Close()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logFile)
	util.SetDefault(logger)

	var p *tea.Program
	ask := func(ctx context.Context) (bool, error) {
		reply := make(chan *bool, 1)
		p.Send(promptMsg{reply: reply})
		select {
		case answer := <-reply:
			if answer == nil {
				return false, context.Canceled
			}
			return *answer, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	eng, err := engine.New(cfg, ask, dashboard.DefaultStyles(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	p = tea.NewProgram(
		initialModel(ctx, cancel, eng, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	logger.Info("client started", "server", cfg.Server.BaseURL, "push", cfg.Push.Transport)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cancel()
	if err := <-runErr; err != nil {
		logger.Error("engine stopped", "error", err)
	}
}
