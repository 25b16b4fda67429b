// Package dashboard renders the ticker list, metrics panel and signal feed
// from a store snapshot. Rendering is a pure function of its Input.
package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"danso/internal/domain"
)

const (
	waitingScanner  = "Waiting for scanner…"
	waitingActivity = "Waiting for market activity…"
	noSelection     = "Select a ticker to view its metrics."
	gaugeWidth      = 20
	maxFeedEntries  = 50
)

// Input is everything the renderer reads.
type Input struct {
	Snapshot domain.Snapshot
	Selected string
	Width    int
	Styles   Styles
}

// View holds the rendered regions. Each region is rebuilt from scratch on
// every call.
type View struct {
	List  string
	Panel string
	Feed  string
}

// String joins the regions in display order.
func (v View) String() string {
	return v.List + "\n\n" + v.Panel + "\n\n" + v.Feed
}

// Render builds the three view regions for in.
func Render(in Input) View {
	return View{
		List:  renderList(in),
		Panel: renderPanel(in),
		Feed:  renderFeed(in),
	}
}

// Rank orders targets by score descending, ticker ascending on ties. The
// input slice is not modified.
func Rank(targets []domain.TargetSnapshot) []domain.TargetSnapshot {
	out := make([]domain.TargetSnapshot, len(targets))
	copy(out, targets)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := roundScore(out[i].Score), roundScore(out[j].Score)
		if si != sj {
			return si > sj
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// RowText is the plain text of one list row.
func RowText(t domain.TargetSnapshot) string {
	return fmt.Sprintf("%s %s, Score %s, %s", t.Ticker, FormatPrice(t.Price), FormatScore(t.Score), t.Status)
}

func renderList(in Input) string {
	st := in.Styles
	var b strings.Builder

	header := fmt.Sprintf(" TARGETS (%d) ", len(in.Snapshot.Targets))
	if meta := metaText(in.Snapshot.Meta); meta != "" {
		header += " " + meta + " "
	}
	b.WriteString(st.Title.Render(truncate(header, in.Width)))

	ranked := Rank(in.Snapshot.Targets)
	if len(ranked) == 0 {
		b.WriteString("\n")
		b.WriteString(st.Dim.Render("  " + waitingScanner))
		return b.String()
	}

	for _, t := range ranked {
		b.WriteString("\n")
		selected := t.Ticker == in.Selected
		marker := "  "
		if selected {
			marker = "> "
		}
		line := truncate(marker+RowText(t), in.Width)
		style := st.StatusStyle(t.Status)
		if selected {
			style = style.Inherit(st.Selected)
		}
		b.WriteString(style.Render(line))
	}
	return b.String()
}

func metaText(m domain.Meta) string {
	var parts []string
	if m.LastScan != "" {
		parts = append(parts, "last scan "+m.LastScan)
	}
	if m.HasWatching {
		parts = append(parts, FormatInt(m.WatchingCount)+" watching")
	}
	return strings.Join(parts, ", ")
}

func renderPanel(in Input) string {
	st := in.Styles
	var b strings.Builder
	b.WriteString(st.Title.Render(truncate(" METRICS ", in.Width)))
	b.WriteString("\n")

	if in.Selected == "" {
		b.WriteString(st.Dim.Render("  " + noSelection))
		return b.String()
	}
	var (
		t     domain.TargetSnapshot
		found bool
	)
	for _, c := range in.Snapshot.Targets {
		if c.Ticker == in.Selected {
			t, found = c, true
			break
		}
	}
	if !found {
		b.WriteString(st.Dim.Render(truncate("  "+in.Selected+" is no longer reported by the scanner.", in.Width)))
		return b.String()
	}

	b.WriteString("  ")
	b.WriteString(st.Ticker.Render(t.Ticker))
	b.WriteString("  ")
	b.WriteString(st.Price.Render(FormatPrice(t.Price)))
	b.WriteString("  ")
	b.WriteString(st.StatusStyle(t.Status).Render(string(t.Status)))
	b.WriteString("\n")

	b.WriteString("  ")
	b.WriteString(st.Label.Render(padOrTrunc("Score", 12)))
	b.WriteString(padOrTrunc(FormatScore(t.Score), 5))
	b.WriteString(gauge(st, t.Score))

	rows := []struct {
		label, value string
	}{
		{"OBI", FormatDecimal(t.OBI, 2)},
		{"VPIN", FormatDecimal(t.VPIN, 2)},
		{"Tick speed", FormatCount(t.TickSpeed)},
		{"VWAP dist", FormatPercent(t.VWAPDistance)},
		{"Spread", FormatPercent(t.Spread)},
		{"OBI mom", FormatDecimal(t.OBIMomentum, 2)},
		{"Tick accel", FormatDecimal(t.TickAccel, 1)},
	}
	for _, r := range rows {
		b.WriteString("\n  ")
		b.WriteString(st.Label.Render(padOrTrunc(r.label, 12)))
		if r.value == Unavailable {
			b.WriteString(st.Dim.Render(r.value))
		} else {
			b.WriteString(r.value)
		}
	}
	return b.String()
}

// gauge draws the score as a bar of gaugeWidth cells, using the same rounded
// value FormatScore prints.
func gauge(st Styles, score float64) string {
	filled := roundScore(score) * gaugeWidth / 100
	return "[" + st.GaugeFill.Render(strings.Repeat("█", filled)) +
		st.GaugeEmpty.Render(strings.Repeat("░", gaugeWidth-filled)) + "]"
}

// FeedText is the plain text of one signal feed line.
func FeedText(e domain.SignalLogEntry) string {
	s := fmt.Sprintf("[%s] %s %s @ %s", e.Time.Format("15:04:05"), e.Action, e.Ticker, FormatPrice(e.Price))
	if e.HasScore {
		s += " (Score " + FormatScore(e.Score) + ")"
	}
	return s
}

func renderFeed(in Input) string {
	st := in.Styles
	var b strings.Builder
	b.WriteString(st.Title.Render(truncate(" SIGNALS ", in.Width)))

	logs := in.Snapshot.Logs
	if len(logs) == 0 {
		b.WriteString("\n")
		b.WriteString(st.Dim.Render("  " + waitingActivity))
		return b.String()
	}
	if len(logs) > maxFeedEntries {
		logs = logs[:maxFeedEntries]
	}
	for _, e := range logs {
		b.WriteString("\n")
		style := st.Watching
		if s, ok := domain.ParseStatus(e.Action); ok {
			style = st.StatusStyle(s)
		}
		b.WriteString(style.Render(truncate("  "+FeedText(e), in.Width)))
	}
	return b.String()
}
