package chart

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"danso/internal/domain"
)

// ErrReleased is returned when a surface is used or released twice.
var ErrReleased = errors.New("surface already released")

const axisWidth = 10

// TextSurface draws candles as terminal columns: one column per candle, a
// heavy bar for the body and a light bar for the wick, with a price axis on
// the right.
type TextSurface struct {
	ticker   string
	width    int
	height   int
	candles  []domain.Candle
	up       lipgloss.Style
	down     lipgloss.Style
	dim      lipgloss.Style
	released bool
}

// NewTextSurface creates a surface for ticker using the given up/down styles.
func NewTextSurface(ticker string, width, height int, up, down, dim lipgloss.Style) *TextSurface {
	s := &TextSurface{ticker: ticker, up: up, down: down, dim: dim}
	s.Resize(width, height)
	return s
}

// TextSurfaceFactory returns a SurfaceFactory producing TextSurfaces.
func TextSurfaceFactory(up, down, dim lipgloss.Style) SurfaceFactory {
	return func(ticker string, width, height int) Surface {
		return NewTextSurface(ticker, width, height, up, down, dim)
	}
}

// SetData replaces the candle series.
func (s *TextSurface) SetData(candles []domain.Candle) {
	s.candles = append(s.candles[:0], candles...)
}

// Resize changes the drawing area. Sizes below the minimum are clamped.
func (s *TextSurface) Resize(width, height int) {
	s.width = max(width, axisWidth+5)
	s.height = max(height, 4)
}

// Size returns the current drawing area.
func (s *TextSurface) Size() (width, height int) { return s.width, s.height }

// Release frees the series. A second call returns ErrReleased.
func (s *TextSurface) Release() error {
	if s.released {
		return ErrReleased
	}
	s.released = true
	s.candles = nil
	return nil
}

// View renders a header line and height-1 rows of candles.
func (s *TextSurface) View() string {
	if s.released {
		return ""
	}
	var b strings.Builder
	cols := s.width - axisWidth
	rows := s.height - 1

	visible := s.candles
	if len(visible) > cols {
		visible = visible[len(visible)-cols:]
	}
	if len(visible) == 0 {
		return fmt.Sprintf("%s 1m", s.ticker)
	}

	last := visible[len(visible)-1]
	b.WriteString(s.dim.Render(fmt.Sprintf("%s 1m  O %.2f  H %.2f  L %.2f  C %.2f",
		s.ticker, last.Open, last.High, last.Low, last.Close)))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range visible {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	row := func(p float64) int {
		if hi == lo {
			return rows / 2
		}
		return int(math.Round((hi - p) / (hi - lo) * float64(rows-1)))
	}

	for r := 0; r < rows; r++ {
		b.WriteString("\n")
		for _, c := range visible {
			wickTop, wickBottom := row(c.High), row(c.Low)
			bodyTop, bodyBottom := row(math.Max(c.Open, c.Close)), row(math.Min(c.Open, c.Close))
			style := s.down
			if c.Up() {
				style = s.up
			}
			switch {
			case r >= bodyTop && r <= bodyBottom:
				b.WriteString(style.Render("┃"))
			case r >= wickTop && r <= wickBottom:
				b.WriteString(style.Render("│"))
			default:
				b.WriteString(" ")
			}
		}
		b.WriteString(strings.Repeat(" ", cols-len(visible)))
		b.WriteString(s.dim.Render(axisLabel(r, rows, lo, hi)))
	}
	return b.String()
}

// axisLabel prints the price at the top, middle and bottom rows.
func axisLabel(r, rows int, lo, hi float64) string {
	var p float64
	switch r {
	case 0:
		p = hi
	case rows - 1:
		p = lo
	case (rows - 1) / 2:
		p = (hi + lo) / 2
	default:
		return ""
	}
	return fmt.Sprintf(" %*.2f", axisWidth-1, p)
}
