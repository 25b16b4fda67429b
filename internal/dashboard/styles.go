package dashboard

import (
	"github.com/charmbracelet/lipgloss"

	"danso/internal/domain"
)

// Styles holds the lipgloss styles used by the renderer. Building them from
// an explicit renderer lets tests pin the color profile.
type Styles struct {
	Title      lipgloss.Style
	Dim        lipgloss.Style
	Ticker     lipgloss.Style
	Price      lipgloss.Style
	Label      lipgloss.Style
	Selected   lipgloss.Style
	Watching   lipgloss.Style
	Aiming     lipgloss.Style
	Fired      lipgloss.Style
	GaugeFill  lipgloss.Style
	GaugeEmpty lipgloss.Style
	Up         lipgloss.Style
	Down       lipgloss.Style
}

// NewStyles builds the style set on r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6")),
		Dim:        r.NewStyle().Foreground(lipgloss.Color("245")),
		Ticker:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Price:      r.NewStyle().Foreground(lipgloss.Color("15")),
		Label:      r.NewStyle().Foreground(lipgloss.Color("245")),
		Selected:   r.NewStyle().Bold(true).Background(lipgloss.Color("236")),
		Watching:   r.NewStyle().Foreground(lipgloss.Color("245")),
		Aiming:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		Fired:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		GaugeFill:  r.NewStyle().Foreground(lipgloss.Color("10")),
		GaugeEmpty: r.NewStyle().Foreground(lipgloss.Color("238")),
		Up:         r.NewStyle().Foreground(lipgloss.Color("10")),
		Down:       r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// DefaultStyles builds the style set on the default (stdout) renderer.
func DefaultStyles() Styles {
	return NewStyles(lipgloss.DefaultRenderer())
}

// StatusStyle returns the row style for a target status.
func (s Styles) StatusStyle(st domain.Status) lipgloss.Style {
	switch st {
	case domain.StatusFired:
		return s.Fired
	case domain.StatusAiming:
		return s.Aiming
	default:
		return s.Watching
	}
}
