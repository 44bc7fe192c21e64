// Package theme holds the terminal styles used for run output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsum/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the run banner.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle marks field names such as "From:".
var LabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// SubtleStyle is used for separators and secondary detail.
var SubtleStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// SummaryStyle wraps the summary text of one message.
var SummaryStyle = lipgloss.NewStyle().
	PaddingLeft(2).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBorder)

// ErrorStyle highlights failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// StatusStyle returns a color-coded style for an outcome status.
func StatusStyle(status model.OutcomeStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case model.StatusSummarized:
		return base.Foreground(ColorGreen)
	case model.StatusSkipped:
		return base.Foreground(ColorYellow)
	case model.StatusFailed:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
