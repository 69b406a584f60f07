// Package components provides shared, reusable interface elements for the
// mokactl TUI. This file implements status indicators, parameter sliders and
// progress bars.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/transport"
)

// statusStyles maps status strings to their corresponding visual style.
var statusStyles = map[string]lipgloss.Style{
	"pending":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"success":  lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"error":    lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	"warning":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	"info":     lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	"running":  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"complete": lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"muted":    lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
}

// statusIcons maps status strings to their corresponding icon.
var statusIcons = map[string]string{
	"pending":  "⏳",
	"success":  "✅",
	"error":    "❌",
	"warning":  "⚠️",
	"info":     "ℹ️",
	"running":  "🏃",
	"complete": "🏁",
	"muted":    "·",
}

// ApplyTheme recolours the status styles from a profile theme. Empty colours
// keep the defaults.
func ApplyTheme(theme *interfaces.Theme) {
	if theme == nil {
		return
	}
	for status, color := range map[string]string{
		"success":  theme.Success,
		"complete": theme.Success,
		"error":    theme.Error,
		"warning":  theme.Warning,
		"info":     theme.Info,
	} {
		if color != "" {
			statusStyles[status] = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		}
	}
}

// RenderStatus formats a status message with an appropriate icon and color.
func RenderStatus(status, message string) string {
	style, exists := statusStyles[status]
	if !exists {
		style = lipgloss.NewStyle()
	}

	icon, exists := statusIcons[status]
	if !exists {
		icon = "🔹"
	}

	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

// Styled renders text in a status colour without an icon.
func Styled(status, text string) string {
	style, exists := statusStyles[status]
	if !exists {
		return text
	}
	return style.Render(text)
}

// ConnectionStatus maps a transport state to a status key and label.
func ConnectionStatus(change transport.StateChange) (status, label string) {
	switch change.State {
	case transport.StateReady:
		return "success", "Connected"
	case transport.StateConnecting:
		if change.Attempt > 1 {
			return "running", fmt.Sprintf("Connecting (attempt %d)", change.Attempt)
		}
		return "running", "Connecting"
	case transport.StateWaiting:
		return "warning", "Waiting to retry"
	case transport.StateFailed:
		return "error", "Connection failed"
	case transport.StateClosed:
		return "muted", "Disconnected"
	default:
		return "pending", "Idle"
	}
}

// RenderConnection renders a transport state, with the failure reason
// truncated to width when present.
func RenderConnection(change transport.StateChange, width int) string {
	status, label := ConnectionStatus(change)
	if change.Err != nil && (change.State == transport.StateWaiting || change.State == transport.StateFailed) {
		label += ": " + change.Err.Error()
	}
	if width > 0 {
		label = truncate.StringWithTail(label, uint(width), "…")
	}
	return RenderStatus(status, label)
}

// RenderProgressBar creates a visual textual progress bar.
// - progress: The percentage of completion (0-100).
// - width: The total width of the bar in characters.
func RenderProgressBar(progress int, width int, fillChar, emptyChar string) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	filledWidth := (progress * width) / 100
	emptyWidth := width - filledWidth

	filled := strings.Repeat(fillChar, filledWidth)
	empty := strings.Repeat(emptyChar, emptyWidth)

	return fmt.Sprintf("[%s%s]", filled, empty)
}

// RenderSlider draws one parameter as a labelled bar within its range.
func RenderSlider(label string, value float64, r domain.Range, unit string, width int, focused bool) string {
	percent := 0
	if r.Max > r.Min {
		percent = int((r.Clamp(value) - r.Min) / (r.Max - r.Min) * 100)
	}

	fill, empty := "━", "─"
	if focused {
		fill = "█"
	}
	line := fmt.Sprintf("%-22s %s %8s%s", label, RenderProgressBar(percent, width, fill, empty), domain.FormatValue(value), unit)
	if focused {
		return Styled("info", "▸ "+line)
	}
	return "  " + line
}
