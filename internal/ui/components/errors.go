package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/moka-remote/mokactl/internal/errors"
)

// Styling for error components.
var (
	errorPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder(), false, true, true, true).
			BorderForeground(lipgloss.Color("#F38BA8")).
			MarginTop(1).
			Padding(0, 1)

	errorHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#F38BA8"))

	errorCodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387")).
			Italic(true)

	errorDetailsStyle = lipgloss.NewStyle().
				MarginTop(1).
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(lipgloss.Color("#6C7086")).
				Foreground(lipgloss.Color("#CDD6F4"))

	recoveryTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#A6E3A1")).
				MarginTop(1)
)

// RenderErrorPane renders the message, code and details of an error, plus a
// title for the recovery actions shown in the actions pane. pending counts
// the errors queued behind this one.
func RenderErrorPane(currentError *errors.ProcessedError, pending int, width int) string {
	if currentError == nil {
		return ""
	}
	if width < 20 {
		width = 20
	}
	inner := width - 6

	var builder strings.Builder

	header := fmt.Sprintf("❌ Error: %s", currentError.Message)
	builder.WriteString(errorHeaderStyle.Render(wordwrap.String(header, inner)))
	builder.WriteRune('\n')

	if currentError.Code != "" {
		code := fmt.Sprintf("   Code: %s", currentError.Code)
		if pending > 1 {
			code += fmt.Sprintf("  (%d more queued)", pending-1)
		}
		builder.WriteString(errorCodeStyle.Render(code))
		builder.WriteRune('\n')
	}

	if currentError.Details != "" {
		builder.WriteString(errorDetailsStyle.Render(wordwrap.String(currentError.Details, inner)))
		builder.WriteRune('\n')
	}

	if len(currentError.RecoveryActions) > 0 {
		builder.WriteString(recoveryTitleStyle.Render("Recovery Actions:"))
	}

	return errorPaneStyle.Width(width - 4).Render(builder.String())
}
