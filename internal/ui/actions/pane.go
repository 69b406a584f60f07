// Package actions implements the numbered actions pane shown under an error.
// Actions can be run with their number key or by moving the focus and
// pressing enter.
package actions

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/moka-remote/mokactl/internal/errors"
)

var (
	actionsPaneStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("#FAB387")).
				Padding(0, 1)

	actionsPaneTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAB387"))

	// Keyed by action type; the "_f" variants are the focused item.
	actionStyles = map[string]lipgloss.Style{
		"primary":       lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")).Padding(0, 1),
		"primary_f":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#89B4FA")).Padding(0, 1),
		"cancel":        lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")).Padding(0, 1),
		"cancel_f":      lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#F38BA8")).Padding(0, 1),
		"info":          lipgloss.NewStyle().Foreground(lipgloss.Color("#94E2D5")).Padding(0, 1),
		"info_f":        lipgloss.NewStyle().Foreground(lipgloss.Color("#181825")).Background(lipgloss.Color("#94E2D5")).Padding(0, 1),
		"alternative":   lipgloss.NewStyle().Foreground(lipgloss.Color("#CBA6F7")).Padding(0, 1),
		"alternative_f": lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#CBA6F7")).Padding(0, 1),
	}
)

// Pane holds the actions on offer and the focused one.
type Pane struct {
	actions       []errors.Action
	selectedIndex int
	width         int
}

// NewPane creates an empty, hidden pane.
func NewPane() *Pane {
	return &Pane{selectedIndex: -1}
}

// SetActions replaces the actions and focuses the first one.
func (p *Pane) SetActions(actions []errors.Action) {
	p.actions = actions
	p.selectedIndex = -1
	if len(actions) > 0 {
		p.selectedIndex = 0
	}
}

// Reset hides the pane.
func (p *Pane) Reset() {
	p.actions = nil
	p.selectedIndex = -1
}

// IsVisible returns true if the pane has actions to show.
func (p *Pane) IsVisible() bool {
	return len(p.actions) > 0
}

// Next moves the selection to the next action, wrapping around.
func (p *Pane) Next() {
	if !p.IsVisible() {
		return
	}
	p.selectedIndex = (p.selectedIndex + 1) % len(p.actions)
}

// Previous moves the selection to the previous action, wrapping around.
func (p *Pane) Previous() {
	if !p.IsVisible() {
		return
	}
	p.selectedIndex--
	if p.selectedIndex < 0 {
		p.selectedIndex = len(p.actions) - 1
	}
}

// Selected returns the focused action.
func (p *Pane) Selected() (errors.Action, bool) {
	if p.selectedIndex < 0 || p.selectedIndex >= len(p.actions) {
		return errors.Action{}, false
	}
	return p.actions[p.selectedIndex], true
}

// ByNumber returns the action shown as [n].
func (p *Pane) ByNumber(n int) (errors.Action, bool) {
	if n < 1 || n > len(p.actions) {
		return errors.Action{}, false
	}
	return p.actions[n-1], true
}

// SetWidth sets the rendering width of the pane.
func (p *Pane) SetWidth(width int) {
	p.width = width
}

// View renders the pane, or nothing when it is hidden.
func (p *Pane) View() string {
	if !p.IsVisible() {
		return ""
	}

	lines := make([]string, 0, len(p.actions))
	for i, action := range p.actions {
		lines = append(lines, renderActionItem(i, action, i == p.selectedIndex))
	}

	titled := lipgloss.JoinVertical(lipgloss.Left,
		actionsPaneTitleStyle.Render(p.title()),
		strings.Join(lines, "\n"),
	)

	style := actionsPaneStyle
	if p.width > 4 {
		style = style.Width(p.width - 2)
	}
	return style.Render(titled)
}

func (p *Pane) title() string {
	for _, action := range p.actions {
		if action.Type == "cancel" || action.Type == "alternative" {
			return "Error Recovery Options"
		}
	}
	return "Available Actions"
}

func renderActionItem(index int, action errors.Action, focused bool) string {
	text := fmt.Sprintf("%-4s %s %s", fmt.Sprintf("[%d]", index+1), actionIcon(action), action.Name)

	key := action.Type
	if _, ok := actionStyles[key]; !ok {
		key = "primary"
	}
	if focused {
		key += "_f"
	}
	return actionStyles[key].Render(text)
}

func actionIcon(action errors.Action) string {
	if action.Icon != "" {
		return action.Icon
	}
	switch action.Type {
	case "cancel":
		return "❌"
	case "info":
		return "📋"
	case "alternative":
		return "🔄"
	default:
		return "▶️"
	}
}
