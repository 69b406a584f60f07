// Package menu implements the visual presentation of the profile picker:
// the profile list with reachability, the quick connect box and the help
// line.
package menu

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#CBA6F7")).
			Padding(1, 2)

	focusedBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#89B4FA")).
			Padding(1, 2)

	listItemStyle    = lipgloss.NewStyle().PaddingLeft(1)
	focusedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(lipgloss.Color("#1e1e2e")).
				Background(lipgloss.Color("#FAB387"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Padding(1, 0)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)
)

// View renders the UI for the menu model.
func (m *MenuModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Width(m.width).Render("mokactl · Moka remote control"))
	s.WriteString("\n\n")

	if m.isConnecting {
		s.WriteString(boxStyle.Render(components.RenderStatus("running", m.statusMessage)))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(m.viewProfileList())
	s.WriteString("\n\n")
	s.WriteString(m.viewQuickConnect())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("[Enter] Connect | [1-9] Pick | [Tab] Quick connect | [R]eload | [Q]uit"))

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	}

	return s.String()
}

func renderHealth(health interfaces.ProfileHealth, ok bool) string {
	if !ok {
		return components.RenderStatus("pending", "Checking...")
	}
	switch health.Status {
	case interfaces.HealthReady:
		return components.RenderStatus("success", fmt.Sprintf("Ready (%s)", health.ResponseTime.Round(time.Millisecond)))
	case interfaces.HealthOffline:
		label := "Offline"
		if health.Error != "" {
			label += ": " + health.Error
		}
		return components.RenderStatus("error", label)
	case interfaces.HealthChecking:
		return components.RenderStatus("running", "Checking...")
	default:
		return components.RenderStatus("pending", "Unknown")
	}
}

func (m *MenuModel) viewProfileList() string {
	var items []string

	if len(m.profiles) == 0 {
		items = append(items, helpStyle.Render("No profiles found in "+m.configManager.GetConfigPath()))
	}
	for i, profile := range m.profiles {
		health, ok := m.health[profile.Name]
		item := fmt.Sprintf("[%d] %-12s %-22s %s", i+1, profile.Name, profile.Address(), renderHealth(health, ok))

		if m.focusState == FocusList && i == m.selectedIndex {
			items = append(items, focusedItemStyle.Render(item))
		} else {
			items = append(items, listItemStyle.Render(item))
		}
	}

	style := boxStyle
	if m.focusState == FocusList {
		style = focusedBoxStyle
	}
	title := lipgloss.NewStyle().Bold(true).Render("Profiles")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)))
}

func (m *MenuModel) viewQuickConnect() string {
	style := boxStyle
	if m.focusState == FocusInput {
		style = focusedBoxStyle
	}
	title := lipgloss.NewStyle().Bold(true).Render("Quick Connect")
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, "Address: "+m.quickConnectInput.View()))
}
