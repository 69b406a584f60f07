// Package app implements visual presentation for the dashboard.
// This file renders the header with connection status, the controls,
// parameter, event and upload sections, the error and recovery panes, and the
// status line with request statistics.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/ui/components"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#6C7086")).
			Padding(0, 1)

	sectionFocusedStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(lipgloss.Color("#89B4FA")).
				Padding(0, 1)

	sectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#CDD6F4"))

	selectedVoiceStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#181825")).
				Background(lipgloss.Color("#A6E3A1")).
				Padding(0, 1)

	voiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Italic(true)

	powerOnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#A6E3A1"))

	powerOffStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F38BA8"))
)

// View implements tea.Model.
func (m *DashboardModel) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	sections := []string{
		m.renderHeader(width),
		m.section(SectionControls, "Controls", m.renderControls(), width),
		m.section(SectionParameters, m.parametersTitle(), m.renderParameters(width), width),
		m.section(SectionEvents, "Recent events", m.eventTable.View(), width),
		m.section(SectionUpload, "Upload recording", m.renderUpload(), width),
	}

	if current := m.recovery.Current(); current != nil {
		sections = append(sections, components.RenderErrorPane(current, m.recovery.Pending(), width))
		sections = append(sections, m.actionsPane.View())
	}

	sections = append(sections, m.renderStatusLine(), m.renderFooter(width))
	return strings.Join(sections, "\n")
}

func (m *DashboardModel) renderHeader(width int) string {
	title := fmt.Sprintf("Moka · %s (%s)", m.profile.Name, m.profile.Address())
	conn := components.RenderConnection(m.connection, width/2)
	gap := width - lipgloss.Width(title) - lipgloss.Width(conn) - 4
	if gap < 1 {
		gap = 1
	}
	return headerStyle.Render(title) + strings.Repeat(" ", gap) + conn
}

func (m *DashboardModel) section(s Section, title, body string, width int) string {
	style := sectionStyle
	if m.focus == s && !m.recovery.IsActive() {
		style = sectionFocusedStyle
	}
	return style.Width(width - 2).Render(sectionTitleStyle.Render(title) + "\n" + body)
}

func (m *DashboardModel) renderControls() string {
	power := powerOffStyle.Render("OFF")
	if m.appState.On {
		power = powerOnStyle.Render("ON")
	}
	if !m.haveAppState {
		power = hintStyle.Render("unknown")
	}

	var builder strings.Builder
	builder.WriteString("Power: " + power + "\n")
	builder.WriteString("Voice: " + renderVoices(m.voice) + "\n")

	hint := "[p] power  [t] trigger  [←/→] voice  [r] refresh"
	if !m.appState.On {
		hint = "[p] power  [←/→] voice  [r] refresh  (trigger needs the appliance on)"
	}
	builder.WriteString(hintStyle.Render(hint))
	return builder.String()
}

func renderVoices(selected domain.Voice) string {
	parts := make([]string, len(domain.Voices))
	for i, v := range domain.Voices {
		if v == selected {
			parts[i] = selectedVoiceStyle.Render(v.String())
		} else {
			parts[i] = voiceStyle.Render(v.String())
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *DashboardModel) parametersTitle() string {
	if m.Dirty() {
		return "Parameters " + components.Styled("warning", "• unsaved")
	}
	return "Parameters"
}

func (m *DashboardModel) renderParameters(width int) string {
	barWidth := width - 50
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 40 {
		barWidth = 40
	}

	lines := make([]string, 0, len(paramSpecs)+1)
	for i, spec := range paramSpecs {
		value, _ := m.params.Get(spec.name)
		focused := m.focus == SectionParameters && i == m.selectedParam
		lines = append(lines, components.RenderSlider(spec.label, value, m.bounds[spec.name], spec.unit, barWidth, focused))
	}
	lines = append(lines, hintStyle.Render("[↑/↓] select  [←/→] adjust  [s] send  [u] undo  [d] defaults"))
	return strings.Join(lines, "\n")
}

func (m *DashboardModel) renderUpload() string {
	keep := "delete after upload"
	if m.keepRecording {
		keep = "keep local file"
	}

	var builder strings.Builder
	builder.WriteString(m.uploadInput.View() + "\n")
	builder.WriteString(fmt.Sprintf("As %s, %s\n", m.voice, keep))
	hint := "[enter] upload  [ctrl+k] keep/delete  [ctrl+←/→] voice"
	if !m.appState.On {
		hint += "  (upload needs the appliance on)"
	}
	builder.WriteString(hintStyle.Render(hint))
	return builder.String()
}

func (m *DashboardModel) renderStatusLine() string {
	if m.busy {
		return m.spinner.View() + " " + m.busyLabel
	}
	if m.statusMessage == "" {
		return ""
	}
	return components.RenderStatus(m.statusKind, m.statusMessage)
}

func (m *DashboardModel) renderFooter(width int) string {
	stats := m.client.Statistics()
	parts := []string{
		fmt.Sprintf("requests %d", stats.TotalRequests),
		fmt.Sprintf("ok %d", stats.SuccessfulRequests),
		fmt.Sprintf("failed %d", stats.FailedRequests+stats.TimedOutRequests),
	}
	if stats.AverageResponseTime > 0 {
		parts = append(parts, fmt.Sprintf("avg %s", stats.AverageResponseTime.Round(time.Millisecond)))
	}
	if !m.lastRefresh.IsZero() {
		parts = append(parts, "refreshed "+m.lastRefresh.Format("15:04:05"))
	}
	footer := strings.Join(parts, " · ") + "   [tab] section  [esc] profiles  [ctrl+c] quit"
	return hintStyle.Width(width).Render(footer)
}
