// Package menu implements user input processing for the profile picker.
// Profiles are chosen with the arrow keys or their number, and tab switches
// to the quick connect input.
package menu

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model state.
func (m *MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.isConnecting {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		}
		m.err = nil

		switch m.focusState {
		case FocusList:
			return m, m.handleListKeys(msg)
		case FocusInput:
			if cmd, handled := m.handleInputKeys(msg); handled {
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case profilesReloadedMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.profiles = msg.profiles
		if m.selectedIndex >= len(m.profiles) {
			m.selectedIndex = 0
		}
		cmds = append(cmds, m.updateHealth())

	case healthStatusUpdatedMsg:
		for _, health := range msg.health {
			m.health[health.Name] = health
		}

	case tickMsg:
		cmds = append(cmds, m.updateHealth(), tick())

	// Only reached when the menu runs without the controller.
	case ConnectionResultMsg:
		m.isConnecting = false
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		return msg.Model, msg.Model.Init()
	}

	if m.focusState == FocusInput {
		m.quickConnectInput, cmd = m.quickConnectInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// ConnectionFailed shows err and re-enables the menu.
func (m *MenuModel) ConnectionFailed(err error) {
	m.isConnecting = false
	m.err = err
}

func (m *MenuModel) connectSelected() tea.Cmd {
	if len(m.profiles) == 0 || m.selectedIndex >= len(m.profiles) {
		return nil
	}
	profile := m.profiles[m.selectedIndex]
	m.isConnecting = true
	m.statusMessage = "Opening " + profile.Name + " (" + profile.Address() + ")..."
	m.logger.LogUIStateChange("menu", "dashboard", "profile "+profile.Name)
	return m.attemptConnection(profile.Name)
}

// handleListKeys processes key presses when the profile list is focused.
func (m *MenuModel) handleListKeys(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "ctrl+c", "q":
		return tea.Quit

	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case "down", "j":
		if m.selectedIndex < len(m.profiles)-1 {
			m.selectedIndex++
		}

	case "enter":
		return m.connectSelected()

	case "r":
		return m.reloadProfiles()

	case "tab":
		m.focusState = FocusInput
		return m.quickConnectInput.Focus()

	default:
		if i, err := strconv.Atoi(key); err == nil && i >= 1 && i <= len(m.profiles) {
			m.selectedIndex = i - 1
			return m.connectSelected()
		}
	}
	return nil
}

// handleInputKeys processes key presses when the quick connect input is
// focused. Keys it does not handle go to the input.
func (m *MenuModel) handleInputKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "enter":
		address := strings.TrimSpace(m.quickConnectInput.Value())
		if address == "" {
			return nil, true
		}
		m.isConnecting = true
		m.statusMessage = "Opening " + address + "..."
		m.logger.LogUIStateChange("menu", "dashboard", "quick connect "+address)
		return m.quickConnect(address), true

	case "tab", "shift+tab", "esc":
		m.focusState = FocusList
		m.quickConnectInput.Blur()
		return nil, true
	}
	return nil, false
}
