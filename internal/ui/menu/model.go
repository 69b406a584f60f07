// Package menu implements the profile picker shown before connecting.
// This file defines the MenuModel: the configured profiles with their
// reachability from the health monitor, the quick connect input and the
// focus state.
package menu

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/moka-remote/mokactl/internal/config"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
)

// FocusState represents which part of the menu is currently focused.
type FocusState int

const (
	FocusList FocusState = iota
	FocusInput
)

// HealthInterval is how often watched profiles are probed.
const HealthInterval = 30 * time.Second

// Opener builds the dashboard for a profile. The dashboard connects in its
// own Init.
type Opener func(profile *interfaces.Profile) (tea.Model, error)

// MenuModel represents the state of the profile picker.
type MenuModel struct {
	configManager interfaces.ConfigManager
	monitor       interfaces.HealthMonitor
	open          Opener
	logger        *logging.Logger

	profiles          []interfaces.Profile
	health            map[string]interfaces.ProfileHealth
	selectedIndex     int
	quickConnectInput textinput.Model
	focusState        FocusState
	isConnecting      bool
	statusMessage     string
	err               error

	width  int
	height int
}

// NewMenuModel creates the profile picker.
func NewMenuModel(
	configManager interfaces.ConfigManager,
	monitor interfaces.HealthMonitor,
	open Opener,
	logger *logging.Logger,
) *MenuModel {
	if logger == nil {
		logger = logging.GetUILogger()
	}

	ti := textinput.New()
	ti.Placeholder = "192.168.1.37:8081"
	ti.CharLimit = 150
	ti.Width = 40

	return &MenuModel{
		configManager:     configManager,
		monitor:           monitor,
		open:              open,
		logger:            logger,
		quickConnectInput: ti,
		focusState:        FocusList,
		health:            make(map[string]interfaces.ProfileHealth),
	}
}

// Init loads the profiles and starts health monitoring.
func (m *MenuModel) Init() tea.Cmd {
	m.isConnecting = false
	return tea.Batch(m.reloadProfiles(), tick())
}

// Suspend stops health probes while a dashboard holds the connection.
func (m *MenuModel) Suspend() {
	if m.monitor == nil {
		return
	}
	if err := m.monitor.Stop(); err != nil {
		m.logger.Warn("Failed to stop health monitoring", "error", err.Error())
	}
}

// Selected returns the highlighted profile name, if any.
func (m *MenuModel) Selected() string {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.profiles) {
		return ""
	}
	return m.profiles[m.selectedIndex].Name
}

// Err returns the last error shown under the list.
func (m *MenuModel) Err() error { return m.err }

// ConnectionResultMsg carries the dashboard to switch to, or the reason the
// profile could not be opened. The controller handles it.
type ConnectionResultMsg struct {
	Model   tea.Model
	Profile string
	Err     error
}

type (
	profilesReloadedMsg struct {
		profiles []interfaces.Profile
		err      error
	}

	healthStatusUpdatedMsg struct {
		health []interfaces.ProfileHealth
	}

	tickMsg struct{}
)

// tick triggers a refresh of the health column every second.
func tick() tea.Cmd {
	return tea.Every(time.Second, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

// reloadProfiles reads every profile, watches it and (re)starts monitoring.
func (m *MenuModel) reloadProfiles() tea.Cmd {
	cm := m.configManager
	monitor := m.monitor
	logger := m.logger
	return func() tea.Msg {
		names, err := cm.ListProfiles()
		if err != nil {
			return profilesReloadedMsg{err: err}
		}

		profiles := make([]interfaces.Profile, 0, len(names))
		for _, name := range names {
			profile, err := cm.LoadProfile(name)
			if err != nil {
				logger.Warn("Skipping invalid profile", "profile", name, "error", err.Error())
				continue
			}
			profiles = append(profiles, *profile)
		}

		if monitor != nil {
			for _, profile := range profiles {
				monitor.Watch(profile)
			}
			if err := monitor.Start(context.Background(), HealthInterval); err != nil {
				logger.Debug("Health monitoring not started", "error", err.Error())
			}
		}
		return profilesReloadedMsg{profiles: profiles}
	}
}

func (m *MenuModel) updateHealth() tea.Cmd {
	if m.monitor == nil {
		return nil
	}
	monitor := m.monitor
	return func() tea.Msg {
		return healthStatusUpdatedMsg{health: monitor.Snapshot()}
	}
}

// attemptConnection opens the dashboard for a stored profile.
func (m *MenuModel) attemptConnection(profileName string) tea.Cmd {
	cm := m.configManager
	open := m.open
	return func() tea.Msg {
		profile, err := cm.LoadProfile(profileName)
		if err != nil {
			return ConnectionResultMsg{Profile: profileName, Err: fmt.Errorf("failed to load profile '%s': %w", profileName, err)}
		}
		model, err := open(profile)
		if err != nil {
			return ConnectionResultMsg{Profile: profileName, Err: err}
		}
		return ConnectionResultMsg{Profile: profileName, Model: model}
	}
}

// quickConnect opens the dashboard for an address typed by the user.
func (m *MenuModel) quickConnect(address string) tea.Cmd {
	cm := m.configManager
	open := m.open
	return func() tea.Msg {
		profile, err := TemporaryProfile(address)
		if err == nil {
			err = cm.ValidateProfile(profile)
		}
		if err != nil {
			return ConnectionResultMsg{Profile: "temporary", Err: fmt.Errorf("invalid address %q: %w", address, err)}
		}
		model, err := open(profile)
		if err != nil {
			return ConnectionResultMsg{Profile: profile.Name, Err: err}
		}
		return ConnectionResultMsg{Profile: profile.Name, Model: model}
	}
}

// TemporaryProfile builds an unsaved profile for "host" or "host:port",
// using the default profile's settings for everything else.
func TemporaryProfile(address string) (*interfaces.Profile, error) {
	profile := config.DefaultProfile()
	profile.Name = "temporary"

	address = strings.TrimSpace(address)
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		// No port given.
		profile.Host = address
		return &profile, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("port %q is not a number", portStr)
	}
	profile.Host = host
	profile.Port = port
	return &profile, nil
}
