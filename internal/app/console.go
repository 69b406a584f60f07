// Package app provides the main application controller. It switches between
// the profile picker and the dashboard of the chosen appliance, and builds
// the appliance client for a profile.
package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/protocol"
	"github.com/moka-remote/mokactl/internal/transport"
	"github.com/moka-remote/mokactl/internal/ui/app"
	"github.com/moka-remote/mokactl/internal/ui/components"
	"github.com/moka-remote/mokactl/internal/ui/menu"
)

// activeView determines which model is currently visible and receiving updates.
type activeView int

const (
	menuView activeView = iota
	appView
)

// ClientFactory creates an unconnected client for a profile.
type ClientFactory func(profile *interfaces.Profile) (interfaces.ApplianceClient, error)

// NewClient is the ClientFactory used outside tests.
func NewClient(profile *interfaces.Profile) (interfaces.ApplianceClient, error) {
	opts, err := profile.TransportOptions()
	if err != nil {
		return nil, err
	}
	manager, err := transport.NewManager(opts, logging.GetTransportLogger().WithField("profile", profile.Name))
	if err != nil {
		return nil, err
	}
	return protocol.NewClient(manager, profile.ResponseTimeout, logging.GetProtocolLogger().WithField("profile", profile.Name))
}

// ConsoleController is the root model. It owns the menu and, once a profile
// is opened, the dashboard.
type ConsoleController struct {
	configManager interfaces.ConfigManager
	history       interfaces.HistoryStore
	newClient     ClientFactory
	logger        *logging.Logger

	menuModel *menu.MenuModel
	appModel  tea.Model

	currentView activeView

	width  int
	height int
}

// NewConsoleController creates the controller showing the profile picker.
// history may be nil.
func NewConsoleController(
	configManager interfaces.ConfigManager,
	monitor interfaces.HealthMonitor,
	history interfaces.HistoryStore,
	newClient ClientFactory,
	logger *logging.Logger,
) *ConsoleController {
	if logger == nil {
		logger = logging.GetUILogger()
	}
	c := &ConsoleController{
		configManager: configManager,
		history:       history,
		newClient:     newClient,
		logger:        logger,
		currentView:   menuView,
	}
	c.menuModel = menu.NewMenuModel(configManager, monitor, c.OpenDashboard, logger)
	return c
}

// NewDirectController starts on the dashboard of profile; leaving it shows
// the profile picker.
func NewDirectController(
	configManager interfaces.ConfigManager,
	monitor interfaces.HealthMonitor,
	history interfaces.HistoryStore,
	newClient ClientFactory,
	logger *logging.Logger,
	profile *interfaces.Profile,
) (*ConsoleController, error) {
	c := NewConsoleController(configManager, monitor, history, newClient, logger)
	model, err := c.OpenDashboard(profile)
	if err != nil {
		return nil, err
	}
	c.appModel = model
	c.currentView = appView
	return c, nil
}

// OpenDashboard builds the dashboard for profile with a fresh client and
// applies the profile's theme.
func (c *ConsoleController) OpenDashboard(profile *interfaces.Profile) (tea.Model, error) {
	client, err := c.newClient(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", profile.Name, err)
	}

	var theme *interfaces.Theme
	if profile.Theme != "" {
		if theme, err = c.configManager.LoadTheme(profile.Theme); err != nil {
			c.logger.Warn("Theme not found, using defaults", "theme", profile.Theme, "error", err.Error())
		}
	}
	components.ApplyTheme(theme)

	return app.NewDashboardModel(profile, client, c.history, theme, c.logger.WithField("profile", profile.Name)), nil
}

// Init initializes the active child model.
func (c *ConsoleController) Init() tea.Cmd {
	if c.currentView == appView {
		return c.appModel.Init()
	}
	return c.menuModel.Init()
}

// Update delegates to the active child model and handles the switches
// between them.
func (c *ConsoleController) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.menuModel.Update(msg)
		if c.appModel != nil {
			c.appModel, _ = c.appModel.Update(msg)
		}
		return c, nil

	case menu.ConnectionResultMsg:
		if msg.Err != nil {
			c.logger.Warn("Could not open profile", "profile", msg.Profile, "error", msg.Err.Error())
			c.menuModel.ConnectionFailed(msg.Err)
			return c, nil
		}
		c.menuModel.Suspend()
		c.logger.LogUIStateChange("menu", "dashboard", msg.Profile)
		c.appModel = msg.Model
		c.currentView = appView
		c.appModel, cmd = c.appModel.Update(tea.WindowSizeMsg{Width: c.width, Height: c.height})
		return c, tea.Batch(cmd, c.appModel.Init())

	case app.ConnectionStatusMsg:
		if !msg.Connected {
			c.logger.LogUIStateChange("dashboard", "menu", msg.Error)
			c.appModel = nil
			c.currentView = menuView
			return c, c.menuModel.Init()
		}
		return c, nil
	}

	switch c.currentView {
	case appView:
		c.appModel, cmd = c.appModel.Update(msg)
	default:
		var model tea.Model
		model, cmd = c.menuModel.Update(msg)
		if mm, ok := model.(*menu.MenuModel); ok {
			c.menuModel = mm
		}
	}
	return c, cmd
}

// View renders the active child model.
func (c *ConsoleController) View() string {
	if c.currentView == appView && c.appModel != nil {
		return c.appModel.View()
	}
	return c.menuModel.View()
}
