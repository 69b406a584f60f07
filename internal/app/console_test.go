package app

import (
	stderrors "errors"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/moka-remote/mokactl/internal/config"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/transport"
	"github.com/moka-remote/mokactl/internal/ui/app"
	"github.com/moka-remote/mokactl/internal/ui/menu"
)

type stubModel struct{ initialized *bool }

func (s stubModel) Init() tea.Cmd {
	*s.initialized = true
	return nil
}
func (s stubModel) Update(tea.Msg) (tea.Model, tea.Cmd) { return s, nil }
func (s stubModel) View() string                        { return "dashboard view" }

func newController(t *testing.T, factory ClientFactory) *ConsoleController {
	t.Helper()
	cm, err := config.NewManagerWithPath(filepath.Join(t.TempDir(), "profiles.yaml"))
	if err != nil {
		t.Fatalf("NewManagerWithPath() error = %v", err)
	}
	if factory == nil {
		factory = NewClient
	}
	return NewConsoleController(cm, nil, nil, factory, logging.NewTestLogger(t))
}

func TestControllerSwitchesViews(t *testing.T) {
	c := newController(t, nil)
	c.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	var initialized bool
	_, cmd := c.Update(menu.ConnectionResultMsg{Profile: "mock", Model: stubModel{initialized: &initialized}})
	if c.currentView != appView {
		t.Fatalf("view = %v, want the dashboard", c.currentView)
	}
	if cmd == nil {
		t.Fatal("expected the dashboard's init command")
	}
	if !initialized || c.View() != "dashboard view" {
		t.Errorf("initialized = %v, view = %q", initialized, c.View())
	}

	c.Update(app.ConnectionStatusMsg{Connected: false})
	if c.currentView != menuView || c.appModel != nil {
		t.Errorf("view = %v, want the menu", c.currentView)
	}
}

func TestControllerKeepsMenuOnFailure(t *testing.T) {
	c := newController(t, nil)

	c.Update(menu.ConnectionResultMsg{Profile: "default", Err: stderrors.New("refused")})
	if c.currentView != menuView {
		t.Fatalf("view = %v", c.currentView)
	}
	if c.menuModel.Err() == nil {
		t.Error("menu should show the error")
	}
}

func TestOpenDashboard(t *testing.T) {
	c := newController(t, nil)
	profile := config.DefaultProfile()

	model, err := c.OpenDashboard(&profile)
	if err != nil {
		t.Fatalf("OpenDashboard() error = %v", err)
	}
	dashboard, ok := model.(*app.DashboardModel)
	if !ok {
		t.Fatalf("model = %T", model)
	}
	if dashboard.Voice() != profile.Voice() {
		t.Errorf("voice = %v", dashboard.Voice())
	}

	failing := newController(t, func(*interfaces.Profile) (interfaces.ApplianceClient, error) {
		return nil, stderrors.New("boom")
	})
	if _, err := failing.OpenDashboard(&profile); err == nil {
		t.Error("expected the factory error")
	}
}

func TestNewClientUsesProfileSettings(t *testing.T) {
	profile := config.DefaultProfile()
	profile.Host = "127.0.0.1"
	profile.Port = 9999

	client, err := NewClient(&profile)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Address() != "127.0.0.1:9999" {
		t.Errorf("Address() = %q", client.Address())
	}
	if client.State() != transport.StateIdle {
		t.Errorf("State() = %v, want idle before connecting", client.State())
	}

	profile.Framing = "carrier-pigeon"
	if _, err := NewClient(&profile); err == nil {
		t.Error("expected an error for an unknown framing mode")
	}
}

func TestNewDirectController(t *testing.T) {
	cm, err := config.NewManagerWithPath(filepath.Join(t.TempDir(), "profiles.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	profile := config.DefaultProfile()
	c, err := NewDirectController(cm, nil, nil, NewClient, logging.NewTestLogger(t), &profile)
	if err != nil {
		t.Fatalf("NewDirectController() error = %v", err)
	}
	if c.currentView != appView {
		t.Errorf("view = %v, want the dashboard", c.currentView)
	}
}
