package actions

import (
	"strings"
	"testing"

	"github.com/moka-remote/mokactl/internal/errors"
)

func TestPaneNavigation(t *testing.T) {
	p := NewPane()
	if p.IsVisible() || p.View() != "" {
		t.Fatal("new pane should be hidden")
	}

	p.SetActions([]errors.Action{
		{Name: "Reconnect", Command: errors.CommandReconnect, Type: "primary"},
		{Name: "Dismiss", Command: errors.CommandDismiss, Type: "cancel"},
	})

	if a, ok := p.Selected(); !ok || a.Command != errors.CommandReconnect {
		t.Errorf("Selected() = %+v, %v", a, ok)
	}
	p.Next()
	if a, _ := p.Selected(); a.Command != errors.CommandDismiss {
		t.Errorf("after Next, Selected() = %+v", a)
	}
	p.Next()
	if a, _ := p.Selected(); a.Command != errors.CommandReconnect {
		t.Errorf("Next should wrap, got %+v", a)
	}
	p.Previous()
	if a, _ := p.Selected(); a.Command != errors.CommandDismiss {
		t.Errorf("Previous should wrap, got %+v", a)
	}

	if a, ok := p.ByNumber(1); !ok || a.Name != "Reconnect" {
		t.Errorf("ByNumber(1) = %+v, %v", a, ok)
	}
	if _, ok := p.ByNumber(3); ok {
		t.Error("ByNumber(3) should not exist")
	}

	view := p.View()
	if !strings.Contains(view, "Error Recovery Options") || !strings.Contains(view, "[2]") {
		t.Errorf("View() = %q", view)
	}

	p.Reset()
	if p.IsVisible() {
		t.Error("Reset should hide the pane")
	}
	if _, ok := p.Selected(); ok {
		t.Error("Selected() after Reset should be empty")
	}
}
