package components

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/transport"
)

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		progress int
		width    int
		want     string
	}{
		{0, 4, "[----]"},
		{50, 4, "[##--]"},
		{100, 4, "[####]"},
		{150, 4, "[####]"},
		{-5, 4, "[----]"},
		{50, 0, ""},
	}
	for _, tt := range tests {
		if got := RenderProgressBar(tt.progress, tt.width, "#", "-"); got != tt.want {
			t.Errorf("RenderProgressBar(%d, %d) = %q, want %q", tt.progress, tt.width, got, tt.want)
		}
	}
}

func TestConnectionStatus(t *testing.T) {
	tests := []struct {
		change     transport.StateChange
		wantStatus string
		wantLabel  string
	}{
		{transport.StateChange{State: transport.StateReady}, "success", "Connected"},
		{transport.StateChange{State: transport.StateConnecting, Attempt: 1}, "running", "Connecting"},
		{transport.StateChange{State: transport.StateConnecting, Attempt: 3}, "running", "Connecting (attempt 3)"},
		{transport.StateChange{State: transport.StateWaiting}, "warning", "Waiting to retry"},
		{transport.StateChange{State: transport.StateFailed}, "error", "Connection failed"},
		{transport.StateChange{State: transport.StateClosed}, "muted", "Disconnected"},
		{transport.StateChange{State: transport.StateIdle}, "pending", "Idle"},
	}
	for _, tt := range tests {
		status, label := ConnectionStatus(tt.change)
		if status != tt.wantStatus || label != tt.wantLabel {
			t.Errorf("ConnectionStatus(%v) = %q, %q, want %q, %q", tt.change.State, status, label, tt.wantStatus, tt.wantLabel)
		}
	}
}

func TestRenderConnectionIncludesReason(t *testing.T) {
	change := transport.StateChange{State: transport.StateFailed, Err: stderrors.New("connection refused")}
	if got := RenderConnection(change, 0); !strings.Contains(got, "connection refused") {
		t.Errorf("RenderConnection() = %q", got)
	}
	if got := RenderConnection(change, 12); strings.Contains(got, "refused") {
		t.Errorf("RenderConnection() should truncate, got %q", got)
	}
}

func TestRenderSlider(t *testing.T) {
	r := domain.Range{Min: 0, Max: 20}
	got := RenderSlider("Noise threshold", 10, r, " dB", 10, false)
	if !strings.Contains(got, "10.0 dB") || !strings.Contains(got, "━━━━━") {
		t.Errorf("RenderSlider() = %q", got)
	}
	if focused := RenderSlider("Noise threshold", 10, r, " dB", 10, true); !strings.Contains(focused, "▸") {
		t.Errorf("focused slider = %q", focused)
	}
}

func TestRenderErrorPane(t *testing.T) {
	if RenderErrorPane(nil, 0, 80) != "" {
		t.Error("nil error should render nothing")
	}

	processed := errors.NewHandler().Process(errors.Connection("dial", stderrors.New("connection refused")))
	got := RenderErrorPane(processed, 3, 60)
	for _, want := range []string{"connection refused", string(errors.KindConnection), "2 more queued", "Recovery Actions"} {
		if !strings.Contains(got, want) {
			t.Errorf("RenderErrorPane() missing %q in %q", want, got)
		}
	}
}
