// Package app implements the dashboard shown once a profile is connected.
// This file defines the DashboardModel, its sections and messages, and the
// commands that talk to the appliance. Data pushed by the client observers is
// fed back into the bubbletea loop through a buffered channel.
package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/protocol"
	"github.com/moka-remote/mokactl/internal/recording"
	"github.com/moka-remote/mokactl/internal/transport"
	"github.com/moka-remote/mokactl/internal/ui/actions"
)

// Section is the part of the dashboard that receives keys.
type Section int

const (
	SectionControls Section = iota
	SectionParameters
	SectionEvents
	SectionUpload
	sectionCount
)

func (s Section) String() string {
	switch s {
	case SectionControls:
		return "controls"
	case SectionParameters:
		return "parameters"
	case SectionEvents:
		return "events"
	case SectionUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// updateBuffer bounds the observer updates waiting for the UI loop.
const updateBuffer = 256

// connectTimeout bounds a connect followed by the initial refresh.
const connectTimeout = 30 * time.Second

var timeNow = time.Now

// paramSpec describes how a parameter is edited and shown.
type paramSpec struct {
	name  string
	label string
	unit  string
	step  float64
}

var paramSpecs = []paramSpec{
	{domain.ParamNoiseThreshold, "Noise threshold", " dB", 0.5},
	{domain.ParamResemblanceThreshold, "Resemblance", "", 0.05},
	{domain.ParamCooldown, "Cooldown", " s", 10},
	{domain.ParamDelay, "Delay", " s", 0.5},
}

// Messages

// ConnectionStatusMsg tells the controller the dashboard was left. Connected
// false returns to the profile picker.
type ConnectionStatusMsg struct {
	Connected bool
	Error     string
}

type stateChangedMsg struct{ change transport.StateChange }

type appStateMsg struct{ state domain.AppState }

type parameterSetMsg struct{ set domain.ParameterSet }

type eventListMsg struct{ events domain.EventList }

type refreshedMsg struct {
	snapshot protocol.Snapshot
	err      error
}

type connectedMsg struct{ err error }

type commandDoneMsg struct {
	op      string
	message string
	err     error
}

type powerSetMsg struct {
	on  bool
	err error
}

type paramsSentMsg struct {
	params domain.Parameters
	reset  bool
	err    error
}

type uploadDoneMsg struct {
	result recording.Result
	err    error
}

type historyRecordedMsg struct {
	added int
	err   error
}

// DashboardModel is the bubbletea model for one connected appliance.
type DashboardModel struct {
	profile  *interfaces.Profile
	client   interfaces.ApplianceClient
	history  interfaces.HistoryStore
	uploader *recording.Uploader
	theme    *interfaces.Theme
	logger   *logging.Logger

	errorHandler *errors.Handler
	recovery     *errors.RecoveryManager
	actionsPane  *actions.Pane

	updates  chan tea.Msg
	done     chan struct{}
	stopOnce sync.Once

	// Appliance state as last reported
	connection   transport.StateChange
	appState     domain.AppState
	haveAppState bool
	savedParams  domain.Parameters
	params       domain.Parameters
	bounds       domain.Bounds
	events       domain.EventList
	lastRefresh  time.Time

	// Interaction state
	focus         Section
	selectedParam int
	voice         domain.Voice
	eventTable    table.Model
	uploadInput   textinput.Model
	keepRecording bool
	spinner       spinner.Model
	busy          bool
	busyLabel     string
	backgrounded  bool

	statusMessage string
	statusKind    string

	width  int
	height int
}

// NewDashboardModel creates the dashboard and registers its observers on
// client. history may be nil.
func NewDashboardModel(
	profile *interfaces.Profile,
	client interfaces.ApplianceClient,
	history interfaces.HistoryStore,
	theme *interfaces.Theme,
	logger *logging.Logger,
) *DashboardModel {
	if logger == nil {
		logger = logging.GetUILogger()
	}
	logger = logger.WithFields(map[string]interface{}{
		"profile": profile.Name,
		"address": profile.Address(),
	})

	input := textinput.New()
	input.Placeholder = "path/to/recording.wav"
	input.CharLimit = 4096
	input.Prompt = "File: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &DashboardModel{
		profile:      profile,
		client:       client,
		history:      history,
		uploader:     recording.NewUploader(client, history, profile.Name, logger.WithComponent("recording")),
		theme:        theme,
		logger:       logger,
		errorHandler: errors.NewHandler(),
		recovery:     errors.NewRecoveryManager(),
		actionsPane:  actions.NewPane(),
		updates:      make(chan tea.Msg, updateBuffer),
		done:         make(chan struct{}),
		savedParams:  domain.DefaultParameters(),
		params:       domain.DefaultParameters(),
		bounds:       domain.DefaultBounds(),
		voice:        profile.Voice(),
		eventTable:   newEventTable(),
		uploadInput:  input,
		spinner:      sp,
		connection:   transport.StateChange{State: client.State()},
	}

	client.OnStateChange(func(change transport.StateChange) {
		m.deliver(stateChangedMsg{change})
	})
	client.OnAppState(func(state domain.AppState) {
		m.deliver(appStateMsg{state})
	})
	client.OnParameterSet(func(set domain.ParameterSet) {
		m.deliver(parameterSetMsg{set})
	})
	client.OnEventList(func(events domain.EventList) {
		m.deliver(eventListMsg{events})
	})

	return m
}

func newEventTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 20},
			{Title: "Status", Width: 16},
			{Title: "Voice", Width: 12},
		}),
		table.WithHeight(6),
	)
	return t
}

// deliver runs on the client's dispatch goroutine and must not block it.
func (m *DashboardModel) deliver(msg tea.Msg) {
	select {
	case m.updates <- msg:
	default:
		m.logger.Warn("Dropping dashboard update, UI is not keeping up", "type", fmt.Sprintf("%T", msg))
	}
}

// waitForUpdate blocks until an observer delivers something or the
// dashboard is left.
func (m *DashboardModel) waitForUpdate() tea.Cmd {
	updates, done := m.updates, m.done
	return func() tea.Msg {
		select {
		case msg := <-updates:
			return msg
		case <-done:
			return nil
		}
	}
}

// stop releases the pending waitForUpdate.
func (m *DashboardModel) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Init connects and loads the initial state.
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.connect())
}

// Focus returns the section receiving keys.
func (m *DashboardModel) Focus() Section { return m.focus }

// Voice returns the selected voice.
func (m *DashboardModel) Voice() domain.Voice { return m.voice }

// Parameters returns the edited parameters.
func (m *DashboardModel) Parameters() domain.Parameters { return m.params }

// Dirty reports whether the edited parameters differ from the appliance's.
func (m *DashboardModel) Dirty() bool { return m.params != m.savedParams }

// AppState returns the last known on/off state.
func (m *DashboardModel) AppState() domain.AppState { return m.appState }

// Status returns the status line and its kind.
func (m *DashboardModel) Status() (kind, message string) { return m.statusKind, m.statusMessage }

// CurrentError returns the error awaiting acknowledgement, if any.
func (m *DashboardModel) CurrentError() *errors.ProcessedError { return m.recovery.Current() }

// SetTerminalSize updates the layout dimensions.
func (m *DashboardModel) SetTerminalSize(width, height int) {
	m.width = width
	m.height = height
	m.actionsPane.SetWidth(width)
	m.uploadInput.Width = max(20, width-12)

	rows := height - 24
	if rows < 3 {
		rows = 3
	}
	m.eventTable.SetHeight(rows)
}

func (m *DashboardModel) setStatus(kind, message string) {
	m.statusKind = kind
	m.statusMessage = message
}

// startBusy shows the spinner. It returns the first tick unless the spinner
// is already running.
func (m *DashboardModel) startBusy(label string) tea.Cmd {
	wasBusy := m.busy
	m.busy = true
	m.busyLabel = label
	if wasBusy {
		return nil
	}
	return m.spinner.Tick
}

func (m *DashboardModel) showError(err error) {
	m.recovery.Push(m.errorHandler.Process(err))
	m.actionsPane.SetActions(m.recovery.GetRecoveryActions())
	m.logger.Error("Dashboard operation failed", "error", err.Error())
}

func (m *DashboardModel) dismissError() {
	m.recovery.Dismiss()
	m.actionsPane.SetActions(m.recovery.GetRecoveryActions())
}

func (m *DashboardModel) requestTimeout() time.Duration {
	timeout := m.profile.ResponseTimeout
	if timeout <= 0 {
		timeout = protocol.DefaultResponseTimeout
	}
	// Refresh runs three requests back to back.
	return 3*timeout + time.Second
}

// Commands

func (m *DashboardModel) connect() tea.Cmd {
	client := m.client
	base := m.savedParams
	timeout := m.requestTimeout()
	tick := m.startBusy("Connecting to " + m.profile.Address())

	return tea.Batch(tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if err := client.Connect(ctx); err != nil {
			return connectedMsg{err: err}
		}

		refreshCtx, refreshCancel := context.WithTimeout(context.Background(), timeout)
		defer refreshCancel()
		snap, err := client.Refresh(refreshCtx, base)
		return refreshedMsg{snapshot: snap, err: err}
	})
}

func (m *DashboardModel) refresh() tea.Cmd {
	client := m.client
	base := m.savedParams
	timeout := m.requestTimeout()
	tick := m.startBusy("Refreshing")

	return tea.Batch(tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := client.Refresh(ctx, base)
		return refreshedMsg{snapshot: snap, err: err}
	})
}

func (m *DashboardModel) setPower(on bool) tea.Cmd {
	client := m.client
	timeout := m.requestTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return powerSetMsg{on: on, err: client.SetPower(ctx, on)}
	}
}

func (m *DashboardModel) trigger(voice domain.Voice) tea.Cmd {
	client := m.client
	timeout := m.requestTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := client.Trigger(ctx, voice); err != nil {
			return commandDoneMsg{op: "trigger", err: err}
		}
		return commandDoneMsg{op: "trigger", message: "Triggered " + voice.String()}
	}
}

func (m *DashboardModel) pushParameters(p domain.Parameters) tea.Cmd {
	client := m.client
	bounds := m.bounds
	timeout := m.requestTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return paramsSentMsg{params: p, err: client.PushParameters(ctx, p, bounds)}
	}
}

func (m *DashboardModel) resetParameters() tea.Cmd {
	client := m.client
	timeout := m.requestTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		p, err := client.ResetParameters(ctx)
		return paramsSentMsg{params: p, reset: true, err: err}
	}
}

func (m *DashboardModel) upload(path string, voice domain.Voice, keep bool) tea.Cmd {
	uploader := m.uploader
	tick := m.startBusy("Uploading " + path)
	return tea.Batch(tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		result, err := uploader.Upload(ctx, path, voice, keep)
		return uploadDoneMsg{result: result, err: err}
	})
}

func (m *DashboardModel) recordEvents(events domain.EventList) tea.Cmd {
	if m.history == nil || len(events) == 0 {
		return nil
	}
	history := m.history
	profile := m.profile.Name
	return func() tea.Msg {
		added, err := history.RecordEvents(profile, events)
		return historyRecordedMsg{added: added, err: err}
	}
}

// adjustParameter moves the selected parameter by delta steps, within bounds.
func (m *DashboardModel) adjustParameter(delta int) {
	spec := paramSpecs[m.selectedParam]
	value, _ := m.params.Get(spec.name)
	value += float64(delta) * spec.step
	value = math.Round(value*100) / 100
	if r, ok := m.bounds[spec.name]; ok {
		value = r.Clamp(value)
	}
	if next, err := m.params.Set(spec.name, value); err == nil {
		m.params = next
	}
}

func (m *DashboardModel) disconnect() {
	if err := m.client.Close(); err != nil {
		m.logger.Warn("Failed to close connection", "error", err.Error())
	}
}
