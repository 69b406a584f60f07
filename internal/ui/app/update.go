// Package app implements user input processing and state management for the
// dashboard. This file contains the bubbletea update function: section focus
// cycling, the per-section key bindings, the recovery actions of an error and
// the handling of data pushed by the appliance client.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/truncate"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/transport"
)

// Update implements tea.Model.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKeyInput(msg)

	case tea.WindowSizeMsg:
		m.SetTerminalSize(msg.Width, msg.Height)
		return m, nil

	case tea.BlurMsg:
		return m, m.handleBlur()

	case tea.FocusMsg:
		return m, m.handleFocus()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateChangedMsg:
		m.handleStateChange(msg.change)
		return m, m.waitForUpdate()

	case appStateMsg:
		m.appState = msg.state
		m.haveAppState = true
		return m, m.waitForUpdate()

	case parameterSetMsg:
		m.applyParameters(m.savedParams.Apply(msg.set))
		return m, m.waitForUpdate()

	case eventListMsg:
		m.setEvents(msg.events)
		return m, tea.Batch(m.waitForUpdate(), m.recordEvents(msg.events))

	case connectedMsg:
		m.busy = false
		if msg.err != nil {
			m.setStatus("error", "Could not connect to "+m.profile.Address())
			m.showError(msg.err)
		}
		return m, nil

	case refreshedMsg:
		m.handleRefreshed(msg)
		return m, nil

	case powerSetMsg:
		if msg.err != nil {
			m.showError(msg.err)
			return m, nil
		}
		m.appState = domain.AppState{On: msg.on}
		m.haveAppState = true
		m.setStatus("success", "Appliance switched "+m.appState.String())
		return m, nil

	case commandDoneMsg:
		if msg.err != nil {
			m.showError(msg.err)
			return m, nil
		}
		m.setStatus("success", msg.message)
		return m, nil

	case paramsSentMsg:
		m.handleParamsSent(msg)
		return m, nil

	case uploadDoneMsg:
		m.handleUploadDone(msg)
		return m, nil

	case historyRecordedMsg:
		if msg.err != nil {
			m.logger.Warn("Failed to record events in history", "profile", m.profile.Name, "error", msg.err.Error())
		} else if msg.added > 0 {
			m.logger.Debug("Recorded new events", "profile", m.profile.Name, "count", msg.added)
		}
		return m, nil
	}

	if m.focus == SectionUpload {
		var cmd tea.Cmd
		m.uploadInput, cmd = m.uploadInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKeyInput routes a key to the error recovery actions when an error is
// shown, then to the global bindings, then to the focused section.
func (m *DashboardModel) handleKeyInput(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		m.stop()
		m.disconnect()
		return tea.Quit
	}

	if m.recovery.IsActive() {
		return m.handleRecoveryKeys(msg)
	}

	switch msg.String() {
	case "tab":
		return m.cycleFocus(1)
	case "shift+tab":
		return m.cycleFocus(-1)
	case "esc":
		return m.leave()
	case "f5", "ctrl+r":
		return m.requestRefresh()
	}

	switch m.focus {
	case SectionControls:
		return m.handleControlsKeys(msg)
	case SectionParameters:
		return m.handleParametersKeys(msg)
	case SectionEvents:
		return m.handleEventsKeys(msg)
	case SectionUpload:
		return m.handleUploadKeys(msg)
	default:
		return nil
	}
}

func (m *DashboardModel) handleRecoveryKeys(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "esc":
		m.dismissError()
	case "up", "k", "shift+tab":
		m.actionsPane.Previous()
	case "down", "j", "tab":
		m.actionsPane.Next()
	case "enter":
		if action, ok := m.actionsPane.Selected(); ok {
			return m.runAction(action)
		}
	default:
		if n, err := strconv.Atoi(key); err == nil {
			if action, ok := m.actionsPane.ByNumber(n); ok {
				return m.runAction(action)
			}
		}
	}
	return nil
}

func (m *DashboardModel) runAction(action errors.Action) tea.Cmd {
	m.dismissError()
	switch action.Command {
	case errors.CommandReconnect:
		m.disconnect()
		return m.connect()
	case errors.CommandRetry:
		return m.requestRefresh()
	case errors.CommandProfiles:
		return m.leave()
	default:
		return nil
	}
}

func (m *DashboardModel) handleControlsKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "p", " ":
		if !m.ensureReady() {
			return nil
		}
		return m.setPower(!m.appState.On)
	case "t", "enter":
		if !m.ensureOn("trigger") || !m.ensureReady() {
			return nil
		}
		return m.trigger(m.voice)
	case "left", "h":
		m.voice = m.voice.Previous()
	case "right", "l":
		m.voice = m.voice.Next()
	case "r":
		return m.requestRefresh()
	}
	return nil
}

func (m *DashboardModel) handleParametersKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.selectedParam > 0 {
			m.selectedParam--
		}
	case "down", "j":
		if m.selectedParam < len(paramSpecs)-1 {
			m.selectedParam++
		}
	case "left", "h":
		m.adjustParameter(-1)
	case "right", "l":
		m.adjustParameter(1)
	case "u":
		m.params = m.savedParams
		m.setStatus("info", "Edits discarded")
	case "s":
		return m.commitParameters()
	case "d":
		if !m.ensureReady() {
			return nil
		}
		return m.resetParameters()
	case "r":
		return m.requestRefresh()
	}
	return nil
}

func (m *DashboardModel) handleEventsKeys(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "r" {
		return m.requestRefresh()
	}
	var cmd tea.Cmd
	m.eventTable, cmd = m.eventTable.Update(msg)
	return cmd
}

func (m *DashboardModel) handleUploadKeys(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		path := strings.TrimSpace(m.uploadInput.Value())
		if path == "" {
			m.setStatus("warning", "Enter the path of a recording first")
			return nil
		}
		if m.busy {
			m.setStatus("warning", "Waiting for the current operation to finish")
			return nil
		}
		if !m.ensureOn("upload") || !m.ensureReady() {
			return nil
		}
		return m.upload(path, m.voice, m.keepRecording)
	case "ctrl+k":
		m.keepRecording = !m.keepRecording
		return nil
	case "ctrl+left":
		m.voice = m.voice.Previous()
		return nil
	case "ctrl+right":
		m.voice = m.voice.Next()
		return nil
	}

	var cmd tea.Cmd
	m.uploadInput, cmd = m.uploadInput.Update(msg)
	return cmd
}

// cycleFocus moves to the next section. Leaving the parameter editor with
// unsaved edits sends them.
func (m *DashboardModel) cycleFocus(direction int) tea.Cmd {
	previous := m.focus
	m.focus = Section((int(m.focus) + direction + int(sectionCount)) % int(sectionCount))
	m.logger.LogUIStateChange(previous.String(), m.focus.String(), "focus cycle")

	m.uploadInput.Blur()
	m.eventTable.Blur()
	var cmds []tea.Cmd
	switch m.focus {
	case SectionUpload:
		cmds = append(cmds, m.uploadInput.Focus())
	case SectionEvents:
		m.eventTable.Focus()
	}

	if previous == SectionParameters && m.Dirty() {
		cmds = append(cmds, m.commitParameters())
	}
	return tea.Batch(cmds...)
}

func (m *DashboardModel) commitParameters() tea.Cmd {
	if !m.ensureReady() {
		return nil
	}
	return m.pushParameters(m.params)
}

func (m *DashboardModel) requestRefresh() tea.Cmd {
	if m.busy || m.client.Busy() {
		m.setStatus("warning", "Waiting for the appliance to answer")
		return nil
	}
	if !m.ensureReady() {
		return nil
	}
	return m.refresh()
}

// leave sends unsaved parameters, closes the session and returns to the
// profile picker.
func (m *DashboardModel) leave() tea.Cmd {
	client := m.client
	logger := m.logger
	params, bounds := m.params, m.bounds
	pushFirst := m.Dirty() && client.State() == transport.StateReady
	timeout := m.requestTimeout()
	m.stop()

	return func() tea.Msg {
		if pushFirst {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := client.PushParameters(ctx, params, bounds); err != nil {
				logger.Warn("Failed to send parameters on exit", "error", err.Error())
			}
			cancel()
		}
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close connection", "error", err.Error())
		}
		return ConnectionStatusMsg{Connected: false}
	}
}

func (m *DashboardModel) ensureReady() bool {
	if m.client.State() != transport.StateReady {
		m.setStatus("warning", "Not connected to the appliance")
		return false
	}
	return true
}

func (m *DashboardModel) ensureOn(what string) bool {
	if !m.appState.On {
		m.setStatus("warning", fmt.Sprintf("Switch the appliance on to %s", what))
		return false
	}
	return true
}

// The terminal losing focus stands in for the app being backgrounded: the
// session is closed and re-established from scratch on focus.
func (m *DashboardModel) handleBlur() tea.Cmd {
	if m.backgrounded {
		return nil
	}
	m.backgrounded = true
	m.logger.LogUIStateChange("foreground", "background", "terminal blur")
	m.disconnect()
	m.setStatus("muted", "Connection closed while in background")
	return nil
}

func (m *DashboardModel) handleFocus() tea.Cmd {
	if !m.backgrounded {
		return nil
	}
	m.backgrounded = false
	m.logger.LogUIStateChange("background", "foreground", "terminal focus")
	return m.connect()
}

func (m *DashboardModel) handleStateChange(change transport.StateChange) {
	m.logger.LogUIStateChange(change.Previous.String(), change.State.String(), "connection")
	m.connection = change

	if change.State == transport.StateFailed && change.Err != nil && !m.backgrounded {
		m.busy = false
		m.showError(change.Err)
	}
}

func (m *DashboardModel) handleRefreshed(msg refreshedMsg) {
	m.busy = false
	if msg.err != nil {
		m.setStatus("error", "Refresh failed")
		m.showError(msg.err)
		return
	}

	m.appState = msg.snapshot.AppState
	m.haveAppState = true
	m.applyParameters(msg.snapshot.Parameters)
	m.setEvents(msg.snapshot.Events)
	m.lastRefresh = timeNow()
	m.setStatus("success", "Refreshed")
}

func (m *DashboardModel) handleParamsSent(msg paramsSentMsg) {
	if msg.err != nil {
		m.showError(msg.err)
		return
	}
	if msg.reset || !m.Dirty() || m.params == msg.params {
		m.params = msg.params
	}
	m.savedParams = msg.params
	if msg.reset {
		m.setStatus("success", "Parameters reset to defaults")
		return
	}
	m.setStatus("success", "Parameters sent "+domain.FormatParameterList(msg.params))
}

func (m *DashboardModel) handleUploadDone(msg uploadDoneMsg) {
	m.busy = false
	if msg.err != nil {
		m.setStatus("error", "Upload failed")
		m.showError(msg.err)
		return
	}

	result := msg.result
	m.uploadInput.SetValue("")
	status := fmt.Sprintf("Uploaded %s as %s (%d bytes)", result.Recording.Name(), result.Voice, len(result.Recording.Data))
	if result.Previous != nil {
		status += fmt.Sprintf(", same file as %s on %s", result.Previous.Voice, result.Previous.UploadedAt.Format("2006-01-02 15:04"))
	}
	if result.DeleteErr != nil {
		m.setStatus("warning", status+", but the local file could not be deleted")
		return
	}
	m.setStatus("success", status)
}

// applyParameters takes the appliance's values, keeping unsaved edits.
func (m *DashboardModel) applyParameters(p domain.Parameters) {
	dirty := m.Dirty()
	m.savedParams = p
	if !dirty {
		m.params = p
	}
}

func (m *DashboardModel) setEvents(events domain.EventList) {
	m.events = events
	rows := make([]table.Row, 0, len(events))
	// Newest first.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		voice := e.Voice
		if !e.HasVoice() {
			voice = "-"
		}
		rows = append(rows, table.Row{
			truncate.StringWithTail(e.Timestamp, 20, "…"),
			truncate.StringWithTail(e.Status, 16, "…"),
			voice,
		})
	}
	m.eventTable.SetRows(rows)
}
