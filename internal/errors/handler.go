// Package errors implements comprehensive error management for mokactl.
// This file provides the Handler component, which turns any failure into a
// user-facing presentation with recovery action suggestions.
package errors

import (
	stderrors "errors"
	"time"
)

// Action is a recovery step offered to the user next to an error.
type Action struct {
	Name    string
	Command string
	Type    string // "primary", "cancel", "info", "alternative"
	Icon    string
}

// Recovery commands understood by the TUI.
const (
	CommandDismiss   = "internal_dismiss_error"
	CommandReconnect = "reconnect"
	CommandRetry     = "retry"
	CommandProfiles  = "open_profiles"
)

// ProcessedError represents a structured error that has been prepared for display.
// It decouples the raw failure from the UI's representation.
type ProcessedError struct {
	Timestamp       time.Time
	Message         string
	Code            string
	Details         string
	Recoverable     bool
	RecoveryActions []Action
}

// Handler processes raw errors into a format suitable for the UI.
type Handler struct{}

// NewHandler creates a new error handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Process transforms any error into a ProcessedError. Unclassified errors are
// presented as protocol errors. A nil error yields nil.
func (h *Handler) Process(err error) *ProcessedError {
	if err == nil {
		return nil
	}

	var classified *Error
	if !stderrors.As(err, &classified) {
		classified = &Error{Kind: KindProtocol, Err: err, Recoverable: true, Timestamp: time.Now()}
	}

	processed := &ProcessedError{
		Timestamp:       classified.Timestamp,
		Message:         err.Error(),
		Code:            string(classified.Kind),
		Details:         classified.SuggestedAction,
		Recoverable:     classified.Recoverable,
		RecoveryActions: actionsFor(classified.Kind),
	}
	if processed.Timestamp.IsZero() {
		processed.Timestamp = time.Now()
	}

	// Every error can at least be dismissed.
	processed.RecoveryActions = append(processed.RecoveryActions, Action{
		Name:    "Dismiss",
		Command: CommandDismiss,
		Type:    "cancel",
		Icon:    "👌",
	})

	return processed
}

func actionsFor(kind Kind) []Action {
	switch kind {
	case KindConnection:
		return []Action{
			{Name: "Reconnect", Command: CommandReconnect, Type: "primary", Icon: "🔄"},
			{Name: "Choose Profile", Command: CommandProfiles, Type: "alternative", Icon: "🔀"},
		}
	case KindProtocol:
		return []Action{
			{Name: "Retry", Command: CommandRetry, Type: "primary", Icon: "🔁"},
		}
	case KindConfiguration:
		return []Action{
			{Name: "Choose Profile", Command: CommandProfiles, Type: "primary", Icon: "⚙️"},
		}
	default:
		return nil
	}
}
