// Package protocol implements the appliance command protocol.
// This file provides typed helpers over Client.Do for each command, with the
// client-side validation the appliance itself does not perform.
package protocol

import (
	"context"
	"fmt"

	"github.com/moka-remote/mokactl/internal/domain"
)

// Snapshot is the appliance state gathered by Refresh.
type Snapshot struct {
	AppState   domain.AppState
	Parameters domain.Parameters
	Events     domain.EventList
}

// FetchAppState asks whether the appliance is on.
func (c *Client) FetchAppState(ctx context.Context) (domain.AppState, error) {
	resp, err := c.Do(ctx, RequestAppState())
	if err != nil {
		return domain.AppState{}, fmt.Errorf("failed to fetch app state: %w", err)
	}
	return resp.AppState, nil
}

// FetchParameters returns the parameter set as sent by the appliance, which
// may be partial.
func (c *Client) FetchParameters(ctx context.Context) (domain.ParameterSet, error) {
	resp, err := c.Do(ctx, RequestParameters())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parameters: %w", err)
	}
	return resp.Parameters, nil
}

// FetchRecentEvents returns the latest detections in server order.
func (c *Client) FetchRecentEvents(ctx context.Context) (domain.EventList, error) {
	resp, err := c.Do(ctx, RequestRecentEvents())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent events: %w", err)
	}
	return resp.Events, nil
}

// Refresh runs the three requests one after another, as the in-flight guard
// requires. Missing parameters keep the values of base.
func (c *Client) Refresh(ctx context.Context, base domain.Parameters) (Snapshot, error) {
	var snap Snapshot

	state, err := c.FetchAppState(ctx)
	if err != nil {
		return snap, err
	}
	snap.AppState = state

	set, err := c.FetchParameters(ctx)
	if err != nil {
		return snap, err
	}
	snap.Parameters = base.Apply(set)

	events, err := c.FetchRecentEvents(ctx)
	if err != nil {
		return snap, err
	}
	snap.Events = events

	return snap, nil
}

// SetPower switches the appliance on or off.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	if err := c.SendCommand(ctx, SetPower(on)); err != nil {
		return fmt.Errorf("failed to set power: %w", err)
	}
	return nil
}

// Trigger plays the recording of voice immediately.
func (c *Client) Trigger(ctx context.Context, voice domain.Voice) error {
	if _, err := domain.ParseVoice(voice.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := c.SendCommand(ctx, ManualTrigger(voice)); err != nil {
		return fmt.Errorf("failed to trigger %s: %w", voice, err)
	}
	return nil
}

// PushParameters validates p against bounds and sends the full set.
func (c *Client) PushParameters(ctx context.Context, p domain.Parameters, bounds domain.Bounds) error {
	if err := p.Validate(bounds); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := c.SendCommand(ctx, UpdateParameters(p)); err != nil {
		return fmt.Errorf("failed to update parameters: %w", err)
	}
	return nil
}

// ResetParameters restores the factory defaults.
func (c *Client) ResetParameters(ctx context.Context) (domain.Parameters, error) {
	defaults := domain.DefaultParameters()
	if err := c.SendCommand(ctx, UpdateParameters(defaults)); err != nil {
		return defaults, fmt.Errorf("failed to reset parameters: %w", err)
	}
	return defaults, nil
}
