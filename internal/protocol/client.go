// Package protocol implements the appliance command protocol on top of the
// transport session. This file provides the Client, which enforces a single
// in-flight request, correlates response frames with the request that asked
// for them, and fans decoded records out to typed observers.
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/metrics"
	"github.com/moka-remote/mokactl/internal/transport"
)

// orphanGrace is how many response timeouts an abandoned request may keep
// the slot while its reply is still expected.
const orphanGrace = 3

type result struct {
	resp Response
	err  error
}

type pendingRequest struct {
	id     string
	cmd    Command
	sentAt time.Time
	timer  *time.Timer
	done   chan result
}

// Client is safe for concurrent use. All observer callbacks run on the
// transport's serial dispatch goroutine.
type Client struct {
	transport       *transport.Manager
	logger          *logging.Logger
	responseTimeout time.Duration

	mu      sync.Mutex
	pending *pendingRequest
	// orphan is a request given up after its bytes were written. It keeps
	// the slot closed until its late reply is discarded or orphanGrace
	// response timeouts pass.
	orphan *pendingRequest
	stats  Statistics

	observersMu       sync.RWMutex
	stateObservers    []func(transport.StateChange)
	appStateObservers []func(domain.AppState)
	paramObservers    []func(domain.ParameterSet)
	eventObservers    []func(domain.EventList)
}

// NewClient binds a client to a transport manager. A non-positive timeout
// selects DefaultResponseTimeout.
func NewClient(manager *transport.Manager, responseTimeout time.Duration, logger *logging.Logger) (*Client, error) {
	if manager == nil {
		return nil, fmt.Errorf("transport manager cannot be nil")
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	if logger == nil {
		logger = logging.GetProtocolLogger()
	}

	c := &Client{
		transport:       manager,
		logger:          logger,
		responseTimeout: responseTimeout,
	}
	manager.OnStateChange(c.handleStateChange)
	manager.OnFrame(c.handleFrame)
	return c, nil
}

// Connect opens the session. The receive loop starts automatically.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close ends the session. A pending request fails with a connection error.
func (c *Client) Close() error {
	return c.transport.Close()
}

// State returns the transport state.
func (c *Client) State() transport.State {
	return c.transport.State()
}

// Address returns the appliance address.
func (c *Client) Address() string {
	return c.transport.Address()
}

// Busy reports whether the in-flight slot is taken, either by a pending
// request or by one still owed a late reply.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil || c.orphan != nil
}

// Statistics returns a snapshot of request counters.
func (c *Client) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// OnStateChange registers an observer for connection state changes.
func (c *Client) OnStateChange(fn func(transport.StateChange)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.stateObservers = append(c.stateObservers, fn)
}

// OnAppState registers an observer for decoded app states.
func (c *Client) OnAppState(fn func(domain.AppState)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.appStateObservers = append(c.appStateObservers, fn)
}

// OnParameterSet registers an observer for decoded parameter sets.
func (c *Client) OnParameterSet(fn func(domain.ParameterSet)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.paramObservers = append(c.paramObservers, fn)
}

// OnEventList registers an observer for decoded event lists.
func (c *Client) OnEventList(fn func(domain.EventList)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.eventObservers = append(c.eventObservers, fn)
}

// SendCommand writes cmd. A response-bearing command takes the in-flight slot
// and its decoded answer is delivered to the typed observers; the call itself
// returns once the write completes.
func (c *Client) SendCommand(ctx context.Context, cmd Command) error {
	if cmd.ExpectsResponse() {
		_, err := c.start(ctx, cmd)
		return err
	}

	msg, err := cmd.Message()
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(cmd.Name(), metrics.OutcomeRejected).Inc()
		return err
	}
	err = c.transport.Send(ctx, msg)
	c.recordFireAndForget(cmd, err)
	return err
}

// Do sends cmd and, for response-bearing commands, waits for the decoded
// response. Observers are notified before Do returns.
func (c *Client) Do(ctx context.Context, cmd Command) (Response, error) {
	if !cmd.ExpectsResponse() {
		return Response{Command: cmd}, c.SendCommand(ctx, cmd)
	}

	p, err := c.start(ctx, cmd)
	if err != nil {
		return Response{Command: cmd}, err
	}

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		if c.abandon(p) {
			c.complete(p, Response{Command: cmd, RequestID: p.id}, ctx.Err())
		}
		r := <-p.done
		return r.resp, r.err
	}
}

// UploadRecording sends a recording tagged with voice.
func (c *Client) UploadRecording(ctx context.Context, data []byte, voice domain.Voice) error {
	err := c.SendCommand(ctx, UploadRecording(data, voice))
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	} else {
		metrics.UploadBytesTotal.Add(float64(len(data)))
	}
	metrics.UploadsTotal.WithLabelValues(outcome).Inc()
	return err
}

// start takes the in-flight slot, writes the request and arms its timeout.
func (c *Client) start(ctx context.Context, cmd Command) (*pendingRequest, error) {
	msg, err := cmd.Message()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if holder := c.slotHolder(); holder != nil {
		c.stats.RejectedRequests++
		busy := holder.cmd.Name()
		c.mu.Unlock()
		metrics.RequestsTotal.WithLabelValues(cmd.Name(), metrics.OutcomeRejected).Inc()
		c.logger.Debug("Request rejected", "command", cmd.Name(), "in_flight", busy)
		return nil, ErrRequestInFlight
	}
	p := &pendingRequest{
		id:     uuid.NewString(),
		cmd:    cmd,
		sentAt: time.Now(),
		done:   make(chan result, 1),
	}
	c.pending = p
	c.mu.Unlock()
	metrics.RequestInFlight.Set(1)

	c.logger.Debug("Sending request", "request_id", p.id, "command", cmd.Name())

	if err := c.transport.Send(ctx, msg); err != nil {
		if c.detach(p) {
			c.complete(p, Response{Command: cmd, RequestID: p.id}, err)
		}
		return nil, err
	}

	c.mu.Lock()
	if c.pending == p {
		p.timer = time.AfterFunc(c.responseTimeout, func() { c.expire(p) })
	}
	c.mu.Unlock()
	return p, nil
}

// detach frees the slot if p still holds it. Exactly one caller wins.
func (c *Client) detach(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	metrics.RequestInFlight.Set(0)
	return true
}

// slotHolder returns the request occupying the slot. Callers hold c.mu.
func (c *Client) slotHolder() *pendingRequest {
	if c.pending != nil {
		return c.pending
	}
	return c.orphan
}

// abandon gives up on p, whose request is already on the wire, and parks it
// as the orphan so the next inbound frame is dropped instead of being read as
// the answer to a later request. Like detach, exactly one caller wins.
func (c *Client) abandon(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	c.orphan = p
	p.timer = time.AfterFunc(orphanGrace*c.responseTimeout, func() { c.releaseOrphan(p, "no late reply") })
	return true
}

// releaseOrphan reopens the slot if p is still the orphan.
func (c *Client) releaseOrphan(p *pendingRequest, reason string) bool {
	c.mu.Lock()
	if c.orphan != p {
		c.mu.Unlock()
		return false
	}
	c.orphan = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()
	metrics.RequestInFlight.Set(0)
	c.logger.Debug("Slot released", "request_id", p.id, "command", p.cmd.Name(), "reason", reason)
	return true
}

func (c *Client) expire(p *pendingRequest) {
	if !c.abandon(p) {
		return
	}
	c.logger.Warn("Request timed out", "request_id", p.id, "command", p.cmd.Name(), "timeout", c.responseTimeout)
	c.complete(p, Response{Command: p.cmd, RequestID: p.id}, ErrResponseTimeout)
}

// complete records the outcome and hands it to the waiter, if any.
func (c *Client) complete(p *pendingRequest, resp Response, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == ErrResponseTimeout:
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.RequestsTotal.WithLabelValues(p.cmd.Name(), outcome).Inc()

	c.mu.Lock()
	c.stats.TotalRequests++
	c.stats.LastRequestTime = time.Now()
	switch outcome {
	case metrics.OutcomeSuccess:
		c.stats.SuccessfulRequests++
		n := time.Duration(c.stats.SuccessfulRequests)
		c.stats.AverageResponseTime = (c.stats.AverageResponseTime*(n-1) + resp.Latency) / n
	case metrics.OutcomeTimeout:
		c.stats.TimedOutRequests++
		c.stats.FailedRequests++
	default:
		c.stats.FailedRequests++
	}
	c.mu.Unlock()

	p.done <- result{resp: resp, err: err}
}

func (c *Client) recordFireAndForget(cmd Command, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		c.logger.Warn("Command failed", "command", cmd.Name(), "error", err.Error())
	} else {
		c.logger.Debug("Command sent", "command", cmd.Name())
	}
	metrics.RequestsTotal.WithLabelValues(cmd.Name(), outcome).Inc()
}

// handleStateChange runs on the serial dispatch goroutine.
func (c *Client) handleStateChange(change transport.StateChange) {
	if change.State != transport.StateReady {
		c.mu.Lock()
		p, orphan := c.pending, c.orphan
		c.mu.Unlock()
		// A new session never carries the old one's late reply.
		if orphan != nil {
			c.releaseOrphan(orphan, change.State.String())
		}
		if p != nil && c.detach(p) {
			err := error(ErrConnectionLost)
			if change.Err != nil {
				err = fmt.Errorf("%w: %v", ErrConnectionLost, change.Err)
			}
			c.logger.Debug("Pending request failed", "request_id", p.id, "state", change.State.String())
			c.complete(p, Response{Command: p.cmd, RequestID: p.id}, err)
		}
	}

	c.observersMu.RLock()
	observers := append([]func(transport.StateChange){}, c.stateObservers...)
	c.observersMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// handleFrame runs on the serial dispatch goroutine.
func (c *Client) handleFrame(frame framing.Frame) {
	c.mu.Lock()
	p, orphan := c.pending, c.orphan
	c.mu.Unlock()

	if orphan != nil && c.releaseOrphan(orphan, "late reply") {
		c.dropUnsolicited(frame, orphan.id)
		return
	}
	if p == nil || !c.detach(p) {
		c.dropUnsolicited(frame, "")
		return
	}

	resp := Response{Command: p.cmd, RequestID: p.id, Latency: time.Since(p.sentAt)}
	metrics.RequestLatency.WithLabelValues(p.cmd.Name()).Observe(resp.Latency.Seconds())

	err := c.decode(frame.Payload, &resp)
	if err == nil {
		c.notify(resp)
	}
	c.logger.Debug("Response received", "request_id", p.id, "command", p.cmd.Name(), "latency", resp.Latency)
	c.complete(p, resp, err)
}

func (c *Client) dropUnsolicited(frame framing.Frame, lateFor string) {
	c.mu.Lock()
	c.stats.UnsolicitedFrames++
	c.mu.Unlock()
	metrics.UnsolicitedFramesTotal.Inc()
	if lateFor != "" {
		c.logger.Warn("Dropped late reply", "request_id", lateFor, "payload", truncate(frame.Payload, 80))
		return
	}
	c.logger.Warn("Dropped unsolicited frame", "payload", truncate(frame.Payload, 80))
}

// decode fills resp from payload. A parse failure of the whole payload is
// returned; skipped fragments are recorded in resp.Dropped.
func (c *Client) decode(payload string, resp *Response) error {
	label := resp.Command.Name()
	switch resp.Command.Kind {
	case KindRequestAppState:
		state, err := domain.ParseAppState(payload)
		if err != nil {
			c.recordParseError(label, err)
			return err
		}
		resp.AppState = state
	case KindRequestParameters:
		resp.Parameters, resp.Dropped = domain.ParseParameterSet(payload)
	case KindRequestRecentEvents:
		resp.Events, resp.Dropped = domain.ParseEvents(payload)
	default:
		return errors.New(errors.KindProtocol, "decode", "command has no response")
	}
	for _, err := range resp.Dropped {
		c.recordParseError(label, err)
	}
	return nil
}

func (c *Client) recordParseError(label string, err error) {
	c.mu.Lock()
	c.stats.ParseErrors++
	c.mu.Unlock()
	metrics.ParseErrorsTotal.WithLabelValues(label).Inc()
	c.logger.Warn("Dropped malformed payload fragment", "command", label, "error", err.Error())
}

func (c *Client) notify(resp Response) {
	c.observersMu.RLock()
	appState := append([]func(domain.AppState){}, c.appStateObservers...)
	params := append([]func(domain.ParameterSet){}, c.paramObservers...)
	events := append([]func(domain.EventList){}, c.eventObservers...)
	c.observersMu.RUnlock()

	switch resp.Command.Kind {
	case KindRequestAppState:
		for _, fn := range appState {
			fn(resp.AppState)
		}
	case KindRequestParameters:
		for _, fn := range params {
			fn(resp.Parameters)
		}
	case KindRequestRecentEvents:
		for _, fn := range events {
			fn(resp.Events)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
