// Package transport owns the single long-lived TCP session to the appliance.
//
// A Manager dials with retry and backoff, writes each outbound message as one
// uninterrupted unit from a dedicated writer goroutine, and feeds every read
// chunk through a framing decoder. State changes, decoded frames and send
// completions are all delivered on one serial dispatch goroutine, in order.
// Every session carries a generation number; work belonging to a closed or
// replaced session is discarded before it can reach an observer.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/logging"
	"github.com/moka-remote/mokactl/internal/metrics"
)

var (
	ErrNotConnected      = errors.New(errors.KindConnection, "send", "not connected")
	ErrConnectInProgress = errors.New(errors.KindConnection, "connect", "connection attempt already in progress")
	ErrClosed            = errors.New(errors.KindConnection, "connect", "connection closed")
)

type writeRequest struct {
	parts  [][]byte
	kind   string
	result chan error
}

// Manager is safe for concurrent use.
type Manager struct {
	opts   Options
	codec  *framing.Codec
	logger *logging.Logger
	queue  serialQueue

	mu            sync.Mutex
	state         State
	lastErr       error
	generation    uint64
	conn          net.Conn
	writes        chan writeRequest
	sessionDone   chan struct{}
	cancelConnect context.CancelFunc

	observersMu    sync.RWMutex
	stateObservers []func(StateChange)
	frameObservers []func(framing.Frame)

	// Owned by the serial queue.
	decoder    *framing.Decoder
	decoderGen uint64
}

// NewManager creates an idle manager. A nil logger selects the global
// transport logger.
func NewManager(opts Options, logger *logging.Logger) (*Manager, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(opts.Address); err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", opts.Address, err)
	}
	if logger == nil {
		logger = logging.GetTransportLogger()
	}
	opts = opts.withDefaults()

	return &Manager{
		opts:   opts,
		codec:  framing.NewCodec(opts.Mode, opts.MaxFrameSize),
		logger: logger.WithField("address", opts.Address),
		state:  StateIdle,
	}, nil
}

// Address returns the appliance address.
func (m *Manager) Address() string { return m.opts.Address }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error attached to the most recent Waiting or Failed state.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnStateChange registers an observer for state transitions.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.stateObservers = append(m.stateObservers, fn)
}

// OnFrame registers an observer for decoded inbound frames.
func (m *Manager) OnFrame(fn func(framing.Frame)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.frameObservers = append(m.frameObservers, fn)
}

// Connect dials the appliance, retrying under the configured policy, and
// returns once the session is ready or every attempt has failed. It is a no-op
// when already ready.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateWaiting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}

	m.generation++
	gen := m.generation
	connectCtx, cancel := context.WithCancel(ctx)
	m.cancelConnect = cancel
	m.lastErr = nil
	m.setStateLocked(StateConnecting, nil, 1)
	m.mu.Unlock()

	return m.connectLoop(connectCtx, cancel, gen)
}

func (m *Manager) connectLoop(ctx context.Context, cancel context.CancelFunc, gen uint64) error {
	defer cancel()

	policy := m.opts.Retry
	start := time.Now()

	for attempt := 1; ; attempt++ {
		metrics.ConnectAttemptsTotal.Inc()
		m.logger.LogConnectionAttempt(m.opts.Address, attempt)

		dialStart := time.Now()
		conn, err := m.dial(ctx)
		if err == nil {
			if !m.becomeReady(gen, conn, attempt) {
				conn.Close()
				return ErrClosed
			}
			metrics.ConnectLatency.Observe(time.Since(start).Seconds())
			m.logger.LogConnectionSuccess(m.opts.Address, m.opts.Mode.String(), time.Since(start))
			return nil
		}
		m.logger.LogConnectionFailure(m.opts.Address, err, time.Since(dialStart))

		cerr := errors.Connection("dial", err)
		if ctx.Err() != nil || attempt >= policy.Attempts() {
			if !m.transitionIf(gen, StateFailed, cerr, attempt) {
				return ErrClosed
			}
			return cerr
		}

		if !m.transitionIf(gen, StateWaiting, cerr, attempt) {
			return ErrClosed
		}
		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			cerr = errors.Connection("dial", ctx.Err())
			if !m.transitionIf(gen, StateFailed, cerr, attempt) {
				return ErrClosed
			}
			return cerr
		case <-timer.C:
		}
		if !m.transitionIf(gen, StateConnecting, nil, attempt+1) {
			return ErrClosed
		}
	}
}

func (m *Manager) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	return m.opts.Dialer(dialCtx, "tcp", m.opts.Address)
}

// becomeReady installs conn as the session of generation gen and starts its
// reader and writer.
func (m *Manager) becomeReady(gen uint64, conn net.Conn, attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state == StateClosed {
		return false
	}

	writes := make(chan writeRequest, writeQueueSize)
	done := make(chan struct{})
	m.conn = conn
	m.writes = writes
	m.sessionDone = done
	m.cancelConnect = nil
	m.setStateLocked(StateReady, nil, attempt)

	go m.writeLoop(conn, gen, writes, done)
	go m.readLoop(conn, gen)
	return true
}

// transitionIf moves to state only if gen is still the live session.
func (m *Manager) transitionIf(gen uint64, state State, err error, attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.state == StateClosed {
		return false
	}
	if state == StateFailed {
		m.cancelConnect = nil
	}
	m.setStateLocked(state, err, attempt)
	return true
}

// setStateLocked records the transition and schedules observer delivery.
// Dispatching under m.mu keeps delivery order identical to transition order.
func (m *Manager) setStateLocked(state State, err error, attempt int) {
	change := StateChange{
		Previous:  m.state,
		State:     state,
		Err:       err,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	m.state = state
	if err != nil {
		m.lastErr = err
	}

	metrics.StateTransitionsTotal.WithLabelValues(state.String()).Inc()
	if state == StateReady {
		metrics.ConnectionUp.Set(1)
	} else {
		metrics.ConnectionUp.Set(0)
	}
	m.logger.LogStateChange(change.Previous.String(), state.String(), attempt, err)

	m.queue.Dispatch(func() {
		m.observersMu.RLock()
		observers := append([]func(StateChange){}, m.stateObservers...)
		m.observersMu.RUnlock()
		for _, fn := range observers {
			fn(change)
		}
	})
}

// teardownLocked ends the current session and invalidates its generation.
func (m *Manager) teardownLocked() {
	m.generation++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.sessionDone != nil {
		close(m.sessionDone)
		m.sessionDone = nil
	}
	m.writes = nil
}

// Close ends the session from any state and discards any partial frame. It
// also aborts a connection attempt in progress. Nothing from the closed
// session reaches an observer after the Closed notification.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	m.teardownLocked()
	m.setStateLocked(StateClosed, nil, 0)
	m.mu.Unlock()

	m.queue.Dispatch(func() {
		m.decoder = nil
	})
	return nil
}

// Send encodes msg and writes all of its parts as one unit. It returns once
// the write has completed or failed. A manager that is not ready rejects the
// message with ErrNotConnected.
func (m *Manager) Send(ctx context.Context, msg framing.Message) error {
	req, done, err := m.enqueue(ctx, msg)
	if err != nil {
		return err
	}
	return waitResult(ctx, req, done)
}

// SendAsync is Send with the completion delivered on the serial dispatch
// goroutine. Messages submitted from one goroutine are written in order.
func (m *Manager) SendAsync(msg framing.Message, completion func(error)) {
	req, done, err := m.enqueue(context.Background(), msg)
	if err != nil {
		if completion != nil {
			m.queue.Dispatch(func() { completion(err) })
		}
		return
	}
	go func() {
		err := waitResult(context.Background(), req, done)
		if completion != nil {
			m.queue.Dispatch(func() { completion(err) })
		}
	}()
}

func (m *Manager) enqueue(ctx context.Context, msg framing.Message) (writeRequest, <-chan struct{}, error) {
	parts, err := m.codec.Encode(msg)
	if err != nil {
		metrics.FramingErrorsTotal.WithLabelValues("outbound").Inc()
		return writeRequest{}, nil, err
	}

	req := writeRequest{parts: parts, kind: messageKind(msg), result: make(chan error, 1)}

	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		metrics.MessagesSentTotal.WithLabelValues(req.kind, metrics.OutcomeRejected).Inc()
		return writeRequest{}, nil, ErrNotConnected
	}
	writes, done := m.writes, m.sessionDone
	m.mu.Unlock()

	select {
	case writes <- req:
		return req, done, nil
	case <-done:
		return writeRequest{}, nil, ErrNotConnected
	case <-ctx.Done():
		return writeRequest{}, nil, ctx.Err()
	}
}

func waitResult(ctx context.Context, req writeRequest, done <-chan struct{}) error {
	select {
	case err := <-req.result:
		return err
	case <-done:
		// The writer may have finished this request just before the session ended.
		select {
		case err := <-req.result:
			return err
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func messageKind(msg framing.Message) string {
	if _, ok := msg.(framing.BinaryFile); ok {
		return "file"
	}
	return "text"
}

func (m *Manager) writeLoop(conn net.Conn, gen uint64, writes <-chan writeRequest, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case req := <-writes:
			err := m.writeParts(conn, req.parts)
			if err != nil {
				err = errors.Connection("write", err)
				metrics.MessagesSentTotal.WithLabelValues(req.kind, metrics.OutcomeError).Inc()
			} else {
				metrics.MessagesSentTotal.WithLabelValues(req.kind, metrics.OutcomeSuccess).Inc()
			}
			req.result <- err
			if err != nil {
				m.failSession(gen, err)
				return
			}
		}
	}
}

func (m *Manager) writeParts(conn net.Conn, parts [][]byte) error {
	if m.opts.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	for _, part := range parts {
		n, err := conn.Write(part)
		metrics.BytesSentTotal.Add(float64(n))
		if err != nil {
			return err
		}
	}
	return nil
}

// failSession handles a write failure. Writes are never retried.
func (m *Manager) failSession(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.state != StateReady {
		return
	}
	m.teardownLocked()
	m.setStateLocked(StateFailed, err, 0)
}

func (m *Manager) readLoop(conn net.Conn, gen uint64) {
	buf := make([]byte, m.opts.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			metrics.BytesReceivedTotal.Add(float64(n))
			m.queue.Dispatch(func() { m.handleChunk(gen, chunk) })
		}
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen && m.state == StateReady
}

// handleChunk runs on the serial queue.
func (m *Manager) handleChunk(gen uint64, chunk []byte) {
	if !m.isCurrent(gen) {
		return
	}
	if m.decoder == nil || m.decoderGen != gen {
		m.decoder = m.codec.NewDecoder()
		m.decoderGen = gen
	}

	frames, err := m.decoder.Feed(chunk)
	if err != nil {
		metrics.FramingErrorsTotal.WithLabelValues("inbound").Inc()
		m.logger.Warn("Dropped inbound bytes", "error", err.Error(), "buffered", m.decoder.Buffered())
	}

	m.observersMu.RLock()
	observers := append([]func(framing.Frame){}, m.frameObservers...)
	m.observersMu.RUnlock()

	for _, frame := range frames {
		// An observer may close the session mid-batch.
		if !m.isCurrent(gen) {
			return
		}
		metrics.FramesReceivedTotal.Inc()
		for _, fn := range observers {
			fn(frame)
		}
	}
}

// handleDrop ends a session whose read side failed. A deliberate Close has
// already invalidated gen, so only unexpected drops get past the check.
func (m *Manager) handleDrop(gen uint64, readErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || m.state != StateReady {
		return
	}

	if stderrors.Is(readErr, io.EOF) {
		readErr = fmt.Errorf("connection closed by peer: %w", readErr)
	}
	cerr := errors.Connection("read", readErr)
	m.teardownLocked()

	if !m.opts.Retry.ReconnectOnDrop {
		m.setStateLocked(StateFailed, cerr, 0)
		return
	}

	m.logger.Info("Session dropped, reconnecting", "error", cerr.Error())
	connectGen := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelConnect = cancel
	m.setStateLocked(StateConnecting, cerr, 1)
	go m.connectLoop(ctx, cancel, connectGen)
}
