package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/logging"
)

const waitTimeout = 2 * time.Second

// peer is a minimal appliance stand-in that hands accepted connections to the test.
type peer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &peer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *peer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("no connection accepted")
		return nil
	}
}

// recorder collects observer callbacks.
type recorder struct {
	mu     sync.Mutex
	states []StateChange
	frames []string
	stateC chan StateChange
	frameC chan string
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{stateC: make(chan StateChange, 64), frameC: make(chan string, 64)}
	m.OnStateChange(func(c StateChange) {
		r.mu.Lock()
		r.states = append(r.states, c)
		r.mu.Unlock()
		r.stateC <- c
	})
	m.OnFrame(func(f framing.Frame) {
		r.mu.Lock()
		r.frames = append(r.frames, f.Payload)
		r.mu.Unlock()
		r.frameC <- f.Payload
	})
	return r
}

func (r *recorder) waitState(t *testing.T, want State) StateChange {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case c := <-r.stateC:
			if c.State == want {
				return c
			}
		case <-deadline:
			t.Fatalf("state %s not observed", want)
		}
	}
}

func (r *recorder) waitFrame(t *testing.T) string {
	t.Helper()
	select {
	case f := <-r.frameC:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("no frame delivered")
		return ""
	}
}

func (r *recorder) stateSequence() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := make([]State, len(r.states))
	for i, c := range r.states {
		seq[i] = c.State
	}
	return seq
}

func newTestManager(t *testing.T, address string, mutate func(*Options)) *Manager {
	t.Helper()
	opts := DefaultOptions(address)
	opts.Retry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewManager(opts, logging.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func sameStates(got, want []State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestConnectSendReceive(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), nil)
	rec := newRecorder(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %s", m.State())
	}
	server := p.accept(t)

	if err := m.Send(context.Background(), framing.Text("REQUEST_APP_STATE")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, len("REQUEST_APP_STATE"))
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf) != "REQUEST_APP_STATE" {
		t.Fatalf("server got %q", buf)
	}

	// Reply with the terminator split across writes.
	server.Write([]byte("1END_OF_MES"))
	time.Sleep(10 * time.Millisecond)
	server.Write([]byte("SAGE"))

	if got := rec.waitFrame(t); got != "1" {
		t.Fatalf("frame = %q", got)
	}

	m.queue.Flush()
	if seq := rec.stateSequence(); !sameStates(seq, []State{StateConnecting, StateReady}) {
		t.Fatalf("states = %v", seq)
	}

	// Connecting again while ready is a no-op.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
}

func TestBinaryFileWrittenAsOneUnit(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := p.accept(t)

	data := bytes.Repeat([]byte{0xAB}, 5000)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := m.Send(context.Background(), framing.BinaryFile{Data: data, Sender: "Maman"}); err != nil {
			t.Errorf("Send file: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.Send(context.Background(), framing.Text("REQUEST_PARAMETERS")); err != nil {
			t.Errorf("Send text: %v", err)
		}
	}()
	wg.Wait()

	fileUnit := append(append([]byte("AUDIO_FILE"), data...), "END_OF_FILE_Maman"...)
	total := len(fileUnit) + len("REQUEST_PARAMETERS")
	got := make([]byte, total)
	server.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("server read: %v", err)
	}

	// Either order is fine, but the file must never be interleaved.
	if !bytes.Contains(got, fileUnit) {
		t.Fatal("file parts were interleaved with another message")
	}
}

func TestSendWhenNotConnected(t *testing.T) {
	m := newTestManager(t, "127.0.0.1:1", nil)

	err := m.Send(context.Background(), framing.Text("1"))
	if !stderrors.Is(err, ErrNotConnected) {
		t.Fatalf("Send error = %v, want ErrNotConnected", err)
	}

	done := make(chan error, 1)
	m.SendAsync(framing.Text("1"), func(err error) { done <- err })
	select {
	case err := <-done:
		if !stderrors.Is(err, ErrNotConnected) {
			t.Fatalf("SendAsync error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("completion not delivered")
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	// Grab a free port and release it so dials are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := ln.Addr().String()
	ln.Close()

	m := newTestManager(t, address, nil)
	rec := newRecorder(m)

	err = m.Connect(context.Background())
	if !errors.IsKind(err, errors.KindConnection) {
		t.Fatalf("Connect error = %v, want connection error", err)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %s", m.State())
	}
	if m.Err() == nil {
		t.Fatal("Err should report the dial failure")
	}

	m.queue.Flush()
	want := []State{
		StateConnecting, StateWaiting,
		StateConnecting, StateWaiting,
		StateConnecting, StateFailed,
	}
	if seq := rec.stateSequence(); !sameStates(seq, want) {
		t.Fatalf("states = %v, want %v", seq, want)
	}
}

func TestConnectInProgress(t *testing.T) {
	release := make(chan struct{})
	m := newTestManager(t, "127.0.0.1:9", func(o *Options) {
		o.Dialer = func(ctx context.Context, network, address string) (net.Conn, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, stderrors.New("unreachable")
		}
		o.Retry.MaxAttempts = 1
	})
	rec := newRecorder(m)

	result := make(chan error, 1)
	go func() { result <- m.Connect(context.Background()) }()
	rec.waitState(t, StateConnecting)

	if err := m.Connect(context.Background()); !stderrors.Is(err, ErrConnectInProgress) {
		t.Fatalf("concurrent Connect error = %v", err)
	}

	close(release)
	if err := <-result; err == nil {
		t.Fatal("first Connect should fail")
	}
	rec.waitState(t, StateFailed)
}

func TestCloseAbortsConnect(t *testing.T) {
	m := newTestManager(t, "127.0.0.1:9", func(o *Options) {
		o.Dialer = func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	})
	rec := newRecorder(m)

	result := make(chan error, 1)
	go func() { result <- m.Connect(context.Background()) }()
	rec.waitState(t, StateConnecting)

	m.Close()
	select {
	case err := <-result:
		if !stderrors.Is(err, ErrClosed) {
			t.Fatalf("Connect error = %v, want ErrClosed", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return after Close")
	}
	if m.State() != StateClosed {
		t.Fatalf("state = %s", m.State())
	}
}

func TestCloseDropsPendingFrames(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), nil)
	rec := newRecorder(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := p.accept(t)

	// Half a frame is buffered when the session is closed.
	server.Write([]byte("noise_threshold: 1"))
	time.Sleep(20 * time.Millisecond)
	m.Close()
	server.Write([]byte("END_OF_MESSAGE"))
	time.Sleep(20 * time.Millisecond)
	m.queue.Flush()

	rec.mu.Lock()
	frames := len(rec.frames)
	rec.mu.Unlock()
	if frames != 0 {
		t.Fatalf("stale frames delivered: %v", rec.frames)
	}
	seq := rec.stateSequence()
	if seq[len(seq)-1] != StateClosed {
		t.Fatalf("last state = %s, want closed", seq[len(seq)-1])
	}

	// A fresh session starts with an empty decoder.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	server = p.accept(t)
	server.Write([]byte("0END_OF_MESSAGE"))
	if got := rec.waitFrame(t); got != "0" {
		t.Fatalf("frame = %q, partial frame leaked into new session", got)
	}
}

func TestPeerDropFails(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), nil)
	rec := newRecorder(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.accept(t).Close()

	change := rec.waitState(t, StateFailed)
	if !errors.IsKind(change.Err, errors.KindConnection) {
		t.Fatalf("failure error = %v", change.Err)
	}
	if err := m.Send(context.Background(), framing.Text("1")); !stderrors.Is(err, ErrNotConnected) {
		t.Fatalf("Send after drop = %v", err)
	}
}

func TestPeerDropReconnects(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), func(o *Options) {
		o.Retry.ReconnectOnDrop = true
	})
	rec := newRecorder(m)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, StateReady)
	p.accept(t).Close()

	change := rec.waitState(t, StateConnecting)
	if change.Err == nil {
		t.Fatal("reconnect should carry the drop reason")
	}
	rec.waitState(t, StateReady)
	server := p.accept(t)

	server.Write([]byte("1END_OF_MESSAGE"))
	if got := rec.waitFrame(t); got != "1" {
		t.Fatalf("frame = %q", got)
	}
}

func TestObserverCloseMidBatch(t *testing.T) {
	p := newPeer(t)
	m := newTestManager(t, p.ln.Addr().String(), nil)

	var (
		mu     sync.Mutex
		frames []string
	)
	m.OnFrame(func(f framing.Frame) {
		mu.Lock()
		frames = append(frames, f.Payload)
		mu.Unlock()
		m.Close()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := p.accept(t)
	server.Write([]byte("1END_OF_MESSAGE0END_OF_MESSAGE"))

	deadline := time.Now().Add(waitTimeout)
	for m.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.queue.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(frames) != 1 || frames[0] != "1" {
		t.Fatalf("frames after close = %v", frames)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}
	tests := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 300 * time.Millisecond,
		3: 900 * time.Millisecond,
		4: time.Second,
	}
	for attempt, want := range tests {
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
	if (RetryPolicy{}).Attempts() != 1 {
		t.Error("zero policy should allow one attempt")
	}
}

func TestNewManagerValidatesAddress(t *testing.T) {
	for _, address := range []string{"", "no-port"} {
		if _, err := NewManager(DefaultOptions(address), logging.NewTestLogger(t)); err == nil {
			t.Errorf("NewManager(%q) should fail", address)
		}
	}
}
