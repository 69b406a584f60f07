package transport

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/moka-remote/mokactl/internal/framing"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateWaiting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange is delivered to observers on every transition. Err is set for
// Waiting and Failed, and for Connecting when it follows a dropped session.
type StateChange struct {
	Previous  State
	State     State
	Err       error
	Attempt   int
	Timestamp time.Time
}

// RetryPolicy governs dial retries and reconnection after a dropped session.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	ReconnectOnDrop bool
}

// DefaultRetryPolicy retries a failed dial twice with exponential backoff and
// leaves a dropped session failed.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

// Attempts returns the number of dials allowed, at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given failed attempt, starting at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Options configures a Manager.
type Options struct {
	Address        string
	Mode           framing.Mode
	MaxFrameSize   int
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
	Retry          RetryPolicy

	// Dialer replaces net.Dialer, mainly for tests.
	Dialer func(ctx context.Context, network, address string) (net.Conn, error)
}

// Defaults used when Options fields are left zero.
const (
	DefaultAddress        = "192.168.1.37:8081"
	DefaultDialTimeout    = 5 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultReadBufferSize = 1024
	writeQueueSize        = 64
)

// DefaultOptions returns the options used to reach the appliance at address.
func DefaultOptions(address string) Options {
	return Options{
		Address:        address,
		Mode:           framing.ModeDelimited,
		MaxFrameSize:   framing.DefaultMaxFrameSize,
		DialTimeout:    DefaultDialTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ReadBufferSize: DefaultReadBufferSize,
		Retry:          DefaultRetryPolicy(),
	}
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = framing.DefaultMaxFrameSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.Dialer == nil {
		d := &net.Dialer{}
		o.Dialer = d.DialContext
	}
	return o
}
