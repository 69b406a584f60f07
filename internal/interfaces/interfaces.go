// Package interfaces defines the records and contracts shared between the
// command line, the TUI and the packages that back them, so that each can be
// replaced in tests.
package interfaces

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/framing"
	"github.com/moka-remote/mokactl/internal/protocol"
	"github.com/moka-remote/mokactl/internal/transport"
)

// Profile describes how to reach one appliance.
type Profile struct {
	Name            string            `yaml:"name"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	Framing         string            `yaml:"framing,omitempty"`
	DefaultVoice    string            `yaml:"default_voice,omitempty"`
	Theme           string            `yaml:"theme,omitempty"`
	DialTimeout     time.Duration     `yaml:"dial_timeout,omitempty"`
	WriteTimeout    time.Duration     `yaml:"write_timeout,omitempty"`
	ResponseTimeout time.Duration     `yaml:"response_timeout,omitempty"`
	MaxFrameSize    int               `yaml:"max_frame_size,omitempty"`
	Retry           RetryConfig       `yaml:"retry"`
	Metadata        map[string]string `yaml:"metadata,omitempty"`
}

// RetryConfig is the YAML form of transport.RetryPolicy.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	Multiplier      float64       `yaml:"multiplier"`
	ReconnectOnDrop bool          `yaml:"reconnect_on_drop"`
}

// Address joins host and port.
func (p *Profile) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Voice returns the profile's default voice, falling back to the first one.
func (p *Profile) Voice() domain.Voice {
	if v, err := domain.ParseVoice(p.DefaultVoice); err == nil {
		return v
	}
	return domain.Voices[0]
}

// TransportOptions converts the profile into connection settings. Zero
// durations and sizes keep the transport defaults.
func (p *Profile) TransportOptions() (transport.Options, error) {
	mode, err := framing.ParseMode(p.Framing)
	if err != nil {
		return transport.Options{}, fmt.Errorf("profile %s: %w", p.Name, err)
	}

	opts := transport.DefaultOptions(p.Address())
	opts.Mode = mode
	if p.MaxFrameSize > 0 {
		opts.MaxFrameSize = p.MaxFrameSize
	}
	if p.DialTimeout > 0 {
		opts.DialTimeout = p.DialTimeout
	}
	if p.WriteTimeout > 0 {
		opts.WriteTimeout = p.WriteTimeout
	}
	if p.Retry.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = p.Retry.MaxAttempts
	}
	if p.Retry.InitialDelay > 0 {
		opts.Retry.InitialDelay = p.Retry.InitialDelay
	}
	if p.Retry.MaxDelay > 0 {
		opts.Retry.MaxDelay = p.Retry.MaxDelay
	}
	if p.Retry.Multiplier > 0 {
		opts.Retry.Multiplier = p.Retry.Multiplier
	}
	opts.Retry.ReconnectOnDrop = p.Retry.ReconnectOnDrop
	return opts, nil
}

// Theme represents visual styling configuration
type Theme struct {
	Name    string `yaml:"name"`
	Success string `yaml:"success"`
	Error   string `yaml:"error"`
	Warning string `yaml:"warning"`
	Info    string `yaml:"info"`
}

// ConfigManager handles profile and theme management
type ConfigManager interface {
	// LoadProfile retrieves a profile by name from the configuration file
	LoadProfile(name string) (*Profile, error)

	// SaveProfile persists a profile to the configuration file
	SaveProfile(profile *Profile) error

	// ListProfiles returns all available profile names, sorted
	ListProfiles() ([]string, error)

	// DefaultProfile returns the name of the profile used when none is given
	DefaultProfile() (string, error)

	// LoadTheme retrieves theme configuration by name
	LoadTheme(name string) (*Theme, error)

	// ValidateProfile ensures profile has all required fields
	ValidateProfile(profile *Profile) error

	// GetConfigPath returns the path to the configuration file
	GetConfigPath() string
}

// ApplianceClient is the remote-control surface used by the TUI and the
// command line. *protocol.Client implements it.
type ApplianceClient interface {
	Connect(ctx context.Context) error
	Close() error
	State() transport.State
	Address() string
	Busy() bool
	Statistics() protocol.Statistics

	OnStateChange(fn func(transport.StateChange))
	OnAppState(fn func(domain.AppState))
	OnParameterSet(fn func(domain.ParameterSet))
	OnEventList(fn func(domain.EventList))

	FetchAppState(ctx context.Context) (domain.AppState, error)
	FetchParameters(ctx context.Context) (domain.ParameterSet, error)
	FetchRecentEvents(ctx context.Context) (domain.EventList, error)
	Refresh(ctx context.Context, base domain.Parameters) (protocol.Snapshot, error)
	SetPower(ctx context.Context, on bool) error
	Trigger(ctx context.Context, voice domain.Voice) error
	PushParameters(ctx context.Context, p domain.Parameters, bounds domain.Bounds) error
	ResetParameters(ctx context.Context) (domain.Parameters, error)
	UploadRecording(ctx context.Context, data []byte, voice domain.Voice) error
}

var _ ApplianceClient = (*protocol.Client)(nil)

// StoredEvent is an event remembered in the local history.
type StoredEvent struct {
	ID        int64
	Profile   string
	Event     domain.EventRecord
	FirstSeen time.Time
}

// StoredUpload is one recording sent to an appliance.
type StoredUpload struct {
	ID         int64
	Profile    string
	Voice      string
	FileName   string
	Size       int64
	Digest     string
	UploadedAt time.Time
}

// HistoryStore keeps a local log of events seen and recordings uploaded.
type HistoryStore interface {
	// RecordEvents stores events not seen before and returns how many were new
	RecordEvents(profile string, events domain.EventList) (int, error)

	// ListEvents returns the latest events for profile, newest first
	ListEvents(profile string, limit int) ([]StoredEvent, error)

	// RecordUpload stores an upload and returns its ID
	RecordUpload(upload StoredUpload) (int64, error)

	// ListUploads returns the latest uploads for profile, newest first
	ListUploads(profile string, limit int) ([]StoredUpload, error)

	// FindUploadByDigest returns the last upload of the same content, if any
	FindUploadByDigest(profile, digest string) (*StoredUpload, error)

	Close() error
}

// Reachability states reported by a HealthMonitor.
const (
	HealthReady    = "ready"
	HealthOffline  = "offline"
	HealthChecking = "checking"
	HealthUnknown  = "unknown"
)

// ProfileHealth represents the reachability of a profile's appliance
type ProfileHealth struct {
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Status       string        `json:"status"`
	LastChecked  time.Time     `json:"lastChecked"`
	ResponseTime time.Duration `json:"responseTime,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// HealthMonitor probes appliances in the background
type HealthMonitor interface {
	// Watch adds or replaces a profile in the monitored set
	Watch(profile Profile)

	// Check probes one profile immediately
	Check(ctx context.Context, name string) (*ProfileHealth, error)

	// Health returns the last known status of a profile
	Health(name string) (*ProfileHealth, error)

	// Snapshot returns the status of every watched profile, sorted by name
	Snapshot() []ProfileHealth

	// Start begins periodic checks until ctx is cancelled or Stop is called
	Start(ctx context.Context, interval time.Duration) error

	// Stop ends periodic checks
	Stop() error
}
