// Package health reports whether the appliances named by the configured
// profiles are reachable. A check is a plain TCP connect; nothing is sent, so
// a probe never disturbs a session another client holds.
package health

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	defaultHistorySize  = 100
)

// Snapshot captures one probe result.
type Snapshot struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	ErrorType    string        `json:"errorType,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Trends summarises the recent history of one profile.
type Trends struct {
	Name                string        `json:"name"`
	AnalysisPeriod      time.Duration `json:"analysisPeriod"`
	SampleCount         int           `json:"sampleCount"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	AvailabilityTrend   string        `json:"availabilityTrend"` // "improving", "degrading", "stable"
}

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Monitor implements interfaces.HealthMonitor.
type Monitor struct {
	dial           DialFunc
	logger         *logging.Logger
	maxHistorySize int

	mutex    sync.RWMutex
	profiles map[string]interfaces.Profile
	current  map[string]*interfaces.ProfileHealth
	history  map[string][]Snapshot
	cancel   context.CancelFunc
	done     chan struct{}
	onChange func(interfaces.ProfileHealth)
}

var _ interfaces.HealthMonitor = (*Monitor)(nil)

// NewMonitor creates a monitor. A nil dial uses net.Dialer.
func NewMonitor(dial DialFunc, logger *logging.Logger) *Monitor {
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	if logger == nil {
		logger = logging.GetHealthLogger()
	}
	return &Monitor{
		dial:           dial,
		logger:         logger,
		maxHistorySize: defaultHistorySize,
		profiles:       make(map[string]interfaces.Profile),
		current:        make(map[string]*interfaces.ProfileHealth),
		history:        make(map[string][]Snapshot),
	}
}

// OnChange registers a callback run after every check whose status differs
// from the previous one. It runs on the checking goroutine.
func (hm *Monitor) OnChange(fn func(interfaces.ProfileHealth)) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	hm.onChange = fn
}

// Watch adds or replaces a profile. Its status is unknown until checked.
func (hm *Monitor) Watch(profile interfaces.Profile) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.profiles[profile.Name] = profile
	hm.current[profile.Name] = &interfaces.ProfileHealth{
		Name:    profile.Name,
		Address: profile.Address(),
		Status:  interfaces.HealthUnknown,
	}
}

// Check probes one profile now.
func (hm *Monitor) Check(ctx context.Context, name string) (*interfaces.ProfileHealth, error) {
	hm.mutex.Lock()
	profile, ok := hm.profiles[name]
	if !ok {
		hm.mutex.Unlock()
		return nil, fmt.Errorf("profile '%s' is not monitored", name)
	}
	previous := hm.current[name].Status
	hm.current[name].Status = interfaces.HealthChecking
	hm.mutex.Unlock()

	snapshot := hm.probe(ctx, profile)
	health := &interfaces.ProfileHealth{
		Name:         name,
		Address:      profile.Address(),
		Status:       snapshot.Status,
		LastChecked:  snapshot.Timestamp,
		ResponseTime: snapshot.ResponseTime,
		Error:        snapshot.Error,
	}

	hm.mutex.Lock()
	hm.current[name] = health
	hm.recordSnapshotLocked(name, snapshot)
	onChange := hm.onChange
	hm.mutex.Unlock()

	var probeErr error
	if snapshot.Error != "" {
		probeErr = stderrors.New(snapshot.Error)
	}
	hm.logger.LogHealthCheck(name, snapshot.Status, snapshot.ResponseTime, probeErr)

	if onChange != nil && previous != snapshot.Status {
		onChange(*health)
	}
	result := *health
	return &result, nil
}

// CheckAll probes every watched profile concurrently.
func (hm *Monitor) CheckAll(ctx context.Context) []interfaces.ProfileHealth {
	hm.mutex.RLock()
	names := make([]string, 0, len(hm.profiles))
	for name := range hm.profiles {
		names = append(names, name)
	}
	hm.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			hm.Check(ctx, name)
		}(name)
	}
	wg.Wait()
	return hm.Snapshot()
}

func (hm *Monitor) probe(ctx context.Context, profile interfaces.Profile) Snapshot {
	timeout := profile.DialTimeout
	if timeout <= 0 || timeout > DefaultProbeTimeout {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := hm.dial(ctx, "tcp", profile.Address())
	snapshot := Snapshot{Timestamp: time.Now(), ResponseTime: time.Since(start)}
	if err != nil {
		snapshot.Status = interfaces.HealthOffline
		snapshot.ErrorType = classifyNetworkError(err)
		snapshot.Error = fmt.Sprintf("connection failed: %v", err)
		return snapshot
	}
	conn.Close()
	snapshot.Status = interfaces.HealthReady
	return snapshot
}

// Health returns the last known status of a profile.
func (hm *Monitor) Health(name string) (*interfaces.ProfileHealth, error) {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	h, ok := hm.current[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' is not monitored", name)
	}
	result := *h
	return &result, nil
}

// Snapshot returns every watched profile's status, sorted by name.
func (hm *Monitor) Snapshot() []interfaces.ProfileHealth {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	out := make([]interfaces.ProfileHealth, 0, len(hm.current))
	for _, h := range hm.current {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start checks every profile now and then every interval, until ctx ends or
// Stop is called.
func (hm *Monitor) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}

	hm.mutex.Lock()
	if hm.cancel != nil {
		hm.mutex.Unlock()
		return fmt.Errorf("health monitoring already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	hm.cancel = cancel
	hm.done = done
	hm.mutex.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		hm.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hm.CheckAll(ctx)
			}
		}
	}()
	return nil
}

// Stop ends periodic checks and waits for the running round to finish.
func (hm *Monitor) Stop() error {
	hm.mutex.Lock()
	cancel, done := hm.cancel, hm.done
	hm.cancel, hm.done = nil, nil
	hm.mutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// History returns up to limit of the most recent snapshots for name.
func (hm *Monitor) History(name string, limit int) []Snapshot {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history := hm.history[name]
	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
	}
	return append([]Snapshot(nil), history[start:]...)
}

// Trends analyses the snapshots taken within the last period.
func (hm *Monitor) Trends(name string, period time.Duration) (*Trends, error) {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history, exists := hm.history[name]
	if !exists {
		return nil, fmt.Errorf("no health history available for profile '%s'", name)
	}

	cutoff := time.Now().Add(-period)
	var recent []Snapshot
	for _, s := range history {
		if s.Timestamp.After(cutoff) {
			recent = append(recent, s)
		}
	}

	trends := &Trends{Name: name, AnalysisPeriod: period, SampleCount: len(recent)}
	if len(recent) == 0 {
		return trends, nil
	}

	var total time.Duration
	for _, s := range recent {
		total += s.ResponseTime
	}
	trends.UptimePercentage = uptime(recent)
	trends.AverageResponseTime = total / time.Duration(len(recent))

	trends.AvailabilityTrend = "stable"
	if len(recent) >= 2 {
		first, second := uptime(recent[:len(recent)/2]), uptime(recent[len(recent)/2:])
		switch {
		case second > first:
			trends.AvailabilityTrend = "improving"
		case second < first:
			trends.AvailabilityTrend = "degrading"
		}
	}
	return trends, nil
}

func uptime(snapshots []Snapshot) float64 {
	healthy := 0
	for _, s := range snapshots {
		if s.Status == interfaces.HealthReady {
			healthy++
		}
	}
	return float64(healthy) / float64(len(snapshots)) * 100
}

func (hm *Monitor) recordSnapshotLocked(name string, snapshot Snapshot) {
	hm.history[name] = append(hm.history[name], snapshot)
	if len(hm.history[name]) > hm.maxHistorySize {
		hm.history[name] = hm.history[name][1:]
	}
}

// classifyNetworkError categorizes dial errors for diagnostics
func classifyNetworkError(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case stderrors.As(err, &dnsErr):
		return "dns_failure"
	case stderrors.Is(err, syscall.ENETUNREACH), stderrors.Is(err, syscall.EHOSTUNREACH):
		return "network_unreachable"
	default:
		return "unknown_network_error"
	}
}
