package health

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/moka-remote/mokactl/internal/interfaces"
	"github.com/moka-remote/mokactl/internal/logging"
)

func listen(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port
}

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestCheckReadyAndOffline(t *testing.T) {
	host, port := listen(t)
	hm := NewMonitor(nil, logging.NewTestLogger(t))
	hm.Watch(interfaces.Profile{Name: "up", Host: host, Port: port})
	hm.Watch(interfaces.Profile{Name: "down", Host: "127.0.0.1", Port: closedPort(t)})

	if h, _ := hm.Health("up"); h.Status != interfaces.HealthUnknown {
		t.Errorf("status before check = %q, want unknown", h.Status)
	}

	snapshot := hm.CheckAll(context.Background())
	if len(snapshot) != 2 || snapshot[0].Name != "down" || snapshot[1].Name != "up" {
		t.Fatalf("CheckAll() = %+v", snapshot)
	}
	if snapshot[1].Status != interfaces.HealthReady || snapshot[1].LastChecked.IsZero() {
		t.Errorf("up = %+v", snapshot[1])
	}
	if snapshot[0].Status != interfaces.HealthOffline || snapshot[0].Error == "" {
		t.Errorf("down = %+v", snapshot[0])
	}

	history := hm.History("down", 0)
	if len(history) != 1 || history[0].ErrorType != "connection_refused" {
		t.Errorf("History() = %+v", history)
	}

	if _, err := hm.Check(context.Background(), "missing"); err == nil {
		t.Error("Check() of an unwatched profile should fail")
	}
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if !up.Load() {
			return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	hm := NewMonitor(dial, logging.NewTestLogger(t))
	hm.Watch(interfaces.Profile{Name: "home", Host: "10.0.0.1", Port: 8081})

	var changes []string
	hm.OnChange(func(h interfaces.ProfileHealth) { changes = append(changes, h.Status) })

	ctx := context.Background()
	hm.Check(ctx, "home")
	hm.Check(ctx, "home")
	up.Store(false)
	hm.Check(ctx, "home")
	hm.Check(ctx, "home")

	// unknown->ready and ready->offline; repeats are not reported.
	if len(changes) != 2 || changes[0] != interfaces.HealthReady || changes[1] != interfaces.HealthOffline {
		t.Errorf("changes = %v", changes)
	}

	trends, err := hm.Trends("home", time.Minute)
	if err != nil {
		t.Fatalf("Trends() error = %v", err)
	}
	if trends.SampleCount != 4 || trends.UptimePercentage != 50 || trends.AvailabilityTrend != "degrading" {
		t.Errorf("Trends() = %+v", trends)
	}
}

func TestStartAndStop(t *testing.T) {
	var probes atomic.Int32
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		probes.Add(1)
		return nil, context.DeadlineExceeded
	}
	hm := NewMonitor(dial, logging.NewTestLogger(t))
	hm.Watch(interfaces.Profile{Name: "home", Host: "10.0.0.1", Port: 8081})

	if err := hm.Start(context.Background(), 0); err == nil {
		t.Error("Start() accepted a zero interval")
	}
	if err := hm.Start(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := hm.Start(context.Background(), 10*time.Millisecond); err == nil {
		t.Error("second Start() should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for probes.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := hm.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if probes.Load() < 3 {
		t.Fatalf("only %d probes ran", probes.Load())
	}

	stopped := probes.Load()
	time.Sleep(30 * time.Millisecond)
	if probes.Load() != stopped {
		t.Error("probes continued after Stop()")
	}

	h, _ := hm.Health("home")
	if h.Status != interfaces.HealthOffline {
		t.Errorf("status = %q, want offline", h.Status)
	}
	if got := hm.History("home", 1); len(got) != 1 || got[0].ErrorType != "timeout" {
		t.Errorf("History() = %+v", got)
	}
}
