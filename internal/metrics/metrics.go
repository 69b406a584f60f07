// Package metrics exposes Prometheus instrumentation for the appliance client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mokactl_connection_up",
		Help: "1 while the appliance connection is ready, 0 otherwise",
	})
	RequestInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mokactl_request_in_flight",
		Help: "1 while a response-bearing request holds the in-flight slot",
	})
)

// Counters
var (
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_state_transitions_total",
		Help: "Connection state transitions by target state",
	}, []string{"state"})
	ConnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_connect_attempts_total",
		Help: "Total dial attempts, including retries",
	})
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_messages_sent_total",
		Help: "Outbound messages by kind (text, file) and outcome",
	}, []string{"kind", "outcome"})
	BytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_bytes_sent_total",
		Help: "Total bytes written to the appliance",
	})
	BytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_bytes_received_total",
		Help: "Total bytes read from the appliance",
	})
	FramesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_frames_received_total",
		Help: "Total complete inbound frames",
	})
	FramingErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_framing_errors_total",
		Help: "Framing failures by direction",
	}, []string{"direction"})
	ParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_parse_errors_total",
		Help: "Payload fragments dropped by the parser, by payload type",
	}, []string{"payload"})
	UnsolicitedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_unsolicited_frames_total",
		Help: "Frames received with no request pending",
	})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_requests_total",
		Help: "Commands by name and outcome",
	}, []string{"command", "outcome"})
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mokactl_uploads_total",
		Help: "Recording uploads by outcome",
	}, []string{"outcome"})
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mokactl_upload_bytes_total",
		Help: "Total recording bytes uploaded",
	})
)

// Histograms
var (
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mokactl_request_duration_seconds",
		Help:    "Time from request write to response frame, by command",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"command"})
	ConnectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mokactl_connect_duration_seconds",
		Help:    "Time to establish a connection, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// Outcome labels shared by the counters above.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
)
