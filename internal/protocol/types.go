// Package protocol implements the appliance command protocol, revision 2.
// This file defines the typed commands and their wire payloads, together with
// the responses decoded from inbound frames.
package protocol

import (
	"fmt"
	"time"

	"github.com/moka-remote/mokactl/internal/domain"
	"github.com/moka-remote/mokactl/internal/errors"
	"github.com/moka-remote/mokactl/internal/framing"
)

// ProtocolVersion identifies the wire revision implemented here.
const ProtocolVersion = "2"

// Request payloads.
const (
	PayloadRequestAppState    = "REQUEST_APP_STATE"
	PayloadRequestParameters  = "REQUEST_PARAMETERS"
	PayloadRequestLastEvents  = "REQUEST_LAST_BARKS"
	payloadPowerOn            = "1"
	payloadPowerOff           = "0"
	payloadTriggerPrefix      = "2 "
	payloadUpdateParamsPrefix = "3 "
)

// DefaultResponseTimeout bounds the wait for a response frame.
const DefaultResponseTimeout = 5 * time.Second

var (
	ErrRequestInFlight = errors.New(errors.KindProtocol, "request", "another request is already in flight")
	ErrResponseTimeout = errors.New(errors.KindProtocol, "request", "timed out waiting for response")
	ErrInvalidCommand  = errors.New(errors.KindProtocol, "command", "invalid command")
	ErrConnectionLost  = errors.New(errors.KindConnection, "request", "connection lost before response")
)

// CommandKind enumerates the commands the appliance understands.
type CommandKind int

const (
	KindRequestAppState CommandKind = iota
	KindRequestParameters
	KindRequestRecentEvents
	KindSetPower
	KindManualTrigger
	KindUpdateParameters
	KindUploadRecording
)

func (k CommandKind) String() string {
	switch k {
	case KindRequestAppState:
		return "request_app_state"
	case KindRequestParameters:
		return "request_parameters"
	case KindRequestRecentEvents:
		return "request_recent_events"
	case KindSetPower:
		return "set_power"
	case KindManualTrigger:
		return "manual_trigger"
	case KindUpdateParameters:
		return "update_parameters"
	case KindUploadRecording:
		return "upload_recording"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is one typed operation. Build it with the constructors below.
type Command struct {
	Kind       CommandKind
	On         bool
	Voice      domain.Voice
	Parameters domain.Parameters
	Data       []byte
}

func RequestAppState() Command     { return Command{Kind: KindRequestAppState} }
func RequestParameters() Command   { return Command{Kind: KindRequestParameters} }
func RequestRecentEvents() Command { return Command{Kind: KindRequestRecentEvents} }

func SetPower(on bool) Command { return Command{Kind: KindSetPower, On: on} }

func ManualTrigger(voice domain.Voice) Command {
	return Command{Kind: KindManualTrigger, Voice: voice}
}

func UpdateParameters(p domain.Parameters) Command {
	return Command{Kind: KindUpdateParameters, Parameters: p}
}

func UploadRecording(data []byte, voice domain.Voice) Command {
	return Command{Kind: KindUploadRecording, Data: data, Voice: voice}
}

// Name is the command's label in logs and metrics.
func (c Command) Name() string { return c.Kind.String() }

// ExpectsResponse reports whether the command takes the in-flight slot.
func (c Command) ExpectsResponse() bool {
	switch c.Kind {
	case KindRequestAppState, KindRequestParameters, KindRequestRecentEvents:
		return true
	default:
		return false
	}
}

// Message encodes the command for the transport.
func (c Command) Message() (framing.Message, error) {
	switch c.Kind {
	case KindRequestAppState:
		return framing.Text(PayloadRequestAppState), nil
	case KindRequestParameters:
		return framing.Text(PayloadRequestParameters), nil
	case KindRequestRecentEvents:
		return framing.Text(PayloadRequestLastEvents), nil
	case KindSetPower:
		if c.On {
			return framing.Text(payloadPowerOn), nil
		}
		return framing.Text(payloadPowerOff), nil
	case KindManualTrigger:
		if c.Voice == "" {
			return nil, fmt.Errorf("%w: manual trigger needs a voice", ErrInvalidCommand)
		}
		return framing.Text(payloadTriggerPrefix + c.Voice.String()), nil
	case KindUpdateParameters:
		return framing.Text(payloadUpdateParamsPrefix + domain.FormatParameterList(c.Parameters)), nil
	case KindUploadRecording:
		if c.Voice == "" {
			return nil, fmt.Errorf("%w: upload needs a voice", ErrInvalidCommand)
		}
		if len(c.Data) == 0 {
			return nil, fmt.Errorf("%w: upload is empty", ErrInvalidCommand)
		}
		return framing.BinaryFile{Data: c.Data, Sender: c.Voice.String()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, int(c.Kind))
	}
}

// Response is the decoded answer to a response-bearing command. Only the
// field matching the command kind is set.
type Response struct {
	Command    Command
	RequestID  string
	Latency    time.Duration
	AppState   domain.AppState
	Parameters domain.ParameterSet
	Events     domain.EventList
	// Dropped lists fragments the lenient parsers skipped.
	Dropped []error
}

// Statistics tracks request outcomes for the status footer.
type Statistics struct {
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	RejectedRequests    int64
	TimedOutRequests    int64
	UnsolicitedFrames   int64
	ParseErrors         int64
	AverageResponseTime time.Duration
	LastRequestTime     time.Time
}
