// Package domain defines the records exchanged with the Moka appliance and the
// lenient parsers that map decoded frame payloads onto them.
package domain

import (
	"fmt"
	"strings"
)

// Voice is the persona attached to manual triggers and uploaded recordings.
type Voice string

const (
	VoicePapa      Voice = "Papa"
	VoiceMaman     Voice = "Maman"
	VoiceHeloise   Voice = "Héloïse"
	VoiceOscar     Voice = "Oscar"
	VoiceAugustine Voice = "Augustine"
)

// Voices lists every voice in selector order.
var Voices = []Voice{VoicePapa, VoiceMaman, VoiceHeloise, VoiceOscar, VoiceAugustine}

// ParseVoice resolves a voice name case-insensitively. "Heloise" is accepted
// for terminals that cannot type the diaeresis.
func ParseVoice(name string) (Voice, error) {
	name = strings.TrimSpace(name)
	for _, v := range Voices {
		if strings.EqualFold(string(v), name) {
			return v, nil
		}
	}
	if strings.EqualFold(name, "heloise") {
		return VoiceHeloise, nil
	}
	return "", fmt.Errorf("unknown voice %q", name)
}

// Next returns the voice after v, wrapping around.
func (v Voice) Next() Voice {
	return Voices[(v.index()+1)%len(Voices)]
}

// Previous returns the voice before v, wrapping around.
func (v Voice) Previous() Voice {
	return Voices[(v.index()+len(Voices)-1)%len(Voices)]
}

func (v Voice) index() int {
	for i, candidate := range Voices {
		if candidate == v {
			return i
		}
	}
	return 0
}

func (v Voice) String() string { return string(v) }

// AppState is the on/off flag of the appliance.
type AppState struct {
	On bool
}

func (s AppState) String() string {
	if s.On {
		return "on"
	}
	return "off"
}

// Parameter names as sent by the appliance.
const (
	ParamNoiseThreshold       = "noise_threshold"
	ParamResemblanceThreshold = "resemblance_threshold"
	ParamCooldown             = "cooldown"
	ParamDelay                = "delay"
)

// ParameterNames is the wire order used by UpdateParameters.
var ParameterNames = []string{ParamNoiseThreshold, ParamResemblanceThreshold, ParamCooldown, ParamDelay}

// Parameter is one named value as parsed from a parameter frame.
type Parameter struct {
	Name  string
	Value float64
}

// ParameterSet is the ordered list of parameters carried by one frame. It may
// be partial and may contain names this client does not know.
type ParameterSet []Parameter

// Lookup returns the last value carried for name.
func (ps ParameterSet) Lookup(name string) (float64, bool) {
	value, found := 0.0, false
	for _, p := range ps {
		if p.Name == name {
			value, found = p.Value, true
		}
	}
	return value, found
}

// Parameters is the complete detection configuration of the appliance.
type Parameters struct {
	NoiseThreshold       float64 // dB
	ResemblanceThreshold float64 // 0..1
	Cooldown             float64 // seconds
	Delay                float64 // seconds
}

// DefaultParameters matches the appliance factory settings.
func DefaultParameters() Parameters {
	return Parameters{
		NoiseThreshold:       10.0,
		ResemblanceThreshold: 0.7,
		Cooldown:             120,
		Delay:                2,
	}
}

// Apply merges a parsed set into p. Unknown names are ignored.
func (p Parameters) Apply(set ParameterSet) Parameters {
	for _, param := range set {
		if field := p.field(param.Name); field != nil {
			*field = param.Value
		}
	}
	return p
}

// Get returns the value of a named parameter.
func (p Parameters) Get(name string) (float64, bool) {
	if field := p.field(name); field != nil {
		return *field, true
	}
	return 0, false
}

// Set returns a copy of p with one named parameter replaced.
func (p Parameters) Set(name string, value float64) (Parameters, error) {
	field := p.field(name)
	if field == nil {
		return p, fmt.Errorf("unknown parameter %q", name)
	}
	*field = value
	return p, nil
}

// Values returns the four values in wire order.
func (p Parameters) Values() []float64 {
	return []float64{p.NoiseThreshold, p.ResemblanceThreshold, p.Cooldown, p.Delay}
}

// ParameterSet converts p into a full set in wire order.
func (p Parameters) ParameterSet() ParameterSet {
	values := p.Values()
	set := make(ParameterSet, len(ParameterNames))
	for i, name := range ParameterNames {
		set[i] = Parameter{Name: name, Value: values[i]}
	}
	return set
}

func (p *Parameters) field(name string) *float64 {
	switch name {
	case ParamNoiseThreshold:
		return &p.NoiseThreshold
	case ParamResemblanceThreshold:
		return &p.ResemblanceThreshold
	case ParamCooldown:
		return &p.Cooldown
	case ParamDelay:
		return &p.Delay
	default:
		return nil
	}
}

// Range is an inclusive interval of accepted values.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp pins v to the range.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Bounds holds the accepted range for each parameter. The appliance does not
// validate values on receipt; the client enforces these before sending.
type Bounds map[string]Range

// DefaultBounds are the slider ranges of the phone remote.
func DefaultBounds() Bounds {
	return Bounds{
		ParamNoiseThreshold:       {Min: 0, Max: 20},
		ParamResemblanceThreshold: {Min: 0, Max: 1},
		ParamCooldown:             {Min: 60, Max: 300},
		ParamDelay:                {Min: 0, Max: 5},
	}
}

// Validate checks every parameter of p against b.
func (p Parameters) Validate(b Bounds) error {
	for _, param := range p.ParameterSet() {
		r, ok := b[param.Name]
		if !ok {
			continue
		}
		if !r.Contains(param.Value) {
			return fmt.Errorf("%s=%g is outside [%g, %g]", param.Name, param.Value, r.Min, r.Max)
		}
	}
	return nil
}

// Clamp pins every parameter of p into b.
func (p Parameters) Clamp(b Bounds) Parameters {
	for name, r := range b {
		if field := p.field(name); field != nil {
			*field = r.Clamp(*field)
		}
	}
	return p
}

// EventRecord is one detection reported by the appliance.
type EventRecord struct {
	Timestamp string
	Status    string
	Voice     string // "None" when no recording was played
}

// HasVoice reports whether a recording was played for the event.
func (e EventRecord) HasVoice() bool {
	return e.Voice != "" && e.Voice != "None"
}

// EventList keeps the order the appliance sent.
type EventList []EventRecord
