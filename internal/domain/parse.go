package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/moka-remote/mokactl/internal/errors"
)

// Separators used inside decoded payloads.
const (
	paramSeparator      = ","
	paramValueSeparator = ":"
	eventSeparator      = "?"
	eventFieldSeparator = ";"
	eventFieldCount     = 3
)

// ParseAppState maps a single-character payload onto an AppState. Anything
// other than "0" or "1" is a parse error and must leave the previous state
// untouched.
func ParseAppState(payload string) (AppState, error) {
	switch strings.TrimSpace(payload) {
	case "0":
		return AppState{On: false}, nil
	case "1":
		return AppState{On: true}, nil
	default:
		return AppState{}, errors.Parse("app_state", payload, "expected \"0\" or \"1\"")
	}
}

// ParseParameterSet reads comma separated "name: value" pairs. Empty pieces
// between colons are ignored, so "cooldown:: 90" still reads as cooldown.
// Malformed pairs are skipped and reported in the returned slice; they never
// fail the whole payload.
func ParseParameterSet(payload string) (ParameterSet, []error) {
	var (
		set     ParameterSet
		dropped []error
	)
	for _, pair := range strings.Split(payload, paramSeparator) {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		parts := splitNonEmpty(pair, paramValueSeparator)
		if len(parts) != 2 {
			dropped = append(dropped, errors.Parse("parameter", pair, "expected name: value"))
			continue
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			dropped = append(dropped, errors.Parse("parameter", pair, "empty name"))
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			dropped = append(dropped, errors.Parse("parameter", pair, "value is not a number"))
			continue
		}
		set = append(set, Parameter{Name: name, Value: value})
	}
	return set, dropped
}

// FormatParameterSet is the inverse of ParseParameterSet.
func FormatParameterSet(set ParameterSet) string {
	parts := make([]string, len(set))
	for i, p := range set {
		parts[i] = p.Name + paramValueSeparator + " " + FormatValue(p.Value)
	}
	return strings.Join(parts, paramSeparator+" ")
}

// FormatValue renders a float the way the appliance prints doubles: integral
// values keep a trailing ".0".
func FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// FormatParameterList renders values as the bracketed list used by the
// UpdateParameters command, e.g. "[10.0, 0.7, 120.0, 2.0]".
func FormatParameterList(p Parameters) string {
	values := p.Values()
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ParseParameterList reads the bracketed list produced by FormatParameterList.
func ParseParameterList(list string) (Parameters, error) {
	list = strings.TrimSpace(list)
	if !strings.HasPrefix(list, "[") || !strings.HasSuffix(list, "]") {
		return Parameters{}, fmt.Errorf("parameter list %q is not bracketed", list)
	}
	fields := strings.Split(strings.TrimSuffix(strings.TrimPrefix(list, "["), "]"), ",")
	if len(fields) != len(ParameterNames) {
		return Parameters{}, fmt.Errorf("parameter list has %d values, want %d", len(fields), len(ParameterNames))
	}
	var p Parameters
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Parameters{}, fmt.Errorf("parameter %s: %w", ParameterNames[i], err)
		}
		p, _ = p.Set(ParameterNames[i], v)
	}
	return p, nil
}

func splitNonEmpty(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// ParseEvents reads "?" separated groups of ";" separated triples. Groups that
// do not carry exactly three fields are dropped and reported; empty groups,
// such as the one after a trailing separator, are ignored.
func ParseEvents(payload string) (EventList, []error) {
	var (
		events  EventList
		dropped []error
	)
	for _, group := range strings.Split(payload, eventSeparator) {
		if strings.TrimSpace(group) == "" {
			continue
		}
		fields := strings.Split(group, eventFieldSeparator)
		if len(fields) != eventFieldCount {
			dropped = append(dropped, errors.Parse("event", group,
				fmt.Sprintf("expected %d fields, got %d", eventFieldCount, len(fields))))
			continue
		}
		events = append(events, EventRecord{
			Timestamp: strings.TrimSpace(fields[0]),
			Status:    strings.TrimSpace(fields[1]),
			Voice:     strings.TrimSpace(fields[2]),
		})
	}
	return events, dropped
}

// FormatEvents is the inverse of ParseEvents.
func FormatEvents(events EventList) string {
	groups := make([]string, len(events))
	for i, e := range events {
		groups[i] = strings.Join([]string{e.Timestamp, e.Status, e.Voice}, eventFieldSeparator)
	}
	return strings.Join(groups, eventSeparator)
}
