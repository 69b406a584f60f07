package domain

import (
	"testing"

	"github.com/moka-remote/mokactl/internal/errors"
)

func TestParseAppState(t *testing.T) {
	tests := []struct {
		payload string
		want    AppState
		wantErr bool
	}{
		{"1", AppState{On: true}, false},
		{"0", AppState{On: false}, false},
		{" 1\n", AppState{On: true}, false},
		{"2", AppState{}, true},
		{"", AppState{}, true},
		{"10", AppState{}, true},
	}

	for _, tt := range tests {
		got, err := ParseAppState(tt.payload)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAppState(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.IsKind(err, errors.KindParse) {
			t.Errorf("ParseAppState(%q) error kind = %q", tt.payload, errors.KindOf(err))
		}
		if got != tt.want {
			t.Errorf("ParseAppState(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestParseParameterSetPartial(t *testing.T) {
	set, dropped := ParseParameterSet("noise_threshold: 12.5, cooldown: 90")
	if len(dropped) != 0 {
		t.Fatalf("unexpected dropped fragments: %v", dropped)
	}
	want := ParameterSet{
		{Name: "noise_threshold", Value: 12.5},
		{Name: "cooldown", Value: 90},
	}
	if len(set) != len(want) {
		t.Fatalf("got %d parameters, want %d", len(set), len(want))
	}
	for i := range want {
		if set[i] != want[i] {
			t.Errorf("set[%d] = %+v, want %+v", i, set[i], want[i])
		}
	}

	merged := DefaultParameters().Apply(set)
	if merged.NoiseThreshold != 12.5 || merged.Cooldown != 90 {
		t.Errorf("Apply did not merge updates: %+v", merged)
	}
	if merged.ResemblanceThreshold != 0.7 || merged.Delay != 2 {
		t.Errorf("Apply touched parameters absent from the set: %+v", merged)
	}
}

func TestParseParameterSetSkipsMalformed(t *testing.T) {
	set, dropped := ParseParameterSet("delay: 3, garbage, cooldown: abc, a: b: c, resemblance_threshold:0.5")
	if len(dropped) != 3 {
		t.Fatalf("dropped %d fragments, want 3: %v", len(dropped), dropped)
	}
	for _, err := range dropped {
		if !errors.IsKind(err, errors.KindParse) {
			t.Errorf("dropped fragment has kind %q", errors.KindOf(err))
		}
	}
	if v, ok := set.Lookup("delay"); !ok || v != 3 {
		t.Errorf("delay = %v, %v", v, ok)
	}
	if v, ok := set.Lookup("resemblance_threshold"); !ok || v != 0.5 {
		t.Errorf("resemblance_threshold = %v, %v", v, ok)
	}
	if _, ok := set.Lookup("cooldown"); ok {
		t.Error("non-numeric cooldown should have been skipped")
	}
}

func TestParseParameterSetIgnoresEmptyPieces(t *testing.T) {
	tests := []struct {
		payload string
		name    string
		value   float64
		ok      bool
	}{
		{"cooldown:: 90", "cooldown", 90, true},
		{":delay: 1.5", "delay", 1.5, true},
		{"noise_threshold:12:", "noise_threshold", 12, true},
		{"cooldown:", "", 0, false},
		{"::", "", 0, false},
		{" : 4", "", 0, false},
	}
	for _, tt := range tests {
		set, dropped := ParseParameterSet(tt.payload)
		if !tt.ok {
			if len(set) != 0 || len(dropped) != 1 {
				t.Errorf("ParseParameterSet(%q) = %v, dropped %v; want one dropped fragment", tt.payload, set, dropped)
			}
			continue
		}
		if len(dropped) != 0 {
			t.Errorf("ParseParameterSet(%q) dropped %v", tt.payload, dropped)
		}
		if v, ok := set.Lookup(tt.name); !ok || v != tt.value {
			t.Errorf("ParseParameterSet(%q) %s = %v, %v; want %v", tt.payload, tt.name, v, ok, tt.value)
		}
	}
}

func TestParameterRoundTrip(t *testing.T) {
	payloads := []string{
		"noise_threshold: 10.0, resemblance_threshold: 0.7, cooldown: 120.0, delay: 2.0",
		"noise_threshold:12.5,cooldown:90",
		"delay: 0.125, unknown_knob: 42",
	}

	for _, payload := range payloads {
		first, _ := ParseParameterSet(payload)
		second, dropped := ParseParameterSet(FormatParameterSet(first))
		if len(dropped) != 0 {
			t.Fatalf("re-encoded payload dropped fragments: %v", dropped)
		}
		if len(first) != len(second) {
			t.Fatalf("round trip changed length: %v vs %v", first, second)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Errorf("round trip changed %+v into %+v", first[i], second[i])
			}
		}
	}
}

func TestFormatParameterList(t *testing.T) {
	got := FormatParameterList(DefaultParameters())
	if want := "[10.0, 0.7, 120.0, 2.0]"; got != want {
		t.Fatalf("FormatParameterList = %q, want %q", got, want)
	}

	parsed, err := ParseParameterList(got)
	if err != nil {
		t.Fatalf("ParseParameterList: %v", err)
	}
	if parsed != DefaultParameters() {
		t.Fatalf("ParseParameterList = %+v", parsed)
	}

	if _, err := ParseParameterList("[1.0, 2.0]"); err == nil {
		t.Fatal("short list should be rejected")
	}
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantRecords EventList
		wantDropped int
	}{
		{
			name:    "two records",
			payload: "2024-01-01;Non traité;Papa?2024-01-02;Traité;None",
			wantRecords: EventList{
				{Timestamp: "2024-01-01", Status: "Non traité", Voice: "Papa"},
				{Timestamp: "2024-01-02", Status: "Traité", Voice: "None"},
			},
		},
		{
			name:        "malformed group dropped",
			payload:     "2024-01-01;Traité;Papa?broken;group",
			wantRecords: EventList{{Timestamp: "2024-01-01", Status: "Traité", Voice: "Papa"}},
			wantDropped: 1,
		},
		{
			name:    "trailing separator",
			payload: "2024-01-01 12:00:00;Traité;Oscar?",
			wantRecords: EventList{
				{Timestamp: "2024-01-01 12:00:00", Status: "Traité", Voice: "Oscar"},
			},
		},
		{
			name:    "empty payload",
			payload: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := ParseEvents(tt.payload)
			if len(dropped) != tt.wantDropped {
				t.Fatalf("dropped %d groups, want %d: %v", len(dropped), tt.wantDropped, dropped)
			}
			if len(got) != len(tt.wantRecords) {
				t.Fatalf("got %d records, want %d: %+v", len(got), len(tt.wantRecords), got)
			}
			for i := range got {
				if got[i] != tt.wantRecords[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tt.wantRecords[i])
				}
			}
		})
	}
}

func TestMalformedGroupKeepsWellFormed(t *testing.T) {
	got, dropped := ParseEvents("a;b?c;d;e")
	if len(got) != 1 || got[0] != (EventRecord{Timestamp: "c", Status: "d", Voice: "e"}) {
		t.Fatalf("got %+v", got)
	}
	if len(dropped) != 1 {
		t.Fatalf("dropped = %v", dropped)
	}
	if !got[0].HasVoice() {
		t.Error("voice e should count as a played recording")
	}
}

func TestFormatEventsRoundTrip(t *testing.T) {
	events := EventList{
		{Timestamp: "2024-01-01", Status: "Traité", Voice: "Maman"},
		{Timestamp: "2024-01-02", Status: "Non traité", Voice: "None"},
	}
	got, dropped := ParseEvents(FormatEvents(events))
	if len(dropped) != 0 || len(got) != 2 || got[0] != events[0] || got[1] != events[1] {
		t.Fatalf("round trip = %+v, dropped %v", got, dropped)
	}
}
