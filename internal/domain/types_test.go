package domain

import "testing"

func TestParseVoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Voice
		wantErr bool
	}{
		{"papa", VoicePapa, false},
		{"MAMAN", VoiceMaman, false},
		{"Héloïse", VoiceHeloise, false},
		{"heloise", VoiceHeloise, false},
		{" Oscar ", VoiceOscar, false},
		{"Rex", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVoice(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVoice(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestVoiceCycle(t *testing.T) {
	if VoiceAugustine.Next() != VoicePapa {
		t.Error("Next should wrap to the first voice")
	}
	if VoicePapa.Previous() != VoiceAugustine {
		t.Error("Previous should wrap to the last voice")
	}
	if VoiceMaman.Next() != VoiceHeloise {
		t.Error("Next should follow selector order")
	}
}

func TestParametersBounds(t *testing.T) {
	bounds := DefaultBounds()
	if err := DefaultParameters().Validate(bounds); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	p, err := DefaultParameters().Set(ParamCooldown, 30)
	if err != nil {
		t.Fatal(err)
	}
	if p.Validate(bounds) == nil {
		t.Fatal("cooldown below 60 should be rejected")
	}
	if clamped := p.Clamp(bounds); clamped.Cooldown != 60 {
		t.Fatalf("Clamp cooldown = %v, want 60", clamped.Cooldown)
	}

	if _, err := p.Set("volume", 1); err == nil {
		t.Fatal("unknown parameter should be rejected")
	}
}

func TestParametersApplyIgnoresUnknown(t *testing.T) {
	p := DefaultParameters().Apply(ParameterSet{{Name: "volume", Value: 11}, {Name: ParamDelay, Value: 4}})
	if p.Delay != 4 {
		t.Fatalf("Delay = %v", p.Delay)
	}
	want := DefaultParameters()
	want.Delay = 4
	if p != want {
		t.Fatalf("unknown names should be ignored: %+v", p)
	}
}
