package device

import "testing"

func TestCapabilitiesOf(t *testing.T) {
	devs := []Info{
		{Name: "Built-in Microphone", MaxInputChannels: 1},
		{Name: "HDMI", MaxOutputChannels: 2},
	}
	caps := capabilitiesOf(devs)
	if !caps.AudioSource || !caps.AudioSink {
		t.Errorf("Expected source and sink, got %+v", caps)
	}
	if !caps.Usable() {
		t.Error("Expected host to be usable")
	}

	if capabilitiesOf([]Info{{Name: "HDMI", MaxOutputChannels: 2}}).Usable() {
		t.Error("Output-only host should not be usable for conversation")
	}
}
