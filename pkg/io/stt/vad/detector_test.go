package vad

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Threshold:         0.1,
		SilenceDuration:   200 * time.Millisecond,
		MinSpeechDuration: 100 * time.Millisecond,
	}
}

// feed pushes level for dur in 20ms steps and collects non-None events.
func feed(d *Detector, at *time.Time, level float64, dur time.Duration) []Event {
	var out []Event
	for elapsed := time.Duration(0); elapsed < dur; elapsed += 20 * time.Millisecond {
		if ev := d.Process(level, *at); ev != None {
			out = append(out, ev)
		}
		*at = at.Add(20 * time.Millisecond)
	}
	return out
}

func TestDetectorStartsOnFirstLoudFrame(t *testing.T) {
	d := NewDetector(testConfig())
	if ev := d.Process(0.5, time.Now()); ev != SpeechStart {
		t.Errorf("Expected immediate speech start, got %s", ev)
	}
	if !d.Speaking() {
		t.Error("Detector should be speaking")
	}
}

func TestDetectorIgnoresQuiet(t *testing.T) {
	d := NewDetector(testConfig())
	at := time.Now()
	if evs := feed(d, &at, 0.05, time.Second); len(evs) != 0 {
		t.Errorf("Expected no events below threshold, got %v", evs)
	}
}

func TestDetectorEndsAfterSilenceAndMinSpeech(t *testing.T) {
	d := NewDetector(testConfig())
	at := time.Now()

	evs := feed(d, &at, 0.5, 300*time.Millisecond)
	if len(evs) != 1 || evs[0] != SpeechStart {
		t.Fatalf("Expected a single start, got %v", evs)
	}

	evs = feed(d, &at, 0.01, 100*time.Millisecond)
	if len(evs) != 0 {
		t.Errorf("Silence shorter than window must not end speech, got %v", evs)
	}

	evs = feed(d, &at, 0.01, 200*time.Millisecond)
	if len(evs) != 1 || evs[0] != SpeechEnd {
		t.Errorf("Expected speech end, got %v", evs)
	}
	if d.Speaking() {
		t.Error("Detector should be idle after end")
	}
}

func TestDetectorLoudFrameResetsSilence(t *testing.T) {
	d := NewDetector(testConfig())
	at := time.Now()
	feed(d, &at, 0.5, 200*time.Millisecond)
	feed(d, &at, 0.01, 160*time.Millisecond)
	feed(d, &at, 0.5, 20*time.Millisecond)

	if evs := feed(d, &at, 0.01, 160*time.Millisecond); len(evs) != 0 {
		t.Errorf("Silence window should restart after a loud frame, got %v", evs)
	}
}

func TestDetectorDiscardsShortBurst(t *testing.T) {
	d := NewDetector(testConfig())
	at := time.Now()

	feed(d, &at, 0.5, 40*time.Millisecond)
	evs := feed(d, &at, 0.01, 400*time.Millisecond)
	if len(evs) != 1 || evs[0] != SpeechDiscarded {
		t.Errorf("Expected burst shorter than min speech to be discarded, got %v", evs)
	}
	for _, ev := range evs {
		if ev == SpeechEnd {
			t.Error("Discarded burst must never fire speech end")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
	bad := DefaultConfig()
	bad.Threshold = 0
	if bad.Validate() == nil {
		t.Error("Expected zero threshold to be rejected")
	}
	bad = DefaultConfig()
	bad.SilenceDuration = 0
	if bad.Validate() == nil {
		t.Error("Expected zero silence duration to be rejected")
	}
}
