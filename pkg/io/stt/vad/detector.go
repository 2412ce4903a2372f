package vad

import "time"

// Detector is the pure energy state machine. Entry has no hysteresis:
// the first loud frame starts speech. Exit needs both a full silence
// window and the minimum speech duration, otherwise the utterance is
// discarded without an end event.
type Detector struct {
	cfg Config

	speaking     bool
	speechStart  time.Time
	silenceStart time.Time
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

func (d *Detector) Speaking() bool { return d.speaking }

// Reset forgets any utterance in progress.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
}

// Process feeds one frame level observed at the given time.
func (d *Detector) Process(level float64, at time.Time) Event {
	loud := level > d.cfg.Threshold

	if !d.speaking {
		if loud {
			d.speaking = true
			d.speechStart = at
			d.silenceStart = time.Time{}
			return SpeechStart
		}
		return None
	}

	if loud {
		d.silenceStart = time.Time{}
		return None
	}
	if d.silenceStart.IsZero() {
		d.silenceStart = at
	}
	if at.Sub(d.silenceStart) < d.cfg.SilenceDuration {
		return None
	}

	// voiced time only; the trailing silence window does not count
	spoke := d.silenceStart.Sub(d.speechStart)
	d.Reset()
	if spoke >= d.cfg.MinSpeechDuration {
		return SpeechEnd
	}
	return SpeechDiscarded
}
