package device

// Info describes one host audio device.
type Info struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"hostApi"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	MaxOutputChannels int     `json:"maxOutputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	DefaultInput      bool    `json:"defaultInput"`
	DefaultOutput     bool    `json:"defaultOutput"`
}

// Capabilities summarises what the host can do.
type Capabilities struct {
	AudioSource bool `json:"audioSource"`
	AudioSink   bool `json:"audioSink"`
}

func (c Capabilities) Usable() bool {
	return c.AudioSource && c.AudioSink
}

func capabilitiesOf(devs []Info) Capabilities {
	var c Capabilities
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			c.AudioSource = true
		}
		if d.MaxOutputChannels > 0 {
			c.AudioSink = true
		}
	}
	return c
}
