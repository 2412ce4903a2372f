package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

const closeTimeout = 2 * time.Second

// Host owns the PortAudio library lifetime and implements both
// audio.Microphone and audio.Speaker.
type Host struct {
	logger    *Logger.Logger
	frameSize time.Duration
}

// Open initialises PortAudio. Close must be called once at shutdown.
func Open(frameSize time.Duration, logger *Logger.Logger) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialise portaudio: %w", err)
	}
	if frameSize <= 0 {
		frameSize = 20 * time.Millisecond
	}
	return &Host{logger: logger, frameSize: frameSize}, nil
}

func (h *Host) Close() error {
	return portaudio.Terminate()
}

// Devices lists every device PortAudio can see.
func (h *Host) Devices() ([]Info, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		info := Info{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && defIn.Name == d.Name,
			DefaultOutput:     defOut != nil && defOut.Name == d.Name,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Capabilities reports whether any input and output devices exist.
func (h *Host) Capabilities() Capabilities {
	devs, err := h.Devices()
	if err != nil {
		return Capabilities{}
	}
	return capabilitiesOf(devs)
}

func findDevice(deviceID string, input bool) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		if !strings.EqualFold(d.Name, deviceID) {
			continue
		}
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		return d, nil
	}
	return nil, audio.ErrNoDevice
}

// classify maps PortAudio failures onto the device error sentinels.
func classify(err error) error {
	if errors.Is(err, audio.ErrNoDevice) {
		return err
	}
	var pe portaudio.Error
	if errors.As(err, &pe) {
		switch pe {
		case portaudio.InvalidDevice, portaudio.DeviceUnavailable:
			return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
		}
	}
	// Hosts surface a denied microphone as an unanticipated host error
	// whose text is the only reliable signal.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return err
}

// Open implements audio.Microphone.
func (h *Host) Open(ctx context.Context, deviceID string, format audio.Format) (audio.InputStream, error) {
	dev, err := findDevice(deviceID, true)
	if err != nil {
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "find input", Err: classify(err)}
	}

	channels := format.Channels
	if channels == 0 {
		channels = 1
	}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.SamplesFor(h.frameSize) / channels

	buf := make([]int16, params.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "open input", Err: classify(err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "start input", Err: classify(err)}
	}

	in := &inputStream{
		deviceID: deviceID,
		stream:   stream,
		buf:      buf,
		format:   audio.Format{SampleRate: format.SampleRate, Channels: channels},
		frames:   make(chan audio.Frame, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	h.logger.Infof("capture stream opened on %q (%d Hz, %d frames/buffer)", dev.Name, format.SampleRate, params.FramesPerBuffer)
	go in.pump(ctx, h.logger)
	return in, nil
}

type inputStream struct {
	deviceID string
	stream   *portaudio.Stream
	buf      []int16
	format   audio.Format
	frames   chan audio.Frame

	done      chan struct{}
	stopped   chan struct{} // closed once the PortAudio stream is closed
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *inputStream) pump(ctx context.Context, logger *Logger.Logger) {
	defer close(s.stopped)
	defer close(s.frames)
	defer func() {
		s.stream.Stop()
		s.stream.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				logger.Debugf("capture overflow on %q", s.deviceID)
				continue
			}
			s.fail(&audio.DeviceError{DeviceID: s.deviceID, Op: "read", Err: fmt.Errorf("%w: %v", audio.ErrDeviceLost, err)})
			return
		}
		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)
		select {
		case s.frames <- audio.Frame{Samples: samples, Timestamp: time.Now(), Format: s.format}:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *inputStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close returns after the device has been closed, so the microphone can
// be reopened straight away. A read stuck in the driver is given up on
// after closeTimeout.
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	select {
	case <-s.stopped:
		return nil
	case <-time.After(closeTimeout):
		return &audio.DeviceError{DeviceID: s.deviceID, Op: "close input", Err: audio.ErrDeviceLost}
	}
}

// OpenOutput implements audio.Speaker.
func (h *Host) OpenOutput(deviceID string, format audio.Format) (audio.OutputDevice, error) {
	dev, err := findDevice(deviceID, false)
	if err != nil {
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "find output", Err: classify(err)}
	}
	channels := format.Channels
	if channels == 0 {
		channels = 1
	}
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.SamplesFor(h.frameSize) / channels

	buf := make([]int16, params.FramesPerBuffer*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "open output", Err: classify(err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &audio.DeviceError{DeviceID: deviceID, Op: "start output", Err: classify(err)}
	}
	h.logger.Infof("playback stream opened on %q (%d Hz)", dev.Name, format.SampleRate)
	return &outputStream{stream: stream, buf: buf}, nil
}

// Speaker adapts the host to audio.Speaker.
func (h *Host) Speaker() audio.Speaker {
	return speaker{h}
}

type speaker struct{ h *Host }

func (s speaker) Open(deviceID string, format audio.Format) (audio.OutputDevice, error) {
	return s.h.OpenOutput(deviceID, format)
}

type outputStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
}

// Write pushes samples through the fixed-size stream buffer, zero padding
// the final partial block.
func (o *outputStream) Write(samples []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(samples) > 0 {
		n := copy(o.buf, samples)
		for i := n; i < len(o.buf); i++ {
			o.buf[i] = 0
		}
		samples = samples[n:]
		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return &audio.DeviceError{Op: "write", Err: fmt.Errorf("%w: %v", audio.ErrDeviceLost, err)}
		}
	}
	return nil
}

func (o *outputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream.Stop()
	return o.stream.Close()
}
