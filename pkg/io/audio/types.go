package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

var (
	CaptureFormat  = Format{SampleRate: 16000, Channels: 1}
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// BytesPerSecond of PCM16 data in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration of n samples (all channels interleaved).
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate*f.Channels)
}

// SamplesFor returns how many interleaved samples cover d.
func (f Format) SamplesFor(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate*f.Channels) / time.Second)
}

// Frame is one block read from an input device.
type Frame struct {
	Samples   []int16
	Timestamp time.Time
	Format    Format
}

// Bytes encodes the frame as PCM16LE.
func (f Frame) Bytes() []byte {
	return PCMBytes(f.Samples)
}

func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func PCMSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// RMS returns the root mean square of the samples normalised to 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Clip is decoded audio ready for an output device.
type Clip struct {
	Format  Format
	Samples []int16
}

func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.Samples))
}

// InputStream delivers frames until closed. Frames is closed when the
// stream ends; Err reports why it ended, nil after a normal Close.
type InputStream interface {
	Frames() <-chan Frame
	Err() error
	Close() error
}

// Microphone opens capture streams on named devices. An empty deviceID
// selects the system default.
type Microphone interface {
	Open(ctx context.Context, deviceID string, format Format) (InputStream, error)
}

// OutputDevice accepts blocks of samples; Write blocks at playback pace.
type OutputDevice interface {
	Write(samples []int16) error
	Close() error
}

// Speaker opens output devices.
type Speaker interface {
	Open(deviceID string, format Format) (OutputDevice, error)
}

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no matching audio device")
	ErrMicBusy          = errors.New("microphone already in use")
	ErrDeviceLost       = errors.New("audio device disconnected")
)

// DeviceError marks a failure that persists until the user fixes the
// device, as opposed to a transient service failure.
type DeviceError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *DeviceError) Error() string {
	dev := e.DeviceID
	if dev == "" {
		dev = "default"
	}
	return fmt.Sprintf("audio device %q: %s: %v", dev, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether err is, or wraps, a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
