package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

type fakeStream struct {
	frames chan audio.Frame
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *fakeStream) Frames() <-chan audio.Frame { return s.frames }
func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type fakeMic struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
}

func (m *fakeMic) Open(ctx context.Context, deviceID string, format audio.Format) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &fakeStream{frames: make(chan audio.Frame, 64)}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMic) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

func frame(n int) audio.Frame {
	return audio.Frame{Samples: make([]int16, n), Timestamp: time.Now(), Format: audio.CaptureFormat}
}

type tapSource struct {
	ch     chan audio.Frame
	untaps int
	mu     sync.Mutex
	tapErr error
}

func (s *tapSource) Tap() (<-chan audio.Frame, func(), error) {
	if s.tapErr != nil {
		return nil, nil, s.tapErr
	}
	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.untaps++
			s.mu.Unlock()
			close(s.ch)
		})
	}, nil
}

func TestStartStopRecording(t *testing.T) {
	mic := &fakeMic{}
	arb := audio.NewArbiter(mic)
	c := New(arb, audio.CaptureFormat, Logger.Nop())

	if err := c.StartRecording(context.Background(), "usb-mic"); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if arb.Owner() != Owner {
		t.Errorf("Expected microphone owned by capture, got %q", arb.Owner())
	}
	if !c.Recording() {
		t.Error("Expected recording in progress")
	}
	if err := c.StartRecording(context.Background(), "usb-mic"); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}

	s := mic.last()
	for i := 0; i < 5; i++ {
		s.frames <- frame(320)
	}

	rec, ok, err := c.StopRecording()
	if err != nil || !ok {
		t.Fatalf("StopRecording returned ok=%v err=%v", ok, err)
	}
	if rec.Size() != 5*320*2 {
		t.Errorf("Expected %d bytes, got %d", 5*320*2, rec.Size())
	}
	if rec.Duration != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %s", rec.Duration)
	}
	if rec.MIME != audio.MIMEWav || string(rec.Data[0:4]) != "RIFF" {
		t.Error("Expected a WAV recording")
	}
	if arb.Owner() != "" {
		t.Error("Stop must release the microphone")
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := New(audio.NewArbiter(&fakeMic{}), audio.CaptureFormat, Logger.Nop())
	if _, ok, err := c.StopRecording(); ok || err != nil {
		t.Errorf("Expected nothing returned, got ok=%v err=%v", ok, err)
	}
}

func TestCancelRecording(t *testing.T) {
	mic := &fakeMic{}
	arb := audio.NewArbiter(mic)
	c := New(arb, audio.CaptureFormat, Logger.Nop())

	if err := c.StartRecording(context.Background(), ""); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	mic.last().frames <- frame(320)
	c.CancelRecording()

	if c.Recording() {
		t.Error("Expected no recording after cancel")
	}
	if arb.Owner() != "" {
		t.Error("Cancel must release the microphone")
	}
	if _, ok, _ := c.StopRecording(); ok {
		t.Error("Cancelled audio must not be returned")
	}
}

func TestStartRecordingDeviceError(t *testing.T) {
	mic := &fakeMic{openErr: audio.ErrPermissionDenied}
	c := New(audio.NewArbiter(mic), audio.CaptureFormat, Logger.Nop())

	err := c.StartRecording(context.Background(), "")
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DeviceError, got %v", err)
	}
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Expected permission denied, got %v", err)
	}
	if c.Recording() {
		t.Error("Failed start must not leave a recording")
	}
}

func TestStartRecordingWhileMicBusy(t *testing.T) {
	mic := &fakeMic{}
	arb := audio.NewArbiter(mic)
	held, err := arb.Acquire(context.Background(), "vad", "", audio.CaptureFormat)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer held.Close()

	c := New(arb, audio.CaptureFormat, Logger.Nop())
	if err := c.StartRecording(context.Background(), ""); !errors.Is(err, audio.ErrMicBusy) {
		t.Errorf("Expected ErrMicBusy, got %v", err)
	}
}

func TestDeviceLostDuringRecording(t *testing.T) {
	mic := &fakeMic{}
	c := New(audio.NewArbiter(mic), audio.CaptureFormat, Logger.Nop())
	faults := make(chan error, 1)
	c.SetFaultHandler(func(err error) { faults <- err })

	if err := c.StartRecording(context.Background(), "usb-mic"); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	s := mic.last()
	s.mu.Lock()
	s.err = audio.ErrDeviceLost
	s.mu.Unlock()
	s.Close()

	select {
	case err := <-faults:
		if !audio.IsDeviceError(err) {
			t.Errorf("Expected DeviceError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Fault handler never called")
	}

	if _, ok, err := c.StopRecording(); !ok || !errors.Is(err, audio.ErrDeviceLost) {
		t.Errorf("Expected device lost from stop, got ok=%v err=%v", ok, err)
	}
}

func TestRecordFromTap(t *testing.T) {
	src := &tapSource{ch: make(chan audio.Frame, 16)}
	for i := 0; i < 3; i++ {
		src.ch <- frame(160) // pre-roll already in the tap
	}
	c := New(audio.NewArbiter(&fakeMic{}), audio.CaptureFormat, Logger.Nop())

	if err := c.RecordFrom(src); err != nil {
		t.Fatalf("RecordFrom failed: %v", err)
	}
	src.ch <- frame(160)

	rec, ok, err := c.StopRecording()
	if err != nil || !ok {
		t.Fatalf("StopRecording returned ok=%v err=%v", ok, err)
	}
	if rec.Size() != 4*160*2 {
		t.Errorf("Expected pre-roll plus live audio (%d bytes), got %d", 4*160*2, rec.Size())
	}
	if src.untaps != 1 {
		t.Errorf("Expected tap released once, got %d", src.untaps)
	}
}

func TestRecordFromUnavailableSource(t *testing.T) {
	src := &tapSource{tapErr: errors.New("not running")}
	c := New(audio.NewArbiter(&fakeMic{}), audio.CaptureFormat, Logger.Nop())
	if err := c.RecordFrom(src); err == nil {
		t.Error("Expected error from unavailable source")
	}
	if c.Recording() {
		t.Error("Failed tap must not leave a recording")
	}
}
