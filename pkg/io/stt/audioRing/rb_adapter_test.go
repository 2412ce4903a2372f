package audioring

import (
	"testing"
	"time"

	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

func frame(v int16, n int, at time.Time) audio.Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.Frame{Samples: samples, Timestamp: at, Format: audio.CaptureFormat}
}

func TestFrameRing(t *testing.T) {
	ring := New(1024)

	if ring.Capacity() != 1024 {
		t.Errorf("Expected capacity 1024, got %d", ring.Capacity())
	}
	if ring.Len() != 0 {
		t.Errorf("Expected empty ring, got length %d", ring.Len())
	}

	in := frame(7, 5, time.Now())
	if err := ring.Push(in); err != nil {
		t.Errorf("Failed to push: %v", err)
	}
	if ring.Len() == 0 {
		t.Error("Ring should not be empty after push")
	}

	out, ok := ring.Pop()
	if !ok {
		t.Fatal("Failed to pop")
	}
	if len(out.Samples) != len(in.Samples) {
		t.Errorf("Expected %d samples, got %d", len(in.Samples), len(out.Samples))
	}
	for i, s := range out.Samples {
		if s != in.Samples[i] {
			t.Errorf("Sample mismatch at %d: expected %d, got %d", i, in.Samples[i], s)
		}
	}
	if out.Format != in.Format {
		t.Errorf("Expected format %+v, got %+v", in.Format, out.Format)
	}
	if d := out.Timestamp.Sub(in.Timestamp); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("Timestamp drifted by %v", d)
	}
}

func TestFrameRingSnapshotAndDrain(t *testing.T) {
	ring := New(1024)
	base := time.Now()
	for i := 0; i < 3; i++ {
		if err := ring.Push(frame(int16(i), 3, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Errorf("Failed to push frame %d: %v", i, err)
		}
	}

	snap := ring.Snapshot()
	if len(snap) != 3 {
		t.Errorf("Expected 3 frames in snapshot, got %d", len(snap))
	}
	if ring.Len() == 0 {
		t.Error("Snapshot must not consume the ring")
	}

	drained := ring.Drain()
	if len(drained) != 3 {
		t.Errorf("Expected 3 drained frames, got %d", len(drained))
	}
	for i, f := range drained {
		if f.Samples[0] != int16(i) {
			t.Errorf("Frame %d out of order: first sample %d", i, f.Samples[0])
		}
	}
	if ring.Len() != 0 {
		t.Errorf("Ring should be empty after drain, got length %d", ring.Len())
	}
}

func TestFrameRingDropsOldest(t *testing.T) {
	// each frame: 4 prefix + 18 header + 20 pcm = 42 bytes; 100 bytes holds two
	ring := New(100)
	for i := 0; i < 5; i++ {
		if err := ring.Push(frame(int16(i), 10, time.Now())); err != nil {
			t.Fatalf("Failed to push frame %d: %v", i, err)
		}
	}

	frames := ring.Drain()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 surviving frames, got %d", len(frames))
	}
	if frames[0].Samples[0] != 3 || frames[1].Samples[0] != 4 {
		t.Errorf("Expected newest frames 3 and 4, got %d and %d", frames[0].Samples[0], frames[1].Samples[0])
	}
}

func TestFrameRingRejectsOversized(t *testing.T) {
	ring := New(32)
	if err := ring.Push(frame(1, 100, time.Now())); err == nil {
		t.Error("Expected error for frame larger than ring")
	}
}

func TestSizeFor(t *testing.T) {
	size := SizeFor(audio.CaptureFormat, 300*time.Millisecond, 20*time.Millisecond)
	ring := New(size)
	for i := 0; i < 16; i++ {
		if err := ring.Push(frame(int16(i), audio.CaptureFormat.SamplesFor(20*time.Millisecond), time.Now())); err != nil {
			t.Fatalf("Failed to push frame %d: %v", i, err)
		}
	}
	if got := len(ring.Snapshot()); got != 16 {
		t.Errorf("Expected ring sized for 16 frames to hold 16, got %d", got)
	}
}
