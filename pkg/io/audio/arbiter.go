package audio

import (
	"context"
	"sync"
)

// Arbiter hands the microphone to one owner at a time. Push-to-talk
// capture and the VAD both acquire through it so they can never hold
// the device concurrently.
type Arbiter struct {
	mic Microphone

	mu    sync.Mutex
	owner string
}

func NewArbiter(mic Microphone) *Arbiter {
	return &Arbiter{mic: mic}
}

// Acquire opens the device for owner. Closing the returned stream
// releases ownership once the underlying stream's Close has returned.
func (a *Arbiter) Acquire(ctx context.Context, owner, deviceID string, format Format) (InputStream, error) {
	a.mu.Lock()
	if a.owner != "" {
		held := a.owner
		a.mu.Unlock()
		return nil, &DeviceError{DeviceID: deviceID, Op: "acquire by " + owner + " (held by " + held + ")", Err: ErrMicBusy}
	}
	a.owner = owner
	a.mu.Unlock()

	stream, err := a.mic.Open(ctx, deviceID, format)
	if err != nil {
		a.release()
		if IsDeviceError(err) {
			return nil, err
		}
		return nil, &DeviceError{DeviceID: deviceID, Op: "open", Err: err}
	}
	return &ownedStream{InputStream: stream, release: a.release}, nil
}

// Owner reports who holds the microphone, empty when free.
func (a *Arbiter) Owner() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

func (a *Arbiter) release() {
	a.mu.Lock()
	a.owner = ""
	a.mu.Unlock()
}

type ownedStream struct {
	InputStream
	once    sync.Once
	release func()
}

func (s *ownedStream) Close() error {
	err := s.InputStream.Close()
	s.once.Do(s.release)
	return err
}
