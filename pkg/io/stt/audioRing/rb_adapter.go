package audioring

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

type rb_impl struct {
	mu   sync.Mutex
	size int
	rb   *ringbuffer.RingBuffer
}

func New(size int) FrameRing {
	return &rb_impl{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

// Capacity implements FrameRing.
func (r *rb_impl) Capacity() int {
	return r.size
}

// Len implements FrameRing. Reports buffered bytes, not frames.
func (r *rb_impl) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rb.Length()
}

// Push implements FrameRing.
func (r *rb_impl) Push(f audio.Frame) error {
	data := encodeFrame(f)
	required := len(data) + 4
	if required > r.rb.Capacity() {
		return errors.New("audio frame too large for ring")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.rb.Free() < required {
		if !r.dropOldest() {
			r.rb.Reset()
			break
		}
	}

	prefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := r.rb.Write(prefix); err != nil {
		return err
	}
	_, err := r.rb.Write(data)
	return err
}

// Pop implements FrameRing.
func (r *rb_impl) Pop() (audio.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(r.rb)
}

func (r *rb_impl) read(src *ringbuffer.RingBuffer) (audio.Frame, bool) {
	if src.IsEmpty() {
		return audio.Frame{}, false
	}
	prefix := make([]byte, 4)
	if n, err := src.Read(prefix); err != nil || n != 4 {
		return audio.Frame{}, false
	}
	size := int(binary.LittleEndian.Uint32(prefix))
	data := make([]byte, size)
	if n, err := src.Read(data); err != nil || n != size {
		return audio.Frame{}, false
	}
	f, err := decodeFrame(data)
	if err != nil {
		return audio.Frame{}, false
	}
	return f, true
}

func (r *rb_impl) dropOldest() bool {
	if r.rb.IsEmpty() {
		return false
	}
	prefix := make([]byte, 4)
	if n, err := r.rb.Read(prefix); err != nil || n != 4 {
		return false
	}
	size := int(binary.LittleEndian.Uint32(prefix))
	if size > 0 {
		skip := make([]byte, size)
		if n, err := r.rb.Read(skip); err != nil || n != size {
			return false
		}
	}
	return true
}

// Snapshot implements FrameRing. The ring is left untouched.
func (r *rb_impl) Snapshot() []audio.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]audio.Frame, 0)
	if r.rb.IsEmpty() {
		return out
	}
	raw := r.rb.Bytes(make([]byte, r.rb.Length()))
	tmp := ringbuffer.New(r.rb.Capacity())
	tmp.Write(raw)
	for {
		f, ok := r.read(tmp)
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// Drain implements FrameRing.
func (r *rb_impl) Drain() []audio.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audio.Frame, 0)
	for {
		f, ok := r.read(r.rb)
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// Reset implements FrameRing.
func (r *rb_impl) Reset() {
	r.mu.Lock()
	r.rb.Reset()
	r.mu.Unlock()
}
