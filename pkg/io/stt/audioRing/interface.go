package audioring

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/xpanvictor/voicemode/pkg/io/audio"
)

const frameHeaderSize = 8 + 4 + 2 + 4

var errShortFrame = errors.New("encoded frame shorter than header")

// encodeFrame layout: timestamp(8) + sampleRate(4) + channels(2) + pcmLen(4) + pcm
func encodeFrame(f audio.Frame) []byte {
	pcm := f.Bytes()
	buf := make([]byte, frameHeaderSize+len(pcm))

	binary.LittleEndian.PutUint64(buf[0:], uint64(f.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:], uint32(f.Format.SampleRate))
	binary.LittleEndian.PutUint16(buf[12:], uint16(f.Format.Channels))
	binary.LittleEndian.PutUint32(buf[14:], uint32(len(pcm)))
	copy(buf[frameHeaderSize:], pcm)
	return buf
}

func decodeFrame(data []byte) (audio.Frame, error) {
	if len(data) < frameHeaderSize {
		return audio.Frame{}, errShortFrame
	}
	var f audio.Frame
	f.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[0:])))
	f.Format.SampleRate = int(binary.LittleEndian.Uint32(data[8:]))
	f.Format.Channels = int(binary.LittleEndian.Uint16(data[12:]))
	n := int(binary.LittleEndian.Uint32(data[14:]))
	if len(data[frameHeaderSize:]) < n {
		return audio.Frame{}, errShortFrame
	}
	f.Samples = audio.PCMSamples(data[frameHeaderSize : frameHeaderSize+n])
	return f, nil
}

// FrameRing keeps the most recent frames, dropping the oldest whole frame
// when a new one does not fit. The VAD uses it as pre-roll so a recording
// started at speech onset still contains the first syllable.
type FrameRing interface {
	Push(f audio.Frame) error
	Pop() (audio.Frame, bool)
	Snapshot() []audio.Frame
	Drain() []audio.Frame
	Reset()
	Len() int
	Capacity() int
}

// SizeFor returns a byte capacity holding roughly d of audio in format
// when frames are frameDur long.
func SizeFor(format audio.Format, d, frameDur time.Duration) int {
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	frames := int(d/frameDur) + 1
	perFrame := 4 + frameHeaderSize + format.SamplesFor(frameDur)*2
	return frames * perFrame
}
