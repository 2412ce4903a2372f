package audio

import (
	"bytes"
	"fmt"
)

const (
	MIMEWav  = "audio/wav"
	MIMEMpeg = "audio/mpeg"

	wavHeaderSize = 44
)

// EncodeWAV wraps PCM16LE data in a canonical 44 byte RIFF header.
func EncodeWAV(format Format, pcm []byte) []byte {
	const bitsPerSample = 16
	channels := format.Channels
	if channels == 0 {
		channels = 1
	}
	byteRate := format.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	writeUint32LE(header[4:8], uint32(wavHeaderSize+len(pcm)-8))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	writeUint32LE(header[16:20], 16)
	writeUint16LE(header[20:22], 1) // PCM
	writeUint16LE(header[22:24], uint16(channels))
	writeUint32LE(header[24:28], uint32(format.SampleRate))
	writeUint32LE(header[28:32], uint32(byteRate))
	writeUint16LE(header[32:34], uint16(blockAlign))
	writeUint16LE(header[34:36], bitsPerSample)

	copy(header[36:40], "data")
	writeUint32LE(header[40:44], uint32(len(pcm)))

	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, header...)
	return append(out, pcm...)
}

// EncodeFrames concatenates frames into a single WAV buffer.
func EncodeFrames(format Format, frames []Frame) []byte {
	var pcm bytes.Buffer
	for _, f := range frames {
		pcm.Write(f.Bytes())
	}
	return EncodeWAV(format, pcm.Bytes())
}

// SniffMIME guesses the container from magic bytes when a service
// omits or lies about Content-Type.
func SniffMIME(data []byte) (string, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MIMEWav, nil
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return MIMEMpeg, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MIMEMpeg, nil
	}
	return "", fmt.Errorf("unrecognised audio container (%d bytes)", len(data))
}

func writeUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
