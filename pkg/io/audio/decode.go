package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

const resampleQuality = 4

// Decode turns a synthesized WAV or MP3 payload into mono PCM at the
// target rate, resampling when the source rate differs.
func Decode(data []byte, mime string, target Format) (Clip, error) {
	kind := normaliseMIME(mime)
	if kind == "" {
		sniffed, err := SniffMIME(data)
		if err != nil {
			return Clip{}, err
		}
		kind = sniffed
	}

	var (
		src    beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch kind {
	case MIMEWav:
		src, format, err = wav.Decode(bytes.NewReader(data))
	case MIMEMpeg:
		src, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return Clip{}, fmt.Errorf("unsupported audio type %q", mime)
	}
	if err != nil {
		return Clip{}, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	defer src.Close()

	var streamer beep.Streamer = src
	if target.SampleRate > 0 && int(format.SampleRate) != target.SampleRate {
		streamer = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(target.SampleRate), src)
	}

	out := Clip{Format: Format{SampleRate: target.SampleRate, Channels: 1}}
	if target.SampleRate <= 0 {
		out.Format.SampleRate = int(format.SampleRate)
	}
	if n := src.Len(); n > 0 {
		out.Samples = make([]int16, 0, n)
	}

	buf := make([][2]float64, 512)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			out.Samples = append(out.Samples, toInt16((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return Clip{}, fmt.Errorf("failed to stream %s: %w", kind, err)
	}
	return out, nil
}

func normaliseMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return MIMEWav
	case "audio/mpeg", "audio/mp3":
		return MIMEMpeg
	}
	return ""
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(v * 32767)
}
