package whisper

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/stt"
)

type Config struct {
	BaseURL  string // e.g. "http://localhost:10240/v1"
	APIKey   string
	Model    string // e.g. "whisper-large-v3-turbo"
	Language string // ISO-639-1, empty for auto-detect
	Timeout  time.Duration
}

// WhisperClient transcribes through an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperClient struct {
	cfg    Config
	client openai.Client
	logger *Logger.Logger
}

func NewWhisperClient(cfg Config, logger *Logger.Logger, opts ...option.RequestOption) *WhisperClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	base := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(ifEmpty(cfg.APIKey, "local")),
		option.WithMaxRetries(0),
	}
	return &WhisperClient{
		cfg:    cfg,
		client: openai.NewClient(append(base, opts...)...),
		logger: logger,
	}
}

// Transcribe implements stt.Transcriber.
func (w *WhisperClient) Transcribe(ctx context.Context, in stt.AudioInput) (stt.Transcript, error) {
	if len(in.Data) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	mime, name := fileFor(in.MIME)
	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(in.Data), name, mime),
		Model:          openai.AudioModel(w.cfg.Model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if w.cfg.Language != "" {
		params.Language = openai.String(w.cfg.Language)
	}

	start := time.Now()
	res, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("transcription request failed: %w", err)
	}

	w.logger.Debugf("whisper transcription in %s: %q", time.Since(start), res.Text)
	return stt.Transcript{
		Text:          res.Text,
		Language:      w.cfg.Language,
		AudioDuration: in.Duration,
		GeneratedAt:   time.Now(),
	}, nil
}

// fileFor maps a recording MIME type to the upload content type and a
// filename whose extension the server uses to pick a decoder.
func fileFor(mime string) (string, string) {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch {
	case strings.Contains(mime, "webm"):
		return "audio/webm", "audio.webm"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "audio/mpeg", "audio.mp3"
	case strings.Contains(mime, "ogg"):
		return "audio/ogg", "audio.ogg"
	}
	return "audio/wav", "audio.wav"
}

func ifEmpty(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
