package speech

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
)

type Config struct {
	BaseURL string  // e.g. "http://localhost:10240/v1"
	APIKey  string  // optional for local servers
	Model   string  // e.g. "kokoro"
	Voice   string  // e.g. "af_heart"
	Speed   float64 // 1.0 is normal
	Timeout time.Duration
}

// Client synthesizes WAV audio through an OpenAI-compatible
// /audio/speech endpoint.
type Client struct {
	cfg    Config
	client openai.Client
	logger *Logger.Logger
}

func New(cfg Config, logger *Logger.Logger, opts ...option.RequestOption) *Client {
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(ifEmpty(cfg.APIKey, "local")),
		option.WithMaxRetries(0),
	}
	return &Client{
		cfg:    cfg,
		client: openai.NewClient(append(base, opts...)...),
		logger: logger,
	}
}

// Synthesize implements tts.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.cfg.Model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
		Speed:          openai.Float(c.cfg.Speed),
	})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("failed to read speech body: %w", err)
	}
	if len(data) == 0 {
		return tts.Audio{}, fmt.Errorf("speech service returned empty body")
	}

	mime := resp.Header.Get("Content-Type")
	if sniffed, err := audio.SniffMIME(data); err == nil {
		mime = sniffed
	}
	c.logger.Debugf("synthesized %d chars into %d bytes in %s", len(text), len(data), time.Since(start))
	return tts.Audio{Data: data, MIME: ifEmpty(mime, audio.MIMEWav)}, nil
}

func ifEmpty(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
