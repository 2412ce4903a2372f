package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
)

type Config struct {
	BaseURL string        // e.g. "http://localhost:10240"
	Voice   string        // e.g. "en-US-AriaNeural"
	Rate    string        // e.g. "+0%"
	Timeout time.Duration // request timeout per chunk
}

// Client talks to the Edge speech engine, which takes {input, voice, rate}
// and answers with mp3.
type Client struct {
	cfg    Config
	hc     *http.Client
	logger *Logger.Logger
}

type request struct {
	Input string `json:"input"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

func New(cfg Config, hc *http.Client, logger *Logger.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Rate = ifEmpty(cfg.Rate, "+0%")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, hc: hc, logger: logger}
}

// Synthesize implements tts.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}

	body, err := json.Marshal(request{Input: text, Voice: c.cfg.Voice, Rate: c.cfg.Rate})
	if err != nil {
		return tts.Audio{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.BaseURL + "/api/tts/edge"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", audio.MIMEMpeg)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("edge tts request failed: %w (url=%s)", err, u)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return tts.Audio{}, fmt.Errorf("edge tts http %d: %s (url=%s, dur=%s)", resp.StatusCode, string(b), u, time.Since(start))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("failed to read edge tts body: %w", err)
	}
	if len(data) == 0 {
		return tts.Audio{}, fmt.Errorf("edge tts returned empty body")
	}

	// the engine answers 200 with {"error": ...} when synthesis fails
	mime, err := audio.SniffMIME(data)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("edge tts failed: %s (url=%s)", failureOf(data, err), u)
	}
	c.logger.Debugf("edge synthesized %d chars into %d bytes in %s", len(text), len(data), time.Since(start))
	return tts.Audio{Data: data, MIME: mime}, nil
}

func failureOf(data []byte, sniffErr error) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if msg := ifEmpty(body.Error, body.Detail); msg != "" {
			return msg
		}
	}
	return sniffErr.Error()
}

func ifEmpty(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
