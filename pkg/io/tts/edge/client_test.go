package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/io/audio"
	"github.com/xpanvictor/voicemode/pkg/io/tts"
)

func TestSynthesize(t *testing.T) {
	mp3 := append([]byte("ID3"), make([]byte, 64)...)
	var got request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tts/edge" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(mp3)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Voice: "en-US-AriaNeural"}, srv.Client(), Logger.Nop())
	out, err := c.Synthesize(context.Background(), "Good morning.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if out.MIME != audio.MIMEMpeg {
		t.Errorf("Expected sniffed mpeg, got %q", out.MIME)
	}
	if len(out.Data) != len(mp3) {
		t.Errorf("Expected %d bytes, got %d", len(mp3), len(out.Data))
	}
	if got.Input != "Good morning." || got.Voice != "en-US-AriaNeural" || got.Rate != "+0%" {
		t.Errorf("Unexpected request %+v", got)
	}
}

func TestSynthesizeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, srv.Client(), Logger.Nop())
	if _, err := c.Synthesize(context.Background(), "Hello there."); err == nil {
		t.Error("Expected error on non-200 response")
	}
}

func TestSynthesizeErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		mime     string
		body     string
		contains string
	}{
		{"json error", "application/json", `{"error":"edge-tts not installed"}`, "edge-tts not installed"},
		{"not audio", "audio/mpeg", "<html>gateway</html>", "unrecognised audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.mime)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, srv.Client(), Logger.Nop())
			out, err := c.Synthesize(context.Background(), "Hello there.")
			if err == nil {
				t.Fatalf("Expected error, got %d bytes of %q", len(out.Data), out.MIME)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected error to mention %q, got %v", tt.contains, err)
			}
		})
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil, Logger.Nop())
	if _, err := c.Synthesize(context.Background(), ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}
}
