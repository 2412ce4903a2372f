package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xpanvictor/voicemode/pkg/Logger"
)

func sseServer(t *testing.T, got *map[string]any, deltas []string, hold chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			if err := json.Unmarshal(body, got); err != nil {
				t.Errorf("Request body is not JSON: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "qwen3",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]any{"role": "assistant", "content": d},
					"finish_reason": nil,
				}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if hold != nil && i == 0 {
				select {
				case <-hold:
				case <-r.Context().Done():
				}
				return
			}
		}
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func TestOpenAIStream(t *testing.T) {
	var got map[string]any
	srv := sseServer(t, &got, []string{"Hello", " world."}, nil)
	defer srv.Close()

	a := NewOpenAIAssistant(OpenAIConfig{BaseURL: srv.URL + "/v1/"}, Logger.Nop())
	in := NewAssistantInput([]AssistantMessage{
		{MsgRole: SYSTEM, Content: "Be brief."},
		{MsgRole: USER, Content: "Say hi"},
	}, "qwen3", 256, 0.7)
	in.DisableThinking = true

	ch, err := a.Stream(context.Background(), in)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	var (
		text string
		done bool
	)
	for d := range ch {
		if d.Error != nil {
			t.Fatalf("Unexpected stream error: %v", d.Error)
		}
		text += d.Content
		done = done || d.Done
	}
	if text != "Hello world." {
		t.Errorf("Expected %q, got %q", "Hello world.", text)
	}
	if !done {
		t.Error("Expected a final done delta")
	}

	if got["model"] != "qwen3" {
		t.Errorf("Unexpected model %v", got["model"])
	}
	if got["max_tokens"] != float64(256) {
		t.Errorf("Expected max_tokens 256, got %v", got["max_tokens"])
	}
	if got["stream"] != true {
		t.Errorf("Expected stream true, got %v", got["stream"])
	}
	extra, _ := got["extra_body"].(map[string]any)
	if extra == nil || extra["enable_thinking"] != false {
		t.Errorf("Expected extra_body.enable_thinking=false, got %v", got["extra_body"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(msgs))
	}
}

func TestOpenAIStreamCancel(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := sseServer(t, nil, []string{"Partial", " never"}, hold)
	defer srv.Close()

	a := NewOpenAIAssistant(OpenAIConfig{BaseURL: srv.URL + "/v1/"}, Logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.Stream(ctx, NewAssistantInput([]AssistantMessage{{MsgRole: USER, Content: "hi"}}, "qwen3", 0, 0))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	first := <-ch
	if first.Content != "Partial" {
		t.Errorf("Expected first delta %q, got %q", "Partial", first.Content)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return
			}
			if d.Error != nil {
				t.Errorf("Cancellation must not surface as an error, got %v", d.Error)
			}
		case <-deadline:
			t.Fatal("Stream not closed after cancel")
		}
	}
}

func TestOpenAIStreamNoMessages(t *testing.T) {
	a := NewOpenAIAssistant(OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1/"}, Logger.Nop())
	if _, err := a.Stream(context.Background(), AssistantInput{Model: "x"}); err == nil {
		t.Error("Expected error without messages")
	}
}

func TestCollect(t *testing.T) {
	ch := make(chan ResponseDelta, 3)
	ch <- ResponseDelta{Content: "a"}
	ch <- ResponseDelta{Content: "b"}
	ch <- ResponseDelta{Error: fmt.Errorf("boom")}
	close(ch)
	text, err := Collect(ch)
	if text != "ab" || err == nil {
		t.Errorf("Expected partial text and error, got %q, %v", text, err)
	}
}
