package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/device"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
)

type stubService struct {
	mu     sync.Mutex
	snap   voice.Snapshot
	err    error
	calls  []string
	speech []bool
}

func (s *stubService) do(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.err
}

func (s *stubService) Press() error   { return s.do("press") }
func (s *stubService) Release() error { return s.do("release") }
func (s *stubService) Cancel() error  { return s.do("cancel") }
func (s *stubService) Open() error    { return s.do("open") }
func (s *stubService) Close() error   { return s.do("close") }
func (s *stubService) SetMode(m voice.InputMode) error {
	if !m.Valid() {
		return voice.ErrInvalidMode
	}
	s.mu.Lock()
	s.snap.Mode = m
	s.mu.Unlock()
	return s.do("mode")
}
func (s *stubService) SetSpeechOutput(on bool) error {
	s.mu.Lock()
	s.speech = append(s.speech, on)
	s.mu.Unlock()
	return s.do("speech_output")
}
func (s *stubService) ResolveDevice() error { return s.do("resolve") }
func (s *stubService) Snapshot() voice.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
func (s *stubService) History() []assistant.AssistantMessage {
	return []assistant.AssistantMessage{
		{MsgRole: assistant.USER, Content: "what time is it"},
		{MsgRole: assistant.ASSISTANT, Content: "Almost noon."},
	}
}
func (s *stubService) Subscribe() (<-chan voice.Event, func()) {
	return make(chan voice.Event), func() {}
}

type stubDevices struct{ err error }

func (d stubDevices) Devices() ([]device.Info, error) {
	if d.err != nil {
		return nil, d.err
	}
	return []device.Info{{Name: "Built-in Microphone", MaxInputChannels: 1, DefaultInput: true}}, nil
}

func (d stubDevices) Capabilities() device.Capabilities {
	return device.Capabilities{AudioSource: true}
}

type stubMeter struct{}

func (stubMeter) InputLevel() float64           { return 0.3 }
func (stubMeter) OutputLevels() playback.Levels { return playback.Levels{Level: 0.6} }

func newRouter(svc *stubService, devices DeviceLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	NewVoiceHandler(svc, stubMeter{}, devices, Logger.Nop()).RegisterRoutes(api)
	return router
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestVoiceCommands(t *testing.T) {
	svc := &stubService{snap: voice.Snapshot{State: voice.Idle, Mode: voice.PushToTalk}}
	router := newRouter(svc, stubDevices{})

	paths := map[string]string{
		"/api/voice/press":          "press",
		"/api/voice/release":        "release",
		"/api/voice/cancel":         "cancel",
		"/api/voice/open":           "open",
		"/api/voice/close":          "close",
		"/api/voice/device/resolve": "resolve",
	}
	for path, call := range paths {
		w := perform(router, http.MethodPost, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
			continue
		}
		last := svc.calls[len(svc.calls)-1]
		if last != call {
			t.Errorf("%s: expected %s call, got %s", path, call, last)
		}
	}
}

func TestSetMode(t *testing.T) {
	svc := &stubService{snap: voice.Snapshot{Mode: voice.PushToTalk}}
	router := newRouter(svc, stubDevices{})

	w := perform(router, http.MethodPut, "/api/voice/mode", `{"mode":"voice_activated"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp StateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.State.Mode != voice.VoiceActivated {
		t.Errorf("Expected mode %s, got %s", voice.VoiceActivated, resp.State.Mode)
	}

	w = perform(router, http.MethodPut, "/api/voice/mode", `{"mode":"telepathy"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown mode, got %d", w.Code)
	}

	w = perform(router, http.MethodPut, "/api/voice/mode", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing mode, got %d", w.Code)
	}
}

func TestSetSpeechOutput(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, stubDevices{})

	w := perform(router, http.MethodPut, "/api/voice/speech-output", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(svc.speech) != 1 || svc.speech[0] {
		t.Errorf("Expected a single disable call, got %v", svc.speech)
	}

	w = perform(router, http.MethodPut, "/api/voice/speech-output", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without enabled, got %d", w.Code)
	}
}

func TestCommandErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{voice.ErrDeviceFault, http.StatusConflict},
		{voice.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubService{err: tc.err, snap: voice.Snapshot{DeviceFault: "microphone unplugged"}}
		router := newRouter(svc, stubDevices{})

		w := perform(router, http.MethodPost, "/api/voice/press", "")
		if w.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestReadEndpoints(t *testing.T) {
	svc := &stubService{snap: voice.Snapshot{State: voice.Speaking, HistoryLen: 2}}
	router := newRouter(svc, stubDevices{})

	w := perform(router, http.MethodGet, "/api/voice/state", "")
	var state StateResponse
	json.Unmarshal(w.Body.Bytes(), &state)
	if state.State.State != voice.Speaking {
		t.Errorf("Expected speaking, got %s", state.State.State)
	}

	w = perform(router, http.MethodGet, "/api/voice/history", "")
	var hist HistoryResponse
	json.Unmarshal(w.Body.Bytes(), &hist)
	if len(hist.Messages) != 2 || hist.Messages[1].Content != "Almost noon." {
		t.Errorf("Unexpected history: %+v", hist.Messages)
	}

	w = perform(router, http.MethodGet, "/api/voice/levels", "")
	var levels LevelsResponse
	json.Unmarshal(w.Body.Bytes(), &levels)
	if levels.Input != 0.3 || levels.Output.Level != 0.6 {
		t.Errorf("Unexpected levels: %+v", levels)
	}

	w = perform(router, http.MethodGet, "/api/voice/devices", "")
	var devs DevicesResponse
	json.Unmarshal(w.Body.Bytes(), &devs)
	if len(devs.Devices) != 1 || !devs.Capabilities.AudioSource {
		t.Errorf("Unexpected devices: %+v", devs)
	}
}

func TestDevicesError(t *testing.T) {
	router := newRouter(&stubService{}, stubDevices{err: errors.New("host gone")})

	w := perform(router, http.MethodGet, "/api/voice/devices", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}
