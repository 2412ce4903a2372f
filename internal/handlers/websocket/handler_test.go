package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/Logger"
	"github.com/xpanvictor/voicemode/pkg/assistant"
	"github.com/xpanvictor/voicemode/pkg/io/playback"
)

type fakeService struct {
	mu     sync.Mutex
	calls  []string
	mode   voice.InputMode
	fault  bool
	events chan voice.Event
}

func newFakeService() *fakeService {
	return &fakeService{mode: voice.PushToTalk, events: make(chan voice.Event, 8)}
}

func (f *fakeService) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.fault {
		return voice.ErrDeviceFault
	}
	return nil
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) Press() error   { return f.record("press") }
func (f *fakeService) Release() error { return f.record("release") }
func (f *fakeService) Cancel() error  { return f.record("cancel") }
func (f *fakeService) Open() error    { return f.record("open") }
func (f *fakeService) Close() error   { return f.record("close") }
func (f *fakeService) SetMode(m voice.InputMode) error {
	if !m.Valid() {
		return voice.ErrInvalidMode
	}
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	return f.record("mode")
}
func (f *fakeService) SetSpeechOutput(on bool) error { return f.record("speech_output") }
func (f *fakeService) ResolveDevice() error          { return f.record("resolve") }
func (f *fakeService) Snapshot() voice.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return voice.Snapshot{State: voice.Idle, Mode: f.mode}
}
func (f *fakeService) History() []assistant.AssistantMessage { return nil }
func (f *fakeService) Subscribe() (<-chan voice.Event, func()) {
	return f.events, func() {}
}

type fakeMeter struct{}

func (fakeMeter) InputLevel() float64 { return 0.25 }
func (fakeMeter) OutputLevels() playback.Levels {
	return playback.Levels{Level: 0.5, Bands: []float64{0.1, 0.9}}
}

type received struct {
	Type     MessageType     `json:"type"`
	Data     json.RawMessage `json:"data"`
	Sequence int             `json:"sequence"`
}

func setup(t *testing.T, svc *fakeService, meter voice.Meter) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewWebSocketHandler(Logger.Nop(), svc, meter, time.Minute)
	h.levelInterval = 10 * time.Millisecond
	router := gin.New()
	h.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	first := readMessage(t, conn)
	if first.Type != MessageTypeInit {
		t.Fatalf("Expected init message first, got %s", first.Type)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

// readUntil skips level updates and other noise.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) received {
	t.Helper()
	for i := 0; i < 100; i++ {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("No %s message received", typ)
	return received{}
}

func sendCommand(t *testing.T, conn *websocket.Conn, seq int, cmd CommandMessage) {
	t.Helper()
	err := conn.WriteJSON(CommandEnvelope{Type: MessageTypeCommand, Data: cmd, Sequence: seq})
	if err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}
}

func TestCommandsReachService(t *testing.T) {
	svc := newFakeService()
	conn := setup(t, svc, nil)

	sendCommand(t, conn, 1, CommandMessage{Action: ActionPress})
	res := readUntil(t, conn, MessageTypeResult)
	if res.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", res.Sequence)
	}

	sendCommand(t, conn, 2, CommandMessage{Action: ActionMode, Mode: voice.VoiceActivated})
	res = readUntil(t, conn, MessageTypeResult)
	var result ResultMessage
	if err := json.Unmarshal(res.Data, &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.State.Mode != voice.VoiceActivated {
		t.Errorf("Expected mode %s in result, got %s", voice.VoiceActivated, result.State.Mode)
	}

	calls := svc.Calls()
	if len(calls) != 2 || calls[0] != "press" || calls[1] != "mode" {
		t.Errorf("Unexpected service calls: %v", calls)
	}
}

func TestCommandErrors(t *testing.T) {
	cases := []struct {
		name  string
		cmd   CommandMessage
		fault bool
		code  string
	}{
		{"unknown action", CommandMessage{Action: "teleport"}, false, "INVALID_COMMAND"},
		{"bad mode", CommandMessage{Action: ActionMode, Mode: "telepathy"}, false, "INVALID_MODE"},
		{"speech output without flag", CommandMessage{Action: ActionSpeechOutput}, false, "INVALID_COMMAND"},
		{"device fault", CommandMessage{Action: ActionPress}, true, "DEVICE_FAULT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.fault = tc.fault
			conn := setup(t, svc, nil)

			sendCommand(t, conn, 7, tc.cmd)
			msg := readUntil(t, conn, MessageTypeError)
			var e ErrorMessage
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if e.Code != tc.code {
				t.Errorf("Expected code %s, got %s (%s)", tc.code, e.Code, e.Message)
			}
			if msg.Sequence != 7 {
				t.Errorf("Expected sequence 7, got %d", msg.Sequence)
			}
		})
	}
}

func TestMalformedMessage(t *testing.T) {
	conn := setup(t, newFakeService(), nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	msg := readUntil(t, conn, MessageTypeError)
	var e ErrorMessage
	json.Unmarshal(msg.Data, &e)
	if e.Code != "INVALID_MESSAGE" {
		t.Errorf("Expected INVALID_MESSAGE, got %s", e.Code)
	}
}

func TestEventsAreBroadcast(t *testing.T) {
	svc := newFakeService()
	conn := setup(t, svc, nil)

	turn := uuid.New()
	svc.events <- voice.Event{Type: voice.EventTranscript, TurnID: turn, Data: "hello there", Timestamp: time.Now()}

	msg := readUntil(t, conn, MessageTypeEvent)
	var ev struct {
		Type   voice.EventType `json:"type"`
		TurnID uuid.UUID       `json:"turnId"`
		Data   string          `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if ev.Type != voice.EventTranscript || ev.TurnID != turn || ev.Data != "hello there" {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestLevelsAreStreamed(t *testing.T) {
	conn := setup(t, newFakeService(), fakeMeter{})

	msg := readUntil(t, conn, MessageTypeLevels)
	var levels LevelsMessage
	if err := json.Unmarshal(msg.Data, &levels); err != nil {
		t.Fatalf("Failed to decode levels: %v", err)
	}
	if levels.Input != 0.25 || levels.Output.Level != 0.5 || len(levels.Output.Bands) != 2 {
		t.Errorf("Unexpected levels: %+v", levels)
	}
}

func TestConnectionManagerCleanup(t *testing.T) {
	cm := NewConnectionManager(Logger.Nop(), time.Millisecond)
	defer cm.Close()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	upgrader := websocket.Upgrader{}
	serverConn := make(chan *websocket.Conn, 1)
	router.GET("/", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		serverConn <- conn
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	session := NewSession("tester", <-serverConn)
	cm.RegisterConnection(session)
	if cm.GetSessionCount() != 1 {
		t.Fatalf("Expected 1 session, got %d", cm.GetSessionCount())
	}

	time.Sleep(5 * time.Millisecond)
	cm.cleanupExpiredSessions()

	if cm.GetSessionCount() != 0 {
		t.Errorf("Expected expired session to be removed, got %d", cm.GetSessionCount())
	}
	if session.IsAlive() {
		t.Error("Expected expired session to be closed")
	}
}
