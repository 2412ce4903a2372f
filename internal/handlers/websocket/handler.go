package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/voicemode/internal/domains/voice"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

// ContextSubject is the gin context key the auth middleware stores the
// caller under.
const ContextSubject = "subject"

const defaultLevelInterval = 50 * time.Millisecond

// WebSocketHandler streams session events to clients and accepts
// control commands from them
type WebSocketHandler struct {
	logger            *Logger.Logger
	voice             voice.Service
	meter             voice.Meter
	connectionManager *ConnectionManager
	upgrader          websocket.Upgrader
	levelInterval     time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler. meter may be nil,
// in which case no level messages are sent.
func NewWebSocketHandler(
	logger *Logger.Logger,
	svc voice.Service,
	meter voice.Meter,
	sessionTimeout time.Duration,
) *WebSocketHandler {
	return &WebSocketHandler{
		logger:            logger,
		voice:             svc,
		meter:             meter,
		connectionManager: NewConnectionManager(logger, sessionTimeout),
		levelInterval:     defaultLevelInterval,
		upgrader: websocket.Upgrader{
			// TODO: restrict origins once the UI has a fixed host
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("", h.HandleWebSocket)
		ws.GET("/stats", h.HandleStats)
	}
}

// Run fans session events and audio levels out to every client until
// ctx is done.
func (h *WebSocketHandler) Run(ctx context.Context) error {
	events, unsubscribe := h.voice.Subscribe()
	defer unsubscribe()
	defer h.connectionManager.Close()

	ticker := time.NewTicker(h.levelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.connectionManager.BroadcastMessage(MessageTypeEvent, ev)
		case <-ticker.C:
			if h.meter == nil || h.connectionManager.GetSessionCount() == 0 {
				continue
			}
			h.connectionManager.BroadcastMessage(MessageTypeLevels, LevelsMessage{
				Input:  h.meter.InputLevel(),
				Output: h.meter.OutputLevels(),
			})
		}
	}
}

// HandleWebSocket upgrades the connection and serves one client
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	session := NewSession(c.GetString(ContextSubject), conn)
	h.connectionManager.RegisterConnection(session)
	defer h.connectionManager.UnregisterConnection(session.SessionID)

	if err := session.SendWebSocketMessage(MessageTypeInit, 0, InitMessage{
		SessionID: session.SessionID.String(),
		State:     h.voice.Snapshot(),
	}); err != nil {
		h.logger.Errorf("Failed to send init to session %s: %v", session.SessionID, err)
		return
	}

	h.handleConnection(session)
}

// HandleStats provides connection statistics
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   h.connectionManager.GetStats(),
	})
}

func (h *WebSocketHandler) handleConnection(session *Session) {
	h.logger.Debugf("Serving WebSocket session %s", session.SessionID)

	for {
		messageType, data, err := session.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Errorf("WebSocket read error: %v", err)
			} else {
				h.logger.Infof("WebSocket connection closed for session %s", session.SessionID)
			}
			return
		}

		session.UpdateLastActive()

		switch messageType {
		case websocket.TextMessage:
			h.handleTextMessage(session, data)
		case websocket.BinaryMessage:
			session.SendError(0, "UNSUPPORTED", "binary messages are not accepted")
		}
	}
}

func (h *WebSocketHandler) handleTextMessage(session *Session, data []byte) {
	var msg CommandEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("Failed to unmarshal WebSocket message: %v", err)
		session.SendError(0, "INVALID_MESSAGE", "Invalid message format")
		return
	}

	if msg.Type != MessageTypeCommand {
		session.SendError(msg.Sequence, "INVALID_MESSAGE", fmt.Sprintf("unexpected message type %q", msg.Type))
		return
	}

	if err := h.dispatch(msg.Data); err != nil {
		code, text := commandError(err)
		session.SendError(msg.Sequence, code, text)
		return
	}

	session.SendWebSocketMessage(MessageTypeResult, msg.Sequence, ResultMessage{
		Action: msg.Data.Action,
		State:  h.voice.Snapshot(),
	})
}

var errBadCommand = errors.New("bad command")

func (h *WebSocketHandler) dispatch(cmd CommandMessage) error {
	switch cmd.Action {
	case ActionPress:
		return h.voice.Press()
	case ActionRelease:
		return h.voice.Release()
	case ActionCancel:
		return h.voice.Cancel()
	case ActionOpen:
		return h.voice.Open()
	case ActionClose:
		return h.voice.Close()
	case ActionMode:
		return h.voice.SetMode(cmd.Mode)
	case ActionSpeechOutput:
		if cmd.Enabled == nil {
			return fmt.Errorf("%w: enabled is required", errBadCommand)
		}
		return h.voice.SetSpeechOutput(*cmd.Enabled)
	case ActionResolveDevice:
		return h.voice.ResolveDevice()
	default:
		return fmt.Errorf("%w: unknown action %q", errBadCommand, cmd.Action)
	}
}

func commandError(err error) (string, string) {
	switch {
	case errors.Is(err, errBadCommand):
		return "INVALID_COMMAND", err.Error()
	case errors.Is(err, voice.ErrInvalidMode):
		return "INVALID_MODE", err.Error()
	case errors.Is(err, voice.ErrDeviceFault):
		return "DEVICE_FAULT", err.Error()
	case errors.Is(err, voice.ErrClosed):
		return "SESSION_CLOSED", err.Error()
	default:
		return "COMMAND_FAILED", err.Error()
	}
}
