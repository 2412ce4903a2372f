package websocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Session represents one connected WebSocket client
type Session struct {
	SessionID uuid.UUID
	Subject   string // authenticated caller, empty when auth is off
	Conn      *websocket.Conn

	// State
	ConnectedAt time.Time
	lastActive  time.Time
	IsActive    bool
	mutex       sync.RWMutex
}

// NewSession creates a new WebSocket session
func NewSession(subject string, conn *websocket.Conn) *Session {
	return &Session{
		SessionID:   uuid.New(),
		Subject:     subject,
		Conn:        conn,
		ConnectedAt: time.Now(),
		lastActive:  time.Now(),
		IsActive:    true,
	}
}

// SendWebSocketMessage sends a message to the WebSocket client
func (s *Session) SendWebSocketMessage(msgType MessageType, seq int, data interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.IsActive {
		return fmt.Errorf("session not active")
	}

	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		SessionID: s.SessionID.String(),
		Sequence:  seq,
		Timestamp: time.Now(),
	}

	s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.Conn.WriteJSON(msg)
}

// SendError sends an error message to the client
func (s *Session) SendError(seq int, code, message string) error {
	return s.SendWebSocketMessage(MessageTypeError, seq, ErrorMessage{
		Code:    code,
		Message: message,
	})
}

// UpdateLastActive updates the last activity timestamp
func (s *Session) UpdateLastActive() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// Close closes the session and its connection
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.IsActive {
		return nil
	}
	s.IsActive = false
	return s.Conn.Close()
}

// IsExpired checks if the session has expired based on inactivity
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActive) > timeout
}

func (s *Session) IsAlive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.IsActive
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}
