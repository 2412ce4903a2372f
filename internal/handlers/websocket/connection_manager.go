package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voicemode/pkg/Logger"
)

// ConnectionManager tracks the connected clients of the voice session
type ConnectionManager struct {
	logger         *Logger.Logger
	sessions       map[uuid.UUID]*Session
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	closeOnce      sync.Once
	sessionTimeout time.Duration
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *Logger.Logger, sessionTimeout time.Duration) *ConnectionManager {
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Minute
	}
	cm := &ConnectionManager{
		logger:         logger,
		sessions:       make(map[uuid.UUID]*Session),
		stopCleanup:    make(chan struct{}),
		sessionTimeout: sessionTimeout,
	}

	cm.startCleanupRoutine()

	return cm
}

// RegisterConnection registers a new session
func (cm *ConnectionManager) RegisterConnection(session *Session) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.sessions[session.SessionID] = session
	cm.logger.Infof("Registered session %s (subject: %q)", session.SessionID, session.Subject)
}

// UnregisterConnection removes a session and closes its connection
func (cm *ConnectionManager) UnregisterConnection(sessionID uuid.UUID) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if session, exists := cm.sessions[sessionID]; exists {
		cm.logger.Infof("Unregistering session %s", sessionID)
		if err := session.Close(); err != nil {
			cm.logger.Errorf("Error closing session %s: %v", sessionID, err)
		}
		delete(cm.sessions, sessionID)
	}
}

// GetSession retrieves a session by ID
func (cm *ConnectionManager) GetSession(sessionID uuid.UUID) (*Session, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	session, exists := cm.sessions[sessionID]
	return session, exists
}

// GetSessionCount returns the number of active sessions
func (cm *ConnectionManager) GetSessionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return len(cm.sessions)
}

// BroadcastMessage sends a message to every connected client
func (cm *ConnectionManager) BroadcastMessage(msgType MessageType, data interface{}) {
	cm.mutex.RLock()
	sessions := make([]*Session, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		sessions = append(sessions, session)
	}
	cm.mutex.RUnlock()

	// Send without holding the lock
	for _, session := range sessions {
		if err := session.SendWebSocketMessage(msgType, 0, data); err != nil {
			cm.logger.Debugf("Failed to broadcast %s to session %s: %v", msgType, session.SessionID, err)
		}
	}
}

// startCleanupRoutine starts a goroutine to clean up expired sessions
func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(time.Minute)

	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpiredSessions()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpiredSessions removes sessions that went quiet or dropped
func (cm *ConnectionManager) cleanupExpiredSessions() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	expired := make([]uuid.UUID, 0)
	for id, session := range cm.sessions {
		if !session.IsAlive() || session.IsExpired(cm.sessionTimeout) {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		cm.logger.Infof("Cleaning up expired session %s", id)
		cm.sessions[id].Close()
		delete(cm.sessions, id)
	}

	if len(expired) > 0 {
		cm.logger.Infof("Cleaned up %d expired sessions", len(expired))
	}
}

// Close shuts down the connection manager
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.stopCleanup) })

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for id, session := range cm.sessions {
		if err := session.Close(); err != nil {
			cm.logger.Errorf("Error closing session %s: %v", id, err)
		}
	}
	cm.sessions = make(map[uuid.UUID]*Session)

	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := map[string]interface{}{
		"active_sessions": len(cm.sessions),
		"session_timeout": cm.sessionTimeout.String(),
	}

	sessionStats := make([]map[string]interface{}, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		sessionStats = append(sessionStats, map[string]interface{}{
			"session_id":   session.SessionID.String(),
			"subject":      session.Subject,
			"connected_at": session.ConnectedAt,
			"last_active":  session.LastActive(),
			"is_active":    session.IsAlive(),
		})
	}
	stats["sessions"] = sessionStats

	return stats
}
