package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession represents a connected responder session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n models.AlertNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(n)
}

// WSRegistry holds responder sessions. A reconnect replaces the previous
// session for the same responder.
type WSRegistry struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *zap.Logger) *WSRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSRegistry{logger: logger, sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(responderID string, conn *websocket.Conn) {
	r.mu.Lock()
	old, replaced := r.sessions[responderID]
	r.sessions[responderID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if replaced {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.Inc()
	}
}

// Remove drops the session only if it still belongs to conn.
func (r *WSRegistry) Remove(responderID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[responderID]; ok && s.conn == conn {
		delete(r.sessions, responderID)
		observability.WSConnections.Dec()
	}
}

func (r *WSRegistry) Connected(responderID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[responderID]
	return ok
}

func (r *WSRegistry) Notify(responderID string, n models.AlertNotice) error {
	r.mu.RLock()
	s, ok := r.sessions[responderID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(n); err != nil {
		r.logger.Warn("ws send error", zap.String("responder_id", responderID), zap.Error(err))
		return err
	}
	return nil
}

func (r *WSRegistry) Broadcast(n models.AlertNotice) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sent := 0
	for _, id := range ids {
		if r.Notify(id, n) == nil {
			sent++
		}
	}
	return sent
}
