// session/session.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/models"
	"github.com/wfunc/bingoserver/monitor"
	"github.com/wfunc/bingoserver/network"
)

// Store is what a session reads from persistence.
type Store interface {
	IsActivePlayer(ctx context.Context, userID, gameID uuid.UUID) (bool, error)
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
	FetchFields(ctx context.Context, gameID, userID uuid.UUID) ([]models.FieldRow, error)
	FetchPlayers(ctx context.Context, gameID uuid.UUID) ([]models.PlayerRow, error)
}

// Changes is a session's subscription to the update registry.
type Changes interface {
	Next(ctx context.Context) error
	LastChanged(gameID uuid.UUID) (time.Time, bool)
}

// Session is one connected client following one game.
type Session struct {
	ID         string
	UserID     uuid.UUID
	GameID     uuid.UUID
	Conn       network.Connection
	CreatedAt  time.Time
	LastActive time.Time

	store     Store
	changes   Changes
	monitor   *monitor.Monitor
	game      *models.Game
	watermark time.Time
	state     State
	mutex     sync.RWMutex
}

func NewSession(id string, userID, gameID uuid.UUID, conn network.Connection, store Store, changes Changes, m *monitor.Monitor) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		UserID:     userID,
		GameID:     gameID,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		store:      store,
		changes:    changes,
		monitor:    m,
		state:      StateValidating,
	}
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
}

func (s *Session) send(data []byte) error {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
	return s.Conn.Send(data)
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) GetByUserID(userID uuid.UUID) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.UserID == userID {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session's connection, which ends their loops.
func (m *Manager) CloseAll() {
	m.mutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mutex.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
