// Package sessions keeps logged-in sessions in memory, keyed by an opaque
// random token. Each session owns an ordered diagnosis history.
//
// The map is guarded by an RWMutex; history mutations and snapshot reads
// of a single session are serialized by that session's own mutex, so
// concurrent requests from one browser never lose or tear records.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
)

// Session is a point-in-time copy of a session's state.
type Session struct {
	Token     string
	UserName  string
	History   []models.DiagnosisRecord
	CreatedAt time.Time
}

type entry struct {
	mu        sync.Mutex
	userName  string
	history   []models.DiagnosisRecord
	createdAt time.Time
}

func (e *entry) snapshot(token string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := make([]models.DiagnosisRecord, len(e.history))
	copy(h, e.history)
	return &Session{Token: token, UserName: e.userName, History: h, CreatedAt: e.createdAt}
}

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	logger   logging.Logger

	// newToken is a seam for tests.
	newToken func() (string, error)
}

func NewManager(l logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		logger:   l.With("module", "sessions"),
		newToken: func() (string, error) { return common.MakeRandHexString(common.SessionTokenSize) },
	}
}

// Create starts an empty session for userName and returns its token.
// A user may hold any number of sessions at once.
func (m *Manager) Create(ctx context.Context, userName string) (string, error) {
	for {
		token, err := m.newToken()
		if err != nil {
			return "", fmt.Errorf("session token: %w", err)
		}

		m.mu.Lock()
		if _, taken := m.sessions[token]; taken {
			m.mu.Unlock()
			continue
		}
		m.sessions[token] = &entry{userName: userName, createdAt: time.Now()}
		m.mu.Unlock()

		m.logger.Debug(ctx, "session created", "user", userName)
		return token, nil
	}
}

func (m *Manager) lookup(token string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[token]
	return e, ok
}

// Get returns a snapshot of the session or common.ErrSessionNotFound.
func (m *Manager) Get(token string) (*Session, error) {
	e, ok := m.lookup(token)
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	return e.snapshot(token), nil
}

// Require is Get for gating: a missing session means the caller must log in.
func (m *Manager) Require(token string) (*Session, error) {
	s, err := m.Get(token)
	if err != nil {
		return nil, common.ErrAuthRequired
	}
	return s, nil
}

// AppendHistory adds rec at the end of the session's history.
func (m *Manager) AppendHistory(token string, rec models.DiagnosisRecord) error {
	e, ok := m.lookup(token)
	if !ok {
		return common.ErrSessionNotFound
	}
	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()
	return nil
}

// ClearHistory empties the history; the session stays logged in.
func (m *Manager) ClearHistory(token string) error {
	e, ok := m.lookup(token)
	if !ok {
		return common.ErrSessionNotFound
	}
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
	return nil
}

// Destroy forgets the session. Unknown tokens are ignored.
func (m *Manager) Destroy(ctx context.Context, token string) {
	m.mu.Lock()
	e, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if ok {
		m.logger.Debug(ctx, "session destroyed", "user", e.userName)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
