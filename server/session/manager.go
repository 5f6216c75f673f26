package session

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cyclopcam/logs"
)

// Number of ended sessions that we remember, for the API
const MaxEndedSessions = 50

// Manager owns the sessions that are started through the API
type Manager struct {
	Log logs.Log

	lock     sync.Mutex
	sessions map[string]*Session
	ended    []string // IDs of ended sessions, oldest first
	wg       sync.WaitGroup
}

func NewManager(log logs.Log) *Manager {
	return &Manager{
		Log:      log,
		sessions: map[string]*Session{},
	}
}

// Start runs the session on a new goroutine
func (m *Manager) Start(ctx context.Context, s *Session) {
	m.lock.Lock()
	m.sessions[s.ID] = s
	m.lock.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		// Errors are logged and kept in the summary
		s.Run(ctx)
		m.onEnded(s)
	}()
}

func (m *Manager) onEnded(s *Session) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.ended = append(m.ended, s.ID)
	for len(m.ended) > MaxEndedSessions {
		delete(m.sessions, m.ended[0])
		m.ended = m.ended[1:]
	}
}

func (m *Manager) Get(id string) *Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.sessions[id]
}

// List returns the summaries of all known sessions, oldest first
func (m *Manager) List() []Summary {
	m.lock.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.lock.Unlock()

	result := make([]Summary, 0, len(all))
	for _, s := range all {
		result = append(result, s.Summary())
	}
	slices.SortFunc(result, func(a, b Summary) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return result
}

// Cancel stops a session. It does not wait for the session to end.
func (m *Manager) Cancel(id string) error {
	s := m.Get(id)
	if s == nil {
		return fmt.Errorf("Session %v not found", id)
	}
	s.Cancel()
	return nil
}

// Close cancels all sessions and waits for them to end
func (m *Manager) Close() {
	m.lock.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.lock.Unlock()

	for _, s := range all {
		s.Cancel()
	}
	m.wg.Wait()
}
