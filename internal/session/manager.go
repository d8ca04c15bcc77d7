package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Factory builds the session of actor editing world.
type Factory func(actor uuid.UUID, world string) (*Session, error)

// Manager owns the open sessions of a front end that receives calls
// concurrently. It serializes writes per session; reads are not serialized.
type Manager struct {
	factory Factory

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory, sessions: make(map[uuid.UUID]*entry)}
}

// Open creates a session and returns its id.
func (m *Manager) Open(actor uuid.UUID, world string) (uuid.UUID, *Session, error) {
	s, err := m.factory(actor, world)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("open session: %w", err)
	}
	id := uuid.New()
	m.mu.Lock()
	m.sessions[id] = &entry{session: s}
	m.mu.Unlock()
	sessionsOpen.Inc()
	return id, s, nil
}

// Do runs fn with exclusive use of the session.
func (m *Manager) Do(id uuid.UUID, fn func(*Session) error) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// Read runs fn without taking the session's write lock. fn must only use
// the read operations of the session.
func (m *Manager) Read(id uuid.UUID, fn func(*Session) error) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return fn(e.session)
}

// Close flushes the session and forgets it.
func (m *Manager) Close(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sessionsOpen.Dec()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Flush(ctx)
}

// CloseAll flushes and forgets every session.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(id uuid.UUID) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return e, nil
}
