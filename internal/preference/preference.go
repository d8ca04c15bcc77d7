// Package preference stores each actor's preferred edit mode. A stored true
// means the actor wants asynchronous edits; an absent entry means "use the
// default".
package preference

import (
	"sync"

	"asyncedit/internal/model"
)

// Store reads and writes per-actor mode preferences.
type Store interface {
	Preference(actor model.ActorID) (async bool, ok bool)
	SetPreference(actor model.ActorID, async bool) error
	ClearPreference(actor model.ActorID) error
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.RWMutex
	prefs map[model.ActorID]bool
}

func NewMemory() *Memory {
	return &Memory{prefs: make(map[model.ActorID]bool)}
}

func (m *Memory) Preference(actor model.ActorID) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[actor]
	return v, ok
}

func (m *Memory) SetPreference(actor model.ActorID, async bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[actor] = async
	return nil
}

func (m *Memory) ClearPreference(actor model.ActorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, actor)
	return nil
}
