package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"nbng/pkg/peer"
	"nbng/pkg/session"
)

// Manager keeps the sessions and responders a node opened, keyed by socket name.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*session.Session
	responders map[string]*peer.Responder
}

func NewManager() *Manager {
	return &Manager{
		sessions:   make(map[string]*session.Session),
		responders: make(map[string]*peer.Responder),
	}
}

func (m *Manager) taken(name string) bool {
	_, s := m.sessions[name]
	_, r := m.responders[name]
	return s || r
}

// AddSession registers s under name. Names are unique across sessions and responders.
func (m *Manager) AddSession(name string, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken(name) {
		return fmt.Errorf("node: socket %q already registered", name)
	}
	m.sessions[name] = s
	return nil
}

// AddResponder registers r under name.
func (m *Manager) AddResponder(name string, r *peer.Responder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken(name) {
		return fmt.Errorf("node: socket %q already registered", name)
	}
	m.responders[name] = r
	return nil
}

// Session returns the session registered under name, or nil.
func (m *Manager) Session(name string) *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[name]
}

// Names returns all registered socket names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions)+len(m.responders))
	for n := range m.sessions {
		out = append(out, n)
	}
	for n := range m.responders {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Close closes and forgets the socket registered under name.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	s := m.sessions[name]
	r := m.responders[name]
	delete(m.sessions, name)
	delete(m.responders, name)
	m.mu.Unlock()

	switch {
	case s != nil:
		return s.Close()
	case r != nil:
		return r.Close()
	}
	return nil
}

// CloseAll closes every registered socket and joins their errors.
func (m *Manager) CloseAll() error {
	var errs []error
	for _, name := range m.Names() {
		if err := m.Close(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
