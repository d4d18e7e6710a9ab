package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mkarppi/mcpdrive/logger"
)

// Manager owns a set of named sessions and tears them all down together.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *slog.Logger
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      logger.WithComponent("client"),
	}
}

// Start creates a session for cfg, starts it, and registers it under
// cfg.Name. Only one session per name may run at a time.
func (m *Manager) Start(ctx context.Context, cfg Config) (*Session, error) {
	sess := New(cfg)

	// Reserve the name before the (slow) start so a concurrent Start for
	// the same server loses immediately instead of racing the handshake.
	m.mu.Lock()
	if _, exists := m.sessions[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session for %q already running", cfg.Name)
	}
	m.sessions[cfg.Name] = sess
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, cfg.Name)
		m.mu.Unlock()
		return nil, err
	}

	m.log.Debug("session registered", "server", cfg.Name, "sessionID", sess.ID())
	return sess, nil
}

// Get returns the session registered under name, if any.
func (m *Manager) Get(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	return sess, ok
}

// Names returns the registered server names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every session and forgets them. Sessions whose server
// ignores the shutdown request are reported in the joined error; callers
// that want them gone anyway should Kill before forgetting the pids.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := make(map[string]*Session, len(m.sessions))
	for name, sess := range m.sessions {
		sessions[name] = sess
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for name, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
