package editor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/splax/lovablebridge/internal/lovable"
)

// Manager keeps one session per project.
type Manager struct {
	gateway Gateway
	embed   lovable.EmbedOptions
	logger  *slog.Logger
	now     func() time.Time

	pending  sync.WaitGroup
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager building frames with embed.
func NewManager(gateway Gateway, embed lovable.EmbedOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if embed.Token != "" {
		logger.Warn("editor frame URLs will carry the session token")
	}
	return &Manager{
		gateway:  gateway,
		embed:    embed,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open returns the session for projectID, creating it on first use.
func (m *Manager) Open(projectID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[projectID]; ok {
		return s
	}
	s := newSession(projectID, m.gateway, m.embed, m.logger, m.now, &m.pending)
	m.sessions[projectID] = s
	return s
}

// Get returns an existing session.
func (m *Manager) Get(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	return s, ok
}

// Drop forgets a session. Background syncs it started still finish.
func (m *Manager) Drop(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, projectID)
}

// Close waits for pending background syncs.
func (m *Manager) Close() {
	m.pending.Wait()
}
