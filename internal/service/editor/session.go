// Package editor hosts embedded editor sessions and their cross-frame
// message handshake.
package editor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/lovable"
)

// Message types posted by the editor frame.
const (
	MessageReady = "lovable:ready"
	MessageSave  = "lovable:save"
	MessageError = "lovable:error"
)

const backgroundSyncTimeout = time.Minute

// Message is a cross-frame message from the editor.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Gateway is the subset of the remote client a session needs.
type Gateway interface {
	EmbedURL(projectID string, opts lovable.EmbedOptions) string
	ProjectURL(projectID string) string
	AppOrigin() string
	SyncProject(ctx context.Context, id string, force bool) (domain.SyncStatus, error)
}

// State is a snapshot of a session.
type State struct {
	ProjectID string          `json:"projectId"`
	Source    string          `json:"src"`
	Loading   bool            `json:"loading"`
	Ready     bool            `json:"ready"`
	LastSave  *time.Time      `json:"lastSave,omitempty"`
	LastError json.RawMessage `json:"lastError,omitempty"`
	Reloads   int             `json:"reloads"`
}

// Session is one embedded editor for one project.
type Session struct {
	projectID string
	gateway   Gateway
	origin    string
	logger    *slog.Logger
	now       func() time.Time
	pending   *sync.WaitGroup

	mu    sync.Mutex
	state State
}

func newSession(projectID string, gateway Gateway, opts lovable.EmbedOptions, logger *slog.Logger, now func() time.Time, pending *sync.WaitGroup) *Session {
	return &Session{
		projectID: projectID,
		gateway:   gateway,
		origin:    gateway.AppOrigin(),
		logger:    logger,
		now:       now,
		pending:   pending,
		state: State{
			ProjectID: projectID,
			Source:    gateway.EmbedURL(projectID, opts),
			Loading:   true,
		},
	}
}

// ProjectID returns the remote project the session edits.
func (s *Session) ProjectID() string { return s.projectID }

// Origin is the only origin whose messages the session accepts.
func (s *Session) Origin() string { return s.origin }

// Source returns the frame URL.
func (s *Session) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Source
}

// HandleMessage applies a message posted from origin. Messages from any
// origin other than the editor application, and unknown types, are
// ignored; the return value reports whether the message was applied.
func (s *Session) HandleMessage(ctx context.Context, origin string, msg Message) bool {
	if origin != s.origin {
		s.logger.Debug("ignoring editor message from foreign origin", "origin", origin, "project_id", s.projectID)
		return false
	}
	switch msg.Type {
	case MessageReady:
		s.mu.Lock()
		s.state.Loading = false
		s.state.Ready = true
		s.mu.Unlock()
		s.logger.Info("editor ready", "project_id", s.projectID)
	case MessageSave:
		saved := s.now().UTC()
		s.mu.Lock()
		s.state.LastSave = &saved
		s.mu.Unlock()
		s.logger.Info("editor saved", "project_id", s.projectID)
		s.syncInBackground(ctx)
	case MessageError:
		s.mu.Lock()
		s.state.LastError = append(json.RawMessage(nil), msg.Data...)
		s.mu.Unlock()
		s.logger.Warn("editor reported error", "project_id", s.projectID, "data", string(msg.Data))
	default:
		return false
	}
	return true
}

// syncInBackground starts a repository sync that outlives the message's
// request. Failures are logged only.
func (s *Session) syncInBackground(ctx context.Context) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundSyncTimeout)
		defer cancel()
		if _, err := s.gateway.SyncProject(syncCtx, s.projectID, false); err != nil {
			s.logger.Error("sync after save failed", "project_id", s.projectID, "error", err)
			return
		}
		s.logger.Debug("sync after save requested", "project_id", s.projectID)
	}()
}

// Refresh forces a frame reload and returns the frame URL.
func (s *Session) Refresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = true
	s.state.Ready = false
	s.state.Reloads++
	return s.state.Source
}

// OpenURL is the project URL for opening the editor outside the frame.
func (s *Session) OpenURL() string {
	return s.gateway.ProjectURL(s.projectID)
}

// State returns a snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	if out.LastSave != nil {
		t := *out.LastSave
		out.LastSave = &t
	}
	out.LastError = append(json.RawMessage(nil), out.LastError...)
	return out
}
