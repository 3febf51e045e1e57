// Package project keeps the locally tracked list of project records and its
// durable mirror.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/store"
)

var (
	// ErrNotFound is returned for unknown record ids.
	ErrNotFound = errors.New("project not found")
	// ErrNotSelectable is returned for records without a connected remote
	// project.
	ErrNotSelectable = errors.New("project is not connected to a remote project")
	// ErrFollowUnsupported is returned by Follow when the store cannot
	// report external writes.
	ErrFollowUnsupported = errors.New("store does not support change notifications")

	errMissingName    = errors.New("project name is required")
	errMissingRepoURL = errors.New("repository url is required")
	errInvalidStatus  = errors.New("invalid project status")
)

// Gateway is the subset of the remote client the registry needs.
type Gateway interface {
	CreateProject(ctx context.Context, req lovable.CreateProjectRequest) (domain.RemoteProject, error)
	SyncProject(ctx context.Context, id string, force bool) (domain.SyncStatus, error)
	UpdateProject(ctx context.Context, id string, req lovable.UpdateProjectRequest) (domain.RemoteProject, error)
	DeleteProject(ctx context.Context, id string) error
	ConnectRepository(ctx context.Context, id, repoURL, token string) error
	DisconnectRepository(ctx context.Context, id string) error
}

// Service owns the project list. The list is mirrored to the store after
// every change; read-modify-write is not coordinated across processes.
type Service struct {
	store   store.Store
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time
	newID   func() (string, error)

	mu       sync.RWMutex
	projects []domain.Project
}

// Option customises a Service.
type Option func(*Service)

// WithNow overrides the time source used for sync timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New constructs a Service. Call Load before reading.
func New(st store.Store, gateway Gateway, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   st,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
		newID:   newRecordID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newRecordID returns a time-ordered unique id.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Load replaces the in-memory list with the stored one. A missing list is
// empty.
func (s *Service) Load(ctx context.Context) error {
	var projects []domain.Project
	if err := store.GetJSON(ctx, s.store, store.KeyProjects, &projects); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to load projects", "error", err)
		return fmt.Errorf("load projects: %w", err)
	}
	s.mu.Lock()
	s.projects = projects
	s.mu.Unlock()
	return nil
}

// List returns a copy of the records in insertion order.
func (s *Service) List() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Project(nil), s.projects...)
}

// Get returns one record.
func (s *Service) Get(id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Project{}, ErrNotFound
	}
	return s.projects[idx], nil
}

// Add creates the remote project and, only if that succeeds, appends a
// connected record. A failed create adds nothing and is not retried.
func (s *Service) Add(ctx context.Context, name, repoURL string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	repoURL = strings.TrimSpace(repoURL)
	if name == "" {
		return domain.Project{}, errMissingName
	}
	if repoURL == "" {
		return domain.Project{}, errMissingRepoURL
	}
	id, err := s.newID()
	if err != nil {
		return domain.Project{}, fmt.Errorf("generate project id: %w", err)
	}
	record := domain.Project{ID: id, Name: name, RepoURL: repoURL, Status: domain.ProjectStatusPending}

	remote, err := s.gateway.CreateProject(ctx, lovable.CreateProjectRequest{Name: name, RepoURL: repoURL})
	if err != nil {
		s.logger.Error("failed to add project", "name", name, "error", err)
		return domain.Project{}, fmt.Errorf("create remote project: %w", err)
	}
	if strings.TrimSpace(remote.ID) == "" {
		s.logger.Error("failed to add project", "name", name, "error", "remote project id missing")
		return domain.Project{}, errors.New("create remote project: response carried no id")
	}
	record.RemoteProjectID = remote.ID
	record.Status = domain.ProjectStatusConnected

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(append([]domain.Project(nil), s.projects...), record)
	if err := s.persistLocked(ctx, next); err != nil {
		return domain.Project{}, err
	}
	s.logger.Info("project added", "project_id", record.ID, "remote_project_id", record.RemoteProjectID)
	return record, nil
}

// Remove drops a record locally. Unknown ids are a no-op; the remote
// project is not deleted.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	next := make([]domain.Project, 0, len(s.projects)-1)
	next = append(next, s.projects[:idx]...)
	next = append(next, s.projects[idx+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.logger.Info("project removed", "project_id", id)
	return nil
}

// Sync asks the remote service to sync the record's project. The record is
// only updated when the call succeeds.
func (s *Service) Sync(ctx context.Context, id string) (domain.Project, error) {
	record, err := s.Get(id)
	if err != nil {
		return domain.Project{}, err
	}
	if !record.Selectable() {
		return domain.Project{}, ErrNotSelectable
	}
	if _, err := s.gateway.SyncProject(ctx, record.RemoteProjectID, false); err != nil {
		s.logger.Error("failed to sync project", "project_id", id, "error", err)
		return domain.Project{}, fmt.Errorf("sync project: %w", err)
	}
	synced := s.now().UTC()
	return s.update(ctx, id, func(p *domain.Project) error {
		p.LastSync = &synced
		p.Status = domain.ProjectStatusConnected
		return nil
	})
}

// UpdateStatus sets a record's status. Connected requires a remote id.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.ProjectStatus) (domain.Project, error) {
	if !status.Valid() {
		return domain.Project{}, fmt.Errorf("%w: %q", errInvalidStatus, status)
	}
	return s.update(ctx, id, func(p *domain.Project) error {
		if status == domain.ProjectStatusConnected && strings.TrimSpace(p.RemoteProjectID) == "" {
			return ErrNotSelectable
		}
		p.Status = status
		return nil
	})
}

// Rename renames the remote project and then the record.
func (s *Service) Rename(ctx context.Context, id, name string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, errMissingName
	}
	record, err := s.remoteRecord(id)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := s.gateway.UpdateProject(ctx, record.RemoteProjectID, lovable.UpdateProjectRequest{Name: name}); err != nil {
		s.logger.Error("failed to rename project", "project_id", id, "error", err)
		return domain.Project{}, fmt.Errorf("update remote project: %w", err)
	}
	return s.update(ctx, id, func(p *domain.Project) error {
		p.Name = name
		return nil
	})
}

// Delete deletes the remote project and drops the record. The record stays
// when the remote call fails.
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.remoteRecord(id)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteProject(ctx, record.RemoteProjectID); err != nil {
		s.logger.Error("failed to delete project", "project_id", id, "error", err)
		return fmt.Errorf("delete remote project: %w", err)
	}
	return s.Remove(ctx, id)
}

// Connect links repoURL to the record's remote project using the stored
// provider token and marks the record connected.
func (s *Service) Connect(ctx context.Context, id, repoURL string) (domain.Project, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return domain.Project{}, errMissingRepoURL
	}
	record, err := s.remoteRecord(id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.gateway.ConnectRepository(ctx, record.RemoteProjectID, repoURL, ""); err != nil {
		s.logger.Error("failed to connect repository", "project_id", id, "error", err)
		return domain.Project{}, fmt.Errorf("connect repository: %w", err)
	}
	return s.update(ctx, id, func(p *domain.Project) error {
		p.RepoURL = repoURL
		p.Status = domain.ProjectStatusConnected
		return nil
	})
}

// Disconnect unlinks the repository. The record drops back to pending and
// can no longer be selected.
func (s *Service) Disconnect(ctx context.Context, id string) (domain.Project, error) {
	record, err := s.remoteRecord(id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := s.gateway.DisconnectRepository(ctx, record.RemoteProjectID); err != nil {
		s.logger.Error("failed to disconnect repository", "project_id", id, "error", err)
		return domain.Project{}, fmt.Errorf("disconnect repository: %w", err)
	}
	return s.update(ctx, id, func(p *domain.Project) error {
		p.Status = domain.ProjectStatusPending
		return nil
	})
}

func (s *Service) remoteRecord(id string) (domain.Project, error) {
	record, err := s.Get(id)
	if err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(record.RemoteProjectID) == "" {
		return domain.Project{}, ErrNotSelectable
	}
	return record, nil
}

// Select returns the remote project id to open for a record.
func (s *Service) Select(id string) (string, error) {
	record, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if !record.Selectable() {
		return "", ErrNotSelectable
	}
	return record.RemoteProjectID, nil
}

// FindByRemoteID returns the record linked to a remote project.
func (s *Service) FindByRemoteID(remoteID string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.RemoteProjectID == remoteID && remoteID != "" {
			return p, nil
		}
	}
	return domain.Project{}, ErrNotFound
}

// ApplyWebhook folds a notification into the displayed state of the record
// linked to payload.ProjectID. Payloads for untracked projects return
// ErrNotFound and change nothing.
func (s *Service) ApplyWebhook(ctx context.Context, payload domain.WebhookPayload) (domain.Project, error) {
	record, err := s.FindByRemoteID(payload.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	detail, err := payload.Decode()
	if err != nil {
		return domain.Project{}, err
	}
	at := payload.Timestamp.UTC()
	return s.update(ctx, record.ID, func(p *domain.Project) error {
		switch d := detail.(type) {
		case domain.CodeUpdated, domain.DeploymentReady:
			p.LastSync = &at
		case domain.BuildCompleted:
			if d.Success {
				p.Status = domain.ProjectStatusConnected
			} else {
				p.Status = domain.ProjectStatusError
			}
		}
		return nil
	})
}

// Follow reloads the list whenever another process rewrites the store. It
// blocks until ctx is done. onReload, when set, runs after each reload.
func (s *Service) Follow(ctx context.Context, onReload func([]domain.Project)) error {
	watcher, ok := s.store.(store.Watcher)
	if !ok {
		return ErrFollowUnsupported
	}
	err := watcher.Watch(ctx, func() {
		if err := s.Load(ctx); err != nil {
			return
		}
		s.logger.Debug("project list reloaded")
		if onReload != nil {
			onReload(s.List())
		}
	})
	if errors.Is(err, store.ErrWatchUnsupported) {
		return ErrFollowUnsupported
	}
	return err
}

func (s *Service) update(ctx context.Context, id string, mutate func(*domain.Project) error) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Project{}, ErrNotFound
	}
	next := append([]domain.Project(nil), s.projects...)
	if err := mutate(&next[idx]); err != nil {
		return domain.Project{}, err
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return domain.Project{}, err
	}
	return next[idx], nil
}

func (s *Service) persistLocked(ctx context.Context, next []domain.Project) error {
	if next == nil {
		next = []domain.Project{}
	}
	if err := store.SetJSON(ctx, s.store, store.KeyProjects, next); err != nil {
		s.logger.Error("failed to persist projects", "error", err)
		return fmt.Errorf("persist projects: %w", err)
	}
	s.projects = next
	return nil
}

func (s *Service) indexLocked(id string) int {
	for i, p := range s.projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}
