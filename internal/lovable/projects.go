package lovable

import (
	"context"
	"net/http"

	"github.com/splax/lovablebridge/internal/domain"
)

// CreateProjectRequest describes a project to create on the remote service.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	RepoURL     string `json:"repoUrl"`
	Description string `json:"description,omitempty"`
}

type createProjectPayload struct {
	CreateProjectRequest
	GitHubToken string `json:"github_token,omitempty"`
	SyncEnabled bool   `json:"sync_enabled"`
	WebhookURL  string `json:"webhook_url"`
}

// UpdateProjectRequest carries the fields to change; empty fields are left
// alone.
type UpdateProjectRequest struct {
	Name        string `json:"name,omitempty"`
	RepoURL     string `json:"repoUrl,omitempty"`
	Description string `json:"description,omitempty"`
}

// WebhookURL is where the remote service delivers notifications for
// projects created by this client.
func (c *Client) WebhookURL() string {
	return c.origin + "/api/webhooks/lovable"
}

// CreateProject creates a remote project with repository sync enabled.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (domain.RemoteProject, error) {
	provider, err := c.providerToken(ctx)
	if err != nil {
		return domain.RemoteProject{}, err
	}
	payload := createProjectPayload{
		CreateProjectRequest: req,
		GitHubToken:          provider,
		SyncEnabled:          true,
		WebhookURL:           c.WebhookURL(),
	}
	var project domain.RemoteProject
	if err := c.do(ctx, request{method: http.MethodPost, path: "/projects", body: payload}, &project); err != nil {
		return domain.RemoteProject{}, err
	}
	c.log.Info("remote project created", "project_id", project.ID, "name", req.Name)
	return project, nil
}

// ListProjects returns the caller's remote projects.
func (c *Client) ListProjects(ctx context.Context) ([]domain.RemoteProject, error) {
	var projects []domain.RemoteProject
	if err := c.do(ctx, request{method: http.MethodGet, path: "/projects"}, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject returns one remote project.
func (c *Client) GetProject(ctx context.Context, id string) (domain.RemoteProject, error) {
	var project domain.RemoteProject
	if err := c.do(ctx, request{method: http.MethodGet, path: projectPath(id)}, &project); err != nil {
		return domain.RemoteProject{}, err
	}
	return project, nil
}

// UpdateProject patches a remote project.
func (c *Client) UpdateProject(ctx context.Context, id string, req UpdateProjectRequest) (domain.RemoteProject, error) {
	var project domain.RemoteProject
	if err := c.do(ctx, request{method: http.MethodPatch, path: projectPath(id), body: req}, &project); err != nil {
		return domain.RemoteProject{}, err
	}
	return project, nil
}

// DeleteProject removes a remote project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: projectPath(id)}, nil)
}
