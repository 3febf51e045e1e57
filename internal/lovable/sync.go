package lovable

import (
	"context"
	"net/http"
	"net/url"

	"github.com/splax/lovablebridge/internal/domain"
)

// SyncProject asks the remote service to synchronise a project with its
// repository.
func (c *Client) SyncProject(ctx context.Context, id string, force bool) (domain.SyncStatus, error) {
	body := struct {
		Force bool `json:"force"`
	}{Force: force}
	var status domain.SyncStatus
	if err := c.do(ctx, request{method: http.MethodPost, path: projectPath(id, "sync"), body: body}, &status); err != nil {
		return domain.SyncStatus{}, err
	}
	c.log.Info("project sync requested", "project_id", id, "force", force)
	return status, nil
}

// GetSyncStatus returns the current sync view of a project.
func (c *Client) GetSyncStatus(ctx context.Context, id string) (domain.SyncStatus, error) {
	var status domain.SyncStatus
	if err := c.do(ctx, request{method: http.MethodGet, path: projectPath(id, "sync", "status")}, &status); err != nil {
		return domain.SyncStatus{}, err
	}
	return status, nil
}

type connectRepositoryRequest struct {
	RepoURL     string `json:"repoUrl"`
	GitHubToken string `json:"githubToken,omitempty"`
	AutoSync    bool   `json:"autoSync"`
}

// ConnectRepository links a repository to a project. An empty token falls
// back to the stored provider token.
func (c *Client) ConnectRepository(ctx context.Context, id, repoURL, token string) error {
	if token == "" {
		var err error
		token, err = c.providerToken(ctx)
		if err != nil {
			return err
		}
	}
	body := connectRepositoryRequest{RepoURL: repoURL, GitHubToken: token, AutoSync: true}
	return c.do(ctx, request{method: http.MethodPost, path: projectPath(id, "repository"), body: body}, nil)
}

// DisconnectRepository unlinks the project repository.
func (c *Client) DisconnectRepository(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: projectPath(id, "repository")}, nil)
}

// RepositoryStatus reports the repository link state of a project.
func (c *Client) RepositoryStatus(ctx context.Context, id string) (domain.RepositoryStatus, error) {
	var status domain.RepositoryStatus
	if err := c.do(ctx, request{method: http.MethodGet, path: projectPath(id, "repository", "status")}, &status); err != nil {
		return domain.RepositoryStatus{}, err
	}
	return status, nil
}

type registerWebhookRequest struct {
	URL    string                `json:"url"`
	Events []domain.WebhookEvent `json:"events"`
}

// RegisterWebhook subscribes target to the fixed project event set.
func (c *Client) RegisterWebhook(ctx context.Context, id, target string) (domain.Webhook, error) {
	body := registerWebhookRequest{URL: target, Events: domain.WebhookEvents}
	var hook domain.Webhook
	if err := c.do(ctx, request{method: http.MethodPost, path: projectPath(id, "webhooks"), body: body}, &hook); err != nil {
		return domain.Webhook{}, err
	}
	return hook, nil
}

// RemoveWebhook deletes a webhook registration.
func (c *Client) RemoveWebhook(ctx context.Context, id, webhookID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: projectPath(id, "webhooks", url.PathEscape(webhookID))}, nil)
}
