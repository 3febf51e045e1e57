package lovable

import (
	"context"
	"errors"
	"fmt"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/github"
)

// ListGitHubRepositories lists repositories visible to the stored provider
// token. The call goes straight to the provider.
func (c *Client) ListGitHubRepositories(ctx context.Context) ([]domain.GitHubRepository, error) {
	token, err := c.requireProviderToken(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := c.github.ListRepositories(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GitHub repositories: %w", err)
	}
	return repos, nil
}

// CreateGitHubWebhook installs a push/pull_request hook on fullName that
// delivers to target.
func (c *Client) CreateGitHubWebhook(ctx context.Context, fullName, target string) (github.Hook, error) {
	token, err := c.requireProviderToken(ctx)
	if err != nil {
		return github.Hook{}, err
	}
	hook, err := c.github.CreateHook(ctx, token, fullName, target)
	if err != nil {
		return github.Hook{}, fmt.Errorf("create GitHub webhook: %w", err)
	}
	return hook, nil
}

func (c *Client) requireProviderToken(ctx context.Context) (string, error) {
	token, err := c.providerToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrProviderTokenMissing
	}
	return token, nil
}

// Validation is the outcome of checking both stored credentials.
type Validation struct {
	Lovable bool     `json:"lovable"`
	GitHub  bool     `json:"github"`
	Errors  []string `json:"errors"`
}

// ValidateCredentials checks the session token against the remote service
// and the provider token against the provider. It never returns an error;
// problems are listed in the result.
func (c *Client) ValidateCredentials(ctx context.Context) Validation {
	result := Validation{Errors: []string{}}

	if _, err := c.CurrentUser(ctx); err != nil {
		result.Errors = append(result.Errors, "Invalid Lovable API token")
	} else {
		result.Lovable = true
	}

	token, err := c.providerToken(ctx)
	switch {
	case err != nil:
		result.Errors = append(result.Errors, "GitHub API connection failed")
	case token == "":
		result.Errors = append(result.Errors, "GitHub token not found")
	default:
		_, err := c.github.CurrentUser(ctx, token)
		var apiErr github.APIError
		switch {
		case err == nil:
			result.GitHub = true
		case errors.As(err, &apiErr):
			result.Errors = append(result.Errors, "Invalid GitHub token")
		default:
			result.Errors = append(result.Errors, "GitHub API connection failed")
		}
	}
	return result
}
