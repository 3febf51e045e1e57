// Package github wraps the provider REST API calls the bridge needs: the
// token's account, its repositories and repository webhooks.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v72/github"

	"github.com/splax/lovablebridge/internal/domain"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	defaultTimeout = 15 * time.Second
	reposPerPage   = 100
)

// ErrTokenMissing is returned when a call is made without a provider token.
var ErrTokenMissing = errors.New("github token not available")

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github request failed with status %d", e.Status)
	}
	return fmt.Sprintf("github request failed (%d): %s", e.Status, e.Message)
}

// Client talks to the GitHub REST API on behalf of a single token per call.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a client against base, falling back to DefaultBaseURL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(trimmed, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid github base url: %w", err)
	}
	cli := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

func (c *Client) api(token string) (*gh.Client, error) {
	if c == nil {
		return nil, errors.New("github client is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}
	api := gh.NewClient(c.httpClient).WithAuthToken(token)
	base := *c.baseURL
	api.BaseURL = &base
	return api, nil
}

// CurrentUser returns the account behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (domain.GitHubUser, error) {
	api, err := c.api(token)
	if err != nil {
		return domain.GitHubUser{}, err
	}
	user, resp, err := api.Users.Get(ctx, "")
	if err != nil {
		return domain.GitHubUser{}, translate(resp, err)
	}
	return domain.GitHubUser{ID: user.GetID(), Login: user.GetLogin()}, nil
}

// ListRepositories returns repositories visible to token, following
// pagination.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]domain.GitHubRepository, error) {
	api, err := c.api(token)
	if err != nil {
		return nil, err
	}
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		ListOptions: gh.ListOptions{PerPage: reposPerPage},
	}
	repos := []domain.GitHubRepository{}
	for {
		page, resp, err := api.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, translate(resp, err)
		}
		for _, r := range page {
			repos = append(repos, domain.GitHubRepository{
				ID:       r.GetID(),
				Name:     r.GetName(),
				FullName: r.GetFullName(),
				HTMLURL:  r.GetHTMLURL(),
				Private:  r.GetPrivate(),
			})
		}
		if resp.NextPage == 0 {
			return repos, nil
		}
		opts.Page = resp.NextPage
	}
}

// Hook is a repository webhook as returned by the provider.
type Hook struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
}

// CreateHook registers a push and pull_request webhook on fullName
// ("owner/repo") delivering JSON to target.
func (c *Client) CreateHook(ctx context.Context, token, fullName, target string) (Hook, error) {
	owner, repo, ok := strings.Cut(strings.Trim(fullName, "/"), "/")
	if !ok || owner == "" || repo == "" {
		return Hook{}, fmt.Errorf("invalid repository name %q", fullName)
	}
	api, err := c.api(token)
	if err != nil {
		return Hook{}, err
	}
	created, resp, err := api.Repositories.CreateHook(ctx, owner, repo, &gh.Hook{
		Name:   gh.Ptr("web"),
		Active: gh.Ptr(true),
		Events: []string{"push", "pull_request"},
		Config: &gh.HookConfig{
			URL:         gh.Ptr(target),
			ContentType: gh.Ptr("json"),
			InsecureSSL: gh.Ptr("0"),
		},
	})
	if err != nil {
		return Hook{}, translate(resp, err)
	}
	return Hook{
		ID:     created.GetID(),
		Name:   created.GetName(),
		Active: created.GetActive(),
		Events: created.Events,
	}, nil
}

// translate maps provider error responses onto APIError. Transport failures
// pass through wrapped.
func translate(resp *gh.Response, err error) error {
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) {
		return APIError{Status: statusOf(errResp.Response), Message: errResp.Message}
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return APIError{Status: statusOf(rateErr.Response), Message: rateErr.Message}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return APIError{Status: statusOf(abuseErr.Response), Message: abuseErr.Message}
	}
	if resp != nil && resp.Response != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return APIError{Status: resp.StatusCode, Message: err.Error()}
	}
	return fmt.Errorf("perform request: %w", err)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
