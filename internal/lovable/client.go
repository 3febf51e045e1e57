package lovable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/lovablebridge/internal/github"
)

const (
	// ClientVersion is sent as X-Client-Version on every request.
	ClientVersion = "1.0.0"

	DefaultAPIBase = "https://api.lovable.dev"
	DefaultAppBase = "https://lovable.dev"
)

// ErrProviderTokenMissing is returned by source-control calls made without a
// stored GitHub token.
var ErrProviderTokenMissing = errors.New("GitHub token not available")

// Credentials supplies the tokens attached to outgoing requests. Missing
// tokens are reported as an empty string, not an error.
type Credentials interface {
	SessionToken(ctx context.Context) (string, error)
	ProviderToken(ctx context.Context) (string, error)
}

// Client provides typed access to the remote editing service.
type Client struct {
	apiBase      string
	appBase      string
	origin       string
	clientID     string
	clientSecret string
	redirectURI  string
	scope        string
	httpClient   *http.Client
	creds        Credentials
	github       *github.Client
	log          *slog.Logger
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

// WithCredentials sets the token source for outgoing requests.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithOrigin sets the origin of the hosting panel, used for webhook and
// embed URLs.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = strings.TrimRight(strings.TrimSpace(origin), "/") }
}

// WithOAuth configures the OAuth client registration.
func WithOAuth(clientID, clientSecret, redirectURI, scope string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
		c.redirectURI = redirectURI
		if scope != "" {
			c.scope = scope
		}
	}
}

// WithGitHub sets the provider client used for repository calls.
func WithGitHub(gh *github.Client) Option {
	return func(c *Client) {
		if gh != nil {
			c.github = gh
		}
	}
}

// WithLogger sets the logger used for failed calls.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a Client for the given API and app base URLs.
func New(apiBase, appBase string, opts ...Option) (*Client, error) {
	api, err := normaliseBase(apiBase, DefaultAPIBase)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	app, err := normaliseBase(appBase, DefaultAppBase)
	if err != nil {
		return nil, fmt.Errorf("invalid app base url: %w", err)
	}
	cli := &Client{
		apiBase:    api,
		appBase:    app,
		scope:      "projects:read,projects:write,user:read",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(cli)
	}
	if cli.github == nil {
		gh, err := github.New("", github.WithHTTPClient(cli.httpClient))
		if err != nil {
			return nil, err
		}
		cli.github = gh
	}
	return cli, nil
}

func normaliseBase(raw, fallback string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = fallback
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", err
	}
	return strings.TrimRight(trimmed, "/"), nil
}

// AppBase returns the editor application base URL.
func (c *Client) AppBase() string { return c.appBase }

// AppOrigin returns the scheme and host of the editor application, the only
// origin editor frames may post messages from.
func (c *Client) AppOrigin() string {
	u, err := url.Parse(c.appBase)
	if err != nil {
		return c.appBase
	}
	return u.Scheme + "://" + u.Host
}

// Origin returns the configured panel origin.
func (c *Client) Origin() string { return c.origin }

// APIError represents an error response from the remote service.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

type request struct {
	method string
	path   string
	body   any
	// token overrides the stored session token when set.
	token string
	// anonymous suppresses every credential header.
	anonymous bool
}

func (c *Client) do(ctx context.Context, r request, v any) error {
	if c == nil {
		return errors.New("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.apiBase+r.path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if !r.anonymous {
		if err := c.attachCredentials(ctx, req, r.token); err != nil {
			return err
		}
		req.Header.Set("X-Client-Version", ClientVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("remote request failed", "method", r.method, "path", r.path, "error", err)
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		c.log.Warn("remote request rejected", "method", r.method, "path", r.path, "status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) attachCredentials(ctx context.Context, req *http.Request, override string) error {
	session := strings.TrimSpace(override)
	if session == "" {
		var err error
		session, err = c.sessionToken(ctx)
		if err != nil {
			return err
		}
	}
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	provider, err := c.providerToken(ctx)
	if err != nil {
		return err
	}
	if provider != "" {
		req.Header.Set("X-GitHub-Token", provider)
	}
	return nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", nil
	}
	token, err := c.creds.SessionToken(ctx)
	if err != nil {
		return "", fmt.Errorf("load session token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (c *Client) providerToken(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", nil
	}
	token, err := c.creds.ProviderToken(ctx)
	if err != nil {
		return "", fmt.Errorf("load github token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Message != "" {
		return strings.TrimSpace(payload.Message)
	}
	return strings.TrimSpace(payload.Error)
}

func projectPath(id string, suffix ...string) string {
	parts := append([]string{"/projects", url.PathEscape(id)}, suffix...)
	return strings.Join(parts, "/")
}
