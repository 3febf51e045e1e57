package lovable

import (
	"net/url"
	"strings"

	"github.com/splax/lovablebridge/internal/domain"
)

// EmbedOptions controls how the editor frame is presented.
type EmbedOptions struct {
	Theme      string
	HideHeader bool
	AutoSave   bool
	ShowGitHub bool
	ReadOnly   bool
	// Token, when set, is placed in the frame URL. Anything holding the URL
	// (history, referrers, logs) can then read the session token, so callers
	// opt in explicitly.
	Token string
}

// EmbedURL builds the editor frame URL for a project. It is a pure function
// of its inputs and the client's app base and origin.
func (c *Client) EmbedURL(projectID string, opts EmbedOptions) string {
	var params []string
	add := func(key, value string) {
		params = append(params, url.QueryEscape(key)+"="+url.QueryEscape(value))
	}
	if opts.Token != "" {
		add("token", opts.Token)
	}
	if opts.Theme != "" {
		add("theme", opts.Theme)
	}
	if opts.HideHeader {
		add("hideHeader", "true")
	}
	if opts.AutoSave {
		add("autoSave", "true")
	}
	if opts.ShowGitHub {
		add("showGitHub", "true")
	}
	if opts.ReadOnly {
		add("readOnly", "true")
	}
	if c.origin != "" {
		add("origin", c.origin)
	}
	base := c.appBase + "/projects/" + url.PathEscape(projectID) + "/embed"
	if len(params) == 0 {
		return base
	}
	return base + "?" + strings.Join(params, "&")
}

// ProjectURL links to a project in the editor application.
func (c *Client) ProjectURL(projectID string) string {
	return c.appBase + "/projects/" + url.PathEscape(projectID)
}

// IsLovableURL reports whether raw points at the editor application.
func (c *Client) IsLovableURL(raw string) bool {
	return strings.HasPrefix(raw, c.appBase) || strings.Contains(raw, "lovable.dev")
}

// IsGitHubURL reports whether raw is a GitHub repository URL.
func IsGitHubURL(raw string) bool {
	return domain.IsGitHubURL(raw)
}
