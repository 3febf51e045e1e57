package domain

import (
	"regexp"
	"strings"
	"time"
)

// ProjectStatus tracks where a locally registered project stands.
type ProjectStatus string

const (
	ProjectStatusConnected ProjectStatus = "connected"
	ProjectStatusPending   ProjectStatus = "pending"
	ProjectStatusError     ProjectStatus = "error"
)

// Valid reports whether the status is one of the known values.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusConnected, ProjectStatusPending, ProjectStatusError:
		return true
	}
	return false
}

// Project is a locally tracked project record mirrored to durable state.
type Project struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	RepoURL         string        `json:"repoUrl"`
	RemoteProjectID string        `json:"lovableProjectId,omitempty"`
	Status          ProjectStatus `json:"status"`
	LastSync        *time.Time    `json:"lastSync,omitempty"`
}

// Selectable reports whether the project can be opened in the editor.
func (p Project) Selectable() bool {
	return p.Status == ProjectStatusConnected && strings.TrimSpace(p.RemoteProjectID) != ""
}

// RemoteProject mirrors the remote service's project payload.
type RemoteProject struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	RepoURL    string     `json:"repoUrl,omitempty"`
	LastSync   *time.Time `json:"lastSync,omitempty"`
	WebhookURL string     `json:"webhookUrl,omitempty"`
}

// RepositoryStatus describes the repository link of a remote project.
type RepositoryStatus struct {
	Connected     bool       `json:"connected"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
	SyncEnabled   bool       `json:"syncEnabled"`
	WebhookActive bool       `json:"webhookActive"`
}

// Webhook is the registration result returned by the remote service.
type Webhook struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

var githubRepoPattern = regexp.MustCompile(`^https://github\.com/[\w\-\.]+/[\w\-\.]+$`)

// IsGitHubURL reports whether raw looks like https://github.com/<owner>/<repo>.
func IsGitHubURL(raw string) bool {
	return githubRepoPattern.MatchString(strings.TrimSpace(raw))
}

// GitHubFullName extracts "owner/repo" from a GitHub repository URL.
func GitHubFullName(raw string) (string, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), ".git")
	if !IsGitHubURL(trimmed) {
		return "", false
	}
	return strings.TrimPrefix(trimmed, "https://github.com/"), true
}
