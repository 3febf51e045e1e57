package domain

// User represents the authenticated account on the remote service.
type User struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	Name            string          `json:"name"`
	Projects        []RemoteProject `json:"projects,omitempty"`
	GitHubConnected bool            `json:"githubConnected"`
}

// GitHubRepository is a repository listed by the source-control provider.
type GitHubRepository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Private  bool   `json:"private"`
}

// GitHubUser is the provider account behind a provider token.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}
