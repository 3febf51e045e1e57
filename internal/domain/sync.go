package domain

import "time"

// SyncStatus is the transient repository sync view of a project. Each
// refresh replaces it wholesale.
type SyncStatus struct {
	InProgress bool         `json:"inProgress"`
	LastSync   *time.Time   `json:"lastSync,omitempty"`
	Changes    *SyncChanges `json:"changes,omitempty"`
}

// SyncChanges lists what the last sync touched.
type SyncChanges struct {
	Files   []string `json:"files"`
	Commits []Commit `json:"commits"`
}

// Commit is a single synchronised commit.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentCommits returns at most n commits from the change set.
func (s SyncStatus) RecentCommits(n int) []Commit {
	if s.Changes == nil || n <= 0 {
		return nil
	}
	if len(s.Changes.Commits) <= n {
		return s.Changes.Commits
	}
	return s.Changes.Commits[:n]
}
