// Package store keeps the durable key-value state of the bridge: session
// tokens, the cached user profile and the project list.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys used by the bridge services.
const (
	KeySessionToken     = "lovable_auth_token"
	KeyProviderToken    = "github_auth_token"
	KeyUserProfile      = "lovable_user"
	KeyProjects         = "user_projects"
	KeyOAuthStateSecret = "oauth_state_secret"
)

// ErrNotFound indicates the key has no stored value.
var ErrNotFound = errors.New("store: not found")

// Store persists opaque values by key. Values written through SetJSON are
// JSON documents; Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Watcher is implemented by stores that can report writes made by other
// processes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// ErrWatchUnsupported is returned by wrappers whose inner store cannot
// watch.
var ErrWatchUnsupported = errors.New("store: watching not supported")

// GetJSON loads key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
