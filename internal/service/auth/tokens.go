package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/splax/lovablebridge/internal/store"
)

// Tokens reads and writes the persisted session and provider tokens. It
// satisfies lovable.Credentials.
type Tokens struct {
	store store.Store
}

// NewTokens returns a token holder over st.
func NewTokens(st store.Store) *Tokens {
	return &Tokens{store: st}
}

// SessionToken returns the stored session token or "" when there is none.
func (t *Tokens) SessionToken(ctx context.Context) (string, error) {
	return t.get(ctx, store.KeySessionToken)
}

// ProviderToken returns the stored GitHub token or "" when there is none.
func (t *Tokens) ProviderToken(ctx context.Context) (string, error) {
	return t.get(ctx, store.KeyProviderToken)
}

// SetSessionToken replaces the stored session token.
func (t *Tokens) SetSessionToken(ctx context.Context, token string) error {
	return store.SetJSON(ctx, t.store, store.KeySessionToken, strings.TrimSpace(token))
}

// SetProviderToken replaces the stored GitHub token.
func (t *Tokens) SetProviderToken(ctx context.Context, token string) error {
	return store.SetJSON(ctx, t.store, store.KeyProviderToken, strings.TrimSpace(token))
}

// Clear removes the session token. The provider token is kept.
func (t *Tokens) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, store.KeySessionToken)
}

func (t *Tokens) get(ctx context.Context, key string) (string, error) {
	var token string
	if err := store.GetJSON(ctx, t.store, key, &token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}
