// Package auth holds the authentication state of the bridge: the session
// token, the cached user profile and the OAuth authorization-code flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/store"
)

var (
	// ErrTokenRequired is returned for blank tokens.
	ErrTokenRequired = errors.New("authentication token is required")
	// ErrAuthenticationFailed wraps a rejected candidate token.
	ErrAuthenticationFailed = errors.New("authentication failed, check your token")
	// ErrInvalidState is returned when an OAuth callback carries a state this
	// bridge did not issue, or one that expired.
	ErrInvalidState = errors.New("invalid OAuth state")
	// ErrOAuthExchange wraps a failed authorization-code exchange.
	ErrOAuthExchange = errors.New("OAuth token exchange failed")
	// ErrNotAuthenticated is returned when no user profile is cached.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Gateway is the subset of the remote client the auth flow needs.
type Gateway interface {
	CurrentUserWithToken(ctx context.Context, token string) (domain.User, error)
	ExchangeCode(ctx context.Context, code string) (string, error)
	AuthorizeURL(state string) string
}

// Service owns the authentication state.
type Service struct {
	store   store.Store
	tokens  *Tokens
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Service.
func New(st store.Store, gateway Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, tokens: NewTokens(st), gateway: gateway, logger: logger, now: time.Now}
}

// Tokens exposes the underlying token holder.
func (s *Service) Tokens() *Tokens { return s.tokens }

// IsAuthenticated reports whether a session token is stored.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	token, err := s.tokens.SessionToken(ctx)
	if err != nil {
		s.logger.Warn("read session token failed", "error", err)
		return false
	}
	return token != ""
}

// SetToken stores token as the session token without validating it.
func (s *Service) SetToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenRequired
	}
	if err := s.tokens.SetSessionToken(ctx, token); err != nil {
		return fmt.Errorf("persist session token: %w", err)
	}
	return nil
}

// SetProviderToken stores the GitHub token.
func (s *Service) SetProviderToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenRequired
	}
	return s.tokens.SetProviderToken(ctx, token)
}

// Authenticate validates token against the remote service and, only when
// it is accepted, stores it along with the user profile. Earlier state is
// left untouched on failure.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, ErrTokenRequired
	}
	user, err := s.gateway.CurrentUserWithToken(ctx, token)
	if err != nil {
		s.logger.Warn("authentication failed", "error", err)
		return domain.User{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if err := s.persist(ctx, token, user); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user authenticated", "user_id", user.ID)
	return user, nil
}

// CurrentUser returns the cached user profile.
func (s *Service) CurrentUser(ctx context.Context) (domain.User, error) {
	var user domain.User
	if err := store.GetJSON(ctx, s.store, store.KeyUserProfile, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrNotAuthenticated
		}
		return domain.User{}, err
	}
	return user, nil
}

// Logout removes the session token and cached profile.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, store.KeyUserProfile); err != nil {
		return err
	}
	s.logger.Info("user logged out")
	return nil
}

// AuthorizeURL returns the URL that starts the authorization-code flow. The
// state parameter is a short-lived signed token checked by HandleCallback.
func (s *Service) AuthorizeURL(ctx context.Context) (string, error) {
	secret, err := stateSecret(ctx, s.store)
	if err != nil {
		return "", fmt.Errorf("load state secret: %w", err)
	}
	state, err := issueState(secret, s.now())
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return s.gateway.AuthorizeURL(state), nil
}

// HandleCallback completes the authorization-code flow. On any failure the
// previous authentication is left as it was.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (domain.User, error) {
	secret, err := stateSecret(ctx, s.store)
	if err != nil {
		return domain.User{}, fmt.Errorf("load state secret: %w", err)
	}
	if _, err := parseState(state, secret, s.now()); err != nil {
		s.logger.Warn("oauth state rejected", "error", err)
		return domain.User{}, ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return domain.User{}, fmt.Errorf("%w: missing authorization code", ErrOAuthExchange)
	}
	token, err := s.gateway.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Error("oauth exchange failed", "error", err)
		return domain.User{}, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	user, err := s.gateway.CurrentUserWithToken(ctx, token)
	if err != nil {
		s.logger.Warn("oauth profile lookup failed, storing token only", "error", err)
		if err := s.tokens.SetSessionToken(ctx, token); err != nil {
			return domain.User{}, fmt.Errorf("persist session token: %w", err)
		}
		if err := s.store.Delete(ctx, store.KeyUserProfile); err != nil {
			return domain.User{}, err
		}
		return domain.User{}, nil
	}
	if err := s.persist(ctx, token, user); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("oauth login completed", "user_id", user.ID)
	return user, nil
}

func (s *Service) persist(ctx context.Context, token string, user domain.User) error {
	if err := s.tokens.SetSessionToken(ctx, token); err != nil {
		return fmt.Errorf("persist session token: %w", err)
	}
	if err := store.SetJSON(ctx, s.store, store.KeyUserProfile, user); err != nil {
		return fmt.Errorf("persist user profile: %w", err)
	}
	return nil
}
