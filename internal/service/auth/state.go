package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/splax/lovablebridge/internal/store"
)

const (
	stateIssuer   = "lovablebridge"
	stateAudience = "oauth-state"
	stateTTL      = 10 * time.Minute
)

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwtlib.RegisteredClaims
}

func issueState(secret []byte, now time.Time) (string, error) {
	claims := stateClaims{
		Nonce: uuid.NewString(),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    stateIssuer,
			Audience:  jwtlib.ClaimStrings{stateAudience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(stateTTL)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseState(raw string, secret []byte, now time.Time) (*stateClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(raw, &stateClaims{}, func(*jwtlib.Token) (interface{}, error) {
		return secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(stateIssuer),
		jwtlib.WithAudience(stateAudience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*stateClaims)
	if !ok || !parsed.Valid || claims.Nonce == "" {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// stateSecret loads the signing secret, creating one on first use.
func stateSecret(ctx context.Context, st store.Store) ([]byte, error) {
	var encoded string
	err := store.GetJSON(ctx, st, store.KeyOAuthStateSecret, &encoded)
	if err == nil {
		secret, derr := base64.RawStdEncoding.DecodeString(encoded)
		if derr == nil && len(secret) > 0 {
			return secret, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate state secret: %w", err)
	}
	if err := store.SetJSON(ctx, st, store.KeyOAuthStateSecret, base64.RawStdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}
