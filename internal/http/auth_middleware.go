package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type authContextKey string

type authInfo struct {
	Actor string
}

const contextKeyAuth authContextKey = "lovable-relay-auth"

type contextSetter interface {
	SetContext(context.Context)
}

// requireRelayToken guards operator routes with the shared relay token. The
// check is disabled when no token is configured.
func (r *Router) requireRelayToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.relayToken == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			token = strings.TrimSpace(req.URL.Query().Get("relay_token"))
		}
		if token == "" {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if len(token) != len(r.relayToken) || subtle.ConstantTimeCompare([]byte(token), []byte(r.relayToken)) != 1 {
			r.logger.Warn("relay token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid relay token")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{Actor: "operator"})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
