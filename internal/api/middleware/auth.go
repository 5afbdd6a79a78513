package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/certverify/internal/api/response"
	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/model"
)

type contextKey string

const APIKeyIdentityKey contextKey = "api_key_identity"

// APIKeyIdentity holds the authenticated key's ID, name and scopes.
type APIKeyIdentity struct {
	ID     string
	Name   string
	Scopes []string
}

// Authenticator resolves a raw API key to its stored record.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error)
}

// Auth returns a middleware that validates the X-API-Key header (or a bearer
// token) against the issuer keys.
func Auth(keys Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = extractAPIKey(r)
			}
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			k, err := keys.Authenticate(r.Context(), key)
			if err != nil {
				if !errors.Is(err, core.ErrInvalidAPIKey) {
					zerolog.Ctx(r.Context()).Error().Err(err).Msg("api key lookup failed")
				}
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			identity := &APIKeyIdentity{ID: k.ID, Name: k.Name, Scopes: k.Scopes}
			ctx := context.WithValue(r.Context(), APIKeyIdentityKey, identity)
			logger := zerolog.Ctx(ctx).With().Str("api_key_id", k.ID).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
		})
	}
}

// extractAPIKey returns the token from an "Authorization: Bearer" header.
func extractAPIKey(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
