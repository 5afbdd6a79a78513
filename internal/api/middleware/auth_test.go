package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certverify/internal/core"
	"github.com/edvin/certverify/internal/model"
)

type stubKeys struct {
	keys map[string]*model.APIKey
	err  error
}

func (s *stubKeys) Authenticate(_ context.Context, rawKey string) (*model.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	k, ok := s.keys[rawKey]
	if !ok {
		return nil, core.ErrInvalidAPIKey
	}
	return k, nil
}

func okHandler(t *testing.T, seen **APIKeyIdentity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAuth_MissingKey(t *testing.T) {
	var seen *APIKeyIdentity
	handler := Auth(&stubKeys{})(okHandler(t, &seen))

	req := httptest.NewRequest("GET", "/certificates", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing API key", decodeError(t, rec))
	assert.Nil(t, seen)
}

func TestAuth_ValidHeaderKey(t *testing.T) {
	keys := &stubKeys{keys: map[string]*model.APIKey{
		"cvk_good": {ID: "key-1", Name: "ci", Scopes: []string{"certificates:read"}},
	}}
	var seen *APIKeyIdentity
	handler := Auth(keys)(okHandler(t, &seen))

	req := httptest.NewRequest("GET", "/certificates", nil)
	req.Header.Set("X-API-Key", "cvk_good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "key-1", seen.ID)
	assert.Equal(t, []string{"certificates:read"}, seen.Scopes)
}

func TestAuth_BearerFallback(t *testing.T) {
	keys := &stubKeys{keys: map[string]*model.APIKey{"cvk_good": {ID: "key-1"}}}
	var seen *APIKeyIdentity
	handler := Auth(keys)(okHandler(t, &seen))

	req := httptest.NewRequest("GET", "/certificates", nil)
	req.Header.Set("Authorization", "Bearer cvk_good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
}

func TestAuth_InvalidKey(t *testing.T) {
	for name, keys := range map[string]*stubKeys{
		"unknown":  {},
		"db error": {err: errors.New("conn refused")},
	} {
		t.Run(name, func(t *testing.T) {
			var seen *APIKeyIdentity
			handler := Auth(keys)(okHandler(t, &seen))

			req := httptest.NewRequest("GET", "/certificates", nil)
			req.Header.Set("X-API-Key", "cvk_bad")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "invalid API key", decodeError(t, rec))
			assert.Nil(t, seen)
		})
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer token", "Bearer cvk_abc123", "cvk_abc123"},
		{"empty", "", ""},
		{"no prefix", "cvk_abc123", ""},
		{"basic auth ignored", "Basic dXNlcjpwYXNz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractAPIKey(req))
		})
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   int
	}{
		{"wildcard", []string{"*:*"}, http.StatusOK},
		{"exact", []string{"certificates:write"}, http.StatusOK},
		{"resource wildcard", []string{"certificates:*"}, http.StatusOK},
		{"read only", []string{"certificates:read"}, http.StatusForbidden},
		{"none", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope("certificates", "write")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest("POST", "/certificates/x/revoke", nil)
			req = req.WithContext(context.WithValue(req.Context(), APIKeyIdentityKey, &APIKeyIdentity{ID: "k", Scopes: tt.scopes}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireScope_NoIdentity(t *testing.T) {
	handler := RequireScope("certificates", "read")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/certificates", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
