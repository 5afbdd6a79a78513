package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/model"
	"github.com/edvin/certverify/internal/platform"
)

// Issuer scopes.
const (
	ScopeAll               = "*:*"
	ScopeCertificatesRead  = "certificates:read"
	ScopeCertificatesWrite = "certificates:write"
)

var (
	ErrInvalidAPIKey  = errors.New("invalid or revoked API key")
	ErrAPIKeyNotFound = domainerr.New(domainerr.CodeNotFound, "api key not found or already revoked")
)

// DB is the subset of pgxpool.Pool used by the API key service.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// APIKeyStore issues and checks issuer credentials.
type APIKeyStore interface {
	Create(ctx context.Context, name string, scopes []string) (*model.APIKey, string, error)
	Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// HashAPIKey returns the stored form of a raw key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// APIKeyService manages API keys in the api_keys table.
type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new key and stores only its hash. The raw key is
// returned once and cannot be recovered later.
func (s *APIKeyService) Create(ctx context.Context, name string, scopes []string) (*model.APIKey, string, error) {
	rawKey := platform.NewAPIKey()
	key := newAPIKey(name, rawKey, scopes)

	err := s.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, now()) RETURNING created_at`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, rawKey, nil
}

func (s *APIKeyService) Authenticate(ctx context.Context, rawKey string) (*model.APIKey, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}
	var k model.APIKey
	err := s.db.QueryRow(ctx,
		`SELECT id, name, key_prefix, scopes, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`,
		HashAPIKey(rawKey),
	).Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.Scopes, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate api key: %w", err)
	}
	return &k, nil
}

// Revoke soft-deletes an API key by setting revoked_at.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL", id,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound.Withf("api key %s not found or already revoked", id)
	}
	return nil
}

// MemoryAPIKeys keeps keys in process memory for STORE=memory runs.
type MemoryAPIKeys struct {
	mu     sync.RWMutex
	byHash map[string]*model.APIKey
}

func NewMemoryAPIKeys() *MemoryAPIKeys {
	return &MemoryAPIKeys{byHash: map[string]*model.APIKey{}}
}

func (m *MemoryAPIKeys) Create(_ context.Context, name string, scopes []string) (*model.APIKey, string, error) {
	rawKey := platform.NewAPIKey()
	key := newAPIKey(name, rawKey, scopes)
	key.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	m.byHash[key.KeyHash] = key
	m.mu.Unlock()

	cp := *key
	return &cp, rawKey, nil
}

func (m *MemoryAPIKeys) Authenticate(_ context.Context, rawKey string) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.byHash[HashAPIKey(rawKey)]
	if !ok || k.RevokedAt != nil {
		return nil, ErrInvalidAPIKey
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryAPIKeys) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.byHash {
		if k.ID == id && k.RevokedAt == nil {
			now := time.Now().UTC()
			k.RevokedAt = &now
			return nil
		}
	}
	return ErrAPIKeyNotFound.Withf("api key %s not found or already revoked", id)
}

func newAPIKey(name, rawKey string, scopes []string) *model.APIKey {
	if len(scopes) == 0 {
		scopes = []string{ScopeAll}
	}
	return &model.APIKey{
		ID:        platform.NewID(),
		Name:      name,
		KeyHash:   HashAPIKey(rawKey),
		KeyPrefix: rawKey[:12],
		Scopes:    scopes,
	}
}
