package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type mockKeyRepo struct {
	keys      map[string]*models.APIKey
	createErr error
	touched   bool
}

func newMockKeyRepo() *mockKeyRepo {
	return &mockKeyRepo{keys: make(map[string]*models.APIKey)}
}

func (m *mockKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	if m.createErr != nil {
		return m.createErr
	}
	if key.ID == "" {
		key.ID = "k" + key.Name
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	m.keys[key.ID] = key
	return nil
}

func (m *mockKeyRepo) FindByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	for _, key := range m.keys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockKeyRepo) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	key, ok := m.keys[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return key, nil
}

func (m *mockKeyRepo) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	var out []models.APIKey
	for _, key := range m.keys {
		if key.UserID == userID {
			out = append(out, *key)
		}
	}
	return out, nil
}

func (m *mockKeyRepo) Revoke(ctx context.Context, id string) error {
	key, ok := m.keys[id]
	if !ok {
		return sql.ErrNoRows
	}
	key.Active = false
	return nil
}

func (m *mockKeyRepo) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	m.touched = true
	return nil
}

type mockKeyUserLookup struct {
	users map[string]*models.User
}

func (m *mockKeyUserLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newTestAPIKeyService(repo *mockKeyRepo, users *mockKeyUserLookup) *APIKeyService {
	return NewAPIKeyService(repo, users, &mockAudit{}, validator.New(), zap.NewNop(), APIKeyConfig{
		Prefix:     "cfx_",
		SecretLen:  32,
		MaxTTLDays: 365,
	})
}

func TestAPIKeyServiceCreate(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Role: models.RoleUser}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}})

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-pipeline"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, "cfx_"))

	stored := repo.keys[created.ID]
	require.NotNil(t, stored)
	assert.NotEqual(t, created.Key, stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, "cfx_")
	assert.Equal(t, created.Key[:8], stored.Prefix)
	assert.True(t, stored.Active)
	assert.Nil(t, stored.ExpiresAt)
}

func TestAPIKeyServiceCreateTTLTooLong(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1"}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{})

	days := 1000
	_, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "eternal", ExpiresInDays: &days})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAPIKeyServiceCreateRepoFailureAudited(t *testing.T) {
	repo := newMockKeyRepo()
	repo.createErr = errors.New("storage down")
	owner := &models.User{ID: "u1", Role: models.RoleUser}
	audit := &mockAudit{}
	svc := NewAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}}, audit, validator.New(), zap.NewNop(), APIKeyConfig{
		Prefix:     "cfx_",
		SecretLen:  32,
		MaxTTLDays: 365,
	})

	_, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-pipeline"})
	require.Error(t, err)

	// Failed attempts leave an audit trail just like successful ones.
	entry := audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionCreateAPIKey, entry.Action)
	assert.Equal(t, models.AuditStatusFailure, entry.Status)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "u1", *entry.UserID)
}

func TestAPIKeyServiceCreateTinySecretConfig(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1"}
	svc := NewAPIKeyService(repo, &mockKeyUserLookup{}, nil, validator.New(), zap.NewNop(), APIKeyConfig{
		Prefix:    "cfx_",
		SecretLen: 1,
	})

	// A misconfigured secret length yields a short key, not a panic.
	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "short"})
	require.NoError(t, err)
	assert.Equal(t, created.Key, repo.keys[created.ID].Prefix)
}

func TestAPIKeyServiceCreateValidationFailureAudited(t *testing.T) {
	owner := &models.User{ID: "u1"}
	audit := &mockAudit{}
	svc := NewAPIKeyService(newMockKeyRepo(), &mockKeyUserLookup{}, audit, validator.New(), zap.NewNop(), APIKeyConfig{
		Prefix:     "cfx_",
		SecretLen:  32,
		MaxTTLDays: 365,
	})

	days := 1000
	_, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "eternal", ExpiresInDays: &days})
	require.Error(t, err)

	entry := audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionCreateAPIKey, entry.Action)
	assert.Equal(t, models.AuditStatusFailure, entry.Status)
}

func TestAPIKeyServiceResolve(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Active: true, Role: models.RoleResearcher}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}})

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-key"})
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), created.Key)
	require.NoError(t, err)
	assert.Equal(t, "u1", resolved.ID)
	assert.True(t, repo.touched)
}

func TestAPIKeyServiceResolveRevoked(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Active: true, Role: models.RoleUser}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}})

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-key"})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), created.ID, owner, "", ""))

	_, err = svc.Resolve(context.Background(), created.Key)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAPIKeyServiceResolveExpired(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Active: true}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}})

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-key"})
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	repo.keys[created.ID].ExpiresAt = &past

	_, err = svc.Resolve(context.Background(), created.Key)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAPIKeyServiceResolveInactiveOwner(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Active: true}
	users := &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}}
	svc := newTestAPIKeyService(repo, users)

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-key"})
	require.NoError(t, err)

	owner.Active = false
	_, err = svc.Resolve(context.Background(), created.Key)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAPIKeyServiceRevokePermissions(t *testing.T) {
	repo := newMockKeyRepo()
	owner := &models.User{ID: "u1", Active: true, Role: models.RoleUser}
	svc := newTestAPIKeyService(repo, &mockKeyUserLookup{users: map[string]*models.User{"u1": owner}})

	created, err := svc.Create(context.Background(), owner, models.CreateAPIKeyRequest{Name: "ci-key"})
	require.NoError(t, err)

	// Someone else's key reads as not found, not forbidden.
	stranger := &models.User{ID: "u2", Role: models.RoleClinician}
	err = svc.Revoke(context.Background(), created.ID, stranger, "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.True(t, repo.keys[created.ID].Active)

	admin := &models.User{ID: "u3", Role: models.RoleAdmin}
	require.NoError(t, svc.Revoke(context.Background(), created.ID, admin, "", ""))
	assert.False(t, repo.keys[created.ID].Active)
}
