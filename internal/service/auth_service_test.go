package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/repository"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type mockUserRepo struct {
	userByUsername   *models.User
	userByID         *models.User
	findByIDErr      error
	findByNameErr    error
	createErr        error
	updateProfileErr error
	created          *models.User
	lastLoginUpdated bool
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	return m.userByUsername, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.findByNameErr != nil {
		return nil, m.findByNameErr
	}
	if m.userByUsername == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByUsername, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = user
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	return m.updateProfileErr
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

type mockAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (m *mockAudit) Record(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockAudit) last() *AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return &m.events[len(m.events)-1]
}

type mapDenylist struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (d *mapDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revoked == nil {
		d.revoked = make(map[string]bool)
	}
	d.revoked[jti] = true
	return nil
}

func (d *mapDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revoked[jti], nil
}

func newTestAuthService(repo *mockUserRepo, audit *mockAudit, denylist TokenDenylist) *AuthService {
	return NewAuthService(repo, audit, denylist, validator.New(), zap.NewNop(), nil, AuthConfig{
		Secret:        "secret",
		Issuer:        "test",
		AccessExpiry:  time.Hour,
		RefreshExpiry: 24 * time.Hour,
	})
}

func TestAuthServiceRegister(t *testing.T) {
	repo := &mockUserRepo{}
	audit := &mockAudit{}
	svc := newTestAuthService(repo, audit, nil)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "Alice@Example.com",
		Username: "alice",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.Active)
	assert.False(t, user.Verified)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "password123", user.PasswordHash)

	event := audit.last()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditActionRegister, event.Action)
	assert.Equal(t, models.AuditStatusSuccess, event.Status)
}

func TestAuthServiceRegisterDuplicate(t *testing.T) {
	repo := &mockUserRepo{createErr: repository.ErrDuplicate}
	audit := &mockAudit{}
	svc := newTestAuthService(repo, audit, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "a@example.com",
		Username: "alice",
		Password: "password123",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErrors.FromError(err).Code)

	event := audit.last()
	require.NotNil(t, event)
	assert.Equal(t, models.AuditStatusFailure, event.Status)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockUserRepo{userByUsername: &models.User{ID: "u1", Username: "alice", PasswordHash: string(hash), Active: true, Role: models.RoleClinician}}
	audit := &mockAudit{}
	svc := newTestAuthService(repo, audit, nil)

	pair, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.VerifyToken(pair.AccessToken, models.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, models.RoleClinician, claims.Role)
}

func TestAuthServiceLoginIndistinguishableFailures(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)

	unknown := &mockUserRepo{}
	svcUnknown := newTestAuthService(unknown, &mockAudit{}, nil)
	_, errUnknown := svcUnknown.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "password"})
	require.Error(t, errUnknown)

	wrong := &mockUserRepo{userByUsername: &models.User{ID: "u1", Username: "alice", PasswordHash: string(hash), Active: true}}
	svcWrong := newTestAuthService(wrong, &mockAudit{}, nil)
	_, errWrong := svcWrong.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "nope"})
	require.Error(t, errWrong)

	unknownErr := appErrors.FromError(errUnknown)
	wrongErr := appErrors.FromError(errWrong)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, unknownErr.Code)
	assert.Equal(t, unknownErr.Code, wrongErr.Code)
	assert.Equal(t, unknownErr.Message, wrongErr.Message)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockUserRepo{userByUsername: &models.User{ID: "u1", Username: "alice", PasswordHash: string(hash), Active: false}}
	audit := &mockAudit{}
	svc := newTestAuthService(repo, audit, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	user := &models.User{ID: "u1", Username: "alice", Active: true, Role: models.RoleUser}
	repo := &mockUserRepo{userByID: user}
	denylist := &mapDenylist{}
	svc := newTestAuthService(repo, &mockAudit{}, denylist)

	pair, err := svc.issuePair(user)
	require.NoError(t, err)

	fresh, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The consumed token is single use.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
	assert.Equal(t, "refresh token already used", appErr.Message)
}

func TestAuthServiceRefreshRejectsAccessToken(t *testing.T) {
	user := &models.User{ID: "u1", Username: "alice", Active: true, Role: models.RoleUser}
	repo := &mockUserRepo{userByID: user}
	svc := newTestAuthService(repo, &mockAudit{}, nil)

	pair, err := svc.issuePair(user)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: pair.AccessToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceVerifyTokenExpired(t *testing.T) {
	user := &models.User{ID: "u1", Username: "alice", Active: true, Role: models.RoleUser}
	svc := NewAuthService(&mockUserRepo{}, nil, nil, validator.New(), zap.NewNop(), nil, AuthConfig{
		Secret:        "secret",
		AccessExpiry:  -time.Minute,
		RefreshExpiry: time.Hour,
	})

	token, err := svc.signToken(user, models.TokenTypeAccess, -time.Minute)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token, models.TokenTypeAccess)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceVerifyTokenWrongSecret(t *testing.T) {
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleUser}
	issuer := newTestAuthService(&mockUserRepo{}, nil, nil)
	token, err := issuer.signToken(user, models.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	verifier := NewAuthService(&mockUserRepo{}, nil, nil, validator.New(), zap.NewNop(), nil, AuthConfig{Secret: "other", AccessExpiry: time.Hour, RefreshExpiry: time.Hour})
	_, err = verifier.VerifyToken(token, models.TokenTypeAccess)
	require.Error(t, err)
}

func TestAuthServiceUpdateProfileDuplicateEmail(t *testing.T) {
	user := &models.User{ID: "u1", Username: "alice", Email: "a@example.com", Active: true}
	repo := &mockUserRepo{userByID: user, updateProfileErr: repository.ErrDuplicate}
	audit := &mockAudit{}
	svc := newTestAuthService(repo, audit, nil)

	email := "taken@example.com"
	_, err := svc.UpdateProfile(context.Background(), "u1", models.UpdateProfileRequest{Email: &email})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicate.Code, appErr.Code)
	assert.Equal(t, "email already in use", appErr.Message)

	entry := audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionProfileUpdate, entry.Action)
	assert.Equal(t, models.AuditStatusFailure, entry.Status)
}

func TestAuthServiceUpdateProfileUnknownUserAudited(t *testing.T) {
	audit := &mockAudit{}
	svc := newTestAuthService(&mockUserRepo{findByIDErr: sql.ErrNoRows}, audit, nil)

	name := "Alice"
	_, err := svc.UpdateProfile(context.Background(), "ghost", models.UpdateProfileRequest{FullName: &name})
	require.Error(t, err)

	entry := audit.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditActionProfileUpdate, entry.Action)
	assert.Equal(t, models.AuditStatusFailure, entry.Status)
}
