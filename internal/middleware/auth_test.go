package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type stubVerifier struct {
	claims    *models.Claims
	user      *models.User
	verifyErr error
	userErr   error
	called    bool
}

func (s *stubVerifier) VerifyToken(tokenString string, expected models.TokenType) (*models.Claims, error) {
	s.called = true
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.claims, nil
}

func (s *stubVerifier) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	return s.user, nil
}

type stubResolver struct {
	user       *models.User
	resolveErr error
	called     bool
}

func (s *stubResolver) Resolve(ctx context.Context, presented string) (*models.User, error) {
	s.called = true
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.user, nil
}

func (s *stubResolver) Prefix() string {
	return "cfx_"
}

func runAuth(t *testing.T, tokens tokenVerifier, keys apiKeyResolver, authorization string) (*httptest.ResponseRecorder, *models.User) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var seen *models.User
	router := gin.New()
	router.GET("/protected", Auth(tokens, keys), func(c *gin.Context) {
		seen = UserFromContext(c)
		c.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(recorder, req)
	return recorder, seen
}

func TestAuthMissingHeader(t *testing.T) {
	recorder, _ := runAuth(t, &stubVerifier{}, &stubResolver{}, "")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthMalformedHeader(t *testing.T) {
	recorder, _ := runAuth(t, &stubVerifier{}, &stubResolver{}, "Token abc")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthAccessToken(t *testing.T) {
	user := &models.User{ID: "u1", Active: true, Role: models.RoleUser}
	verifier := &stubVerifier{claims: &models.Claims{}, user: user}
	resolver := &stubResolver{}

	recorder, seen := runAuth(t, verifier, resolver, "Bearer some.jwt.token")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.ID)
	assert.False(t, resolver.called)
}

func TestAuthPrefixedKeySkipsTokenVerification(t *testing.T) {
	user := &models.User{ID: "u2", Active: true, Role: models.RoleResearcher}
	verifier := &stubVerifier{}
	resolver := &stubResolver{user: user}

	recorder, seen := runAuth(t, verifier, resolver, "Bearer cfx_abcdef123456")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u2", seen.ID)
	assert.False(t, verifier.called)
	assert.True(t, resolver.called)
}

func TestAuthKeyFallbackAfterTokenFailure(t *testing.T) {
	user := &models.User{ID: "u3", Active: true, Role: models.RoleUser}
	verifier := &stubVerifier{verifyErr: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}
	resolver := &stubResolver{user: user}

	recorder, seen := runAuth(t, verifier, resolver, "Bearer opaque-without-prefix")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u3", seen.ID)
	assert.True(t, verifier.called)
	assert.True(t, resolver.called)
}

func TestAuthBothCredentialsFail(t *testing.T) {
	verifier := &stubVerifier{verifyErr: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}
	resolver := &stubResolver{resolveErr: appErrors.Clone(appErrors.ErrUnauthorized, "invalid authentication credentials")}

	recorder, _ := runAuth(t, verifier, resolver, "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "invalid token")
}

func TestAuthValidTokenForDeletedUser(t *testing.T) {
	verifier := &stubVerifier{
		claims:  &models.Claims{},
		userErr: appErrors.Clone(appErrors.ErrNotFound, "user not found"),
	}

	recorder, _ := runAuth(t, verifier, &stubResolver{}, "Bearer some.jwt.token")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Contains(t, recorder.Body.String(), appErrors.ErrUnauthorized.Code)
	assert.NotContains(t, recorder.Body.String(), appErrors.ErrNotFound.Code)
}

func TestAuthInactiveUser(t *testing.T) {
	user := &models.User{ID: "u4", Active: false, Role: models.RoleAdmin}
	verifier := &stubVerifier{claims: &models.Claims{}, user: user}

	recorder, _ := runAuth(t, verifier, &stubResolver{}, "Bearer some.jwt.token")
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Contains(t, recorder.Body.String(), appErrors.ErrInactiveAccount.Code)
}
