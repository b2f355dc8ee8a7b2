package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/repository"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type auditRecorder interface {
	Record(event AuditEvent)
}

// AuthConfig defines configuration for token issuance and verification.
type AuthConfig struct {
	Secret        string
	Issuer        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// AuthService provides registration, login, token refresh and profile
// management.
type AuthService struct {
	repo      authUserRepository
	audit     auditRecorder
	denylist  TokenDenylist
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, audit auditRecorder, denylist TokenDenylist, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if denylist == nil {
		denylist = NoopDenylist{}
	}
	return &AuthService{
		repo:      repo,
		audit:     audit,
		denylist:  denylist,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Register creates a new account. New accounts always start as USER,
// active and unverified, regardless of payload contents.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleUser,
		Active:       true,
		Verified:     false,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.recordAuth(nil, models.AuditActionRegister, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "duplicate", "username": req.Username})
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "username or email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.recordAuth(&user.ID, models.AuditActionRegister, models.AuditStatusSuccess, req.IP, req.UserAgent, nil)
	s.logger.Info("user registered", zap.String("username", user.Username))
	return user, nil
}

// Login authenticates a user and returns an issued token pair. The response
// never distinguishes an unknown username from a wrong password.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordAuth(nil, models.AuditActionLogin, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"username": req.Username})
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordAuth(&user.ID, models.AuditActionLogin, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"username": req.Username})
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.Active {
		s.recordAuth(&user.ID, models.AuditActionLogin, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "inactive_account"})
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.recordAuth(&user.ID, models.AuditActionLogin, models.AuditStatusSuccess, req.IP, req.UserAgent, nil)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The consumed token's
// JTI goes on the denylist so rotation is single use.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.VerifyToken(req.RefreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.recordAuth(nil, models.AuditActionTokenRefresh, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "invalid_token"})
		return nil, err
	}

	if revoked, err := s.denylist.IsRevoked(ctx, claims.ID); err != nil {
		s.logger.Warn("denylist lookup failed", zap.Error(err))
	} else if revoked {
		s.recordAuth(nil, models.AuditActionTokenRefresh, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "replayed_token"})
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token already used")
	}

	user, err := s.repo.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.Active {
		s.recordAuth(&user.ID, models.AuditActionTokenRefresh, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "inactive_account"})
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if claims.ExpiresAt != nil {
		remaining := time.Until(claims.ExpiresAt.Time)
		if err := s.denylist.Revoke(ctx, claims.ID, remaining); err != nil {
			s.logger.Warn("failed to revoke consumed refresh token", zap.Error(err))
		}
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	s.recordAuth(&user.ID, models.AuditActionTokenRefresh, models.AuditStatusSuccess, req.IP, req.UserAgent, nil)
	return pair, nil
}

// CurrentUser loads the caller's account.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// UpdateProfile applies the caller's own profile changes.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req models.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		s.recordAuth(&userID, models.AuditActionProfileUpdate, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "invalid_payload"})
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		s.recordAuth(&userID, models.AuditActionProfileUpdate, models.AuditStatusFailure, req.IP, req.UserAgent, nil)
		return nil, err
	}

	if req.FullName != nil {
		user.FullName = req.FullName
	}
	if req.Email != nil {
		user.Email = strings.ToLower(*req.Email)
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.recordAuth(&user.ID, models.AuditActionProfileUpdate, models.AuditStatusFailure, req.IP, req.UserAgent, map[string]interface{}{"reason": "duplicate_email"})
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "email already in use")
		}
		s.recordAuth(&user.ID, models.AuditActionProfileUpdate, models.AuditStatusFailure, req.IP, req.UserAgent, nil)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	s.recordAuth(&user.ID, models.AuditActionProfileUpdate, models.AuditStatusSuccess, req.IP, req.UserAgent, nil)
	return user, nil
}

// VerifyToken parses and validates a token, enforcing the expected class.
// An access token is never accepted where a refresh token is required, and
// vice versa.
func (s *AuthService) VerifyToken(tokenString string, expected models.TokenType) (*models.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.Claims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	if claims.TokenType != expected {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token type mismatch")
	}

	return claims, nil
}

func (s *AuthService) issuePair(user *models.User) (*models.TokenPair, error) {
	access, err := s.signToken(user, models.TokenTypeAccess, s.config.AccessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(user, models.TokenTypeRefresh, s.config.RefreshExpiry)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.config.AccessExpiry.Seconds()),
	}, nil
}

func (s *AuthService) signToken(user *models.User, tokenType models.TokenType, expiry time.Duration) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.Claims{
		Username:  user.Username,
		Role:      user.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *AuthService) recordAuth(userID *string, action, status, ip, userAgent string, details map[string]interface{}) {
	s.metrics.RecordAuthAttempt(action, status)
	if s.audit == nil {
		return
	}
	s.audit.Record(AuditEvent{
		UserID:    userID,
		Action:    action,
		Status:    status,
		IP:        ip,
		UserAgent: userAgent,
		Details:   details,
	})
}
