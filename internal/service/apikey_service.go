package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
)

type apiKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id string) (*models.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]models.APIKey, error)
	Revoke(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, ts time.Time) error
}

type apiKeyUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// APIKeyConfig governs key issuance.
type APIKeyConfig struct {
	Prefix     string
	SecretLen  int
	MaxTTLDays int
}

// APIKeyService manages long-lived bearer credentials. Secrets are stored
// as SHA-256 hashes; the plaintext leaves the service exactly once.
type APIKeyService struct {
	repo      apiKeyRepository
	users     apiKeyUserLookup
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    APIKeyConfig
}

// NewAPIKeyService constructs an APIKeyService instance.
func NewAPIKeyService(repo apiKeyRepository, users apiKeyUserLookup, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, config APIKeyConfig) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.Prefix == "" {
		config.Prefix = "cfx_"
	}
	if config.SecretLen <= 0 {
		config.SecretLen = 32
	}
	return &APIKeyService{repo: repo, users: users, audit: audit, validator: validate, logger: logger, config: config}
}

// Prefix exposes the configured plaintext key prefix. The access control
// guard uses it as a dispatch hint.
func (s *APIKeyService) Prefix() string {
	return s.config.Prefix
}

// Create mints a new key for the owner and returns the plaintext once.
func (s *APIKeyService) Create(ctx context.Context, owner *models.User, req models.CreateAPIKeyRequest) (*models.CreateAPIKeyResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		s.recordKeyEvent(owner.ID, models.AuditActionCreateAPIKey, models.AuditStatusFailure, "", req.IP, req.UserAgent)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid api key payload")
	}
	if req.ExpiresInDays != nil && s.config.MaxTTLDays > 0 && *req.ExpiresInDays > s.config.MaxTTLDays {
		s.recordKeyEvent(owner.ID, models.AuditActionCreateAPIKey, models.AuditStatusFailure, "", req.IP, req.UserAgent)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("expires_in_days must not exceed %d", s.config.MaxTTLDays))
	}

	plaintext, err := s.generateSecret()
	if err != nil {
		s.recordKeyEvent(owner.ID, models.AuditActionCreateAPIKey, models.AuditStatusFailure, "", req.IP, req.UserAgent)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate api key")
	}

	var expiresAt *time.Time
	if req.ExpiresInDays != nil {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	prefixLen := len(s.config.Prefix) + 4
	if prefixLen > len(plaintext) {
		prefixLen = len(plaintext)
	}

	key := &models.APIKey{
		KeyHash:   hashSecret(plaintext),
		Prefix:    plaintext[:prefixLen],
		Name:      req.Name,
		UserID:    owner.ID,
		Active:    true,
		ExpiresAt: expiresAt,
	}

	if err := s.repo.Create(ctx, key); err != nil {
		s.recordKeyEvent(owner.ID, models.AuditActionCreateAPIKey, models.AuditStatusFailure, "", req.IP, req.UserAgent)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store api key")
	}

	s.recordKeyEvent(owner.ID, models.AuditActionCreateAPIKey, models.AuditStatusSuccess, key.ID, req.IP, req.UserAgent)
	s.logger.Info("api key created", zap.String("user_id", owner.ID), zap.String("key_name", key.Name))

	return &models.CreateAPIKeyResponse{
		ID:        key.ID,
		Key:       plaintext,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// List returns the caller's keys without secrets.
func (s *APIKeyService) List(ctx context.Context, userID string) ([]models.APIKeyListItem, error) {
	keys, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list api keys")
	}

	items := make([]models.APIKeyListItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, models.APIKeyListItem{
			ID:         key.ID,
			Name:       key.Name,
			Prefix:     key.Prefix,
			Active:     key.Active,
			CreatedAt:  key.CreatedAt,
			ExpiresAt:  key.ExpiresAt,
			LastUsedAt: key.LastUsedAt,
		})
	}
	return items, nil
}

// Revoke clears a key's active flag. Admins may revoke any key; other
// callers only their own. A key owned by someone else reads as not found
// so key ids are not enumerable.
func (s *APIKeyService) Revoke(ctx context.Context, keyID string, actor *models.User, ip, userAgent string) error {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordKeyEvent(actor.ID, models.AuditActionDeleteAPIKey, models.AuditStatusFailure, keyID, ip, userAgent)
			return appErrors.Clone(appErrors.ErrNotFound, "api key not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load api key")
	}

	if key.UserID != actor.ID && actor.Role != models.RoleAdmin {
		s.recordKeyEvent(actor.ID, models.AuditActionDeleteAPIKey, models.AuditStatusFailure, keyID, ip, userAgent)
		return appErrors.Clone(appErrors.ErrNotFound, "api key not found")
	}

	if err := s.repo.Revoke(ctx, key.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "api key not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke api key")
	}

	s.recordKeyEvent(actor.ID, models.AuditActionDeleteAPIKey, models.AuditStatusSuccess, key.ID, ip, userAgent)
	return nil
}

// Resolve maps a presented plaintext key to its active owner. A revoked,
// expired or unknown key reads as unauthorized without detail.
func (s *APIKeyService) Resolve(ctx context.Context, presented string) (*models.User, error) {
	key, err := s.repo.FindByHash(ctx, hashSecret(presented))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authentication credentials")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up api key")
	}

	now := time.Now().UTC()
	if !key.Active || key.Expired(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authentication credentials")
	}

	user, err := s.users.FindByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authentication credentials")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load key owner")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := s.repo.TouchLastUsed(ctx, key.ID, now); err != nil {
		s.logger.Warn("failed to update api key last_used_at", zap.Error(err))
	}

	return user, nil
}

func (s *APIKeyService) generateSecret() (string, error) {
	buf := make([]byte, s.config.SecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return s.config.Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func (s *APIKeyService) recordKeyEvent(actorID, action, status, keyID, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	var resource *string
	if keyID != "" {
		r := "api_key:" + keyID
		resource = &r
	}
	s.audit.Record(AuditEvent{
		UserID:    &actorID,
		Action:    action,
		Resource:  resource,
		Status:    status,
		IP:        ip,
		UserAgent: userAgent,
	})
}
