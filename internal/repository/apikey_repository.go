package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinfhir/extractor-api/internal/models"
)

const apiKeyColumns = `id, key_hash, prefix, name, user_id, active, expires_at, last_used_at, created_at`

// APIKeyRepository provides database access for API key records.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new instance of APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts a new API key record.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO api_keys (id, key_hash, prefix, name, user_id, active, expires_at, created_at)
		VALUES (:id, :key_hash, :prefix, :name, :user_id, :active, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, key); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// FindByHash returns the key matching the given secret hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 LIMIT 1`
	var key models.APIKey
	if err := r.db.GetContext(ctx, &key, query, keyHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find api key by hash: %w", err)
	}
	return &key, nil
}

// FindByID returns a key by identifier.
func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 LIMIT 1`
	var key models.APIKey
	if err := r.db.GetContext(ctx, &key, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find api key by id: %w", err)
	}
	return &key, nil
}

// ListByUser returns all keys owned by the given user, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	var keys []models.APIKey
	if err := r.db.SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// Revoke clears the active flag. The row and its audit trail persist.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	const query = `UPDATE api_keys SET active = FALSE WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchLastUsed records a successful use of the key.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
