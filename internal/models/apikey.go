package models

import "time"

// APIKey is a long-lived bearer credential. Only the SHA-256 hash of the
// opaque secret is stored; the plaintext is returned once at creation.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Prefix     string     `db:"prefix" json:"prefix"`
	Name       string     `db:"name" json:"name"`
	UserID     string     `db:"user_id" json:"user_id"`
	Active     bool       `db:"active" json:"is_active"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the key has a passed expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// CreateAPIKeyRequest is the payload for minting a key.
type CreateAPIKeyRequest struct {
	Name          string `json:"name" validate:"required,min=3,max=100"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty" validate:"omitempty,min=1"`
	IP            string `json:"-"`
	UserAgent     string `json:"-"`
}

// CreateAPIKeyResponse carries the one-time plaintext secret.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// APIKeyListItem is the listing shape; it never includes the secret.
type APIKeyListItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Active     bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
