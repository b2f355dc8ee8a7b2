package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType tags a JWT as access or refresh so one class can never be
// presented where the other is required.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RegisterRequest holds the payload for account creation.
type RegisterRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Username string  `json:"username" validate:"required,min=3,max=50"`
	Password string  `json:"password" validate:"required,min=8,max=100"`
	FullName *string `json:"full_name,omitempty"`
	// Request metadata, not part of the JSON payload.
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// TokenPair is the issued access/refresh token response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// UpdateProfileRequest updates the caller's own account.
type UpdateProfileRequest struct {
	FullName  *string `json:"full_name,omitempty"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	IP        string  `json:"-"`
	UserAgent string  `json:"-"`
}

// Claims is the JWT payload for both token classes. The role is a snapshot
// taken at issuance; role changes apply only after reissue.
type Claims struct {
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	TokenType TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}
