package models

import "time"

// UserRole represents the ordered permission levels. Higher roles inherit
// everything below them.
type UserRole string

const (
	RoleUser       UserRole = "USER"
	RoleResearcher UserRole = "RESEARCHER"
	RoleClinician  UserRole = "CLINICIAN"
	RoleAdmin      UserRole = "ADMIN"
)

var roleRanks = map[UserRole]int{
	RoleUser:       0,
	RoleResearcher: 1,
	RoleClinician:  2,
	RoleAdmin:      3,
}

// Rank returns the ordinal position of the role. Unknown roles rank below
// USER so a corrupt value never grants access.
func (r UserRole) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether the role satisfies the required minimum.
func (r UserRole) AtLeast(required UserRole) bool {
	return r.Rank() >= required.Rank()
}

// Valid reports whether the role is one of the known levels.
func (r UserRole) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// User represents an account stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     *string    `db:"full_name" json:"full_name,omitempty"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"is_active"`
	Verified     bool       `db:"verified" json:"is_verified"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
