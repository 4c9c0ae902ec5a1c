// Package directory is the system of record for account existence and
// status. It abstracts the backing store so the provisioning pipeline and
// the login flow never touch persistence directly.
package directory

import (
	"context"
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	ErrNotFound      = errors.New("directory: account not found")
	ErrConflict      = errors.New("directory: username or email already taken")
	ErrInvalidStatus = errors.New("directory: invalid status")
)

// Account is a provisioned directory entry. Groups and permissions are
// always derived from the role matrix, never set directly by callers.
type Account struct {
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Department     string    `json:"department"`
	Role           string    `json:"role"`
	OU             string    `json:"ou,omitempty"`
	Groups         []string  `json:"groups"`
	Permissions    []string  `json:"permissions"`
	Status         string    `json:"status"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasPermission reports whether the account currently holds a permission.
func (a *Account) HasPermission(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the accepted status literals.
func ValidStatus(s string) bool {
	return s == StatusActive || s == StatusInactive
}

// Store describes persistence operations required by the directory.
// Username and email lookups are case-insensitive; implementations keep
// both unique across all accounts.
type Store interface {
	Create(ctx context.Context, acc *Account) error
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, acc *Account) error
	List(ctx context.Context) ([]*Account, error)
	Delete(ctx context.Context, username string) error
}
