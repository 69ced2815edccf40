// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in the sqlite and postgres subpackages.
package repository

import (
	"context"
	"time"

	"github.com/sakif/tripcms/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores administrative accounts.
//
// Lookups return apperror.ErrNotFound for a missing row; writes that would
// break a UNIQUE constraint (username, email) return apperror.ErrConflict.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	// UpdateUser writes username, email, role, is_active and password_hash.
	UpdateUser(ctx context.Context, user *model.User) error
	DeleteUser(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	CountUsers(ctx context.Context) (int, error)
}

// ResetTokenRepository stores hashed password-reset tokens.
type ResetTokenRepository interface {
	// ReplaceResetToken deletes every token of token.UserID and inserts
	// token, in one transaction.
	ReplaceResetToken(ctx context.Context, token *model.PasswordResetToken) error

	// GetUsableResetToken returns the unused token with tokenHash that
	// expires after now, or apperror.ErrNotFound.
	GetUsableResetToken(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordResetToken, error)

	// RedeemResetToken atomically marks the token used and stores
	// passwordHash on its (active) user. It returns the user ID, or
	// apperror.ErrInvalidToken when no usable token matched.
	RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (string, error)

	// DeleteStaleResetTokens removes tokens that expired, or were used,
	// before cutoff, and reports how many were removed.
	DeleteStaleResetTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is a complete storage backend as the server uses it.
type Store interface {
	UserRepository
	ResetTokenRepository
	Pinger
	Close() error
}
