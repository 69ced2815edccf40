package model

import "time"

// PasswordResetToken is the stored half of a password-reset credential.
//
// Only TokenHash (hex sha256 of the raw value) is persisted. The raw value
// exists in memory for the duration of the forgot-password request and in
// the link delivered to the user.
type PasswordResetToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Usable reports whether the token is unused and unexpired at now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
