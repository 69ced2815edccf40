package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
)

var (
	_ repository.ResetTokenRepository = (*DB)(nil)
	_ repository.Store                = (*DB)(nil)
)

// ReplaceResetToken deletes the user's existing tokens and inserts token in
// one transaction, so at most one token per user is ever usable.
//
// Two concurrent requests for the same user serialize on the transaction;
// whichever commits last leaves the only row.
func (db *DB) ReplaceResetToken(ctx context.Context, token *model.PasswordResetToken) error {
	token.ID = xid.New().String()
	token.CreatedAt = time.Now().UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning reset token tx: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE user_id = ?`, token.UserID); err != nil {
		return fmt.Errorf("sqlite: deleting prior reset tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used_at, created_at)
		 VALUES (?, ?, ?, ?, NULL, ?)`,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("sqlite: inserting reset token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing reset token: %w", err)
	}
	return nil
}

// GetUsableResetToken looks up an unused, unexpired token by hash.
func (db *DB) GetUsableResetToken(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordResetToken, error) {
	var (
		t      model.PasswordResetToken
		usedAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens
		 WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		tokenHash, now.UTC(),
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reset token", "(redacted)")
		}
		return nil, fmt.Errorf("sqlite: looking up reset token: %w", err)
	}
	t.UsedAt = timePtr(usedAt)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// RedeemResetToken consumes the token and sets the user's password.
//
// The conditional UPDATE is the single point of consumption: it only
// matches while used_at is NULL, so of two concurrent redemptions exactly
// one sees a row come back. The password update runs in the same
// transaction and requires the user to still be active; if it matches
// nothing, the token consumption is rolled back too.
func (db *DB) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (string, error) {
	now = now.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: beginning redeem tx: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		`UPDATE password_reset_tokens
		 SET used_at = ?
		 WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?
		 RETURNING user_id`,
		now, tokenHash, now,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.InvalidResetToken()
		}
		return "", fmt.Errorf("sqlite: consuming reset token: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND is_active = 1`,
		passwordHash, now, userID)
	if err != nil {
		return "", fmt.Errorf("sqlite: setting password for user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("sqlite: checking rows affected: %w", err)
	} else if n == 0 {
		return "", apperror.InvalidResetToken()
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: committing redeem: %w", err)
	}
	return userID, nil
}

// DeleteStaleResetTokens removes tokens that expired before cutoff and
// tokens used before cutoff.
func (db *DB) DeleteStaleResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM password_reset_tokens
		 WHERE expires_at < ? OR (used_at IS NOT NULL AND used_at < ?)`,
		cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting stale reset tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
