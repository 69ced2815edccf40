package postgres

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

// ReplaceResetToken swaps the user's reset token for token. The user row is
// locked first so concurrent requests for the same user run one after the
// other and only the last inserted token survives.
func (db *DB) ReplaceResetToken(ctx context.Context, token *model.PasswordResetToken) error {
	token.ID = xid.New().String()
	token.CreatedAt = time.Now().UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE id = $1 FOR UPDATE`, token.UserID,
		).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("user", token.UserID)
			}
			return fmt.Errorf("postgres: locking user %s: %w", token.UserID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM password_reset_tokens WHERE user_id = $1`, token.UserID); err != nil {
			return fmt.Errorf("postgres: deleting prior reset tokens: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used_at, created_at)
			 VALUES ($1, $2, $3, $4, NULL, $5)`,
			token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: inserting reset token: %w", err)
		}
		return nil
	})
}

func (db *DB) GetUsableResetToken(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordResetToken, error) {
	var (
		t      model.PasswordResetToken
		usedAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2`,
		tokenHash, now.UTC(),
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reset token", "(redacted)")
		}
		return nil, fmt.Errorf("postgres: looking up reset token: %w", err)
	}
	t.UsedAt = timePtr(usedAt)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// RedeemResetToken consumes the token with a conditional UPDATE. Under
// READ COMMITTED a concurrent redeemer blocks on the row lock and then
// re-evaluates used_at IS NULL, so only one of them gets user_id back.
func (db *DB) RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (string, error) {
	now = now.UTC()
	var userID string

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`UPDATE password_reset_tokens
			 SET used_at = $1
			 WHERE token_hash = $2 AND used_at IS NULL AND expires_at > $1
			 RETURNING user_id`,
			now, tokenHash,
		).Scan(&userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.InvalidResetToken()
			}
			return fmt.Errorf("postgres: consuming reset token: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3 AND is_active`,
			passwordHash, now, userID)
		if err != nil {
			return fmt.Errorf("postgres: setting password for user %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: checking rows affected: %w", err)
		}
		if n == 0 {
			return apperror.InvalidResetToken()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (db *DB) DeleteStaleResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM password_reset_tokens
		 WHERE expires_at < $1 OR (used_at IS NOT NULL AND used_at < $1)`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting stale reset tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	return n, nil
}
