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

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, password_hash, email, role, is_active, last_login, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var (
		u         model.User
		role      string
		email     sql.NullString
		lastLogin sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &role,
		&u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Email = email.String
	u.LastLogin = timePtr(lastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Username, user.PasswordHash, nullString(user.Email),
		string(user.Role), user.IsActive, nullTime(user.LastLogin),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if col, ok := uniqueColumn(err); ok {
			return apperror.Conflict("user", col)
		}
		return fmt.Errorf("postgres: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (db *DB) getUser(ctx context.Context, where, key string, arg any) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("postgres: getting user: %w", err)
	}
	return u, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, `id = $1`, id, id)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, `lower(username) = lower($1)`, username, username)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.NotFound("user", email)
	}
	return db.getUser(ctx, `lower(email) = lower($1)`, email, email)
}

// ListUsers orders by lower(username); a non-positive Limit means no limit.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY lower(username) LIMIT $1 OFFSET $2`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating users: %w", err)
	}
	return users, nil
}

func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET username = $1, password_hash = $2, email = $3, role = $4, is_active = $5, updated_at = $6
		 WHERE id = $7`,
		user.Username, user.PasswordHash, nullString(user.Email), string(user.Role),
		user.IsActive, user.UpdatedAt, user.ID,
	)
	if err != nil {
		if col, ok := uniqueColumn(err); ok {
			return apperror.Conflict("user", col)
		}
		return fmt.Errorf("postgres: updating user %s: %w", user.ID, err)
	}
	return rowsAffectedOrNotFound(res, "user", user.ID)
}

func (db *DB) DeleteUser(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deleting user %s: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, "user", id)
}

func (db *DB) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: updating password for user %s: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, "user", id)
}

func (db *DB) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: recording login for user %s: %w", id, err)
	}
	return rowsAffectedOrNotFound(res, "user", id)
}

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: counting users: %w", err)
	}
	return n, nil
}
