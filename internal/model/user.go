// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an administrative account of the CMS.
//
// PasswordHash is tagged json:"-" so a User can never leak its hash through
// an API response, even when a handler encodes the struct directly.
//
// Email is optional. The empty string means "no email"; repositories store
// it as NULL so the UNIQUE constraint only applies to real addresses.
type User struct {
	ID           string     `json:"id"                  db:"id"`
	Username     string     `json:"username"            db:"username"`
	PasswordHash string     `json:"-"                   db:"password_hash"`
	Email        string     `json:"email,omitempty"     db:"email"`
	Role         Role       `json:"role"                db:"role"`
	IsActive     bool       `json:"isActive"            db:"is_active"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" db:"last_login"`
	CreatedAt    time.Time  `json:"createdAt"           db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt"           db:"updated_at"`
}
