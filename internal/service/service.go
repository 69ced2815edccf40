// Package service contains the business logic of the auth core.
//
// THE LAYERS:
//
//	Handler (HTTP)      → parses requests, sets cookies, writes JSON
//	Service (this pkg)  → validates input, enforces rules, orchestrates
//	Repository          → reads/writes users and reset tokens
//
// Services accept plain values and return apperror values; they know
// nothing about HTTP. Everything they depend on is an interface so tests
// can substitute in-memory fakes, and so cmd/tripcmsctl can drive the same
// UserService the HTTP API uses.
package service

import (
	"context"
	"log/slog"
	"time"
)

// PasswordHasher is the hashing surface the services need.
// *auth.HashPool satisfies it.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, hash, plaintext string) bool
	NeedsRehash(hash string) bool
}

// Password length bounds, in bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// AuditEvent describes one administrative mutation.
type AuditEvent struct {
	ActorID  string
	Action   string
	TargetID string
}

// AuditSink receives an event for every user-management mutation.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditSink writes audit events to a slog.Logger.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) Record(ctx context.Context, ev AuditEvent) {
	s.Logger.InfoContext(ctx, "audit",
		slog.String("actor", ev.ActorID),
		slog.String("action", ev.Action),
		slog.String("target", ev.TargetID),
	)
}
