package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
)

// AuthService handles login, token refresh and the current-user lookup.
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                               ↘ TokenService (JWT)
//	                               ↘ PasswordHasher (argon2id pool)
//
// Every credential failure (unknown user, inactive user, wrong password)
// comes back as the same apperror.InvalidCredentials so callers cannot
// tell which one happened.
type AuthService struct {
	users  repository.UserRepository
	tokens *auth.TokenService
	hasher PasswordHasher
	logger *slog.Logger
	now    Clock

	dummyMu   sync.Mutex
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	hasher PasswordHasher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		logger: logger,
		now:    utcNow,
	}
}

// AuthResult bundles the user with a freshly issued token pair so the
// handler can set both cookies and respond in one step.
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
}

// Login checks username and password and issues an access/refresh pair.
//
// On success it records the login time and, when the stored hash uses
// outdated parameters (or is a legacy bcrypt hash), stores a fresh hash.
// Both of those are best effort: a failure is logged, not returned.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Spend the same hashing time as a real check.
			s.hasher.Verify(ctx, s.dummy(ctx), password)
			s.logger.InfoContext(ctx, "login failed", slog.String("reason", "unknown user"))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	ok := s.hasher.Verify(ctx, user.PasswordHash, password)
	if !ok || !user.IsActive {
		reason := "wrong password"
		if ok {
			reason = "inactive user"
		}
		s.logger.InfoContext(ctx, "login failed",
			slog.String("userID", user.ID),
			slog.String("reason", reason),
		)
		return nil, apperror.InvalidCredentials()
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "recording last login failed",
			slog.String("userID", user.ID), slog.String("error", err.Error()))
	} else {
		user.LastLogin = &now
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("userID", user.ID),
		slog.String("role", user.Role.String()),
	)
	return result, nil
}

// Refresh exchanges a valid refresh token for a new pair. The user is
// re-read so the new claims carry the current username and role, and a
// user deactivated since the token was issued is refused.
//
// The presented refresh token stays valid until it expires.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		var tokErr *auth.TokenError
		if errors.As(err, &tokErr) {
			s.logger.DebugContext(ctx, "refresh rejected", slog.String("reason", tokErr.Reason.String()))
		}
		return nil, apperror.Unauthorized()
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/auth: loading user %s: %w", claims.UserID, err)
	}
	if !user.IsActive {
		return nil, apperror.Unauthorized()
	}

	return s.issue(user)
}

// CurrentUser returns the profile of the authenticated user.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: loading user %s: %w", userID, err)
	}
	return user, nil
}

// AccessTTL and RefreshTTL let handlers size cookie lifetimes.
func (s *AuthService) AccessTTL() time.Duration  { return s.tokens.AccessTTL() }
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	claims := auth.Claims{UserID: user.ID, Username: user.Username, Role: user.Role}

	access, err := s.tokens.IssueAccessToken(claims)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing access token for %s: %w", user.ID, err)
	}
	refresh, err := s.tokens.IssueRefreshToken(claims)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing refresh token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) rehash(ctx context.Context, user *model.User, password string) {
	hash, err := s.hasher.Hash(ctx, password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			slog.String("userID", user.ID), slog.String("error", err.Error()))
		return
	}
	user.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", slog.String("userID", user.ID))
}

// dummy returns a real hash of a throwaway password. It is computed on a
// background context so a cancelled request cannot leave it empty, and a
// failed attempt is retried by the next caller.
func (s *AuthService) dummy(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash
	}
	h, err := s.hasher.Hash(context.Background(), "tripcms-timing-equalizer")
	if err != nil {
		s.logger.WarnContext(ctx, "computing dummy hash failed", slog.String("error", err.Error()))
		return ""
	}
	s.dummyHash = h
	return s.dummyHash
}
