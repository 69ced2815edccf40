package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
)

const (
	resetTokenBytes = 32
	// Anything longer cannot be a token we issued.
	maxResetTokenLength = 256
	deliveryTimeout     = 30 * time.Second
)

// ResetNotifier delivers a password-reset link to a user.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, user *model.User, resetURL string) error
}

type ResetConfig struct {
	TTL     time.Duration
	URLBase string
}

// PasswordResetService implements forgot-password / reset-password.
//
// TOKEN LIFECYCLE:
//  1. RequestReset: 32 random bytes, hex encoded, go to the user; only the
//     sha256 of that string is stored, replacing any earlier token.
//  2. ValidateToken: read-only check used by the reset form.
//  3. Redeem: consumes the token and sets the new password atomically.
//
// RequestReset behaves the same whether or not the email belongs to an
// active account, and delivery happens off the request goroutine.
type PasswordResetService struct {
	users    repository.UserRepository
	tokens   repository.ResetTokenRepository
	hasher   PasswordHasher
	notifier ResetNotifier
	cfg      ResetConfig
	logger   *slog.Logger
	now      Clock

	wg sync.WaitGroup
}

func NewPasswordResetService(
	users repository.UserRepository,
	tokens repository.ResetTokenRepository,
	hasher PasswordHasher,
	notifier ResetNotifier,
	cfg ResetConfig,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      utcNow,
	}
}

// RequestReset issues a reset token for the active user with email, if
// there is one. It returns nil in every case except a storage failure.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("service/reset: looking up user: %w", err)
	}
	if !user.IsActive {
		s.logger.DebugContext(ctx, "password reset requested for inactive user", slog.String("userID", user.ID))
		return nil
	}

	raw, err := newResetToken()
	if err != nil {
		return fmt.Errorf("service/reset: generating token: %w", err)
	}
	token := &model.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hashResetToken(raw),
		ExpiresAt: s.now().Add(s.cfg.TTL),
	}
	if err := s.tokens.ReplaceResetToken(ctx, token); err != nil {
		return fmt.Errorf("service/reset: storing token for user %s: %w", user.ID, err)
	}

	s.deliver(*user, s.resetURL(raw))
	s.logger.InfoContext(ctx, "password reset issued", slog.String("userID", user.ID))
	return nil
}

// deliver sends the link on its own goroutine, detached from the request
// context. Wait blocks until every pending delivery has finished.
func (s *PasswordResetService) deliver(user model.User, resetURL string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		if err := s.notifier.SendPasswordReset(ctx, &user, resetURL); err != nil {
			// err may quote the message body; only the user ID is logged.
			s.logger.Error("password reset delivery failed", slog.String("userID", user.ID))
		}
	}()
}

// Wait blocks until all in-flight deliveries are done.
func (s *PasswordResetService) Wait() {
	s.wg.Wait()
}

// ValidateToken reports whether raw is an unused, unexpired token. It does
// not consume the token.
func (s *PasswordResetService) ValidateToken(ctx context.Context, raw string) bool {
	if raw == "" || len(raw) > maxResetTokenLength {
		return false
	}
	now := s.now()
	tok, err := s.tokens.GetUsableResetToken(ctx, hashResetToken(raw), now)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.WarnContext(ctx, "reset token lookup failed", slog.String("error", err.Error()))
		}
		return false
	}
	return tok.Usable(now)
}

// Redeem sets newPassword on the token's user and consumes the token.
// Of several concurrent calls with the same token, at most one succeeds.
func (s *PasswordResetService) Redeem(ctx context.Context, raw, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if !s.ValidateToken(ctx, raw) {
		return apperror.InvalidResetToken()
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("service/reset: hashing password: %w", err)
	}

	userID, err := s.tokens.RedeemResetToken(ctx, hashResetToken(raw), s.now(), hash)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidToken) {
			return err
		}
		return fmt.Errorf("service/reset: redeeming token: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("userID", userID))
	return nil
}

func (s *PasswordResetService) resetURL(raw string) string {
	sep := "?"
	if strings.Contains(s.cfg.URLBase, "?") {
		sep = "&"
	}
	return s.cfg.URLBase + sep + "token=" + raw
}

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
