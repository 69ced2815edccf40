package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
	DefaultListLimit  = 50
	MaxListLimit      = 200
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// SystemActor is the identity used for mutations that do not come from an
// HTTP request, such as bootstrapping the first account from the CLI.
var SystemActor = auth.Identity{UserID: "system", Username: "system", Role: model.RoleSuperAdmin}

// CreateUserInput carries the fields of a new account. IsActive defaults to
// true when nil.
type CreateUserInput struct {
	Username string
	Password string
	Email    string
	Role     model.Role
	IsActive *bool
}

// UpdateUserInput is a partial update: nil fields are left unchanged.
// A blank Password also means "unchanged"; an empty Email clears it.
type UpdateUserInput struct {
	Username *string
	Password *string
	Email    *string
	Role     *model.Role
	IsActive *bool
}

// UserService manages administrative accounts. Every method checks the
// actor against the user.* operations of the policy table before touching
// the store.
type UserService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	audit    AuditSink
	logger   *slog.Logger
	validate *validator.Validate
}

func NewUserService(users repository.UserRepository, hasher PasswordHasher, audit AuditSink, logger *slog.Logger) *UserService {
	if audit == nil {
		audit = LogAuditSink{Logger: logger}
	}
	return &UserService{
		users:    users,
		hasher:   hasher,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
	}
}

func (s *UserService) authorize(actor auth.Identity, op auth.Operation) error {
	if !auth.Allowed(op, actor.Role) {
		return apperror.Forbidden("insufficient permissions")
	}
	return nil
}

// Create validates in and stores a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, actor auth.Identity, in CreateUserInput) (*model.User, error) {
	if err := s.authorize(actor, auth.OpUserCreate); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	email, err := s.normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if in.Role == "" {
		return nil, apperror.ValidationFailed("role", "role is required")
	}
	if !in.Role.Valid() {
		return nil, apperror.ValidationFailed("role", fmt.Sprintf("unknown role %q", in.Role))
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/users: hashing password: %w", err)
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		Role:         in.Role,
		IsActive:     active,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/users: creating user: %w", err)
	}

	s.audit.Record(ctx, AuditEvent{ActorID: actor.UserID, Action: string(auth.OpUserCreate), TargetID: user.ID})
	return user, nil
}

// List returns a page of users ordered by username.
func (s *UserService) List(ctx context.Context, actor auth.Identity, opts repository.ListOptions) ([]model.User, error) {
	if err := s.authorize(actor, auth.OpUserList); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	users, err := s.users.ListUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service/users: listing users: %w", err)
	}
	return users, nil
}

// Update applies the non-nil fields of in to user id.
func (s *UserService) Update(ctx context.Context, actor auth.Identity, id string, in UpdateUserInput) (*model.User, error) {
	if err := s.authorize(actor, auth.OpUserUpdate); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/users: loading user %s: %w", id, err)
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if err := validateUsername(username); err != nil {
			return nil, err
		}
		user.Username = username
	}
	if in.Email != nil {
		email, err := s.normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, apperror.ValidationFailed("role", fmt.Sprintf("unknown role %q", *in.Role))
		}
		user.Role = *in.Role
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}
	if in.Password != nil && strings.TrimSpace(*in.Password) != "" {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(ctx, *in.Password)
		if err != nil {
			return nil, fmt.Errorf("service/users: hashing password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) || errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/users: updating user %s: %w", id, err)
	}

	s.audit.Record(ctx, AuditEvent{ActorID: actor.UserID, Action: string(auth.OpUserUpdate), TargetID: id})
	return user, nil
}

// Delete removes user id. An actor cannot delete their own account.
func (s *UserService) Delete(ctx context.Context, actor auth.Identity, id string) error {
	if err := s.authorize(actor, auth.OpUserDelete); err != nil {
		return err
	}
	if actor.UserID == id {
		return apperror.ValidationFailed("id", "you cannot delete your own account")
	}

	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service/users: deleting user %s: %w", id, err)
	}

	s.audit.Record(ctx, AuditEvent{ActorID: actor.UserID, Action: string(auth.OpUserDelete), TargetID: id})
	return nil
}

func (s *UserService) normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	if err := s.validate.Var(email, "email,max=254"); err != nil {
		return "", apperror.ValidationFailed("email", "email must be a valid address")
	}
	return email, nil
}

func validateUsername(username string) error {
	switch {
	case len(username) < MinUsernameLength || len(username) > MaxUsernameLength:
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d to %d characters", MinUsernameLength, MaxUsernameLength))
	case !usernamePattern.MatchString(username):
		return apperror.ValidationFailed("username",
			"username may only contain letters, digits, '_', '.' and '-'")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d to %d characters", MinPasswordLength, MaxPasswordLength))
	}
	return nil
}
