package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeStore is an in-memory repository.UserRepository and
// repository.ResetTokenRepository. A single mutex makes every method
// atomic, which is what the SQL implementations guarantee per statement
// or transaction.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	tokens map[string]*model.PasswordResetToken // keyed by token hash
	nextID int

	// set to a non-nil error to simulate a database failure
	err error
}

var (
	_ repository.UserRepository       = (*fakeStore)(nil)
	_ repository.ResetTokenRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*model.User),
		tokens: make(map[string]*model.PasswordResetToken),
	}
}

func (f *fakeStore) conflict(u *model.User) error {
	for _, other := range f.users {
		if other.ID == u.ID {
			continue
		}
		if strings.EqualFold(other.Username, u.Username) {
			return apperror.Conflict("user", "username")
		}
		if u.Email != "" && strings.EqualFold(other.Email, u.Email) {
			return apperror.Conflict("user", "email")
		}
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeStore) get(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return f.get(func(u *model.User) bool { return strings.EqualFold(u.Username, username) }, username)
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.NotFound("user", email)
	}
	return f.get(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }, email)
}

func (f *fakeStore) ListUsers(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []model.User{}
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	if opts.Offset >= len(out) {
		return []model.User{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	for h, t := range f.tokens {
		if t.UserID == id {
			delete(f.tokens, h)
		}
	}
	return nil
}

func (f *fakeStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.LastLogin = &at
	return nil
}

func (f *fakeStore) CountUsers(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), f.err
}

func (f *fakeStore) ReplaceResetToken(_ context.Context, t *model.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for h, old := range f.tokens {
		if old.UserID == t.UserID {
			delete(f.tokens, h)
		}
	}
	f.nextID++
	t.ID = fmt.Sprintf("token-%d", f.nextID)
	t.CreatedAt = time.Now().UTC()
	copied := *t
	f.tokens[t.TokenHash] = &copied
	return nil
}

func (f *fakeStore) GetUsableResetToken(_ context.Context, hash string, now time.Time) (*model.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tokens[hash]
	if !ok || !t.Usable(now) {
		return nil, apperror.NotFound("reset token", "(redacted)")
	}
	copied := *t
	return &copied, nil
}

func (f *fakeStore) RedeemResetToken(_ context.Context, hash string, now time.Time, passwordHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	t, ok := f.tokens[hash]
	if !ok || !t.Usable(now) {
		return "", apperror.InvalidResetToken()
	}
	u, ok := f.users[t.UserID]
	if !ok || !u.IsActive {
		return "", apperror.InvalidResetToken()
	}
	used := now
	t.UsedAt = &used
	u.PasswordHash = passwordHash
	return u.ID, nil
}

func (f *fakeStore) DeleteStaleResetTokens(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for h, t := range f.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.UsedAt != nil && t.UsedAt.Before(cutoff)) {
			delete(f.tokens, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

// fakeNotifier records every delivered reset URL.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

type sentReset struct {
	UserID string
	URL    string
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, u *model.User, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{UserID: u.ID, URL: resetURL})
	return n.err
}

func (n *fakeNotifier) all() []sentReset {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentReset(nil), n.sent...)
}

// recordingAudit collects audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

// testClock is a settable Clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher() *auth.HashPool {
	return auth.NewHashPool(auth.NewPasswordServiceForTest(), 4, discardLogger())
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-for-service-tests-0123456789",
		RefreshSecret: "refresh-secret-for-service-tests-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "tripcms-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	return ts
}

// seedUser stores a user whose password is password.
func seedUser(t *testing.T, store *fakeStore, username, password string, role model.Role, active bool) *model.User {
	t.Helper()
	hash, err := newTestHasher().Hash(context.Background(), password)
	if err != nil {
		t.Fatalf("hashing seed password: %v", err)
	}
	u := &model.User{
		Username:     username,
		PasswordHash: hash,
		Email:        username + "@example.com",
		Role:         role,
		IsActive:     active,
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return u
}
