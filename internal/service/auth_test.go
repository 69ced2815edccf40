package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/model"
)

func newTestAuthService(t *testing.T, store *fakeStore) (*AuthService, *testClock) {
	t.Helper()
	clock := newTestClock()
	svc := NewAuthService(store, newTestTokens(t), newTestHasher(), discardLogger())
	svc.now = clock.Now
	return svc, clock
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_Success(t *testing.T) {
	store := newFakeStore()
	alice := seedUser(t, store, "alice", "correct-horse", model.RoleContentEditor, true)
	svc, clock := newTestAuthService(t, store)

	res, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("Login() did not issue both tokens")
	}
	if res.AccessToken == res.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}

	claims, err := svc.tokens.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.UserID != alice.ID || claims.Role != model.RoleContentEditor || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}

	stored, _ := store.GetUserByID(context.Background(), alice.ID)
	if stored.LastLogin == nil || !stored.LastLogin.Equal(clock.Now()) {
		t.Errorf("LastLogin = %v, want %v", stored.LastLogin, clock.Now())
	}
}

func TestLogin_UsernameIsCaseInsensitive(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice", "correct-horse", model.RoleViewer, true)
	svc, _ := newTestAuthService(t, store)

	if _, err := svc.Login(context.Background(), "  ALICE ", "correct-horse"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice", "correct-horse", model.RoleViewer, true)
	seedUser(t, store, "dormant", "correct-horse", model.RoleViewer, false)
	svc, _ := newTestAuthService(t, store)

	tests := []struct {
		name, username, password string
	}{
		{"wrong password", "alice", "wrong-horse"},
		{"unknown user", "mallory", "correct-horse"},
		{"inactive user with correct password", "dormant", "correct-horse"},
		{"empty password", "alice", ""},
		{"empty username", "", "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Login(context.Background(), tt.username, tt.password)
			if res != nil {
				t.Fatal("Login() returned a result on failure")
			}
			if !errors.Is(err, apperror.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if err.Error() != apperror.MsgInvalidCredentials {
				t.Errorf("message = %q, want %q", err.Error(), apperror.MsgInvalidCredentials)
			}
		})
	}
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("disk on fire")
	svc, _ := newTestAuthService(t, store)

	_, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("expected an internal error, got %v", err)
	}
}

// flakyHasher fails the first failHashes calls to Hash and records the
// hash every Verify call was given.
type flakyHasher struct {
	PasswordHasher
	failHashes int
	verified   []string
}

func (h *flakyHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if h.failHashes > 0 {
		h.failHashes--
		return "", errors.New("hash pool unavailable")
	}
	return h.PasswordHasher.Hash(ctx, plaintext)
}

func (h *flakyHasher) Verify(ctx context.Context, hash, plaintext string) bool {
	h.verified = append(h.verified, hash)
	return h.PasswordHasher.Verify(ctx, hash, plaintext)
}

func TestLogin_UnknownUserWithCancelledContextStillBuildsDummyHash(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Login(ctx, "ghost", "whatever-pw"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want ErrUnauthorized", err)
	}
	if svc.dummyHash == "" {
		t.Fatal("dummy hash left empty after a cancelled request")
	}
	if !strings.HasPrefix(svc.dummyHash, "$argon2id$") {
		t.Errorf("dummy hash = %q, want an argon2id hash", svc.dummyHash)
	}
}

func TestLogin_DummyHashRetriedAfterFailure(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeStore())
	hasher := &flakyHasher{PasswordHasher: newTestHasher(), failHashes: 1}
	svc.hasher = hasher

	for _, name := range []string{"ghost", "ghost2"} {
		if _, err := svc.Login(context.Background(), name, "whatever-pw"); !errors.Is(err, apperror.ErrUnauthorized) {
			t.Fatalf("Login(%s) error = %v, want ErrUnauthorized", name, err)
		}
	}

	if len(hasher.verified) != 2 {
		t.Fatalf("Verify called %d times, want 2", len(hasher.verified))
	}
	if hasher.verified[0] != "" {
		t.Errorf("first Verify hash = %q, want empty after the failed Hash", hasher.verified[0])
	}
	if hasher.verified[1] == "" || hasher.verified[1] != svc.dummyHash {
		t.Errorf("second Verify hash = %q, want the dummy hash %q", hasher.verified[1], svc.dummyHash)
	}
}

func TestLogin_UpgradesLegacyBcryptHash(t *testing.T) {
	store := newFakeStore()
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := &model.User{Username: "legacy", PasswordHash: string(legacy), Role: model.RoleViewer, IsActive: true}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	svc, _ := newTestAuthService(t, store)

	if _, err := svc.Login(context.Background(), "legacy", "old-password"); err != nil {
		t.Fatalf("Login() with bcrypt hash error = %v", err)
	}

	stored, _ := store.GetUserByID(context.Background(), u.ID)
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Errorf("hash was not upgraded: %q", stored.PasswordHash[:7])
	}
	if _, err := svc.Login(context.Background(), "legacy", "old-password"); err != nil {
		t.Fatalf("Login() after upgrade error = %v", err)
	}
}

// =========================================================================
// REFRESH
// =========================================================================

func TestRefresh_IssuesPairWithCurrentRole(t *testing.T) {
	store := newFakeStore()
	alice := seedUser(t, store, "alice", "correct-horse", model.RoleViewer, true)
	svc, _ := newTestAuthService(t, store)

	first, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// Promote alice after her tokens were issued.
	promoted, _ := store.GetUserByID(context.Background(), alice.ID)
	promoted.Role = model.RoleTripAdmin
	if err := store.UpdateUser(context.Background(), promoted); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	claims, err := svc.tokens.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.Role != model.RoleTripAdmin {
		t.Errorf("refreshed role = %s, want trip_admin", claims.Role)
	}

	// The old refresh token is not invalidated by use.
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err != nil {
		t.Errorf("second Refresh() with the same token error = %v", err)
	}
}

func TestRefresh_Rejections(t *testing.T) {
	store := newFakeStore()
	alice := seedUser(t, store, "alice", "correct-horse", model.RoleViewer, true)
	svc, _ := newTestAuthService(t, store)

	res, err := svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	t.Run("access token presented as refresh", func(t *testing.T) {
		_, err := svc.Refresh(context.Background(), res.AccessToken)
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Refresh(context.Background(), "not-a-jwt")
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("user deactivated", func(t *testing.T) {
		u, _ := store.GetUserByID(context.Background(), alice.ID)
		u.IsActive = false
		if err := store.UpdateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Refresh(context.Background(), res.RefreshToken)
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("user deleted", func(t *testing.T) {
		if err := store.DeleteUser(context.Background(), alice.ID); err != nil {
			t.Fatal(err)
		}
		_, err := svc.Refresh(context.Background(), res.RefreshToken)
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestCurrentUser(t *testing.T) {
	store := newFakeStore()
	alice := seedUser(t, store, "alice", "correct-horse", model.RoleViewer, true)
	svc, _ := newTestAuthService(t, store)

	got, err := svc.CurrentUser(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q", got.Username)
	}

	_, err = svc.CurrentUser(context.Background(), "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthService_TTLs(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeStore())
	if svc.AccessTTL() != 15*time.Minute || svc.RefreshTTL() != 168*time.Hour {
		t.Errorf("TTLs = %v / %v", svc.AccessTTL(), svc.RefreshTTL())
	}
}
