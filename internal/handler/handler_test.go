package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/handler"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/repository/sqlite"
	"github.com/sakif/tripcms/internal/service"
)

// ============================================================
// Test environment: real services over an in-memory database
// ============================================================

type captureNotifier struct {
	mu   sync.Mutex
	urls []string
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, _ *model.User, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, resetURL)
	return nil
}

func (n *captureNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.urls, "no reset link was delivered")
	u, err := url.Parse(n.urls[len(n.urls)-1])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type testEnv struct {
	db       *sqlite.DB
	tokens   *auth.TokenService
	users    *service.UserService
	resets   *service.PasswordResetService
	notifier *captureNotifier
	router   http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-for-handler-tests-0123456789",
		RefreshSecret: "refresh-secret-for-handler-tests-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	hasher := auth.NewHashPool(auth.NewPasswordServiceForTest(), 4, logger)
	notifier := &captureNotifier{}

	env := &testEnv{
		db:       db,
		tokens:   tokens,
		users:    service.NewUserService(db, hasher, nil, logger),
		resets:   service.NewPasswordResetService(db, db, hasher, notifier, service.ResetConfig{TTL: time.Hour, URLBase: "https://cms.example.com/reset"}, logger),
		notifier: notifier,
	}

	authH := handler.NewAuthHandler(service.NewAuthService(db, tokens, hasher, logger), false, logger)
	userH := handler.NewUserHandler(env.users)
	resetH := handler.NewResetHandler(env.resets)

	r := chi.NewRouter()
	r.Post("/api/auth/login", authH.HandleLogin)
	r.Post("/api/auth/refresh", authH.HandleRefresh)
	r.Post("/api/auth/logout", authH.HandleLogout)
	r.Post("/api/auth/forgot-password", resetH.HandleForgotPassword)
	r.Get("/api/auth/validate-reset-token/{token}", resetH.HandleValidateToken)
	r.Post("/api/auth/reset-password", resetH.HandleResetPassword)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, db, logger))
		r.Get("/api/auth/me", authH.HandleMe)
		r.Post("/api/auth/users", userH.HandleCreate)
		r.Get("/api/auth/users", userH.HandleList)
		r.Put("/api/auth/users/{id}", userH.HandleUpdate)
		r.Delete("/api/auth/users/{id}", userH.HandleDelete)
	})
	env.router = r
	return env
}

func (e *testEnv) seed(t *testing.T, username, email string, role model.Role) *model.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), service.SystemActor, service.CreateUserInput{
		Username: username,
		Password: "correct-horse",
		Email:    email,
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) bearer(t *testing.T, u *model.User) string {
	t.Helper()
	tok, err := e.tokens.IssueAccessToken(auth.Claims{UserID: u.ID, Username: u.Username, Role: u.Role})
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) do(t *testing.T, method, path, body, authz string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func cookieByName(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
