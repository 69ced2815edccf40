package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/middleware"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/service"
)

// AuthHandler serves login, refresh, logout and the current-user profile.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin   → check credentials, set both token cookies
//   - HandleRefresh → trade a refresh token for a new pair
//   - HandleLogout  → clear both cookies
//   - HandleMe      → return the authenticated user's profile
//
// Tokens travel in HttpOnly cookies. The access token is also returned in
// the body for clients that prefer an Authorization header.
type AuthHandler struct {
	auth          *service.AuthService
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookies sets the Secure
// attribute and should be true whenever the server is reached over HTTPS.
func NewAuthHandler(authService *service.AuthService, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

// HandleLogin authenticates a username and password.
//
// HTTP: POST /api/auth/login
//
// Empty fields are not a validation error: they fail the same way as a
// wrong password, with 401 "invalid credentials".
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	middleware.RecordAuthAttempt(middleware.EventLogin, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setTokenCookies(w, result)
	writeJSON(w, http.StatusOK, AuthResponse{User: result.User, AccessToken: result.AccessToken})
}

// HandleRefresh issues a new token pair.
//
// HTTP: POST /api/auth/refresh
//
// The refresh token is read from the JSON body when present, otherwise
// from the refreshToken cookie. An empty body is allowed.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	token := req.RefreshToken
	if token == "" {
		if c, err := r.Cookie(auth.RefreshCookieName); err == nil {
			token = c.Value
		}
	}

	result, err := h.auth.Refresh(r.Context(), token)
	middleware.RecordAuthAttempt(middleware.EventRefresh, err == nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setTokenCookies(w, result)
	writeJSON(w, http.StatusOK, AuthResponse{User: result.User, AccessToken: result.AccessToken})
}

// HandleLogout clears the token cookies.
//
// HTTP: POST /api/auth/logout
//
// Tokens are stateless, so a copied token stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.cookie(auth.AccessCookieName, "", -1))
	http.SetCookie(w, h.cookie(auth.RefreshCookieName, "", -1))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe returns the currently authenticated user.
//
// HTTP: GET /api/auth/me (behind auth.RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized())
		return
	}

	user, err := h.auth.CurrentUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) setTokenCookies(w http.ResponseWriter, result *service.AuthResult) {
	http.SetCookie(w, h.cookie(auth.AccessCookieName, result.AccessToken, maxAge(h.auth.AccessTTL())))
	http.SetCookie(w, h.cookie(auth.RefreshCookieName, result.RefreshToken, maxAge(h.auth.RefreshTTL())))
}

// cookie builds a token cookie. A negative maxAge deletes it.
func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func maxAge(ttl time.Duration) int {
	return int(ttl / time.Second)
}
