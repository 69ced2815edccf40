package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/tripcms/internal/apperror"
	"github.com/sakif/tripcms/internal/model"
)

// Cookie names used for the two tokens.
const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or overwrite the identity.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID   string
	Username string
	Role     model.Role
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by RequireAuth.
// Returns (Identity{}, false) for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// UserLookup is the slice of the user directory RequireAuth needs to
// reject deactivated or deleted accounts.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth authenticates the request from its access token.
//
// TOKEN SOURCES (first match wins):
//  1. Authorization: Bearer <token>
//  2. the accessToken cookie
//
// A missing token and an invalid one produce the same 401. When users is
// non-nil, the account is re-read so an inactive or deleted user is refused
// even while their token has time left.
func RequireAuth(tokens *TokenService, users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tokens.VerifyAccessToken(extractToken(r))
			if err != nil {
				var te *TokenError
				if errors.As(err, &te) && te.Reason != FailureMissing {
					logger.Debug("access token rejected",
						slog.String("reason", te.Reason.String()),
						slog.String("path", r.URL.Path),
					)
				}
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", apperror.MsgAuthRequired)
				return
			}

			if users != nil {
				user, err := users.GetUserByID(r.Context(), claims.UserID)
				switch {
				case errors.Is(err, apperror.ErrNotFound):
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", apperror.MsgAuthRequired)
					return
				case err != nil:
					logger.Error("loading user for authentication",
						slog.String("userID", claims.UserID),
						slog.String("error", err.Error()),
					)
					writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
					return
				case !user.IsActive:
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", apperror.MsgAuthRequired)
					return
				}
			}

			ctx := WithIdentity(r.Context(), Identity{
				UserID:   claims.UserID,
				Username: claims.Username,
				Role:     claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission gates a route on the policy table. It must run after
// RequireAuth: an anonymous request is 401, a disallowed role is 403.
func RequirePermission(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", apperror.MsgAuthRequired)
				return
			}
			if !Allowed(op, id.Role) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken returns the bearer token from the header or cookie, or "".
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if c, err := r.Cookie(AccessCookieName); err == nil {
		return c.Value
	}
	return ""
}

// writeAuthError writes the same JSON shape as the handler package.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
