// Package auth provides password hashing, JWT issuance and verification,
// the request-authentication middleware and the role-based permission gate.
//
// TOKEN FAMILIES:
// Two kinds of token are issued on login:
//
//	access   15 minutes   sent on every API call (Authorization header or cookie)
//	refresh  7 days       only accepted by POST /api/auth/refresh
//
// Each family is signed with its own secret and carries its family name in
// both the "aud" and "typ" claims. A token from one family fails
// verification in the other on three independent checks, so leaking one
// secret never lets an attacker mint the other kind of token.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","username":"...","role":"...","typ":"access",
//	            "iss":"tripcms","aud":["access"],"iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, familySecret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/tripcms/internal/model"
)

// MinSecretLength is the shortest signing secret NewTokenService accepts.
const MinSecretLength = 32

// Family names one of the two token classes.
type Family string

const (
	FamilyAccess  Family = "access"
	FamilyRefresh Family = "refresh"
)

// Claims is the identity carried by a token.
type Claims struct {
	UserID   string
	Username string
	Role     model.Role
}

// jwtClaims is the wire payload.
type jwtClaims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	Type     Family     `json:"typ"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService issues and verifies access and refresh tokens.
type TokenService struct {
	access  familyKey
	refresh familyKey
	issuer  string
	now     func() time.Time
}

type familyKey struct {
	family Family
	secret []byte
	ttl    time.Duration
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now, for tests that need to move past expiry.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService validates cfg and returns a TokenService.
// Both secrets must be at least MinSecretLength bytes and must differ.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.RefreshSecret) < MinSecretLength {
		return nil, fmt.Errorf("auth: token secrets must be at least %d bytes", MinSecretLength)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tripcms"
	}

	s := &TokenService{
		access:  familyKey{family: FamilyAccess, secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
		refresh: familyKey{family: FamilyRefresh, secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
		issuer:  cfg.Issuer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.access.ttl }

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *TokenService) RefreshTTL() time.Duration { return s.refresh.ttl }

// IssueAccessToken signs a short-lived access token for c.
func (s *TokenService) IssueAccessToken(c Claims) (string, error) {
	return s.issue(s.access, c)
}

// IssueRefreshToken signs a long-lived refresh token for c.
func (s *TokenService) IssueRefreshToken(c Claims) (string, error) {
	return s.issue(s.refresh, c)
}

// VerifyAccessToken verifies an access token and returns its claims.
// Every failure is a *TokenError matching ErrInvalidToken.
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	return s.verify(s.access, s.refresh, token)
}

// VerifyRefreshToken verifies a refresh token and returns its claims.
func (s *TokenService) VerifyRefreshToken(token string) (*Claims, error) {
	return s.verify(s.refresh, s.access, token)
}

func (s *TokenService) issue(k familyKey, c Claims) (string, error) {
	if c.UserID == "" {
		return "", errors.New("auth: cannot issue token without a user ID")
	}
	if !c.Role.Valid() {
		return "", fmt.Errorf("auth: cannot issue token for role %q", c.Role)
	}

	now := s.now()
	payload := jwtClaims{
		Username: c.Username,
		Role:     c.Role,
		Type:     k.family,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{string(k.family)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing %s token: %w", k.family, err)
	}
	return signed, nil
}

// verify checks token against want. other is the opposite family, used only
// to classify a failure as FailureWrongFamily for diagnostics.
func (s *TokenService) verify(want, other familyKey, token string) (*Claims, error) {
	if token == "" {
		return nil, &TokenError{Reason: FailureMissing}
	}

	parsed, err := s.parse(want, token)
	if err != nil {
		reason := classify(err)
		if reason == FailureSignature {
			if _, otherErr := s.parse(other, token); otherErr == nil {
				reason = FailureWrongFamily
			}
		}
		return nil, &TokenError{Reason: reason, cause: err}
	}

	if parsed.Type != want.family {
		return nil, &TokenError{Reason: FailureWrongFamily}
	}
	if parsed.Subject == "" || !parsed.Role.Valid() {
		return nil, &TokenError{Reason: FailureMalformed}
	}

	return &Claims{
		UserID:   parsed.Subject,
		Username: parsed.Username,
		Role:     parsed.Role,
	}, nil
}

// parse runs the jwt library checks:
//   - HS256 only (guards against alg=none and algorithm confusion)
//   - signature with the family secret
//   - issuer and audience match
//   - exp present and in the future
func (s *TokenService) parse(k familyKey, token string) (*jwtClaims, error) {
	var c jwtClaims
	_, err := jwt.ParseWithClaims(
		token,
		&c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return k.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(string(k.family)),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func classify(err error) Failure {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return FailureExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return FailureSignature
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return FailureWrongFamily
	default:
		return FailureMalformed
	}
}
