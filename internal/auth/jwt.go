// Package auth provides JWT session tokens and password hashing. Access
// tokens (2h TTL) authorize API calls and the live notification socket;
// refresh tokens (30d TTL) obtain new token pairs.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes.
const (
	ScopeAccess  = "vibespace.access"
	ScopeRefresh = "vibespace.refresh"
)

// Token lifetimes.
const (
	AccessTTL  = 2 * time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims extends the standard JWT claims with a scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenPair holds an access/refresh JWT pair returned on login or refresh.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// JWTManager signs and validates JWT tokens using HS256.
type JWTManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTManager creates a manager with the given HMAC secret and issuer.
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// CreateTokenPair generates an access/refresh token pair for a user.
func (m *JWTManager) CreateTokenPair(userID int64) (*TokenPair, error) {
	now := m.now()

	accessStr, err := m.sign(userID, ScopeAccess, now, AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}
	refreshStr, err := m.sign(userID, ScopeRefresh, now, RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessStr,
		RefreshToken: refreshStr,
		ExpiresAt:    now.Add(AccessTTL).UTC(),
	}, nil
}

func (m *JWTManager) sign(userID int64, scope string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	})
	return token.SignedString(m.secret)
}

// ValidateAccessToken parses and validates a JWT access token, returning
// the user ID. Returns an error if the token is invalid, expired, or has
// the wrong scope.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (int64, error) {
	return m.validate(tokenStr, ScopeAccess)
}

// ValidateRefreshToken parses and validates a JWT refresh token,
// returning the user ID.
func (m *JWTManager) ValidateRefreshToken(tokenStr string) (int64, error) {
	return m.validate(tokenStr, ScopeRefresh)
}

func (m *JWTManager) validate(tokenStr, expectedScope string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	if claims.Scope != expectedScope {
		return 0, fmt.Errorf("%w: wrong scope: got %q, want %q", ErrInvalidToken, claims.Scope, expectedScope)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}

	return userID, nil
}
