package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenPairRoundTrip(t *testing.T) {
	m := NewJWTManager(testSecret, "vibespace")

	pair, err := m.CreateTokenPair(42)
	require.NoError(t, err)

	id, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = m.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestScopesAreNotInterchangeable(t *testing.T) {
	m := NewJWTManager(testSecret, "vibespace")
	pair, err := m.CreateTokenPair(7)
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager(testSecret, "vibespace")
	issued := time.Now().Add(-3 * time.Hour)
	m.now = func() time.Time { return issued }

	pair, err := m.CreateTokenPair(1)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The refresh token outlives the access token.
	_, err = m.ValidateRefreshToken(pair.RefreshToken)
	assert.NoError(t, err)
}

func TestWrongSecretOrIssuerRejected(t *testing.T) {
	pair, err := NewJWTManager(testSecret, "vibespace").CreateTokenPair(1)
	require.NoError(t, err)

	_, err = NewJWTManager("another-secret-another-secret-xx", "vibespace").ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager(testSecret, "elsewhere").ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNonNumericSubjectRejected(t *testing.T) {
	m := NewJWTManager(testSecret, "vibespace")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "did:plc:abc",
			Issuer:    "vibespace",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: ScopeAccess,
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageRejected(t *testing.T) {
	_, err := NewJWTManager(testSecret, "vibespace").ValidateAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.Error(t, CheckPassword(hash, "battery staple"))
	assert.Error(t, CheckPassword("", "anything"))
}
