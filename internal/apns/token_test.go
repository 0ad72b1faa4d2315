package apns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestTokenSource_BearerIsValidES256(t *testing.T) {
	key := testKey(t)
	ts := newTokenSource(key, "KEYID12345", "TEAMID1234")

	bearer, err := ts.Bearer()
	require.NoError(t, err)

	parsed, err := jwt.Parse(bearer, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "KEYID12345", parsed.Header["kid"])
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "TEAMID1234", claims["iss"])
	assert.NotZero(t, claims["iat"])
}

func TestTokenSource_CachesUntilRefreshWindow(t *testing.T) {
	ts := newTokenSource(testKey(t), "K", "T")

	now := time.Now()
	ts.now = func() time.Time { return now }

	first, err := ts.Bearer()
	require.NoError(t, err)
	second, err := ts.Bearer()
	require.NoError(t, err)
	assert.Equal(t, first, second, "token should be served from cache")

	// Past the refresh window a fresh token is minted.
	ts.now = func() time.Time { return now.Add(tokenLifetime + time.Minute) }
	third, err := ts.Bearer()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestNewTokenSource_Validation(t *testing.T) {
	t.Run("requires identifiers", func(t *testing.T) {
		_, err := NewTokenSource("ignored.p8", "", "TEAM")
		assert.Error(t, err)
	})

	t.Run("missing key file", func(t *testing.T) {
		_, err := NewTokenSource("/does/not/exist.p8", "KEY", "TEAM")
		assert.Error(t, err)
	})
}

func TestParseSigningKey_RejectsGarbage(t *testing.T) {
	_, err := parseSigningKey([]byte("not a pem block"))
	assert.Error(t, err)
}
