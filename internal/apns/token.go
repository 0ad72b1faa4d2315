package apns

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Apple rejects provider tokens older than an hour. Re-minting a little
// early keeps in-flight pushes clear of the cutoff.
const tokenLifetime = 50 * time.Minute

// TokenSource mints and caches ES256 provider authentication tokens. It is
// safe for concurrent use; all pushes on a Conn share one source.
type TokenSource struct {
	keyID  string
	teamID string
	key    *ecdsa.PrivateKey

	mu       sync.Mutex
	bearer   string
	mintedAt time.Time

	now func() time.Time
}

// NewTokenSource loads a PKCS#8 .p8 signing key issued by the developer
// portal and returns a source bound to the given key and team identifiers.
func NewTokenSource(keyPath, keyID, teamID string) (*TokenSource, error) {
	if keyID == "" || teamID == "" {
		return nil, errors.New("apns: token auth requires both a key id and a team id")
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("apns: read signing key %s: %w", keyPath, err)
	}
	key, err := parseSigningKey(raw)
	if err != nil {
		return nil, err
	}
	return newTokenSource(key, keyID, teamID), nil
}

func newTokenSource(key *ecdsa.PrivateKey, keyID, teamID string) *TokenSource {
	return &TokenSource{keyID: keyID, teamID: teamID, key: key, now: time.Now}
}

func parseSigningKey(raw []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("apns: signing key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("apns: parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("apns: signing key is not an ECDSA key")
	}
	return key, nil
}

// Bearer returns a signed provider token, minting a fresh one when the
// cached token is past its refresh window.
func (t *TokenSource) Bearer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.bearer != "" && now.Sub(t.mintedAt) < tokenLifetime {
		return t.bearer, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": t.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = t.keyID

	signed, err := tok.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("apns: sign provider token: %w", err)
	}
	t.bearer = signed
	t.mintedAt = now
	return signed, nil
}
