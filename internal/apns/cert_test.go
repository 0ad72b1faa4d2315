package apns

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedBundle writes a self-signed certificate plus key as one PEM
// file, shaped like a provider certificate export.
func selfSignedBundle(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Apple Push Services: com.example.app"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}))
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))

	path := filepath.Join(t.TempDir(), "provider.pem")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestLoadCertificate(t *testing.T) {
	path := selfSignedBundle(t)

	cert, err := LoadCertificate(path, "")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	require.NotNil(t, cert.PrivateKey)
	require.NotNil(t, cert.Leaf)
	assert.Contains(t, cert.Leaf.Subject.CommonName, "com.example.app")
}

func TestLoadCertificate_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCertificate("/does/not/exist.pem", "")
		assert.Error(t, err)
	})

	t.Run("no certificate block", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		keyDER, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
		path := filepath.Join(t.TempDir(), "keyonly.pem")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

		_, err = LoadCertificate(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no certificate block")
	})

	t.Run("no key block", func(t *testing.T) {
		bundle := selfSignedBundle(t)
		raw, err := os.ReadFile(bundle)
		require.NoError(t, err)
		block, _ := pem.Decode(raw)

		var buf bytes.Buffer
		require.NoError(t, pem.Encode(&buf, block))
		path := filepath.Join(t.TempDir(), "certonly.pem")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

		_, err = LoadCertificate(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no private key block")
	})
}
