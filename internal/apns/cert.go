package apns

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// LoadCertificate reads a PEM bundle containing a provider client
// certificate and its private key. Encrypted key blocks are decrypted with
// passphrase. The returned certificate has Leaf populated so callers can
// inspect expiry without re-parsing.
func LoadCertificate(path, passphrase string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("apns: read certificate %s: %w", path, err)
	}
	return parseCertificate(raw, passphrase)
}

func parseCertificate(raw []byte, passphrase string) (tls.Certificate, error) {
	var cert tls.Certificate
	var keyDER []byte

	for len(raw) > 0 {
		block, rest := pem.Decode(raw)
		if block == nil {
			break
		}
		raw = rest

		der := block.Bytes
		//nolint:staticcheck // legacy encrypted provider bundles still use RFC 1423 blocks
		if x509.IsEncryptedPEMBlock(block) {
			//nolint:staticcheck
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("apns: decrypt key block: %w", err)
			}
			keyDER = der
			continue
		}

		switch block.Type {
		case "CERTIFICATE":
			cert.Certificate = append(cert.Certificate, der)
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			keyDER = der
		}
	}

	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, errors.New("apns: no certificate block in bundle")
	}
	if keyDER == nil {
		return tls.Certificate{}, errors.New("apns: no private key block in bundle")
	}

	key, err := parsePrivateKey(keyDER)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert.PrivateKey = key

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("apns: parse certificate: %w", err)
	}
	cert.Leaf = leaf
	return cert, nil
}

func parsePrivateKey(der []byte) (any, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return key, nil
		}
		return nil, errors.New("apns: unsupported private key type in PKCS#8 block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("apns: unable to parse private key")
}
