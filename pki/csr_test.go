package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"testing"

	berrors "github.com/letsencrypt-labs/acme-engine/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCSR(t *testing.T, cn string, sans []string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: sans,
	}, key)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(der)
}

func TestParseCSRRoundTrip(t *testing.T) {
	b64 := makeCSR(t, "example.com", []string{"example.com", "www.example.com"})
	csr, err := ParseCSR(b64)
	require.NoError(t, err)
	assert.Equal(t, "example.com", csr.Subject.CommonName)
}

func TestParseCSRRejectsInvalidBase64(t *testing.T) {
	_, err := ParseCSR("not base64url!!")
	assert.True(t, berrors.Is(err, berrors.Malformed))
}

func TestParseCSRRejectsGarbageDER(t *testing.T) {
	_, err := ParseCSR(base64.RawURLEncoding.EncodeToString([]byte("not a CSR")))
	assert.True(t, berrors.Is(err, berrors.Malformed))
}

func TestCheckCSRCollectsNamesDeduplicated(t *testing.T) {
	b64 := makeCSR(t, "Example.com", []string{"example.com", "www.example.com"})
	csr, err := ParseCSR(b64)
	require.NoError(t, err)

	names, err := CheckCSR(csr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, names)
}

func TestCheckCSRRejectsEmptyCommonName(t *testing.T) {
	b64 := makeCSR(t, "", []string{"example.com"})
	csr, err := ParseCSR(b64)
	require.NoError(t, err)

	_, err = CheckCSR(csr)
	assert.True(t, berrors.Is(err, berrors.Malformed))
}

func TestCheckCSRRejectsNonDNSSANTypes(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:        pkix.Name{CommonName: "example.com"},
		DNSNames:       []string{"example.com"},
		EmailAddresses: []string{"admin@example.com"},
	}, key)
	require.NoError(t, err)

	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)

	_, err = CheckCSR(csr)
	assert.True(t, berrors.Is(err, berrors.Malformed))
}
