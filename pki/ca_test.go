package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCSR(t *testing.T, names []string) *x509.CertificateRequest {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}, key)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	return csr
}

// advancedClock returns a fake clock moved forward from its epoch default
// (1970-01-01) by d, since FakeClock only exposes Add, not an absolute Set.
func advancedClock(d time.Duration) clock.FakeClock {
	clk := clock.NewFake()
	clk.Add(d)
	return clk
}

func TestIssueDefaultValidity(t *testing.T) {
	clk := advancedClock(56 * 365 * 24 * time.Hour)
	ca := New(clk)

	csr := testCSR(t, []string{"example.com", "www.example.com"})
	der, err := ca.Issue(IssuanceRequest{CSR: csr, Names: csr.DNSNames})
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	assert.WithinDuration(t, clk.Now().Add(DefaultValidityPeriod), cert.NotAfter, time.Second)
	assert.ElementsMatch(t, []string{"example.com", "www.example.com"}, cert.DNSNames)
}

func TestIssueClampsToMaxValidityPeriod(t *testing.T) {
	clk := advancedClock(56 * 365 * 24 * time.Hour)
	ca := New(clk)

	csr := testCSR(t, []string{"example.com"})
	notBefore := clk.Now()
	notAfter := clk.Now().Add(2 * MaxValidityPeriod)
	der, err := ca.Issue(IssuanceRequest{CSR: csr, Names: csr.DNSNames, NotBefore: &notBefore, NotAfter: &notAfter})
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	assert.WithinDuration(t, notBefore.Add(MaxValidityPeriod), cert.NotAfter, time.Second)
}

func TestCheckCertMatch(t *testing.T) {
	clk := advancedClock(56 * 365 * 24 * time.Hour)
	ca := New(clk)

	csr := testCSR(t, []string{"example.com"})
	der, err := ca.Issue(IssuanceRequest{CSR: csr, Names: csr.DNSNames})
	require.NoError(t, err)

	assert.NoError(t, CheckCertMatch(der, csr, nil, nil))
}

func TestCheckCertMatchDetectsSANMismatch(t *testing.T) {
	clk := advancedClock(56 * 365 * 24 * time.Hour)
	ca := New(clk)

	csr := testCSR(t, []string{"example.com"})
	der, err := ca.Issue(IssuanceRequest{CSR: csr, Names: csr.DNSNames})
	require.NoError(t, err)

	otherCSR := testCSR(t, []string{"other.example.com"})
	assert.Error(t, CheckCertMatch(der, otherCSR, nil, nil))
}

func TestCAKeyIsMemoized(t *testing.T) {
	clk := clock.NewFake()
	ca := New(clk)

	_, cert1, _, err := ca.selfSigned()
	require.NoError(t, err)
	_, cert2, _, err := ca.selfSigned()
	require.NoError(t, err)
	assert.Equal(t, cert1.SerialNumber, cert2.SerialNumber)
}

func TestCertKeyThumbprint(t *testing.T) {
	clk := advancedClock(56 * 365 * 24 * time.Hour)
	ca := New(clk)

	csr := testCSR(t, []string{"example.com"})
	der, err := ca.Issue(IssuanceRequest{CSR: csr, Names: csr.DNSNames})
	require.NoError(t, err)

	thumb, err := CertKeyThumbprint(der)
	require.NoError(t, err)
	assert.NotEmpty(t, thumb)

	csrThumb, err := publicKeyThumbprint(csr.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, csrThumb, thumb)
}
