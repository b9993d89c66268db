package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	ejose "github.com/letsencrypt-labs/acme-engine/jose"
)

// DefaultValidityPeriod and MaxValidityPeriod bound certificate lifetime per
// spec §4.3: 90 days by default, 365 days maximum, with no pluggable policy
// beyond this fixed pair (Non-goals exclude pluggable issuance policy).
const (
	DefaultValidityPeriod = 90 * 24 * time.Hour
	MaxValidityPeriod     = 365 * 24 * time.Hour
)

// matchTolerance is the slack allowed when comparing requested and issued
// validity windows, per spec §4.3.
const matchTolerance = time.Second

// CA holds a lazily-generated, memoized signing key, grounded on the
// spec's "CA key pair generated lazily on first issuance and memoised"
// requirement (§5) and on ca/ca.go's shape, reduced from an HSM/cfssl-backed
// multi-issuer CA to a single locally-generated ECDSA keypair since
// Non-goals exclude HSM support and pluggable issuers.
type CA struct {
	clock clock.Clock

	mu     sync.Mutex
	key    *ecdsa.PrivateKey
	cert   *x509.Certificate
	certEnc []byte
}

// New returns a CA whose key pair is generated on first use.
func New(clk clock.Clock) *CA {
	return &CA{clock: clk}
}

func (ca *CA) selfSigned() (*ecdsa.PrivateKey, *x509.Certificate, []byte, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.key != nil {
		return ca.key, ca.cert, ca.certEnc, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pki: generating CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pki: generating CA serial: %w", err)
	}

	now := ca.clock.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "acme-engine reference CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pki: self-signing CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pki: parsing self-signed CA certificate: %w", err)
	}

	ca.key, ca.cert, ca.certEnc = key, cert, der
	return ca.key, ca.cert, ca.certEnc, nil
}

// IssuanceRequest carries the fields of an Application that issuance needs;
// package pki does not import core to avoid a dependency cycle with the
// store, so callers adapt their own Application type into this shape.
type IssuanceRequest struct {
	CSR       *x509.CertificateRequest
	Names     []string
	NotBefore *time.Time
	NotAfter  *time.Time
}

// Issue signs a leaf certificate for req against the CA's memoized key,
// per spec §4.3: validity defaults to 90 days (bounded by policy max 365
// days), BasicConstraints{cA=false}, KeyUsage{digitalSignature,
// keyEncipherment}, ExtKeyUsage{serverAuth}, and SAN copied from the CSR.
func (ca *CA) Issue(req IssuanceRequest) ([]byte, error) {
	caKey, caCert, _, err := ca.selfSigned()
	if err != nil {
		return nil, err
	}

	now := ca.clock.Now()
	notBefore := now
	notAfter := now.Add(DefaultValidityPeriod)
	if req.NotBefore != nil {
		notBefore = *req.NotBefore
	}
	if req.NotAfter != nil {
		notAfter = *req.NotAfter
	}
	if notAfter.Sub(notBefore) > MaxValidityPeriod {
		notAfter = notBefore.Add(MaxValidityPeriod)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("pki: generating serial: %w", err)
	}

	names := make([]string, len(req.Names))
	copy(names, req.Names)
	sort.Strings(names)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: names[0]},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		DNSNames:              names,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, req.CSR.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("pki: issuing certificate: %w", err)
	}

	if err := lintIssued(der); err != nil {
		return nil, err
	}
	return der, nil
}

// CheckCertMatch compares an issued certificate against the CSR and
// optional requested validity window it was issued for: public key, SAN
// set (order-independent), and validity dates (1-second tolerance). The
// certificate's subject is not compared.
func CheckCertMatch(der []byte, csr *x509.CertificateRequest, notBefore, notAfter *time.Time) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("pki: parsing issued certificate: %w", err)
	}

	csrNames, err := CheckCSR(csr)
	if err != nil {
		return fmt.Errorf("pki: re-checking CSR shape: %w", err)
	}
	sort.Strings(csrNames)
	certNames := append([]string(nil), cert.DNSNames...)
	sort.Strings(certNames)
	if !stringSlicesEqual(csrNames, certNames) {
		return fmt.Errorf("pki: certificate SAN set %v does not match CSR names %v", certNames, csrNames)
	}

	csrKeyThumb, err := publicKeyThumbprint(csr.PublicKey)
	if err != nil {
		return err
	}
	certKeyThumb, err := publicKeyThumbprint(cert.PublicKey)
	if err != nil {
		return err
	}
	if csrKeyThumb != certKeyThumb {
		return fmt.Errorf("pki: certificate public key does not match CSR public key")
	}

	if notBefore != nil && absDuration(cert.NotBefore.Sub(*notBefore)) > matchTolerance {
		return fmt.Errorf("pki: certificate notBefore %s does not match requested %s", cert.NotBefore, *notBefore)
	}
	if notAfter != nil && absDuration(cert.NotAfter.Sub(*notAfter)) > matchTolerance {
		return fmt.Errorf("pki: certificate notAfter %s does not match requested %s", cert.NotAfter, *notAfter)
	}

	return nil
}

// CertKeyThumbprint returns the JWK thumbprint of the certificate's
// subject public key, used by revoke-cert's cert-key-ownership proof.
func CertKeyThumbprint(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("pki: parsing certificate: %w", err)
	}
	return publicKeyThumbprint(cert.PublicKey)
}

func publicKeyThumbprint(pub interface{}) (string, error) {
	jwk, err := ejose.JWKFromPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ejose.Thumbprint(jwk)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
