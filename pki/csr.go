// Package pki adapts crypto/x509 to the engine's narrow CSR-validation and
// certificate-issuance needs, grounded on csr/csr.go's VerifyCSR/CNFromCSR
// for structural CSR checks and ca/ca.go's issuance shape, but simplified:
// the engine has no HSM, no multi-issuer config, and no pluggable policy
// beyond a single fixed validity-period rule (spec's Non-goals exclude
// pluggable issuance policy).
package pki

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	berrors "github.com/letsencrypt-labs/acme-engine/errors"
)

// oidExtensionRequest and oidSubjectAltName are the well-known PKCS#9/X.509
// object identifiers walked below to enforce exactly-one-of-each, which
// crypto/x509's already-decoded DNSNames/Extensions fields don't surface on
// their own.
var (
	oidExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}
	oidSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
)

// ParseCSR decodes a base64url-encoded PKCS#10 request.
func ParseCSR(b64url string) (*x509.CertificateRequest, error) {
	der, err := base64.RawURLEncoding.DecodeString(b64url)
	if err != nil {
		return nil, berrors.MalformedError("invalid base64url CSR: %s", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, berrors.MalformedError("invalid CSR: %s", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, berrors.MalformedError("CSR signature does not verify: %s", err)
	}
	return csr, nil
}

// CheckCSR enforces the CSR shape rule: a non-empty CN, at most one
// extensionRequest attribute, at most one subjectAltName extension whose
// only allowed SAN type is dNSName, and no name that is itself a public
// suffix. It returns the combined name list (CN plus SANs, lowercased and
// deduplicated). The CN is not checked for DNS-name syntax.
func CheckCSR(csr *x509.CertificateRequest) ([]string, error) {
	cn := strings.ToLower(strings.TrimSpace(csr.Subject.CommonName))
	if cn == "" {
		return nil, berrors.MalformedError("CSR must have exactly one common name that is a DNS name")
	}

	var extReqAttrs int
	for _, attr := range csr.Attributes {
		if attr.Type.Equal(oidExtensionRequest) {
			extReqAttrs++
		}
	}
	if extReqAttrs > 1 {
		return nil, berrors.MalformedError("CSR must carry at most one extensionRequest attribute")
	}

	var sanExts int
	for _, ext := range csr.Extensions {
		if ext.Id.Equal(oidSubjectAltName) {
			sanExts++
		}
	}
	if sanExts > 1 {
		return nil, berrors.MalformedError("CSR must carry at most one subjectAltName extension")
	}
	if len(csr.EmailAddresses) > 0 || len(csr.IPAddresses) > 0 || len(csr.URIs) > 0 {
		return nil, berrors.MalformedError("CSR's subjectAltName must contain only dNSName entries")
	}

	seen := map[string]bool{cn: true}
	names := []string{cn}
	for _, n := range csr.DNSNames {
		n = strings.ToLower(n)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	if len(names) == 0 {
		return nil, berrors.MalformedError("CSR contains no identifiers")
	}
	for _, n := range names {
		if isPublicSuffix(n) {
			return nil, berrors.MalformedError("identifier %q is a public suffix, not a registrable name", n)
		}
	}
	return names, nil
}

// isPublicSuffix reports whether name is exactly equal to a recognized
// public suffix (e.g. "co.uk"), grounded on policy/pa.go's
// extractDomainIANASuffix check: a rule is found and Decompose's suffix
// component is empty, meaning the whole name decomposed as the suffix
// itself. Names with no recognized rule at all (private names, bare
// addresses used in tests) are left alone, since this engine has no
// IANA-TLD allowlist of its own.
func isPublicSuffix(name string) bool {
	rule := publicsuffix.DefaultList.Find(name, &publicsuffix.FindOptions{IgnorePrivate: true, DefaultRule: nil})
	if rule == nil {
		return false
	}
	suffix := rule.Decompose(name)[1]
	return suffix == ""
}
