package pki

import (
	"fmt"
	"strings"

	zlintx509 "github.com/zmap/zcrypto/x509"
	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"
)

// lintRegistry excludes EV and ETSI lints, grounded on linter/linter.go's
// NewRegistry: this engine never issues EV certificates and never sets the
// ETSI EN 319 412-5 qcStatements extension.
var lintRegistry lint.Registry

func init() {
	reg, err := lint.GlobalRegistry().Filter(lint.FilterOptions{
		ExcludeSources: []lint.LintSource{lint.CABFEVGuidelines, lint.EtsiEsi},
	})
	if err != nil {
		panic(fmt.Sprintf("pki: building lint registry: %s", err))
	}
	lintRegistry = reg
}

// lintIssued runs an already-signed certificate through zlint before it is
// handed back to the caller. Unlike linter/linter.go, which signs a
// throwaway lint certificate ahead of a possibly remote/HSM-backed real
// signing operation, this CA signs locally, so there's nothing to gain from
// linting a stand-in cert; the real issued DER is linted directly.
//
// Only a Fatal result (zlint could not make sense of the certificate at
// all) fails issuance. This engine's reference CA doesn't chase CA/Browser
// Forum baseline-requirements conformance (no CRL/AIA/policy-OID dance,
// since Non-goals exclude pluggable issuance policy), so BR lints report
// non-fatal findings against it; those are not issuance-blocking here.
func lintIssued(der []byte) error {
	cert, err := zlintx509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("pki: parsing issued certificate for linting: %w", err)
	}

	res := zlint.LintCertificateEx(cert, lintRegistry)
	if res.FatalsPresent {
		var failed []string
		for name, result := range res.Results {
			if result.Status > lint.Pass {
				failed = append(failed, fmt.Sprintf("%s (%s)", name, result.Details))
			}
		}
		return fmt.Errorf("pki: issued certificate failed fatal lint checks: %s", strings.Join(failed, ", "))
	}
	return nil
}
