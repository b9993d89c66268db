// Package issuance implements the propagation described in spec §4.10:
// whenever an Authorization's status changes, every Application of the
// same Registration is rescanned, and any Application whose requirements
// are all valid is issued a certificate.
//
// New package; no single teacher file matches this exact shape (the
// teacher's equivalent logic lives split across wfe2/wfe.go's
// postChallenge->PerformValidation call chain and ra/ra.go's
// order-finalization comments about authorization changes fanning out to
// every order), reimplemented in-process per spec §4.9/§4.10 since
// Non-goals exclude multi-node coordination.
package issuance

import (
	"time"

	"github.com/letsencrypt-labs/acme-engine/core"
	berrors "github.com/letsencrypt-labs/acme-engine/errors"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/store"
)

// Coordinator ties the store to the PKI adapter so that authorization
// status changes can drive pending applications to issuance.
type Coordinator struct {
	Store *store.Store
	CA    *pki.CA
}

// New returns a Coordinator over st and ca.
func New(st *store.Store, ca *pki.CA) *Coordinator {
	return &Coordinator{Store: st, CA: ca}
}

// requirementMatches follows the wfe's URL convention closely enough for
// requirement matching: requirements reference an Authorization only by the absolute
// URL the wfe minted for it, so this package matches on Authorization ID
// rather than reconstructing the URL, which both the wfe (when writing the
// requirement) and this package (when comparing) derive from the same ID.
func requirementMatches(req core.Requirement, authz *core.Authorization) bool {
	return req.Kind == core.RequirementAuthorization && requirementAuthzID(req.URL) == authz.ID
}

// requirementAuthzID extracts the trailing path segment of a requirement's
// URL, which is the Authorization's ID per the wfe's {baseURL}/authz/{id}
// convention (spec §6).
func requirementAuthzID(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}

// OnAuthorizationChanged rewrites every Application requirement that
// references authz, then attempts issuance for each Application touched.
// Per spec §4.10, this runs whenever an Authorization's status changes —
// including non-terminal changes, though only a transition to valid can
// ever unblock issuance.
func (c *Coordinator) OnAuthorizationChanged(authz *core.Authorization) error {
	apps := c.Store.ApplicationsForRegistration(authz.RegID)
	for _, app := range apps {
		changed := false
		anyInvalid := false
		for i := range app.Requirements {
			if requirementMatches(app.Requirements[i], authz) && app.Requirements[i].Status != string(authz.Status) {
				app.Requirements[i].Status = string(authz.Status)
				changed = true
			}
			if app.Requirements[i].Status == string(core.AuthzInvalid) {
				anyInvalid = true
			}
		}
		if anyInvalid && app.Status == core.AppPending {
			app.Status = core.AppInvalid
			changed = true
		}
		if changed {
			if err := c.Store.UpdateApplication(app); err != nil {
				return err
			}
		}
		if _, err := c.IssueIfReady(app); err != nil {
			return err
		}
	}
	return nil
}

// allRequirementsValid reports whether every requirement on app has
// converged to valid (invariant 4: issuance gate).
func allRequirementsValid(app *core.Application) bool {
	if len(app.Requirements) == 0 {
		return false
	}
	for _, req := range app.Requirements {
		if req.Status != string(core.AuthzValid) {
			return false
		}
	}
	return true
}

// IssueIfReady is idempotent: calling it on an already-valid Application is
// a no-op returning the same record (spec §4.10). Otherwise, if every
// requirement is valid, it issues a certificate, stores it, and marks the
// Application valid atomically with issuance — the spec's Open Question
// about where `valid` gets set is resolved here, in favor of RFC 8555's
// "the order becomes valid once its certificate is issued" semantics.
func (c *Coordinator) IssueIfReady(app *core.Application) (*core.Application, error) {
	if app.Status == core.AppValid {
		return app, nil
	}
	if app.Status == core.AppInvalid {
		return app, nil
	}
	if !allRequirementsValid(app) {
		return app, nil
	}

	csr, err := pki.ParseCSR(app.CSR)
	if err != nil {
		app.Status = core.AppInvalid
		_ = c.Store.UpdateApplication(app)
		return app, berrors.MalformedError("re-parsing stored CSR: %s", err)
	}

	der, err := c.CA.Issue(pki.IssuanceRequest{
		CSR:       csr,
		Names:     app.Names,
		NotBefore: app.NotBefore,
		NotAfter:  app.NotAfter,
	})
	if err != nil {
		return app, berrors.InternalServerError("issuing certificate: %s", err)
	}

	cert := c.Store.NewCertificate(&core.Certificate{
		RegID: app.RegID,
		DER:   der,
	})

	app.Certificate = cert.ID
	app.Status = core.AppValid
	if err := c.Store.UpdateApplication(app); err != nil {
		return app, err
	}
	return app, nil
}

// ExpiryFor returns the default expiry of an Authorization created at now,
// grounded on the config field named in spec §6 (authzExpirySeconds).
func ExpiryFor(now time.Time, authzExpiry time.Duration) time.Time {
	return now.Add(authzExpiry)
}
