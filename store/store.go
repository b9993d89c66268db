// Package store implements the in-memory typed resource store. No teacher
// file matches this shape directly (the teacher always talks to a
// SQL-backed storage authority over gRPC); this package instead
// reimplements the method names of core/interfaces.go's
// StorageGetter/StorageAdder against an in-process map guarded by a
// sync.RWMutex, per the engine's no-durable-storage design.
package store

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/letsencrypt-labs/acme-engine/core"
	berrors "github.com/letsencrypt-labs/acme-engine/errors"
	"github.com/letsencrypt-labs/acme-engine/must"
)

// NewID returns a fresh, unguessable identifier suitable for any resource
// type. crypto/rand.Read on the standard library's Reader never returns a
// short read or error in practice; a failure here means the system entropy
// source is broken, which the caller cannot recover from, so must.Do's
// panic-on-statically-impossible-error is the right tool.
func NewID() string {
	buf := must.Do(randBytes(16))
	return base64.RawURLEncoding.EncodeToString(buf)
}

func randBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	return buf, err
}

// Store is the in-memory resource store. All resources are keyed by
// (type, id); the additional lookups below are implemented as linear
// scans, which is acceptable at the reference engine's scale.
type Store struct {
	mu sync.RWMutex

	registrations map[string]*core.Registration
	authzs        map[string]*core.Authorization
	apps          map[string]*core.Application
	certs         map[string]*core.Certificate
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		registrations: make(map[string]*core.Registration),
		authzs:        make(map[string]*core.Authorization),
		apps:          make(map[string]*core.Application),
		certs:         make(map[string]*core.Certificate),
	}
}

// NewRegistration assigns an ID and stores reg, rejecting it if a
// Registration with the same thumbprint already exists (invariant 1:
// thumbprint uniqueness).
func (s *Store) NewRegistration(reg *core.Registration) (*core.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.registrations {
		if existing.Thumbprint == reg.Thumbprint {
			return existing, berrors.ConflictError("registration already exists for this key")
		}
	}

	clone := *reg
	clone.ID = NewID()
	s.registrations[clone.ID] = &clone
	return &clone, nil
}

// GetRegistration returns the Registration with the given ID.
func (s *Store) GetRegistration(id string) (*core.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, berrors.NotFoundError("no such registration %q", id)
	}
	return reg, nil
}

// GetRegistrationByThumbprint returns the unique Registration owning the
// given account-key thumbprint, if any.
func (s *Store) GetRegistrationByThumbprint(thumbprint string) (*core.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.registrations {
		if reg.Thumbprint == thumbprint {
			return reg, nil
		}
	}
	return nil, berrors.NotFoundError("no registration for this key")
}

// UpdateRegistration overwrites the stored Registration with the same ID.
func (s *Store) UpdateRegistration(reg *core.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[reg.ID]; !ok {
		return berrors.NotFoundError("no such registration %q", reg.ID)
	}
	clone := *reg
	s.registrations[reg.ID] = &clone
	return nil
}

// DeleteRegistration removes the Registration with the given ID.
func (s *Store) DeleteRegistration(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[id]; !ok {
		return berrors.NotFoundError("no such registration %q", id)
	}
	delete(s.registrations, id)
	return nil
}

// NewAuthorization assigns an ID and stores authz.
func (s *Store) NewAuthorization(authz *core.Authorization) *core.Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *authz
	clone.ID = NewID()
	s.authzs[clone.ID] = &clone
	return &clone
}

// GetAuthorization returns the Authorization with the given ID.
func (s *Store) GetAuthorization(id string) (*core.Authorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	authz, ok := s.authzs[id]
	if !ok {
		return nil, berrors.NotFoundError("no such authorization %q", id)
	}
	return authz, nil
}

// UpdateAuthorization overwrites the stored Authorization with the same ID.
func (s *Store) UpdateAuthorization(authz *core.Authorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authzs[authz.ID]; !ok {
		return berrors.NotFoundError("no such authorization %q", authz.ID)
	}
	s.authzs[authz.ID] = authz
	return nil
}

// AuthzFor scans for a pending or valid Authorization owned by regID for
// name, for reuse by new-app instead of creating a duplicate.
func (s *Store) AuthzFor(regID, name string) (*core.Authorization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, authz := range s.authzs {
		if authz.RegID != regID || authz.Identifier.Value != name {
			continue
		}
		if authz.Status == core.AuthzPending || authz.Status == core.AuthzValid {
			return authz, true
		}
	}
	return nil, false
}

// AuthorizedFor reports whether regID holds some valid authorization for
// every name in names. An authorization's Expires is not consulted.
func (s *Store) AuthorizedFor(regID string, names []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		found := false
		for _, authz := range s.authzs {
			if authz.RegID == regID && authz.Identifier.Value == name && authz.Status == core.AuthzValid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuthorizationsForRegistration returns every Authorization owned by
// regID.
func (s *Store) AuthorizationsForRegistration(regID string) []*core.Authorization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*core.Authorization
	for _, authz := range s.authzs {
		if authz.RegID == regID {
			result = append(result, authz)
		}
	}
	return result
}

// NewApplication assigns an ID and stores app; an empty Status defaults to
// pending.
func (s *Store) NewApplication(app *core.Application) *core.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *app
	clone.ID = NewID()
	if clone.Status == "" {
		clone.Status = core.AppPending
	}
	s.apps[clone.ID] = &clone
	return &clone
}

// GetApplication returns the Application with the given ID.
func (s *Store) GetApplication(id string) (*core.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, berrors.NotFoundError("no such application %q", id)
	}
	return app, nil
}

// UpdateApplication overwrites the stored Application with the same ID.
func (s *Store) UpdateApplication(app *core.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; !ok {
		return berrors.NotFoundError("no such application %q", app.ID)
	}
	s.apps[app.ID] = app
	return nil
}

// ApplicationsForRegistration returns every Application owned by regID.
func (s *Store) ApplicationsForRegistration(regID string) []*core.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*core.Application
	for _, app := range s.apps {
		if app.RegID == regID {
			result = append(result, app)
		}
	}
	return result
}

// NewCertificate assigns an ID and stores cert.
func (s *Store) NewCertificate(cert *core.Certificate) *core.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cert
	clone.ID = NewID()
	s.certs[clone.ID] = &clone
	return &clone
}

// GetCertificate returns the Certificate with the given ID.
func (s *Store) GetCertificate(id string) (*core.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, berrors.NotFoundError("no such certificate %q", id)
	}
	return cert, nil
}

// CertByValue scans for a Certificate whose DER bytes exactly match der.
func (s *Store) CertByValue(der []byte) (*core.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cert := range s.certs {
		if string(cert.DER) == string(der) {
			return cert, true
		}
	}
	return nil, false
}

// UpdateCertificate overwrites the stored Certificate with the same ID;
// used by revocation to flip Revoked/RevocationReason.
func (s *Store) UpdateCertificate(cert *core.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; !ok {
		return berrors.NotFoundError("no such certificate %q", cert.ID)
	}
	s.certs[cert.ID] = cert
	return nil
}
