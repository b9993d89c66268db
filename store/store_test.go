package store

import (
	"testing"

	"github.com/letsencrypt-labs/acme-engine/core"
	berrors "github.com/letsencrypt-labs/acme-engine/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistrationRejectsDuplicateThumbprint(t *testing.T) {
	s := New()
	reg1, err := s.NewRegistration(&core.Registration{Thumbprint: "tp1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, reg1.ID)

	_, err = s.NewRegistration(&core.Registration{Thumbprint: "tp1"})
	assert.True(t, berrors.Is(err, berrors.Conflict))
}

func TestGetRegistrationByThumbprint(t *testing.T) {
	s := New()
	reg, _ := s.NewRegistration(&core.Registration{Thumbprint: "tp1"})

	found, err := s.GetRegistrationByThumbprint("tp1")
	assert.NoError(t, err)
	assert.Equal(t, reg.ID, found.ID)

	_, err = s.GetRegistrationByThumbprint("unknown")
	assert.True(t, berrors.Is(err, berrors.NotFound))
}

func TestDeleteRegistration(t *testing.T) {
	s := New()
	reg, _ := s.NewRegistration(&core.Registration{Thumbprint: "tp1"})
	assert.NoError(t, s.DeleteRegistration(reg.ID))
	_, err := s.GetRegistration(reg.ID)
	assert.True(t, berrors.Is(err, berrors.NotFound))
}

func TestAuthzForReusesPendingOrValid(t *testing.T) {
	s := New()
	authz := s.NewAuthorization(&core.Authorization{
		RegID:      "reg1",
		Identifier: core.Identifier{Type: "dns", Value: "example.com"},
		Status:     core.AuthzPending,
	})

	found, ok := s.AuthzFor("reg1", "example.com")
	assert.True(t, ok)
	assert.Equal(t, authz.ID, found.ID)

	_, ok = s.AuthzFor("reg1", "other.com")
	assert.False(t, ok)

	_, ok = s.AuthzFor("reg2", "example.com")
	assert.False(t, ok)
}

func TestAuthorizedForRequiresEveryName(t *testing.T) {
	s := New()
	s.NewAuthorization(&core.Authorization{
		RegID:      "reg1",
		Identifier: core.Identifier{Type: "dns", Value: "a.com"},
		Status:     core.AuthzValid,
	})

	assert.False(t, s.AuthorizedFor("reg1", []string{"a.com", "b.com"}))

	s.NewAuthorization(&core.Authorization{
		RegID:      "reg1",
		Identifier: core.Identifier{Type: "dns", Value: "b.com"},
		Status:     core.AuthzValid,
	})
	assert.True(t, s.AuthorizedFor("reg1", []string{"a.com", "b.com"}))
}

func TestCertByValue(t *testing.T) {
	s := New()
	cert := s.NewCertificate(&core.Certificate{RegID: "reg1", DER: []byte("der-bytes")})

	found, ok := s.CertByValue([]byte("der-bytes"))
	assert.True(t, ok)
	assert.Equal(t, cert.ID, found.ID)

	_, ok = s.CertByValue([]byte("other"))
	assert.False(t, ok)
}

func TestApplicationsForRegistration(t *testing.T) {
	s := New()
	s.NewApplication(&core.Application{RegID: "reg1"})
	s.NewApplication(&core.Application{RegID: "reg1"})
	s.NewApplication(&core.Application{RegID: "reg2"})

	assert.Len(t, s.ApplicationsForRegistration("reg1"), 2)
	assert.Len(t, s.ApplicationsForRegistration("reg2"), 1)
}
