// Package core defines the resource model shared by the server and client
// cores: registrations, applications, requirements, authorizations,
// challenges, and certificates. Every type here is plain data; behavior
// (challenge probing, issuance, transport) lives in the packages that
// operate on these types.
package core

import (
	"time"

	gojose "github.com/go-jose/go-jose/v4"
)

// AcctStatus is the lifecycle status of a Registration.
type AcctStatus string

const (
	StatusGood        AcctStatus = "good"
	StatusDeactivated AcctStatus = "deactivated"
)

// Registration is an ACME account: an asymmetric key plus contact info.
// Identified canonically by the JWK thumbprint of its Key.
type Registration struct {
	ID         string               `json:"id"`
	Thumbprint string               `json:"-"`
	Key        *gojose.JSONWebKey   `json:"key"`
	Contact    []string             `json:"contact,omitempty"`
	Agreement  string               `json:"agreement,omitempty"`
	Status     AcctStatus           `json:"status"`
}

// AppStatus is the lifecycle status of an Application.
type AppStatus string

const (
	AppPending AppStatus = "pending"
	AppValid   AppStatus = "valid"
	AppInvalid AppStatus = "invalid"
)

// RequirementKind distinguishes the two kinds of Requirement.
type RequirementKind string

const (
	RequirementAuthorization RequirementKind = "authorization"
	RequirementOutOfBand     RequirementKind = "out-of-band"
)

// Requirement is one precondition an Application must satisfy before it
// can be issued. Its Status is copied from the referenced Authorization or
// out-of-band subject and never reverts once valid or invalid.
type Requirement struct {
	Kind   RequirementKind `json:"type"`
	URL    string          `json:"url"`
	Status string          `json:"status"`
}

// Application is the spec's pre-"Order" terminology: a CSR plus a set of
// Requirements that must all become valid before a Certificate is issued.
type Application struct {
	ID    string `json:"id"`
	RegID string `json:"-"`
	// CSR is the base64url (no padding) encoding of the DER request, kept
	// verbatim as submitted so it can be echoed back unchanged (spec §4.8:
	// "CSR echoed verbatim").
	CSR string `json:"csr"`
	// Names is derived from CSR once at new-app time, so issuance doesn't
	// need to re-parse and re-validate the CSR on every IssueIfReady call.
	Names        []string      `json:"-"`
	NotBefore    *time.Time    `json:"notBefore,omitempty"`
	NotAfter     *time.Time    `json:"notAfter,omitempty"`
	Status       AppStatus     `json:"status"`
	Requirements []Requirement `json:"requirements"`
	Certificate  string        `json:"certificate,omitempty"`
}

// Identifier is the subject of an Authorization. Only the "dns" type is
// recognized.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AuthzStatus is the lifecycle status of an Authorization.
type AuthzStatus string

const (
	AuthzPending     AuthzStatus = "pending"
	AuthzValid       AuthzStatus = "valid"
	AuthzInvalid     AuthzStatus = "invalid"
	AuthzDeactivated AuthzStatus = "deactivated"
)

// Authorization represents the server's confidence that a Registration
// controls a given Identifier. Transitions form the DAG
// pending -> valid | invalid | deactivated; once valid, invalid, or
// deactivated, it never regresses to pending.
type Authorization struct {
	ID         string       `json:"id"`
	RegID      string       `json:"-"`
	Identifier Identifier   `json:"identifier"`
	Status     AuthzStatus  `json:"status"`
	Expires    time.Time    `json:"expires"`
	Challenges []*Challenge `json:"challenges"`
}

// ChallengeStatus is the lifecycle status of a Challenge.
type ChallengeStatus string

const (
	ChallengePending ChallengeStatus = "pending"
	ChallengeValid   ChallengeStatus = "valid"
	ChallengeInvalid ChallengeStatus = "invalid"
)

// Challenge types recognized by the engine.
const (
	ChallengeHTTP01   = "http-01"
	ChallengeDNS01    = "dns-01"
	ChallengeTLSSNI02 = "tls-sni-02"
	ChallengeOOB      = "oob"
)

// Challenge is one identifier-validation mechanism offered within an
// Authorization. Token is 32 random octets, base64url-encoded without
// padding; KeyAuthorization is Token + "." + the owning account's
// thumbprint. URL is only set for an out-of-band challenge: the random
// page the client must visit per spec §4.6.1, minted by the server when
// the Challenge itself is minted.
type Challenge struct {
	Type             string          `json:"type"`
	Status           ChallengeStatus `json:"status"`
	Token            string          `json:"token"`
	KeyAuthorization string          `json:"keyAuthorization,omitempty"`
	URL              string          `json:"url,omitempty"`
}

// Certificate is an issued leaf certificate. Immutable except for its
// revocation flags.
type Certificate struct {
	ID               string `json:"id"`
	RegID            string `json:"-"`
	DER              []byte `json:"-"`
	Revoked          bool   `json:"-"`
	RevocationReason *int   `json:"-"`
}
