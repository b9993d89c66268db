// Package challenges implements the server side of the four
// identifier-validation mechanisms named in spec §4.6: HTTP-01, DNS-01,
// TLS-SNI-02, and out-of-band (page-view). Each mechanism exposes one
// Verify function with the same shape: given the Authorization's identifier
// and a Challenge's token/expected key authorization, it performs an
// outbound probe against the applicant and returns the resulting status.
//
// Grounded on core/challenges.go's per-type constructor idiom for the
// server-side object shape and va/va.go's validateHTTP01/validateDNS01/
// validateTLSSNI01 for the probe protocols, generalized from the teacher's
// CAA-aware multi-perspective VA down to the spec's single-probe-per-module
// shape (Non-goals exclude production-grade rate limiting; CAA is out of
// scope for this spec).
package challenges

import (
	"context"
	"encoding/json"
	"time"

	"github.com/letsencrypt-labs/acme-engine/core"
)

// ProbeTimeout bounds every outbound validation probe, per spec §4.6.1
// ("all probes have a per-module timeout (~1-5s)").
const ProbeTimeout = 5 * time.Second

// ClientResponse is the client-supplied JSON body of a challenge-update
// POST.
type ClientResponse struct {
	Type             string `json:"type"`
	KeyAuthorization string `json:"keyAuthorization,omitempty"`
}

// Verifier is implemented by each challenge module's server side.
type Verifier interface {
	// Verify performs the outbound probe for a single challenge owned by
	// an Authorization for the given DNS name, returning the terminal
	// status (valid or invalid) the Challenge should transition to.
	Verify(ctx context.Context, name string, challenge *core.Challenge, thumbprint string) core.ChallengeStatus
}

// registry maps challenge type strings to their server-side Verifier.
var registry = map[string]Verifier{
	core.ChallengeHTTP01:   httpVerifier{},
	core.ChallengeDNS01:    dnsVerifier{},
	core.ChallengeTLSSNI02: tlsSNIVerifier{},
	core.ChallengeOOB:      oobVerifier{},
}

// Lookup returns the Verifier registered for a challenge type, if any.
func Lookup(challengeType string) (Verifier, bool) {
	v, ok := registry[challengeType]
	return v, ok
}

// Update applies a client-supplied response to a pending challenge: it
// checks the response's declared type and key authorization against what's
// expected, then (only on a shape match) runs the module's outbound probe.
// It never returns an error; per spec §7, probe and shape failures only
// move the Challenge to invalid.
func Update(ctx context.Context, name string, challenge *core.Challenge, thumbprint string, body []byte) core.ChallengeStatus {
	var resp ClientResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.ChallengeInvalid
	}
	if resp.Type != challenge.Type {
		return core.ChallengeInvalid
	}
	expected := core.KeyAuthorization(challenge.Token, thumbprint)
	if resp.KeyAuthorization != "" && resp.KeyAuthorization != expected {
		return core.ChallengeInvalid
	}
	challenge.KeyAuthorization = expected

	verifier, ok := Lookup(challenge.Type)
	if !ok {
		return core.ChallengeInvalid
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	return verifier.Verify(probeCtx, name, challenge, thumbprint)
}

// ToJSON returns the public wire view of a challenge, omitting
// keyAuthorization until the challenge is valid or invalid.
func ToJSON(challenge *core.Challenge) *core.Challenge {
	view := *challenge
	if view.Status != core.ChallengeValid && view.Status != core.ChallengeInvalid {
		view.KeyAuthorization = ""
	}
	return &view
}
