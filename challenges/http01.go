package challenges

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/letsencrypt-labs/acme-engine/core"
)

type httpVerifier struct{}

// Verify performs the HTTP-01 probe described in spec §4.6.1: GET
// http://{name}/.well-known/acme-challenge/{token} on port 80; the body
// must equal the challenge's key authorization, ignoring trailing
// whitespace.
func (httpVerifier) Verify(ctx context.Context, name string, challenge *core.Challenge, thumbprint string) core.ChallengeStatus {
	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", name, challenge.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.ChallengeInvalid
	}

	client := &http.Client{
		// The probe is not supposed to follow cross-host redirects; a
		// same-host redirect chasing the applicant's own server is fine,
		// but this reference engine keeps it simple and never follows one.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return core.ChallengeInvalid
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.ChallengeInvalid
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.ChallengeInvalid
	}

	expected := core.KeyAuthorization(challenge.Token, thumbprint)
	if strings.TrimRight(string(body), "\r\n\t ") != expected {
		return core.ChallengeInvalid
	}
	return core.ChallengeValid
}
