package wfe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	gojose "github.com/go-jose/go-jose/v4"

	ejose "github.com/letsencrypt-labs/acme-engine/jose"
	"github.com/letsencrypt-labs/acme-engine/probs"
)

// authCtxKey is the context key under which withAuthInfo stores an
// AuthInfo. The handlers in this package take the AuthInfo that verifyPOST
// returns directly; nothing in the package calls withAuthInfo.
type authCtxKey struct{}

// AuthInfo is what a successfully-verified POST's request context carries.
type AuthInfo struct {
	Key        *gojose.JSONWebKey
	Payload    []byte
	Thumbprint string
}

func withAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authCtxKey{}, info)
}

// AuthInfoFromContext returns the AuthInfo a verified POST attached to its
// request context.
func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authCtxKey{}).(*AuthInfo)
	return info, ok
}

// expectedURL computes the absolute URL (scheme, host[:port], path) a JWS's
// protected "url" header must equal, per spec §4.4.
func expectedURL(r *http.Request) string {
	proto := "https"
	if r.TLS == nil {
		// the scheme gate in wrap has already rejected non-HTTPS
		// requests by the time this runs in production; tests exercising
		// this function directly over plaintext still need a sane value.
		proto = "http"
	}
	u := url.URL{Scheme: proto, Host: r.Host, Path: r.URL.Path}
	return u.String()
}

// verifyPOST implements the per-POST gate described in spec §4.4: parse the
// flattened JWS body, verify its signature against the embedded JWK,
// consume its nonce exactly once, and confirm its protected url header
// matches the request's absolute URL. On success it returns the verifying
// key, the decoded payload, and the key's thumbprint.
func (wfe *WebFrontEnd) verifyPOST(r *http.Request) (*AuthInfo, *probs.ProblemDetails) {
	if r.Method != http.MethodPost {
		return nil, probs.Malformed("method not allowed")
	}
	if r.Header.Get("Content-Type") != "" && r.Header.Get("Content-Type") != contentTypeJOSE {
		return nil, probs.Malformed("unsupported Content-Type %q", r.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, probs.Malformed("unable to read request body")
	}

	var flat ejose.FlattenedJWS
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, probs.Malformed("request body is not a flattened JWS: %s", err)
	}

	key, header, payload, err := ejose.Verify(&flat)
	if err != nil {
		return nil, probs.Malformed("invalid JWS: %s", err)
	}

	if !wfe.nonces.Valid(header.Nonce) {
		return nil, probs.BadNonce("JWS has an invalid anti-replay nonce: %q", header.Nonce)
	}

	want := expectedURL(r)
	if header.URL != want {
		return nil, probs.Malformed("JWS header parameter 'url' incorrect. Expected %q got %q", want, header.URL)
	}

	thumb, err := ejose.Thumbprint(key)
	if err != nil {
		return nil, probs.ServerInternal("computing account key thumbprint")
	}

	return &AuthInfo{Key: key, Payload: payload, Thumbprint: thumb}, nil
}

// parseFlattenedJWS unmarshals a key-change inner JWS from raw JSON bytes.
func parseFlattenedJWS(raw []byte) (*ejose.FlattenedJWS, error) {
	var flat ejose.FlattenedJWS
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	return &flat, nil
}

// verifyFlattenedJWS verifies a JWS against its embedded key, without the
// nonce/url checks verifyPOST applies to the outer envelope; the caller
// checks the inner "url" header itself against the outer request's URL.
func verifyFlattenedJWS(flat *ejose.FlattenedJWS) (*gojose.JSONWebKey, ejose.Header, []byte, error) {
	return ejose.Verify(flat)
}

// thumbprintOf computes the RFC 7638 thumbprint of key.
func thumbprintOf(key *gojose.JSONWebKey) (string, error) {
	return ejose.Thumbprint(key)
}

// probsMalformedScheme builds the problem document for spec §4.4's scheme
// gate: non-HTTPS requests yield a 500 with a malformed problem, since
// real deployments reject at the TLS boundary and this is a belt-and-
// braces check the engine still performs.
func probsMalformedScheme() *probs.ProblemDetails {
	prob := probs.Malformed("must use HTTPS")
	prob.HTTPStatus = http.StatusInternalServerError
	return prob
}

// rateLimitedProblem builds the problem document for spec §4.4's rate
// limiter, carrying the number of seconds until the oldest slot in the
// POST window exits (mirrored into the Retry-After header by the caller).
func rateLimitedProblem(retryAfterSeconds int) *probs.ProblemDetails {
	return probs.RateLimited("request rate limited, retry after %d seconds", retryAfterSeconds)
}

// writeProblem serializes a ProblemDetails as application/problem+json at
// the status code it carries.
func writeProblem(w http.ResponseWriter, prob *probs.ProblemDetails) {
	w.Header().Set("Content-Type", contentTypeProblem)
	w.WriteHeader(probs.ProblemDetailsToStatusCode(prob))
	body, err := json.Marshal(prob)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"type":%q,"detail":"failed to marshal problem document"}`, probs.ServerInternalProblem))
	}
	_, _ = w.Write(body)
}
