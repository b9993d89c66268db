package wfe

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt-labs/acme-engine/core"
	ejose "github.com/letsencrypt-labs/acme-engine/jose"
	blog "github.com/letsencrypt-labs/acme-engine/log"
	"github.com/letsencrypt-labs/acme-engine/metrics"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/store"
)

// testServer wires a fresh WebFrontEnd over an in-memory store/CA and
// returns an httptest.Server serving it over plain HTTP, so the scheme gate
// must be relaxed via AllowInsecure.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	clk := clock.NewFake()
	st := store.New()
	ca := pki.New(clk)
	frontEnd := New(Config{
		AllowInsecure:  true,
		ChallengeTypes: []string{core.ChallengeHTTP01},
	}, st, ca, clk, blog.NewMock(), metrics.NewNoopScope())
	srv := httptest.NewServer(frontEnd.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func fetchNonce(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/acme/directory")
	require.NoError(t, err)
	defer resp.Body.Close()
	nonce := resp.Header.Get("Replay-Nonce")
	require.NotEmpty(t, nonce)
	return nonce
}

func postJWS(t *testing.T, srv *httptest.Server, path string, key *ecdsa.PrivateKey, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	nonce := fetchNonce(t, srv)
	flat, err := ejose.Sign(key, body, ejose.Header{Nonce: nonce, URL: srv.URL + path})
	require.NoError(t, err)

	raw, err := json.Marshal(flat)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, contentTypeJOSE, bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func newAccountKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func publicJWK(key *ecdsa.PrivateKey) *gojose.JSONWebKey {
	return &gojose.JSONWebKey{Key: key.Public()}
}

func makeCSRBase64(t *testing.T, key *ecdsa.PrivateKey, names []string) string {
	t.Helper()
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}, key)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(der)
}

func TestDirectoryListsEndpoints(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/acme/directory")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var dir map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dir))
	assert.Contains(t, dir, "new-reg")
	assert.Contains(t, dir, "new-app")
}

func TestNewRegistrationCreatesAccount(t *testing.T) {
	srv := testServer(t)
	key := newAccountKey(t)

	resp := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{"contact": []string{"mailto:a@example.com"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Location"))

	var reg core.Registration
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	assert.Equal(t, core.StatusGood, reg.Status)
}

func TestNewRegistrationConflictsOnDuplicateKey(t *testing.T) {
	srv := testServer(t)
	key := newAccountKey(t)

	first := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{})
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{})
	defer second.Body.Close()
	assert.NotEqual(t, http.StatusCreated, second.StatusCode)
}

func TestNewApplicationCreatesPendingAuthorization(t *testing.T) {
	srv := testServer(t)
	key := newAccountKey(t)

	regResp := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{})
	regResp.Body.Close()
	require.Equal(t, http.StatusCreated, regResp.StatusCode)

	certKey := newAccountKey(t)
	csr := makeCSRBase64(t, certKey, []string{"example.com"})

	appResp := postJWS(t, srv, "/acme/new-app", key, map[string]interface{}{"csr": csr})
	defer appResp.Body.Close()
	require.Equal(t, http.StatusCreated, appResp.StatusCode)

	var app map[string]interface{}
	require.NoError(t, json.NewDecoder(appResp.Body).Decode(&app))
	assert.Equal(t, string(core.AppPending), app["status"])

	reqs, ok := app["requirements"].([]interface{})
	require.True(t, ok)
	require.Len(t, reqs, 1)
}

func TestChallengeUpdateReportsProbeResult(t *testing.T) {
	srv := testServer(t)
	key := newAccountKey(t)

	regResp := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{})
	regResp.Body.Close()

	certKey := newAccountKey(t)
	csr := makeCSRBase64(t, certKey, []string{"example.com"})
	appResp := postJWS(t, srv, "/acme/new-app", key, map[string]interface{}{"csr": csr})
	var app map[string]interface{}
	require.NoError(t, json.NewDecoder(appResp.Body).Decode(&app))
	appResp.Body.Close()

	reqs := app["requirements"].([]interface{})
	authzURL := reqs[0].(map[string]interface{})["url"].(string)
	authzPath := authzURL[len(srv.URL):]

	// The HTTP-01 module probes the applicant; with no listener behind
	// "example.com" this deterministically yields invalid, which is enough
	// to exercise the wire path end to end without a real server.
	updateResp := postJWS(t, srv, authzPath+"/0", key, map[string]interface{}{"type": core.ChallengeHTTP01})
	defer updateResp.Body.Close()
	assert.Equal(t, http.StatusOK, updateResp.StatusCode)

	var challenge map[string]interface{}
	require.NoError(t, json.NewDecoder(updateResp.Body).Decode(&challenge))
	assert.Equal(t, string(core.ChallengeInvalid), challenge["status"])
}

func TestKeyChangeRotatesAccountKey(t *testing.T) {
	srv := testServer(t)
	oldKey := newAccountKey(t)
	newKey := newAccountKey(t)

	regResp := postJWS(t, srv, "/acme/new-reg", oldKey, map[string]interface{}{})
	defer regResp.Body.Close()
	require.Equal(t, http.StatusCreated, regResp.StatusCode)
	accountURL := regResp.Header.Get("Location")

	oldThumb, err := ejose.Thumbprint(publicJWK(oldKey))
	require.NoError(t, err)
	newThumb, err := ejose.Thumbprint(publicJWK(newKey))
	require.NoError(t, err)

	innerPayload, err := json.Marshal(map[string]interface{}{
		"oldKey":  oldThumb,
		"newKey":  newThumb,
		"account": accountURL,
	})
	require.NoError(t, err)
	// The inner JWS's nonce is a format placeholder, never checked against
	// the nonce service; only the outer envelope consumes a real one.
	inner, err := ejose.Sign(oldKey, innerPayload, ejose.Header{Nonce: "placeholder", URL: srv.URL + "/acme/key-change"})
	require.NoError(t, err)
	innerBody, err := json.Marshal(inner)
	require.NoError(t, err)

	nonce := fetchNonce(t, srv)
	outer, err := ejose.Sign(newKey, innerBody, ejose.Header{Nonce: nonce, URL: srv.URL + "/acme/key-change"})
	require.NoError(t, err)
	outerBody, err := json.Marshal(outer)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/acme/key-change", contentTypeJOSE, bytes.NewReader(outerBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRevokeCertRejectsUnrecognizedCertificate(t *testing.T) {
	srv := testServer(t)
	key := newAccountKey(t)

	regResp := postJWS(t, srv, "/acme/new-reg", key, map[string]interface{}{})
	regResp.Body.Close()

	resp := postJWS(t, srv, "/acme/revoke-cert", key, map[string]interface{}{"certificate": base64.RawURLEncoding.EncodeToString([]byte("not a cert"))})
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestFetchRegistrationAlwaysUnauthorized(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/acme/reg/anything")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWindowLimiterBlocksAfterCapacity(t *testing.T) {
	clk := clock.NewFake()
	l := newWindowLimiter(clk, 2, time.Minute)

	ok1, _ := l.allow()
	ok2, _ := l.allow()
	ok3, retryAfter := l.allow()

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestWindowLimiterRecoversAfterWindowElapses(t *testing.T) {
	clk := clock.NewFake()
	l := newWindowLimiter(clk, 1, time.Minute)

	ok1, _ := l.allow()
	require.True(t, ok1)
	ok2, _ := l.allow()
	require.False(t, ok2)

	clk.Add(2 * time.Minute)
	ok3, _ := l.allow()
	assert.True(t, ok3)
}

func TestOOBViewSignalsWaitingChallenge(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/acme/oob/some-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
