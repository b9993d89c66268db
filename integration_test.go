// End-to-end tests driving the ACME client core against an in-process
// server core, grounded on wfe2/wfe_test.go's request-building helpers but
// exercised over a real httptest.Server instead of direct handler calls.
package integration

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt-labs/acme-engine/client"
	"github.com/letsencrypt-labs/acme-engine/core"
	blog "github.com/letsencrypt-labs/acme-engine/log"
	"github.com/letsencrypt-labs/acme-engine/metrics"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/store"
	"github.com/letsencrypt-labs/acme-engine/wfe"
)

func newTestServer(t *testing.T, rateLimit int, rateWindow time.Duration) *httptest.Server {
	t.Helper()
	clk := clock.Default()
	st := store.New()
	ca := pki.New(clk)
	frontEnd := wfe.New(wfe.Config{
		AllowInsecure:   true,
		ChallengeTypes:  []string{core.ChallengeHTTP01},
		RateLimitPOSTs:  rateLimit,
		RateLimitWindow: rateWindow,
	}, st, ca, clk, blog.NewMock(), metrics.NewNoopScope())
	srv := httptest.NewServer(frontEnd.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// freePort returns a loopback "host:port" string bound to an OS-assigned
// free port, then releases it immediately for the challenge solver to
// rebind — the same pattern challtestsrv's own tests use to avoid
// hardcoding ports.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// TestHappyPathIssuance drives a full register -> new-app -> solve HTTP-01
// -> poll -> fetch-certificate flow and checks the issued certificate's SAN
// set matches the CSR.
func TestHappyPathIssuance(t *testing.T) {
	srv := newTestServer(t, 100, time.Minute)

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	c := client.New(srv.URL+"/acme/directory", accountKey)

	require.NoError(t, c.Register([]string{"mailto:anonymous@example.com"}))

	httpAddr := freePort(t)
	solver, err := client.NewSolver(httpAddr, "", "")
	require.NoError(t, err)
	defer solver.Shutdown()

	names := []string{httpAddr}
	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}, certKey)
	require.NoError(t, err)

	certDER, err := c.RequestCertificate(csrDER, solver)
	require.NoError(t, err)

	cert, err := client.ParseCertificate(certDER)
	require.NoError(t, err)
	assert.ElementsMatch(t, names, cert.DNSNames)
}

// TestRateLimitRetry configures a one-POST rate limit and checks that a
// client honoring Retry-After succeeds on its second attempt after the
// first is throttled.
func TestRateLimitRetry(t *testing.T) {
	srv := newTestServer(t, 1, 200*time.Millisecond)

	keyA, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cA := client.New(srv.URL+"/acme/directory", keyA)
	require.NoError(t, cA.Register(nil))

	keyB, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cB := client.New(srv.URL+"/acme/directory", keyB)

	// The transport's PostJWS already retries on a 403 rateLimited response
	// honoring Retry-After,
	// so a single high-level Register() call observes the throttle and
	// succeeds once the window has moved.
	err = cB.Register(nil)
	assert.NoError(t, err)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	srv := newTestServer(t, 100, time.Minute)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	c1 := client.New(srv.URL+"/acme/directory", key)
	require.NoError(t, c1.Register(nil))
	firstAccount := c1.AccountURL

	c2 := client.New(srv.URL+"/acme/directory", key)
	err = c2.Register(nil)
	assert.Error(t, err)
	assert.Empty(t, c2.AccountURL)
	assert.NotEmpty(t, firstAccount)
}
