package client

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ejose "github.com/letsencrypt-labs/acme-engine/jose"
)

// fakeServer is a minimal stand-in for the ACME server core, just enough to
// drive Client through Register/Agree/DeactivateAccount/ChangeKey without
// depending on package wfe (avoiding an import cycle risk and keeping these
// tests focused on the client's own request-building logic).
type fakeServer struct {
	mux     *http.ServeMux
	nonceN  int
	regSeen map[string]bool
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeServer) {
	t.Helper()
	fs := &fakeServer{mux: http.NewServeMux(), regSeen: make(map[string]bool)}

	fs.mux.HandleFunc("GET /directory", func(w http.ResponseWriter, r *http.Request) {
		fs.setNonce(w)
		base := "http://" + r.Host
		_ = json.NewEncoder(w).Encode(map[string]string{
			"new-reg":     base + "/new-reg",
			"key-change":  base + "/key-change",
			"revoke-cert": base + "/revoke-cert",
		})
	})
	fs.mux.HandleFunc("POST /new-reg", func(w http.ResponseWriter, r *http.Request) {
		_, _, _, err := decodeJWS(t, r)
		require.NoError(t, err)
		fs.setNonce(w)
		w.Header().Set("Location", "http://"+r.Host+"/reg/1")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "good"})
	})
	fs.mux.HandleFunc("POST /reg/1", func(w http.ResponseWriter, r *http.Request) {
		_, _, _, err := decodeJWS(t, r)
		require.NoError(t, err)
		fs.setNonce(w)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "good"})
	})
	fs.mux.HandleFunc("POST /key-change", func(w http.ResponseWriter, r *http.Request) {
		_, _, _, err := decodeJWS(t, r)
		require.NoError(t, err)
		fs.setNonce(w)
		w.WriteHeader(http.StatusOK)
	})
	fs.mux.HandleFunc("POST /revoke-cert", func(w http.ResponseWriter, r *http.Request) {
		_, _, _, err := decodeJWS(t, r)
		require.NoError(t, err)
		fs.setNonce(w)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(fs.mux)
	t.Cleanup(srv.Close)
	return srv, fs
}

func (fs *fakeServer) setNonce(w http.ResponseWriter) {
	fs.nonceN++
	w.Header().Set("Replay-Nonce", "nonce-value")
}

func decodeJWS(t *testing.T, r *http.Request) (interface{}, interface{}, []byte, error) {
	t.Helper()
	var flat ejose.FlattenedJWS
	if err := json.NewDecoder(r.Body).Decode(&flat); err != nil {
		return nil, nil, nil, err
	}
	key, header, payload, err := ejose.Verify(&flat)
	return key, header, payload, err
}

func newTestKey(t *testing.T) crypto.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestDirectoryIsCachedAfterFirstFetch(t *testing.T) {
	srv, fs := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))

	dir1, err := c.Directory()
	require.NoError(t, err)
	seenBefore := fs.nonceN
	dir2, err := c.Directory()
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2)
	assert.Equal(t, seenBefore, fs.nonceN, "second Directory() call must not hit the network")
}

func TestRegisterSetsAccountURL(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))

	err := c.Register([]string{"mailto:a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/reg/1", c.AccountURL)
}

func TestAgreeUpdatesAgreement(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))
	require.NoError(t, c.Register(nil))

	err := c.Agree("https://example.com/terms")
	assert.NoError(t, err)
}

func TestDeactivateAccount(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))
	require.NoError(t, c.Register(nil))

	err := c.DeactivateAccount()
	assert.NoError(t, err)
}

func TestChangeKeyUpdatesClientKey(t *testing.T) {
	srv, _ := newFakeServer(t)
	oldKey := newTestKey(t)
	c := New(srv.URL+"/directory", oldKey)
	require.NoError(t, c.Register(nil))

	newKey := newTestKey(t)
	err := c.ChangeKey(newKey)
	require.NoError(t, err)
	assert.Equal(t, newKey, c.Key)
}

func TestRevokeCertificateUsesAccountKeyByDefault(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))

	err := c.RevokeCertificate([]byte("fake-der"), 0, nil)
	assert.NoError(t, err)
}

func TestRevokeCertificateCanUseCertificateKey(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))

	certKey := newTestKey(t)
	err := c.RevokeCertificate([]byte("fake-der"), 1, certKey)
	assert.NoError(t, err)
}

func TestResourceURLFailsForUnknownResource(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := New(srv.URL+"/directory", newTestKey(t))

	_, err := c.resourceURL("no-such-resource")
	assert.Error(t, err)
}
