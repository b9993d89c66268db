// Package client implements the ACME client core named in spec §4.8:
// directory caching, account registration/key-change/deactivation,
// certificate requests with per-requirement validation dispatch, bounded
// polling, and certificate fetch/revocation.
//
// Grounded on cpu-acmeshell/acme/client/client.go's Client shape
// (DirectoryURL, ActiveAccount, directory caching) and on
// hlandau-acmeapi/api.go's RealmClient for the request/retry idiom,
// generalized from the teacher's interactive-shell-driven multi-account
// client down to a single-account library client, since this spec has no
// shell (Non-goals exclude a UI).
package client

import (
	"crypto"
	"encoding/json"
	"fmt"
	"time"

	"github.com/letsencrypt-labs/acme-engine/client/transport"
	ejose "github.com/letsencrypt-labs/acme-engine/jose"
)

// PollInterval and MaxPollAttempts bound the bounded-polling loop (§4.8),
// grounded on shell/commands/poll/poll.go's maxTries/sleep flags, fixed to
// constants here since this client has no interactive operator to tune them.
const (
	PollInterval    = time.Second
	MaxPollAttempts = 10
)

// Client is a single-account ACME client.
type Client struct {
	transport *transport.Transport

	directoryURL string
	directory    map[string]interface{}

	Key        crypto.Signer
	AccountURL string
}

// New returns a Client against the given directory URL. The directory is
// not fetched until the first operation that needs it.
func New(directoryURL string, key crypto.Signer) *Client {
	return &Client{
		transport:    transport.New(nil),
		directoryURL: directoryURL,
		Key:          key,
	}
}

// Directory fetches and caches the server's directory object (§4.8).
func (c *Client) Directory() (map[string]interface{}, error) {
	if c.directory != nil {
		return c.directory, nil
	}
	resp, err := c.transport.Get(c.directoryURL)
	if err != nil {
		return nil, fmt.Errorf("client: fetching directory: %w", err)
	}
	var dir map[string]interface{}
	if err := json.Unmarshal(resp.Body, &dir); err != nil {
		return nil, fmt.Errorf("client: parsing directory: %w", err)
	}
	c.directory = dir
	return dir, nil
}

// resourceURL returns the directory's URL for the named resource.
func (c *Client) resourceURL(name string) (string, error) {
	dir, err := c.Directory()
	if err != nil {
		return "", err
	}
	u, ok := dir[name].(string)
	if !ok || u == "" {
		return "", fmt.Errorf("client: directory has no %q resource", name)
	}
	return u, nil
}

// signedPost signs payload with the client's account key and POSTs it to
// url, reusing the transport's nonce reservoir.
func (c *Client) signedPost(url string, payload []byte) (*transport.Response, error) {
	n, err := c.transport.Nonce(c.directoryURL)
	if err != nil {
		return nil, err
	}
	jws, err := ejose.Sign(c.Key, payload, ejose.Header{Nonce: n, URL: url})
	if err != nil {
		return nil, fmt.Errorf("client: signing request: %w", err)
	}
	body, err := json.Marshal(jws)
	if err != nil {
		return nil, fmt.Errorf("client: serializing JWS: %w", err)
	}
	return c.transport.PostJWS(url, body)
}

type registrationResponse struct {
	Status string `json:"status"`
}

// Register creates a new account, grounded on
// cpu-acmeshell/acme/account.go's account-creation flow.
func (c *Client) Register(contact []string) error {
	url, err := c.resourceURL("new-reg")
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]interface{}{"contact": contact})
	if err != nil {
		return err
	}
	resp, err := c.signedPost(url, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("client: new-reg failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return fmt.Errorf("client: new-reg response carried no Location header")
	}
	c.AccountURL = loc
	return nil
}

// Agree updates the account's agreement URL to match the server's terms of
// service.
func (c *Client) Agree(termsURL string) error {
	payload, err := json.Marshal(map[string]interface{}{"agreement": termsURL})
	if err != nil {
		return err
	}
	resp, err := c.signedPost(c.AccountURL, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("client: agreement update failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// DeactivateAccount deactivates the client's account.
func (c *Client) DeactivateAccount() error {
	payload, err := json.Marshal(map[string]interface{}{"status": "deactivated"})
	if err != nil {
		return err
	}
	resp, err := c.signedPost(c.AccountURL, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("client: deactivation failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// ChangeKey performs a key-change: it signs an inner JWS with the old key
// proving the new key and account URL, wraps it in an outer JWS signed
// with the new key, and POSTs the result to the key-change endpoint.
func (c *Client) ChangeKey(newKey crypto.Signer) error {
	url, err := c.resourceURL("key-change")
	if err != nil {
		return err
	}

	oldJWK, err := ejose.JWKFromPublicKey(c.Key.Public())
	if err != nil {
		return err
	}
	oldThumb, err := ejose.Thumbprint(oldJWK)
	if err != nil {
		return err
	}
	newJWK, err := ejose.JWKFromPublicKey(newKey.Public())
	if err != nil {
		return err
	}
	newThumb, err := ejose.Thumbprint(newJWK)
	if err != nil {
		return err
	}

	innerPayload, err := json.Marshal(map[string]interface{}{
		"oldKey":  oldThumb,
		"newKey":  newThumb,
		"account": c.AccountURL,
	})
	if err != nil {
		return err
	}
	// The inner JWS carries a placeholder nonce: the engine's jose.Verify
	// requires a non-empty nonce header on every JWS it parses, but the
	// inner JWS of a key-change is never checked against the nonce
	// service (only the outer envelope consumes a real one).
	inner, err := ejose.Sign(c.Key, innerPayload, ejose.Header{Nonce: "ignored", URL: url})
	if err != nil {
		return fmt.Errorf("client: signing inner key-change JWS: %w", err)
	}
	outerPayload, err := json.Marshal(inner)
	if err != nil {
		return err
	}

	n, err := c.transport.Nonce(c.directoryURL)
	if err != nil {
		return err
	}
	outer, err := ejose.Sign(newKey, outerPayload, ejose.Header{Nonce: n, URL: url})
	if err != nil {
		return fmt.Errorf("client: signing outer key-change JWS: %w", err)
	}
	body, err := json.Marshal(outer)
	if err != nil {
		return err
	}
	resp, err := c.transport.PostJWS(url, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("client: key-change failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	c.Key = newKey
	return nil
}
