package client

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/letsencrypt/challtestsrv"

	ejose "github.com/letsencrypt-labs/acme-engine/jose"
	"github.com/letsencrypt-labs/acme-engine/pki"
)

// wireApplication mirrors the shape wfe.wireApplication puts on the wire.
type wireApplication struct {
	ID           string        `json:"id"`
	CSR          string        `json:"csr"`
	Status       string        `json:"status"`
	Requirements []Requirement `json:"requirements"`
	Certificate  string        `json:"certificate,omitempty"`
	NotBefore    string        `json:"notBefore,omitempty"`
	NotAfter     string        `json:"notAfter,omitempty"`
}

// Requirement mirrors core.Requirement's wire shape.
type Requirement struct {
	Kind   string `json:"type"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// wireAuthorization mirrors wfe.wireAuthorization's wire shape.
type wireAuthorization struct {
	ID         string            `json:"id"`
	Identifier map[string]string `json:"identifier"`
	Status     string            `json:"status"`
	Expires    time.Time         `json:"expires"`
	Challenges []wireChallenge   `json:"challenges"`
}

type wireChallenge struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	Token            string `json:"token"`
	KeyAuthorization string `json:"keyAuthorization,omitempty"`
	URL              string `json:"url,omitempty"`
}

// RequestCertificate drives the full post-registration issuance flow
// (§4.8): submit a new-app for csr, answer every pending authorization's
// preferred challenge via solver, poll until the Application leaves
// pending, then fetch and return the issued certificate's DER bytes.
func (c *Client) RequestCertificate(csrDER []byte, solver *Solver) ([]byte, error) {
	url, err := c.resourceURL("new-app")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"csr": base64.RawURLEncoding.EncodeToString(csrDER),
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.signedPost(url, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("client: new-app failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	appURL := resp.Header.Get("Location")
	if appURL == "" {
		return nil, fmt.Errorf("client: new-app response carried no Location header")
	}

	var app wireApplication
	if err := json.Unmarshal(resp.Body, &app); err != nil {
		return nil, fmt.Errorf("client: parsing new-app response: %w", err)
	}

	for _, req := range app.Requirements {
		if req.Status == "valid" {
			continue
		}
		if req.Kind != "authorization" {
			continue
		}
		if err := c.satisfyAuthorization(req.URL, solver); err != nil {
			return nil, fmt.Errorf("client: satisfying authorization %q: %w", req.URL, err)
		}
	}

	app, err = c.pollApplication(appURL)
	if err != nil {
		return nil, err
	}
	if app.Status != "valid" {
		return nil, fmt.Errorf("client: application %q reached terminal status %q without issuing", appURL, app.Status)
	}
	if app.Certificate == "" {
		return nil, fmt.Errorf("client: application %q is valid but carries no certificate URL", appURL)
	}

	certResp, err := c.transport.Get(app.Certificate)
	if err != nil {
		return nil, fmt.Errorf("client: fetching certificate: %w", err)
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("client: parsing submitted CSR: %w", err)
	}
	notBefore, notAfter, err := app.validityWindow()
	if err != nil {
		return nil, err
	}
	if err := pki.CheckCertMatch(certResp.Body, csr, notBefore, notAfter); err != nil {
		return nil, fmt.Errorf("client: issued certificate does not match request: %w", err)
	}

	return certResp.Body, nil
}

// validityWindow parses the application's echoed notBefore/notAfter wire
// fields back into *time.Time, for checkCertMatch (spec §4.8: "Finally GET
// the certificate and verify with checkCertMatch").
func (app wireApplication) validityWindow() (*time.Time, *time.Time, error) {
	var notBefore, notAfter *time.Time
	if app.NotBefore != "" {
		t, err := time.Parse(time.RFC3339, app.NotBefore)
		if err != nil {
			return nil, nil, fmt.Errorf("client: parsing notBefore: %w", err)
		}
		notBefore = &t
	}
	if app.NotAfter != "" {
		t, err := time.Parse(time.RFC3339, app.NotAfter)
		if err != nil {
			return nil, nil, fmt.Errorf("client: parsing notAfter: %w", err)
		}
		notAfter = &t
	}
	return notBefore, notAfter, nil
}

// pollApplication implements the bounded-polling loop of §4.8, grounded on
// shell/commands/poll/poll.go's fixed-attempt retry.
func (c *Client) pollApplication(url string) (wireApplication, error) {
	var app wireApplication
	for attempt := 0; attempt < MaxPollAttempts; attempt++ {
		resp, err := c.transport.Get(url)
		if err != nil {
			return app, err
		}
		if err := json.Unmarshal(resp.Body, &app); err != nil {
			return app, fmt.Errorf("client: parsing application: %w", err)
		}
		if app.Status != "pending" {
			return app, nil
		}
		time.Sleep(PollInterval)
	}
	return app, fmt.Errorf("client: application %q still pending after %d attempts", url, MaxPollAttempts)
}

// Solver answers HTTP-01/DNS-01/TLS-SNI-02 probes on behalf of the client
// using github.com/letsencrypt/challtestsrv's mock listeners, grounded on
// shell/solve.go and shell/commands/challsrv.go. OOB is answered directly
// with an HTTP GET against the challenge's URL, since no probe listener is
// needed for a page-view check.
type Solver struct {
	srv *challtestsrv.ChallSrv
}

// NewSolver starts mock HTTP-01/DNS-01/TLS-ALPN listeners on the given
// "host:port" addresses (empty strings disable the corresponding listener).
func NewSolver(httpAddr, tlsAddr, dnsAddr string) (*Solver, error) {
	srv, err := challtestsrv.New(challtestsrv.Config{
		HTTPOneAddrs:    addrsFor(httpAddr),
		TLSALPNOneAddrs: addrsFor(tlsAddr),
		DNSOneAddrs:     addrsFor(dnsAddr),
	})
	if err != nil {
		return nil, fmt.Errorf("client: starting challenge solver: %w", err)
	}
	srv.Run()
	return &Solver{srv: srv}, nil
}

func addrsFor(addr string) []string {
	if addr == "" {
		return nil
	}
	return []string{addr}
}

// Shutdown stops every listener the solver started.
func (s *Solver) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

// satisfyAuthorization fetches authzURL, picks the first challenge type the
// solver knows how to answer, arms the corresponding mock listener, and
// POSTs the challenge response.
func (c *Client) satisfyAuthorization(authzURL string, solver *Solver) error {
	resp, err := c.transport.Get(authzURL)
	if err != nil {
		return err
	}
	var authz wireAuthorization
	if err := json.Unmarshal(resp.Body, &authz); err != nil {
		return fmt.Errorf("client: parsing authorization: %w", err)
	}

	jwk, err := ejose.JWKFromPublicKey(c.Key.Public())
	if err != nil {
		return err
	}
	thumbprint, err := ejose.Thumbprint(jwk)
	if err != nil {
		return err
	}

	name := authz.Identifier["value"]

	for _, chall := range authz.Challenges {
		keyAuth := chall.Token + "." + thumbprint

		switch chall.Type {
		case "http-01":
			if solver == nil {
				continue
			}
			solver.srv.AddHTTPOneChallenge(chall.Token, keyAuth)
		case "dns-01":
			if solver == nil {
				continue
			}
			solver.srv.AddDNSOneChallenge(name, keyAuth)
		case "tls-sni-02":
			if solver == nil {
				continue
			}
			solver.srv.AddTLSALPNChallenge(name, keyAuth)
		case "oob":
			// Visit the random URL the server minted for this challenge
			// (spec §4.8: "open the URL ... then proceed") before telling
			// the server the response is ready; oobVerifier.Verify blocks
			// on exactly this GET having happened.
			if chall.URL == "" {
				return fmt.Errorf("client: oob challenge %q carries no url", chall.Token)
			}
			if _, err := c.transport.Get(chall.URL); err != nil {
				return fmt.Errorf("client: visiting oob url: %w", err)
			}
		default:
			continue
		}

		challengeURL := authzURL + "/" + indexOf(authz.Challenges, chall)
		body := map[string]interface{}{"type": chall.Type}
		if chall.Type != "oob" {
			// spec §4.6's makeResponse: oob's response is just {type}, no
			// keyAuthorization.
			body["keyAuthorization"] = keyAuth
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		if _, err := c.signedPost(challengeURL, payload); err != nil {
			return fmt.Errorf("client: posting challenge response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("client: authorization %q offers no challenge type this client can answer", authzURL)
}

func indexOf(challenges []wireChallenge, target wireChallenge) string {
	for i, c := range challenges {
		if c.Token == target.Token {
			return fmt.Sprintf("%d", i)
		}
	}
	return "0"
}

// DeactivateAuthorization deactivates a single authorization by URL.
func (c *Client) DeactivateAuthorization(authzURL string) error {
	payload, err := json.Marshal(map[string]interface{}{"status": "deactivated"})
	if err != nil {
		return err
	}
	resp, err := c.signedPost(authzURL, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("client: deactivating authorization failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// RevokeCertificate submits a revoke-cert request for der, signed with
// signingKey (for example the certificate's own private key), or with the
// account key when signingKey is nil, per spec §4.8's revocation proof
// options.
func (c *Client) RevokeCertificate(der []byte, reason int, signingKey crypto.Signer) error {
	url, err := c.resourceURL("revoke-cert")
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"certificate": base64.RawURLEncoding.EncodeToString(der),
		"reason":      reason,
	})
	if err != nil {
		return err
	}

	key := c.Key
	if signingKey != nil {
		key = signingKey
	}
	n, err := c.transport.Nonce(c.directoryURL)
	if err != nil {
		return err
	}
	jws, err := ejose.Sign(key, payload, ejose.Header{Nonce: n, URL: url})
	if err != nil {
		return err
	}
	body, err := json.Marshal(jws)
	if err != nil {
		return err
	}
	resp, err := c.transport.PostJWS(url, body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: revoke-cert failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// ParseCertificate is a convenience wrapper for callers that want to inspect
// an issued certificate's fields.
func ParseCertificate(der []byte) (*x509.Certificate, error) {
	return x509.ParseCertificate(der)
}
