// Package wfe implements the ACME server core named in spec §4.7: the
// directory endpoint and the seven resource handlers (new-reg, update-reg,
// new-app, update-authz, key-change, revoke-cert, fetch), wired against an
// in-process store.Store and issuance.Coordinator instead of the teacher's
// gRPC-backed RA/SA split, since Non-goals exclude multi-node coordination.
//
// Grounded on wfe2/wfe.go's WebFrontEndImpl method set and handler-wiring
// style (HandleFunc, nonce-on-every-response, request-event logging via
// web.TopHandler).
package wfe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt-labs/acme-engine/core"
	"github.com/letsencrypt-labs/acme-engine/issuance"
	blog "github.com/letsencrypt-labs/acme-engine/log"
	"github.com/letsencrypt-labs/acme-engine/metrics"
	"github.com/letsencrypt-labs/acme-engine/nonce"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/store"
	"github.com/letsencrypt-labs/acme-engine/web"
)

const (
	contentTypeJOSE    = core.ContentTypeJOSE
	contentTypeJSON    = core.ContentTypeJSON
	contentTypeProblem = core.ContentTypeProblem
	contentTypePKIX    = core.ContentTypePKIXCert

	// maxRequestBody bounds every inbound POST body, a conservative cap
	// matching the teacher's general defensive-sizing idiom (JWS bodies
	// carrying CSRs and account keys are a few KB at most).
	maxRequestBody = 1 << 20
)

// Config holds the values spec §6 says the server recognizes.
type Config struct {
	Host               string
	Port               int
	BasePath           string
	AuthzExpiry        time.Duration
	MaxValiditySeconds int64
	ChallengeTypes     []string
	TermsOfService     string
	RateLimitPOSTs     int
	RateLimitWindow    time.Duration
	AllowInsecure      bool // relaxes the HTTPS scheme gate (tests, or a TLS-terminating proxy in front)
}

// WebFrontEnd is the ACME server core: directory plus the seven resource
// handlers, each translating HTTP into store/issuance operations and back.
type WebFrontEnd struct {
	cfg      Config
	store    *store.Store
	nonces   *nonce.NonceService
	issuance *issuance.Coordinator
	log      blog.Logger
	stats    metrics.Scope
	clock    clock.Clock
	limiter  *windowLimiter
}

// New constructs a WebFrontEnd over an existing store, CA, and ambient
// stack. The nonce service and window limiter are owned by the WFE, per
// the spec's "pass them as explicit handles to the server at construction"
// design note (§9).
func New(cfg Config, st *store.Store, ca *pki.CA, clk clock.Clock, logger blog.Logger, stats metrics.Scope) *WebFrontEnd {
	if cfg.BasePath == "" {
		cfg.BasePath = "/acme"
	}
	if cfg.RateLimitPOSTs <= 0 {
		cfg.RateLimitPOSTs = 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.AuthzExpiry <= 0 {
		cfg.AuthzExpiry = 7 * 24 * time.Hour
	}
	if cfg.MaxValiditySeconds <= 0 {
		cfg.MaxValiditySeconds = int64(pki.MaxValidityPeriod / time.Second)
	}
	if len(cfg.ChallengeTypes) == 0 {
		cfg.ChallengeTypes = []string{core.ChallengeHTTP01, core.ChallengeDNS01}
	}

	return &WebFrontEnd{
		cfg:      cfg,
		store:    st,
		nonces:   nonce.NewNonceService(stats, 0),
		issuance: issuance.New(st, ca),
		log:      logger,
		stats:    stats.NewScope("WFE"),
		clock:    clk,
		limiter:  newWindowLimiter(clk, cfg.RateLimitPOSTs, cfg.RateLimitWindow),
	}
}

// Handler returns the composed http.Handler: a request-event-logging
// TopHandler wraps the resource mux, and every route the mux dispatches to
// passes through wrap's three ordered gates (scheme check, nonce
// attachment, rate limiter) before its resource handler.
func (wfe *WebFrontEnd) Handler() http.Handler {
	mux := http.NewServeMux()
	base := wfe.cfg.BasePath

	mux.HandleFunc("GET "+base+"/directory", wfe.wrap(wfe.directory))
	mux.HandleFunc("POST "+base+"/new-reg", wfe.wrap(wfe.newRegistration))
	mux.HandleFunc("POST "+base+"/reg/{id}", wfe.wrap(wfe.updateRegistration))
	mux.HandleFunc("GET "+base+"/reg/{id}", wfe.wrap(wfe.fetchRegistration))
	mux.HandleFunc("POST "+base+"/new-app", wfe.wrap(wfe.newApplication))
	mux.HandleFunc("GET "+base+"/app/{id}", wfe.wrap(wfe.fetchApplication))
	mux.HandleFunc("POST "+base+"/authz/{id}", wfe.wrap(wfe.updateAuthorization))
	mux.HandleFunc("POST "+base+"/authz/{id}/{index}", wfe.wrap(wfe.updateAuthorization))
	mux.HandleFunc("GET "+base+"/authz/{id}", wfe.wrap(wfe.fetchAuthorization))
	mux.HandleFunc("POST "+base+"/key-change", wfe.wrap(wfe.keyChange))
	mux.HandleFunc("POST "+base+"/revoke-cert", wfe.wrap(wfe.revokeCert))
	mux.HandleFunc("GET "+base+"/cert/{id}", wfe.wrap(wfe.fetchCertificate))
	mux.HandleFunc("GET "+base+"/oob/{token}", wfe.wrap(wfe.oobView))

	return web.NewTopHandler(wfe.log, muxAdapter{mux})
}

// muxAdapter satisfies the unexported handler interface web.TopHandler
// wraps, so every request — regardless of which resource handler served it
// — gets one structured log line (grounded on wfe2/wfe.go's use of the
// same top-level wrapper).
type muxAdapter struct {
	mux *http.ServeMux
}

func (m muxAdapter) ServeHTTP(e *web.RequestEvent, w http.ResponseWriter, r *http.Request) {
	e.Endpoint = r.URL.Path
	e.Requester = web.GetClientAddr(r)
	if ip, err := web.ExtractRequesterIP(r); err == nil {
		e.Extra["clientIP"] = ip.String()
	}
	m.mux.ServeHTTP(w, r)
}

// wrap applies the per-request gates (scheme check, nonce attachment, rate
// limiting on POSTs) around a resource handler.
func (wfe *WebFrontEnd) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !wfe.cfg.AllowInsecure && r.TLS == nil {
			prob := probsMalformedScheme()
			writeProblem(w, prob)
			return
		}

		w.Header().Set("Replay-Nonce", wfe.nonces.Nonce())

		if r.Method == http.MethodPost {
			if ok, retryAfter := wfe.limiter.allow(); !ok {
				secs := int(retryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
				writeProblem(w, rateLimitedProblem(secs))
				return
			}
		}

		h(w, r)
	}
}
