package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	blog "github.com/letsencrypt-labs/acme-engine/log"
)

// RequestEvent accumulates the details of a single request for a single
// structured log line emitted once the response has been written.
type RequestEvent struct {
	// These fields are not rendered in JSON; instead, they are rendered
	// whitespace-separated ahead of the JSON. This saves bytes in the logs since
	// we don't have to include field names, quotes, or commas -- all of these
	// fields are known to not include whitespace.
	Method    string  `json:"-"`
	Endpoint  string  `json:"-"`
	Requester string  `json:"-"`
	Code      int     `json:"-"`
	Latency   float64 `json:"-"`
	RealIP    string  `json:"-"`

	Slug           string                 `json:",omitempty"`
	InternalErrors []string               `json:",omitempty"`
	Error          string                 `json:",omitempty"`
	Contacts       []string               `json:",omitempty"`
	UserAgent      string                 `json:"ua,omitempty"`
	Payload        string                 `json:",omitempty"`
	Extra          map[string]interface{} `json:",omitempty"`

	// For endpoints that create objects, the ID of the newly created object.
	Created string `json:",omitempty"`

	// For challenge and authorization GETs and POSTs: the status of the
	// authorization at the time the request began.
	Status string `json:",omitempty"`
	// The DNS name, if applicable.
	DNSName string `json:",omitempty"`

	// For challenge POSTs, the challenge type.
	ChallengeType string `json:",omitempty"`
}

// AddError appends a formatted message to InternalErrors.
func (e *RequestEvent) AddError(msg string, args ...interface{}) {
	e.InternalErrors = append(e.InternalErrors, fmt.Sprintf(msg, args...))
}

// HandlerFunc is the signature every ACME server handler implements.
type HandlerFunc func(ctx context.Context, e *RequestEvent, w http.ResponseWriter, r *http.Request)

func (f HandlerFunc) ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request) {
	f(r.Context(), e, w, r)
}

type handler interface {
	ServeHTTP(e *RequestEvent, w http.ResponseWriter, r *http.Request)
}

// TopHandler wraps a handler to populate and log a RequestEvent for every
// request, independent of what the inner handler does.
type TopHandler struct {
	inner handler
	log   blog.Logger
}

func NewTopHandler(log blog.Logger, inner handler) *TopHandler {
	return &TopHandler{
		inner: inner,
		log:   log,
	}
}

// responseWriterWithStatus satisfies http.ResponseWriter, but keeps track of
// the status code for logging.
type responseWriterWithStatus struct {
	http.ResponseWriter
	code int
}

func (r *responseWriterWithStatus) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (th *TopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Check that this header is well-formed, since we assume it is when logging.
	realIP := r.Header.Get("X-Real-IP")
	if net.ParseIP(realIP) == nil {
		realIP = "0.0.0.0"
	}

	logEvent := &RequestEvent{
		RealIP:    realIP,
		Method:    r.Method,
		UserAgent: r.Header.Get("User-Agent"),
		Extra:     make(map[string]interface{}),
	}

	begin := time.Now()
	rwws := &responseWriterWithStatus{w, 0}
	defer func() {
		logEvent.Code = rwws.code
		logEvent.Latency = time.Since(begin).Seconds()
		th.logEvent(logEvent)
	}()
	th.inner.ServeHTTP(logEvent, rwws, r)
}

func (th *TopHandler) logEvent(logEvent *RequestEvent) {
	jsonEvent, err := json.Marshal(logEvent)
	if err != nil {
		th.log.AuditErr(fmt.Sprintf("failed to marshal logEvent - %s", err))
		return
	}
	th.log.Info(fmt.Sprintf("%s %s %s %d %d %s JSON=%s",
		logEvent.Method, logEvent.Endpoint, logEvent.Requester, logEvent.Code,
		int(logEvent.Latency*1000), logEvent.RealIP, jsonEvent))
}

// GetClientAddr returns a comma-separated list of HTTP clients involved in
// making this request, starting with the original requester and ending with
// the remote end of our TCP connection (typically our own proxy).
func GetClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff + "," + r.RemoteAddr
	}
	return r.RemoteAddr
}
