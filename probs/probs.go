// Package probs implements the ACME "problem document" wire format
// (application/problem+json), mapping engine-internal errors onto the
// protocol's error kinds.
package probs

import (
	"fmt"
	"net/http"

	berrors "github.com/letsencrypt-labs/acme-engine/errors"
)

// ProblemType defines the error types in the ACME protocol.
type ProblemType string

// Error types recognized on the wire, using the draft-ietf-acme-acme URN
// prefix.
const (
	MalformedProblem      = ProblemType("urn:ietf:params:acme:error:malformed")
	UnauthorizedProblem   = ProblemType("urn:ietf:params:acme:error:unauthorized")
	ServerInternalProblem = ProblemType("urn:ietf:params:acme:error:serverInternal")
	RateLimitedProblem    = ProblemType("urn:ietf:params:acme:error:rateLimited")
	BadNonceProblem       = ProblemType("urn:ietf:params:acme:error:badNonce")
	AlreadyRevokedProblem = ProblemType("urn:ietf:params:acme:error:alreadyRevoked")
	NotFoundProblem       = ProblemType("urn:ietf:params:acme:error:notFound")
	ConflictProblem       = ProblemType("urn:ietf:params:acme:error:conflict")
)

// statusRateLimited is the HTTP status spec.md pins the rateLimited problem
// to: 403, not the more common 429, so S5's expected response sequence
// ([403, 200]) matches.
const statusRateLimited = http.StatusForbidden

// ProblemDetails objects represent problem documents
// https://tools.ietf.org/html/draft-ietf-appsawg-http-problem-00
type ProblemDetails struct {
	Type       ProblemType `json:"type,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	HTTPStatus int         `json:"-"`
}

func (pd *ProblemDetails) Error() string {
	return fmt.Sprintf("%s :: %s", pd.Type, pd.Detail)
}

// ProblemDetailsToStatusCode inspects the given ProblemDetails and returns
// the HTTP status code it should be sent with, preferring an explicit
// HTTPStatus if one was set.
func ProblemDetailsToStatusCode(prob *ProblemDetails) int {
	if prob.HTTPStatus != 0 {
		return prob.HTTPStatus
	}
	switch prob.Type {
	case MalformedProblem, BadNonceProblem:
		return http.StatusBadRequest
	case UnauthorizedProblem:
		return http.StatusForbidden
	case RateLimitedProblem:
		return statusRateLimited
	case NotFoundProblem:
		return http.StatusNotFound
	case ConflictProblem:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Malformed(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       MalformedProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized is for proof-of-possession failures that spec.md pins to
// 403: key-change mismatches, challenge updates on a no-longer-pending
// authorization, and revoke-cert ownership failures.
func Unauthorized(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       UnauthorizedProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusForbidden,
	}
}

// AccountUnauthorized is for the three account-authentication failures
// spec.md explicitly pins to 401 rather than 403: an update-reg/update-authz
// JWS signed by a key that isn't the resource's owner, a new-app JWS signed
// by an unregistered key, and any GET against a Registration.
func AccountUnauthorized(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       UnauthorizedProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusUnauthorized,
	}
}

func ServerInternal(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       ServerInternalProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusInternalServerError,
	}
}

func RateLimited(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       RateLimitedProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: statusRateLimited,
	}
}

func BadNonce(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       BadNonceProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

func AlreadyRevoked(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       AlreadyRevokedProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

func NotFound(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       NotFoundProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusNotFound,
	}
}

func Conflict(detail string, args ...interface{}) *ProblemDetails {
	return &ProblemDetails{
		Type:       ConflictProblem,
		Detail:     fmt.Sprintf(detail, args...),
		HTTPStatus: http.StatusConflict,
	}
}

// ProblemDetailsForError translates an engine-internal error into a wire
// problem document, falling back to ServerInternal (and swallowing the
// detail of the underlying error, per the engine's error handling design)
// for anything that isn't a recognized *berrors.EngineError.
func ProblemDetailsForError(err error, msg string) *ProblemDetails {
	engineErr, ok := err.(*berrors.EngineError)
	if !ok {
		return ServerInternal(msg)
	}
	switch engineErr.Type {
	case berrors.Malformed:
		return Malformed("%s :: %s", msg, engineErr.Detail)
	case berrors.Unauthorized:
		return Unauthorized("%s :: %s", msg, engineErr.Detail)
	case berrors.NotFound:
		return NotFound("%s :: %s", msg, engineErr.Detail)
	case berrors.RateLimit:
		return RateLimited("%s :: %s", msg, engineErr.Detail)
	case berrors.AlreadyRevoked:
		return AlreadyRevoked("%s :: %s", msg, engineErr.Detail)
	case berrors.Conflict:
		return Conflict("%s :: %s", msg, engineErr.Detail)
	default:
		return ServerInternal(msg)
	}
}
