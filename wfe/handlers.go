package wfe

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/letsencrypt-labs/acme-engine/challenges"
	"github.com/letsencrypt-labs/acme-engine/core"
	"github.com/letsencrypt-labs/acme-engine/must"
	"github.com/letsencrypt-labs/acme-engine/pki"
	"github.com/letsencrypt-labs/acme-engine/probs"
	"github.com/letsencrypt-labs/acme-engine/web"
)

func (wfe *WebFrontEnd) regURL(r *http.Request, id string) string {
	return web.RelativeEndpoint(r, wfe.cfg.BasePath, "reg", id)
}

func (wfe *WebFrontEnd) appURL(r *http.Request, id string) string {
	return web.RelativeEndpoint(r, wfe.cfg.BasePath, "app", id)
}

func (wfe *WebFrontEnd) authzURL(r *http.Request, id string) string {
	return web.RelativeEndpoint(r, wfe.cfg.BasePath, "authz", id)
}

func (wfe *WebFrontEnd) certURL(r *http.Request, id string) string {
	return web.RelativeEndpoint(r, wfe.cfg.BasePath, "cert", id)
}

func (wfe *WebFrontEnd) oobURL(r *http.Request, token string) string {
	return web.RelativeEndpoint(r, wfe.cfg.BasePath, "oob", token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		writeProblem(w, probs.ServerInternal("failed to marshal response"))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// directory returns the recognized resource map, per spec §6.
func (wfe *WebFrontEnd) directory(w http.ResponseWriter, r *http.Request) {
	dir := map[string]interface{}{
		"directory":   web.RelativeEndpoint(r, wfe.cfg.BasePath, "directory"),
		"new-reg":     web.RelativeEndpoint(r, wfe.cfg.BasePath, "new-reg"),
		"new-app":     web.RelativeEndpoint(r, wfe.cfg.BasePath, "new-app"),
		"key-change":  web.RelativeEndpoint(r, wfe.cfg.BasePath, "key-change"),
		"revoke-cert": web.RelativeEndpoint(r, wfe.cfg.BasePath, "revoke-cert"),
	}
	if wfe.cfg.TermsOfService != "" {
		dir["meta"] = map[string]interface{}{"terms-of-service": wfe.cfg.TermsOfService}
	}
	writeJSON(w, http.StatusOK, dir)
}

type newRegRequest struct {
	Contact []string `json:"contact,omitempty"`
}

// newRegistration implements spec §4.7's new-reg handler.
func (wfe *WebFrontEnd) newRegistration(w http.ResponseWriter, r *http.Request) {
	auth, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}

	var req newRegRequest
	if err := json.Unmarshal(auth.Payload, &req); err != nil {
		writeProblem(w, probs.Malformed("invalid new-reg payload: %s", err))
		return
	}

	reg, err := wfe.store.NewRegistration(&core.Registration{
		Thumbprint: auth.Thumbprint,
		Key:        auth.Key,
		Contact:    req.Contact,
		Status:     core.StatusGood,
	})
	if err != nil {
		// NewRegistration returns the existing record alongside a Conflict
		// error when the key is already registered.
		w.Header().Set("Location", wfe.regURL(r, reg.ID))
		writeProblem(w, probs.ProblemDetailsForError(err, "failed to create registration"))
		return
	}

	w.Header().Set("Location", wfe.regURL(r, reg.ID))
	if wfe.cfg.TermsOfService != "" {
		w.Header().Set("Link", `<`+wfe.cfg.TermsOfService+`>; rel="terms-of-service"`)
	}
	writeJSON(w, http.StatusCreated, reg)
}

type updateRegRequest struct {
	Status    string   `json:"status,omitempty"`
	Contact   []string `json:"contact,omitempty"`
	Agreement string   `json:"agreement,omitempty"`
}

// updateRegistration implements spec §4.7's update-reg handler.
func (wfe *WebFrontEnd) updateRegistration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reg, err := wfe.store.GetRegistration(id)
	if err != nil {
		writeProblem(w, probs.NotFound("no such registration"))
		return
	}

	auth, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}
	if auth.Thumbprint != reg.Thumbprint {
		writeProblem(w, probs.AccountUnauthorized("JWS signed by a key that doesn't own this registration"))
		return
	}

	var req updateRegRequest
	if err := json.Unmarshal(auth.Payload, &req); err != nil {
		writeProblem(w, probs.Malformed("invalid update-reg payload: %s", err))
		return
	}

	if req.Status == string(core.StatusDeactivated) {
		reg.Status = core.StatusDeactivated
		if err := wfe.store.DeleteRegistration(id); err != nil {
			writeProblem(w, probs.ProblemDetailsForError(err, "failed to deactivate registration"))
			return
		}
		writeJSON(w, http.StatusOK, reg)
		return
	}

	if req.Agreement != "" && req.Agreement != wfe.cfg.TermsOfService {
		writeProblem(w, probs.Malformed("agreement must exactly match the terms of service URL"))
		return
	}
	if req.Contact != nil {
		reg.Contact = req.Contact
	}
	if req.Agreement != "" {
		reg.Agreement = req.Agreement
	}
	if err := wfe.store.UpdateRegistration(reg); err != nil {
		writeProblem(w, probs.ProblemDetailsForError(err, "failed to update registration"))
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// fetchRegistration implements spec §4.7's rule that GET on a Registration
// always yields 401: registrations are only ever returned from the
// handlers that create or mutate them.
func (wfe *WebFrontEnd) fetchRegistration(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, probs.AccountUnauthorized("registrations cannot be fetched directly"))
}

type newAppRequest struct {
	CSR       string `json:"csr"`
	NotBefore string `json:"notBefore,omitempty"`
	NotAfter  string `json:"notAfter,omitempty"`
}

// newApplication implements spec §4.7's new-app handler.
func (wfe *WebFrontEnd) newApplication(w http.ResponseWriter, r *http.Request) {
	auth, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}
	reg, err := wfe.store.GetRegistrationByThumbprint(auth.Thumbprint)
	if err != nil {
		writeProblem(w, probs.AccountUnauthorized("no registration exists for this key"))
		return
	}

	var req newAppRequest
	if err := json.Unmarshal(auth.Payload, &req); err != nil {
		writeProblem(w, probs.Malformed("invalid new-app payload: %s", err))
		return
	}

	csr, err := pki.ParseCSR(req.CSR)
	if err != nil {
		writeProblem(w, probs.Malformed("%s", err))
		return
	}
	names, err := pki.CheckCSR(csr)
	if err != nil {
		writeProblem(w, probs.Malformed("%s", err))
		return
	}

	notBefore, notAfter, prob := wfe.parseValidityWindow(req.NotBefore, req.NotAfter)
	if prob != nil {
		writeProblem(w, prob)
		return
	}

	var requirements []core.Requirement
	for _, name := range names {
		authz, ok := wfe.store.AuthzFor(reg.ID, name)
		if !ok {
			authz = wfe.store.NewAuthorization(&core.Authorization{
				RegID:      reg.ID,
				Identifier: core.Identifier{Type: "dns", Value: name},
				Status:     core.AuthzPending,
				Expires:    wfe.clock.Now().Add(wfe.cfg.AuthzExpiry),
				Challenges: wfe.newChallenges(r),
			})
		}
		requirements = append(requirements, core.Requirement{
			Kind:   core.RequirementAuthorization,
			URL:    wfe.authzURL(r, authz.ID),
			Status: string(authz.Status),
		})
	}

	app := wfe.store.NewApplication(&core.Application{
		RegID:        reg.ID,
		CSR:          req.CSR,
		Names:        names,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		Status:       core.AppPending,
		Requirements: requirements,
	})

	app, err = wfe.issuance.IssueIfReady(app)
	if err != nil {
		wfe.log.AuditErrf("new-app: issueIfReady: %s", err)
	}

	w.Header().Set("Location", wfe.appURL(r, app.ID))
	writeJSON(w, http.StatusCreated, wireApplication(app, wfe, r))
}

// newChallenges mints one pending Challenge per configured challenge type,
// each with a fresh 32-octet base64url token, per spec §3. An out-of-band
// challenge additionally gets its random page URL minted and registered
// with the challenges package now, before it is ever handed to a client
// (spec §4.6.1: "expose a random URL").
func (wfe *WebFrontEnd) newChallenges(r *http.Request) []*core.Challenge {
	var out []*core.Challenge
	for _, t := range wfe.cfg.ChallengeTypes {
		tokenBytes := make([]byte, 32)
		must.Do(rand.Read(tokenBytes))
		c := &core.Challenge{
			Type:   t,
			Status: core.ChallengePending,
			Token:  base64.RawURLEncoding.EncodeToString(tokenBytes),
		}
		if t == core.ChallengeOOB {
			c.URL = wfe.oobURL(r, c.Token)
			challenges.RegisterOOB(c.Token)
		}
		out = append(out, c)
	}
	return out
}

// parseValidityWindow validates optional ISO-8601 notBefore/notAfter
// strings per spec §4.7: notAfter without notBefore is rejected; the
// window is bounded by maxValiditySeconds.
func (wfe *WebFrontEnd) parseValidityWindow(notBeforeStr, notAfterStr string) (*time.Time, *time.Time, *probs.ProblemDetails) {
	if notAfterStr != "" && notBeforeStr == "" {
		return nil, nil, probs.Malformed("notAfter may not be set without notBefore")
	}
	var notBefore, notAfter *time.Time
	if notBeforeStr != "" {
		t, err := time.Parse(time.RFC3339, notBeforeStr)
		if err != nil {
			return nil, nil, probs.Malformed("invalid notBefore: %s", err)
		}
		notBefore = &t
	}
	if notAfterStr != "" {
		t, err := time.Parse(time.RFC3339, notAfterStr)
		if err != nil {
			return nil, nil, probs.Malformed("invalid notAfter: %s", err)
		}
		notAfter = &t
	}
	if notBefore != nil && notAfter != nil {
		if notAfter.Sub(*notBefore) > time.Duration(wfe.cfg.MaxValiditySeconds)*time.Second {
			return nil, nil, probs.Malformed("requested validity period exceeds the maximum allowed")
		}
	}
	return notBefore, notAfter, nil
}

// wireApplication renders an Application for the wire, echoing
// notBefore/notAfter in ISO-8601 form per spec §4.8.
func wireApplication(app *core.Application, wfe *WebFrontEnd, r *http.Request) map[string]interface{} {
	out := map[string]interface{}{
		"id":           app.ID,
		"csr":          app.CSR,
		"status":       app.Status,
		"requirements": app.Requirements,
	}
	if app.NotBefore != nil {
		out["notBefore"] = app.NotBefore.Format(time.RFC3339)
	}
	if app.NotAfter != nil {
		out["notAfter"] = app.NotAfter.Format(time.RFC3339)
	}
	if app.Certificate != "" {
		out["certificate"] = wfe.certURL(r, app.Certificate)
	}
	return out
}

// fetchApplication serves an Application's current state.
func (wfe *WebFrontEnd) fetchApplication(w http.ResponseWriter, r *http.Request) {
	app, err := wfe.store.GetApplication(r.PathValue("id"))
	if err != nil {
		writeProblem(w, probs.NotFound("no such application"))
		return
	}
	writeJSON(w, http.StatusOK, wireApplication(app, wfe, r))
}

// wireAuthorization renders an Authorization for the wire, hiding each
// challenge's keyAuthorization until it is terminal (spec §4.6's toJSON).
func wireAuthorization(authz *core.Authorization) map[string]interface{} {
	views := make([]*core.Challenge, len(authz.Challenges))
	for i, c := range authz.Challenges {
		views[i] = challenges.ToJSON(c)
	}
	return map[string]interface{}{
		"id":         authz.ID,
		"identifier": authz.Identifier,
		"status":     authz.Status,
		"expires":    authz.Expires.Format(time.RFC3339),
		"challenges": views,
	}
}

func (wfe *WebFrontEnd) fetchAuthorization(w http.ResponseWriter, r *http.Request) {
	authz, err := wfe.store.GetAuthorization(r.PathValue("id"))
	if err != nil {
		writeProblem(w, probs.NotFound("no such authorization"))
		return
	}
	writeJSON(w, http.StatusOK, wireAuthorization(authz))
}

type updateAuthzRequest struct {
	Status string `json:"status,omitempty"`
}

// recomputeAuthzStatus folds an Authorization's challenge statuses into its
// own status, per spec §3: valid if any challenge is valid, invalid if all
// challenges are invalid, otherwise unchanged (still pending).
func recomputeAuthzStatus(authz *core.Authorization) {
	if authz.Status != core.AuthzPending {
		return
	}
	anyValid := false
	allInvalid := len(authz.Challenges) > 0
	for _, c := range authz.Challenges {
		if c.Status == core.ChallengeValid {
			anyValid = true
		}
		if c.Status != core.ChallengeInvalid {
			allInvalid = false
		}
	}
	switch {
	case anyValid:
		authz.Status = core.AuthzValid
	case allInvalid:
		authz.Status = core.AuthzInvalid
	}
}

// updateAuthorization implements spec §4.7's update-authz handler, driving
// either authorization deactivation or a single challenge's update().
func (wfe *WebFrontEnd) updateAuthorization(w http.ResponseWriter, r *http.Request) {
	authz, err := wfe.store.GetAuthorization(r.PathValue("id"))
	if err != nil {
		writeProblem(w, probs.NotFound("no such authorization"))
		return
	}
	owner, err := wfe.store.GetRegistration(authz.RegID)
	if err != nil {
		writeProblem(w, probs.ServerInternal("authorization owner missing"))
		return
	}

	auth, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}
	if auth.Thumbprint != owner.Thumbprint {
		writeProblem(w, probs.AccountUnauthorized("JWS signed by a key that doesn't own this authorization"))
		return
	}

	indexStr := r.PathValue("index")
	if indexStr == "" {
		var req updateAuthzRequest
		if err := json.Unmarshal(auth.Payload, &req); err != nil {
			writeProblem(w, probs.Malformed("invalid update-authz payload: %s", err))
			return
		}
		if req.Status == string(core.AuthzDeactivated) {
			authz.Status = core.AuthzDeactivated
			if err := wfe.store.UpdateAuthorization(authz); err != nil {
				writeProblem(w, probs.ProblemDetailsForError(err, "failed to deactivate authorization"))
				return
			}
			if err := wfe.issuance.OnAuthorizationChanged(authz); err != nil {
				wfe.log.AuditErrf("update-authz: propagation: %s", err)
			}
		}
		writeJSON(w, http.StatusOK, wireAuthorization(authz))
		return
	}

	if authz.Status != core.AuthzPending {
		writeProblem(w, probs.Unauthorized("authorization is no longer pending"))
		return
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 || index >= len(authz.Challenges) {
		writeProblem(w, probs.NotFound("no such challenge"))
		return
	}
	challenge := authz.Challenges[index]

	status := challenges.Update(r.Context(), authz.Identifier.Value, challenge, owner.Thumbprint, auth.Payload)
	challenge.Status = status
	recomputeAuthzStatus(authz)

	if err := wfe.store.UpdateAuthorization(authz); err != nil {
		writeProblem(w, probs.ProblemDetailsForError(err, "failed to update authorization"))
		return
	}
	if err := wfe.issuance.OnAuthorizationChanged(authz); err != nil {
		wfe.log.AuditErrf("update-authz: propagation: %s", err)
	}

	writeJSON(w, http.StatusOK, challenges.ToJSON(challenge))
}

type keyChangeInner struct {
	OldKey  string `json:"oldKey"`
	NewKey  string `json:"newKey"`
	Account string `json:"account"`
}

// keyChange implements spec §4.7's key-change handler: the outer JWS
// (verified by verifyPOST, signed by the new key) carries an inner JWS
// signed by the old key, proving control of both keys and the account URL.
func (wfe *WebFrontEnd) keyChange(w http.ResponseWriter, r *http.Request) {
	outer, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}

	innerJWS, err := parseFlattenedJWS(outer.Payload)
	if err != nil {
		writeProblem(w, probs.Unauthorized("key-change payload is not a valid inner JWS: %s", err))
		return
	}
	innerKey, innerHeader, innerPayload, err := verifyFlattenedJWS(innerJWS)
	if err != nil {
		writeProblem(w, probs.Unauthorized("inner JWS does not verify: %s", err))
		return
	}
	if innerHeader.URL != expectedURL(r) {
		writeProblem(w, probs.Unauthorized("inner JWS url does not match outer url"))
		return
	}

	var inner keyChangeInner
	if err := json.Unmarshal(innerPayload, &inner); err != nil {
		writeProblem(w, probs.Unauthorized("invalid key-change payload: %s", err))
		return
	}

	oldThumb, err := thumbprintOf(innerKey)
	if err != nil {
		writeProblem(w, probs.ServerInternal("computing old key thumbprint"))
		return
	}
	if inner.OldKey != oldThumb || inner.NewKey != outer.Thumbprint {
		writeProblem(w, probs.Unauthorized("key-change proof does not match the signing keys"))
		return
	}

	reg, err := wfe.store.GetRegistrationByThumbprint(oldThumb)
	if err != nil {
		writeProblem(w, probs.Unauthorized("no registration exists for the old key"))
		return
	}
	if inner.Account != wfe.regURL(r, reg.ID) {
		writeProblem(w, probs.Unauthorized("key-change account URL does not match the old key's registration"))
		return
	}

	reg.Key = outer.Key
	reg.Thumbprint = outer.Thumbprint
	if err := wfe.store.UpdateRegistration(reg); err != nil {
		writeProblem(w, probs.ProblemDetailsForError(err, "failed to change account key"))
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type revokeCertRequest struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason,omitempty"`
}

// revokeCert implements spec §4.7's revoke-cert handler and invariant 6's
// three-way ownership proof.
func (wfe *WebFrontEnd) revokeCert(w http.ResponseWriter, r *http.Request) {
	auth, prob := wfe.verifyPOST(r)
	if prob != nil {
		writeProblem(w, prob)
		return
	}

	var req revokeCertRequest
	if err := json.Unmarshal(auth.Payload, &req); err != nil {
		writeProblem(w, probs.Malformed("invalid revoke-cert payload: %s", err))
		return
	}
	der, err := base64.RawURLEncoding.DecodeString(req.Certificate)
	if err != nil {
		writeProblem(w, probs.Malformed("invalid base64url certificate"))
		return
	}

	cert, ok := wfe.store.CertByValue(der)
	if !ok {
		writeProblem(w, probs.NotFound("no such certificate"))
		return
	}
	if cert.Revoked {
		writeProblem(w, probs.AlreadyRevoked("certificate already revoked"))
		return
	}

	if !wfe.authorizedToRevoke(auth.Thumbprint, cert, der) {
		writeProblem(w, probs.Unauthorized("not authorized to revoke this certificate"))
		return
	}

	reason := 0
	if req.Reason != nil && *req.Reason > 0 {
		reason = *req.Reason
	}
	cert.Revoked = true
	cert.RevocationReason = &reason
	if err := wfe.store.UpdateCertificate(cert); err != nil {
		writeProblem(w, probs.ProblemDetailsForError(err, "failed to revoke certificate"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// authorizedToRevoke implements spec §4.7/invariant 6: a revocation
// succeeds iff the submitter proves account ownership, cert-key ownership,
// or authorization over every SAN in the certificate.
func (wfe *WebFrontEnd) authorizedToRevoke(thumbprint string, cert *core.Certificate, der []byte) bool {
	if owner, err := wfe.store.GetRegistration(cert.RegID); err == nil && owner.Thumbprint == thumbprint {
		return true
	}
	if keyThumb, err := pki.CertKeyThumbprint(der); err == nil && keyThumb == thumbprint {
		return true
	}
	if parsed, err := x509.ParseCertificate(der); err == nil {
		if requester, err := wfe.store.GetRegistrationByThumbprint(thumbprint); err == nil {
			if wfe.store.AuthorizedFor(requester.ID, parsed.DNSNames) {
				return true
			}
		}
	}
	return false
}

func (wfe *WebFrontEnd) fetchCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := wfe.store.GetCertificate(r.PathValue("id"))
	if err != nil {
		writeProblem(w, probs.NotFound("no such certificate"))
		return
	}
	if cert.Revoked && cert.RevocationReason != nil {
		w.Header().Set("Revocation-Reason", strconv.Itoa(*cert.RevocationReason))
	}
	w.Header().Set("Content-Type", contentTypePKIX)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cert.DER)
}

// oobView is the random URL spec §4.6.1's out-of-band module exposes; the
// challenge's Verify blocks until a GET arrives here.
func (wfe *WebFrontEnd) oobView(w http.ResponseWriter, r *http.Request) {
	challenges.SignalOOB(r.PathValue("token"))
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
