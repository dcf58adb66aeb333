package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/rs/zerolog/hlog"
	"schneider.vip/problem"
)

const maxBodyBytes = 1 << 20

// Router level errors.
var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrRouteNotFound    = errors.New("no such route")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{services.ErrInvalidInput, http.StatusBadRequest, "INVALID_REQUEST"},
	{services.ErrPlanContactSales, http.StatusBadRequest, "PLAN_CONTACT_SALES"},
	{services.ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE"},

	{services.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
	{auth.ErrMissingToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},

	{services.ErrLicenseInactive, http.StatusForbidden, "LICENSE_INACTIVE"},
	{services.ErrLicenseExpired, http.StatusForbidden, "LICENSE_EXPIRED"},
	{services.ErrDeviceLimitReached, http.StatusForbidden, "DEVICE_LIMIT_REACHED"},
	{services.ErrHWIDMismatch, http.StatusForbidden, "HWID_MISMATCH"},
	{services.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},

	{services.ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
	{services.ErrDeviceNotFound, http.StatusNotFound, "DEVICE_NOT_FOUND"},
	{services.ErrTrialNotFound, http.StatusNotFound, "TRIAL_NOT_FOUND"},
	{services.ErrPlanNotFound, http.StatusNotFound, "PLAN_NOT_FOUND"},
	{services.ErrCheckoutNotFound, http.StatusNotFound, "CHECKOUT_NOT_FOUND"},
	{services.ErrCustomerNotFound, http.StatusNotFound, "CUSTOMER_NOT_FOUND"},
	{services.ErrTeamNotFound, http.StatusNotFound, "TEAM_NOT_FOUND"},
	{services.ErrInviteNotFound, http.StatusNotFound, "INVITE_NOT_FOUND"},
	{services.ErrMemberNotFound, http.StatusNotFound, "MEMBER_NOT_FOUND"},

	{services.ErrFingerprintTaken, http.StatusConflict, "FINGERPRINT_TAKEN"},
	{services.ErrWebhookInProgress, http.StatusConflict, "WEBHOOK_IN_PROGRESS"},
	{services.ErrTeamFull, http.StatusConflict, "TEAM_FULL"},
	{services.ErrAlreadyMember, http.StatusConflict, "ALREADY_MEMBER"},
	{services.ErrInviteUsed, http.StatusConflict, "INVITE_USED"},
	{services.ErrInviteExpired, http.StatusConflict, "INVITE_EXPIRED"},
	{services.ErrInvitePending, http.StatusConflict, "INVITE_PENDING"},
	{services.ErrCannotRemoveOwner, http.StatusConflict, "CANNOT_REMOVE_OWNER"},
	{services.ErrNoBillingAccount, http.StatusConflict, "NO_BILLING_ACCOUNT"},

	{ErrRouteNotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	{ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

	{services.ErrNotConfigured, http.StatusServiceUnavailable, "NOT_CONFIGURED"},
	{services.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR"},
}

func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a problem document. Details are only exposed for
// client faults.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteProblem(w, r, err)
}

// WriteProblem is writeError for middleware that has no Handlers at hand.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Int("status", status).Msg("request failed")
		detail = http.StatusText(status)
	}
	_, _ = problem.Of(status).Append(
		problem.Title(http.StatusText(status)),
		problem.Detail(detail),
		problem.Instance(r.URL.Path),
		problem.Custom("code", code),
	).WriteTo(w)
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and anything past maxBodyBytes. On failure the response is already
// written.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == nil && dec.Decode(&struct{}{}) != io.EOF {
		err = errors.New("body must contain a single JSON object")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		err = fmt.Errorf("%w: %v", services.ErrInvalidInput, err)
		WriteProblem(w, r, err)
		return err
	}
	return nil
}

// readBody returns the raw request body for signature verification.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", services.ErrInvalidInput, err)
	}
	return body, nil
}
