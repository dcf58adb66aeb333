package services

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the services. Handlers map them to HTTP
// statuses; anything else is treated as an internal error.
var (
	ErrInvalidInput = errors.New("invalid input")

	ErrLicenseNotFound    = errors.New("license not found")
	ErrLicenseInactive    = errors.New("license is not active")
	ErrLicenseExpired     = errors.New("license expired")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceLimitReached = errors.New("device limit reached")
	ErrFingerprintTaken   = errors.New("fingerprint is bound to another license")
	ErrInvalidToken       = errors.New("invalid token")
	ErrHWIDMismatch       = errors.New("hwid mismatch")

	ErrTrialNotFound = errors.New("trial not found")

	ErrPlanNotFound      = errors.New("plan not found")
	ErrPlanContactSales  = errors.New("plan is not available for self-serve checkout")
	ErrCheckoutNotFound  = errors.New("checkout session not found")
	ErrNoBillingAccount  = errors.New("no billing account")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrWebhookInProgress = errors.New("webhook delivery is being processed")

	ErrForbidden         = errors.New("forbidden")
	ErrTeamNotFound      = errors.New("team not found")
	ErrTeamFull          = errors.New("no free seats")
	ErrAlreadyMember     = errors.New("already a member")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrInviteExpired     = errors.New("invite expired")
	ErrInviteUsed        = errors.New("invite already accepted")
	ErrInvitePending     = errors.New("invite already pending for this email")
	ErrCannotRemoveOwner = errors.New("the owner cannot be removed")
	ErrMemberNotFound    = errors.New("member not found")

	ErrNotConfigured = errors.New("integration not configured")
	ErrUpstream      = errors.New("upstream service error")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
