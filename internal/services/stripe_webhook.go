package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ProviderStripe = "stripe"
	ProviderKeygen = "keygen"

	// A processing claim older than this is assumed to belong to a crashed
	// delivery and may be taken over.
	webhookClaimTimeout = 5 * time.Minute
	// Licenses stay valid this long past the paid period while Stripe
	// retries a renewal.
	renewalGrace = 3 * 24 * time.Hour
)

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
}

type StripeWebhookService struct {
	repo    Repository
	keygen  Licensing
	billing Billing
	catalog *plans.Catalog
	issuer  *licenseIssuer
	now     func() time.Time
}

// Handle verifies and applies a Stripe delivery exactly once. A processed
// event is acknowledged as a duplicate; a failed one is retried on the next
// delivery.
func (s *StripeWebhookService) Handle(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s.billing == nil {
		return WebhookResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return WebhookResult{}, fmt.Errorf("%w: missing Stripe-Signature", ErrInvalidSignature)
	}
	event, err := s.billing.ParseWebhook(payload, signature)
	if errors.Is(err, billing.ErrNotConfigured) {
		return WebhookResult{}, ErrNotConfigured
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	res := WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	err = runOnce(ctx, s.repo, ProviderStripe, event.ID, res.EventType, s.now, func() error {
		return s.dispatch(ctx, res.EventType, event.Data.Raw)
	})
	if errors.Is(err, errDuplicateDelivery) {
		res.Duplicate = true
		return res, nil
	}
	return res, err
}

func (s *StripeWebhookService) dispatch(ctx context.Context, eventType string, raw json.RawMessage) error {
	switch eventType {
	case billing.EventCheckoutCompleted:
		var session billing.CheckoutSessionEvent
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return s.checkoutCompleted(ctx, session)

	case billing.EventSubscriptionUpdated:
		var sub billing.SubscriptionEvent
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionUpdated(ctx, sub)

	case billing.EventSubscriptionDeleted:
		var sub billing.SubscriptionEvent
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionDeleted(ctx, sub)

	case billing.EventInvoicePaymentSucceeded:
		var inv billing.InvoiceEvent
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.invoicePaid(ctx, inv)

	case billing.EventInvoicePaymentFailed:
		var inv billing.InvoiceEvent
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.invoiceFailed(ctx, inv)

	default:
		log.Info().Str("type", eventType).Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (s *StripeWebhookService) checkoutCompleted(ctx context.Context, session billing.CheckoutSessionEvent) error {
	if session.PaymentStatus == "unpaid" {
		log.Info().Str("session_id", session.ID).Msg("checkout completed without payment, waiting for async payment")
		return nil
	}

	existing, err := s.repo.GetLicenseByCheckoutSession(ctx, session.ID)
	if err == nil {
		// A retry after a partial failure still owes the team its organization.
		plan, perr := s.catalog.Lookup(existing.Plan)
		if perr != nil || !plan.IsTeam() {
			return nil
		}
		return s.ensureOrganization(ctx, session, existing.CustomerID, existing.ID)
	}
	if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("lookup license by checkout: %w", err)
	}

	email := session.Email()
	if email == "" {
		log.Warn().Str("session_id", session.ID).Msg("checkout session has no email, cannot issue license")
		return nil
	}
	plan, err := s.catalog.Lookup(session.Metadata["plan"])
	if err != nil {
		log.Warn().Str("session_id", session.ID).Str("plan", session.Metadata["plan"]).Msg("checkout session has unknown plan")
		return nil
	}
	seats, _ := strconv.Atoi(session.Metadata["seats"])

	customer, err := s.repo.UpsertCustomer(ctx, db.UpsertCustomerParams{
		Email:            email,
		StripeCustomerID: session.Customer,
	})
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}

	license, _, err := s.issuer.issue(ctx, issueParams{
		Customer:                customer,
		Plan:                    plan,
		Seats:                   seats,
		StripeSubscriptionID:    session.Subscription,
		StripeCheckoutSessionID: session.ID,
	})
	if err != nil {
		return err
	}

	if plan.IsTeam() {
		return s.ensureOrganization(ctx, session, customer.ID, license.ID)
	}
	return nil
}

// ensureOrganization creates the team behind a team license. CreateOrganization
// returns the existing row when the license already has one.
func (s *StripeWebhookService) ensureOrganization(ctx context.Context, session billing.CheckoutSessionEvent, ownerID uuid.UUID, licenseID int64) error {
	name := session.Metadata["team"]
	if name == "" {
		name = teamNameFor(session.Email())
	}
	if _, err := s.repo.CreateOrganization(ctx, db.CreateOrganizationParams{
		Name:            name,
		OwnerCustomerID: ownerID,
		LicenseID:       licenseID,
	}); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// subscriptionStatus maps a Stripe subscription status to the local license
// status. ok is false for statuses that do not change the license.
func subscriptionStatus(stripeStatus string) (string, bool) {
	switch stripeStatus {
	case "active", "trialing":
		return db.LicenseStatusActive, true
	case "past_due":
		return db.LicenseStatusPastDue, true
	case "unpaid", "paused":
		return db.LicenseStatusSuspended, true
	case "canceled", "incomplete_expired":
		return db.LicenseStatusCanceled, true
	}
	return "", false
}

func blocked(status string) bool {
	return status == db.LicenseStatusSuspended || status == db.LicenseStatusCanceled
}

func (s *StripeWebhookService) licenseForSubscription(ctx context.Context, subscriptionID string) (db.License, bool, error) {
	if subscriptionID == "" {
		return db.License{}, false, nil
	}
	license, err := s.repo.GetLicenseByStripeSubscription(ctx, subscriptionID)
	if errors.Is(err, db.ErrNotFound) {
		log.Info().Str("subscription_id", subscriptionID).Msg("no license for subscription, ignoring")
		return db.License{}, false, nil
	}
	if err != nil {
		return db.License{}, false, fmt.Errorf("lookup license by subscription: %w", err)
	}
	return license, true, nil
}

func (s *StripeWebhookService) subscriptionUpdated(ctx context.Context, sub billing.SubscriptionEvent) error {
	license, ok, err := s.licenseForSubscription(ctx, sub.ID)
	if err != nil || !ok {
		return err
	}

	if plan, found := s.catalog.ByPriceID(sub.FirstPriceID()); found {
		seats := plan.ClampSeats(sub.Quantity())
		maxDevices := plan.MaxDevices(seats)
		if plan.ID != license.Plan || int32(seats) != license.Seats || int32(maxDevices) != license.MaxDevices {
			if err := s.requireKeygen(); err != nil {
				return err
			}
			if _, err := s.keygen.UpdateLicense(ctx, license.KeygenLicenseID.String, maxDevices, nil); err != nil {
				return upstream("update keygen license", err)
			}
			license, err = s.repo.UpdateLicensePlan(ctx, db.UpdateLicensePlanParams{
				ID:         license.ID,
				Plan:       plan.ID,
				Seats:      int32(seats),
				MaxDevices: int32(maxDevices),
			})
			if err != nil {
				return fmt.Errorf("update license plan: %w", err)
			}
			log.Info().Int64("license_id", license.ID).Str("plan", plan.ID).Int("seats", seats).Msg("license plan changed")
		}
	}

	status, ok := subscriptionStatus(sub.Status)
	if !ok {
		return nil
	}
	return s.transition(ctx, license, status)
}

func (s *StripeWebhookService) subscriptionDeleted(ctx context.Context, sub billing.SubscriptionEvent) error {
	license, ok, err := s.licenseForSubscription(ctx, sub.ID)
	if err != nil || !ok {
		return err
	}
	return s.transition(ctx, license, db.LicenseStatusCanceled)
}

func (s *StripeWebhookService) invoicePaid(ctx context.Context, inv billing.InvoiceEvent) error {
	license, ok, err := s.licenseForSubscription(ctx, inv.SubscriptionID())
	if err != nil || !ok {
		return err
	}
	if err := s.requireKeygen(); err != nil {
		return err
	}

	if end := inv.PeriodEnd(); end != nil {
		expiry := end.Add(renewalGrace)
		if _, err := s.keygen.UpdateLicense(ctx, license.KeygenLicenseID.String, 0, &expiry); err != nil {
			return upstream("update keygen license expiry", err)
		}
		if license, err = s.repo.UpdateLicenseExpiry(ctx, license.ID, &expiry); err != nil {
			return fmt.Errorf("update license expiry: %w", err)
		}
	} else {
		kl, err := s.keygen.RenewLicense(ctx, license.KeygenLicenseID.String)
		if err != nil {
			return upstream("renew keygen license", err)
		}
		if license, err = s.repo.UpdateLicenseExpiry(ctx, license.ID, kl.Expiry); err != nil {
			return fmt.Errorf("update license expiry: %w", err)
		}
	}

	if license.Status == db.LicenseStatusCanceled {
		return nil
	}
	return s.transition(ctx, license, db.LicenseStatusActive)
}

func (s *StripeWebhookService) invoiceFailed(ctx context.Context, inv billing.InvoiceEvent) error {
	license, ok, err := s.licenseForSubscription(ctx, inv.SubscriptionID())
	if err != nil || !ok {
		return err
	}
	if license.Status != db.LicenseStatusActive {
		return nil
	}
	return s.transition(ctx, license, db.LicenseStatusPastDue)
}

// transition moves the license to status and mirrors blocking changes to
// Keygen: entering suspended/canceled suspends, leaving them reinstates.
func (s *StripeWebhookService) transition(ctx context.Context, license db.License, status string) error {
	if license.Status == status {
		return nil
	}
	if blocked(status) != blocked(license.Status) {
		if err := s.requireKeygen(); err != nil {
			return err
		}
		id := license.KeygenLicenseID.String
		var err error
		if blocked(status) {
			_, err = s.keygen.SuspendLicense(ctx, id)
		} else {
			_, err = s.keygen.ReinstateLicense(ctx, id)
		}
		// Keygen answers 422 when the license is already in the target state.
		if err != nil && !isKeygenStatus(err, http.StatusUnprocessableEntity) {
			return upstream("sync keygen license status", err)
		}
	}

	if _, err := s.repo.UpdateLicenseStatus(ctx, license.ID, status); err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	log.Info().
		Int64("license_id", license.ID).
		Str("from", license.Status).
		Str("to", status).
		Msg("license status changed")
	return nil
}

func (s *StripeWebhookService) requireKeygen() error {
	if s.keygen == nil {
		return ErrNotConfigured
	}
	return nil
}

func teamNameFor(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return "Team"
	}
	return domain
}
