package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/plans"
	stripe "github.com/stripe/stripe-go/v82"
)

type CheckoutService struct {
	repo    Repository
	billing Billing
	catalog *plans.Catalog
}

// Create starts a hosted Stripe checkout for a self-serve plan.
func (s *CheckoutService) Create(ctx context.Context, req dto.CheckoutRequest) (dto.CheckoutResponse, error) {
	plan, err := s.catalog.Lookup(strings.TrimSpace(req.Plan))
	if err != nil {
		return dto.CheckoutResponse{}, fmt.Errorf("%w: %q", ErrPlanNotFound, req.Plan)
	}
	if !plan.Checkout {
		return dto.CheckoutResponse{}, ErrPlanContactSales
	}

	cycle := strings.TrimSpace(req.Cycle)
	if cycle == "" {
		cycle = plans.CycleMonthly
	}
	priceID, ok := plan.PriceID(cycle)
	if !ok {
		return dto.CheckoutResponse{}, invalid("plan %s has no %s price", plan.ID, cycle)
	}

	seats := req.Seats
	if seats == 0 {
		seats = plan.MinSeats
	}
	if seats < plan.MinSeats || seats > plan.MaxSeats {
		return dto.CheckoutResponse{}, invalid("seats must be between %d and %d for plan %s", plan.MinSeats, plan.MaxSeats, plan.ID)
	}

	email, err := normalizeEmail(req.Email, false)
	if err != nil {
		return dto.CheckoutResponse{}, err
	}

	if s.billing == nil {
		return dto.CheckoutResponse{}, ErrNotConfigured
	}

	params := billing.CheckoutParams{
		PriceID:  priceID,
		Quantity: int64(seats),
		Email:    email,
		Metadata: map[string]string{
			"plan":  plan.ID,
			"cycle": cycle,
			"seats": strconv.Itoa(seats),
		},
	}
	if email != "" {
		params.Metadata["email"] = email
		if c, err := s.repo.GetCustomerByEmail(ctx, email); err == nil && c.StripeCustomerID.Valid {
			params.CustomerID = c.StripeCustomerID.String
		}
	}

	session, err := s.billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		return dto.CheckoutResponse{}, stripeError("create checkout session", err, ErrPlanNotFound)
	}
	return dto.CheckoutResponse{SessionID: session.ID, URL: session.URL, ExpiresAt: session.ExpiresAt}, nil
}

// Verify reports the state of a checkout and whether its license exists yet.
func (s *CheckoutService) Verify(ctx context.Context, sessionID string) (dto.CheckoutStatusResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if !strings.HasPrefix(sessionID, "cs_") {
		return dto.CheckoutStatusResponse{}, invalid("sessionId is malformed")
	}
	if s.billing == nil {
		return dto.CheckoutStatusResponse{}, ErrNotConfigured
	}

	session, err := s.billing.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return dto.CheckoutStatusResponse{}, stripeError("get checkout session", err, ErrCheckoutNotFound)
	}

	_, err = s.repo.GetLicenseByCheckoutSession(ctx, session.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return dto.CheckoutStatusResponse{}, fmt.Errorf("lookup license: %w", err)
	}
	return dto.CheckoutStatusResponse{
		SessionID:     session.ID,
		Status:        session.Status,
		PaymentStatus: session.PaymentStatus,
		Complete:      session.Complete(),
		LicenseReady:  err == nil,
		Email:         session.Email,
	}, nil
}

// stripeError maps Stripe API errors: a missing object becomes notFound,
// invalid requests are the caller's fault, the rest is an upstream failure.
func stripeError(op string, err error, notFound error) error {
	if errors.Is(err, billing.ErrNotConfigured) {
		return ErrNotConfigured
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch {
		case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s", notFound, serr.Msg)
		case serr.Type == stripe.ErrorTypeInvalidRequest && serr.HTTPStatusCode == http.StatusBadRequest:
			return invalid("%s", serr.Msg)
		}
	}
	return upstream(op, err)
}

func normalizeEmail(raw string, required bool) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		if required {
			return "", invalid("email is required")
		}
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email is invalid")
	}
	return email, nil
}
