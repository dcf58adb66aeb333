package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const portalInvoiceLimit = 24

// PortalService serves the signed-in customer: their license, devices and
// billing. Customers are matched to Cognito users by subject, falling back
// to a verified email on first sign-in.
type PortalService struct {
	repo         Repository
	keygen       Licensing
	billing      Billing
	catalog      *plans.Catalog
	licenses     *LicenseService
	portalReturn string
}

func (s *PortalService) customer(ctx context.Context, id *auth.Identity) (db.Customer, error) {
	if id == nil || id.Subject == "" {
		return db.Customer{}, ErrCustomerNotFound
	}
	c, err := s.repo.GetCustomerByCognitoSub(ctx, id.Subject)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return db.Customer{}, fmt.Errorf("lookup customer: %w", err)
	}

	if id.Email == "" || !id.EmailVerified {
		return db.Customer{}, ErrCustomerNotFound
	}
	c, err = s.repo.GetCustomerByEmail(ctx, id.Email)
	switch {
	case err == nil:
		if c.CognitoSub.Valid && c.CognitoSub.String != id.Subject {
			return db.Customer{}, fmt.Errorf("%w: email is linked to another account", ErrForbidden)
		}
		return s.repo.LinkCustomerCognito(ctx, c.ID, id.Subject)
	case errors.Is(err, db.ErrNotFound):
		return s.repo.UpsertCustomer(ctx, db.UpsertCustomerParams{Email: id.Email, CognitoSub: id.Subject})
	default:
		return db.Customer{}, fmt.Errorf("lookup customer: %w", err)
	}
}

func (s *PortalService) license(ctx context.Context, c db.Customer) (db.License, error) {
	l, err := s.repo.GetLicenseForCustomer(ctx, c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return db.License{}, ErrLicenseNotFound
	}
	if err != nil {
		return db.License{}, fmt.Errorf("lookup license: %w", err)
	}
	return l, nil
}

// role is the caller's role for a license: owner for direct licenses,
// otherwise the organization membership role.
func (s *PortalService) role(ctx context.Context, c db.Customer, l db.License) (string, error) {
	if l.CustomerID == c.ID {
		return db.RoleOwner, nil
	}
	org, m, err := s.repo.GetMembership(ctx, c.ID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && org.LicenseID != l.ID) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("lookup membership: %w", err)
	}
	return m.Role, nil
}

func (s *PortalService) Me(ctx context.Context, id *auth.Identity) (dto.MeResponse, error) {
	c, err := s.customer(ctx, id)
	if err != nil {
		return dto.MeResponse{}, err
	}
	resp := dto.MeResponse{
		CustomerID: c.ID.String(),
		Email:      c.Email,
		Name:       c.Name,
		HasBilling: c.StripeCustomerID.Valid,
	}
	l, err := s.license(ctx, c)
	if errors.Is(err, ErrLicenseNotFound) {
		return resp, nil
	}
	if err != nil {
		return dto.MeResponse{}, err
	}
	resp.HasLicense = true
	resp.Plan = l.Plan
	if resp.Role, err = s.role(ctx, c, l); err != nil {
		return dto.MeResponse{}, err
	}
	return resp, nil
}

// License returns the caller's license including the key, which is read
// back from Keygen since only its digest is stored locally.
func (s *PortalService) License(ctx context.Context, id *auth.Identity) (dto.LicenseView, error) {
	c, err := s.customer(ctx, id)
	if err != nil {
		return dto.LicenseView{}, err
	}
	l, err := s.license(ctx, c)
	if err != nil {
		return dto.LicenseView{}, err
	}
	view, err := licenseView(ctx, s.repo, s.catalog, l)
	if err != nil {
		return dto.LicenseView{}, err
	}
	if s.keygen != nil && l.KeygenLicenseID.Valid {
		kl, err := s.keygen.GetLicense(ctx, l.KeygenLicenseID.String)
		if err != nil {
			return dto.LicenseView{}, keygenError("get keygen license", err)
		}
		view.Key = kl.Key
	}
	return view, nil
}

func (s *PortalService) Devices(ctx context.Context, id *auth.Identity) (dto.DevicesResponse, error) {
	c, err := s.customer(ctx, id)
	if err != nil {
		return dto.DevicesResponse{}, err
	}
	l, err := s.license(ctx, c)
	if err != nil {
		return dto.DevicesResponse{}, err
	}
	devices, err := s.repo.ListDevices(ctx, l.ID)
	if err != nil {
		return dto.DevicesResponse{}, fmt.Errorf("list devices: %w", err)
	}
	return dto.DevicesResponse{Devices: deviceViews(devices), MaxDevices: int(l.MaxDevices)}, nil
}

// DeactivateDevice frees a slot from the portal. Team members may only
// remove their license's devices when they are owner or admin.
func (s *PortalService) DeactivateDevice(ctx context.Context, id *auth.Identity, deviceID string) error {
	did, err := uuid.Parse(deviceID)
	if err != nil {
		return invalid("deviceId is malformed")
	}
	c, err := s.customer(ctx, id)
	if err != nil {
		return err
	}
	l, err := s.license(ctx, c)
	if err != nil {
		return err
	}
	role, err := s.role(ctx, c, l)
	if err != nil {
		return err
	}
	if role == db.RoleMember {
		return ErrForbidden
	}

	device, err := s.repo.GetDevice(ctx, did)
	if errors.Is(err, db.ErrNotFound) || (err == nil && device.LicenseID != l.ID) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup device: %w", err)
	}
	return s.licenses.removeDevice(ctx, device, "portal")
}

func (s *PortalService) BillingPortal(ctx context.Context, id *auth.Identity, returnURL string) (dto.BillingPortalResponse, error) {
	c, err := s.customer(ctx, id)
	if err != nil {
		return dto.BillingPortalResponse{}, err
	}
	if !c.StripeCustomerID.Valid {
		return dto.BillingPortalResponse{}, ErrNoBillingAccount
	}
	if s.billing == nil {
		return dto.BillingPortalResponse{}, ErrNotConfigured
	}
	if strings.TrimSpace(returnURL) == "" {
		returnURL = s.portalReturn
	}
	url, err := s.billing.CreatePortalSession(ctx, c.StripeCustomerID.String, returnURL)
	if err != nil {
		return dto.BillingPortalResponse{}, stripeError("create portal session", err, ErrCustomerNotFound)
	}
	return dto.BillingPortalResponse{URL: url}, nil
}

func (s *PortalService) Invoices(ctx context.Context, id *auth.Identity) (dto.InvoicesResponse, error) {
	c, err := s.customer(ctx, id)
	if err != nil {
		return dto.InvoicesResponse{}, err
	}
	resp := dto.InvoicesResponse{Invoices: []billing.Invoice{}}
	if !c.StripeCustomerID.Valid {
		return resp, nil
	}
	if s.billing == nil {
		return dto.InvoicesResponse{}, ErrNotConfigured
	}
	invoices, err := s.billing.ListInvoices(ctx, c.StripeCustomerID.String, portalInvoiceLimit)
	if err != nil {
		return dto.InvoicesResponse{}, stripeError("list invoices", err, ErrCustomerNotFound)
	}
	if len(invoices) > 0 {
		resp.Invoices = invoices
	}
	log.Debug().Str("customer_id", c.ID.String()).Int("count", len(invoices)).Msg("listed invoices")
	return resp, nil
}

func licenseView(ctx context.Context, repo Repository, catalog *plans.Catalog, l db.License) (dto.LicenseView, error) {
	count, err := repo.CountDevices(ctx, l.ID)
	if err != nil {
		return dto.LicenseView{}, fmt.Errorf("count devices: %w", err)
	}
	view := dto.LicenseView{
		ID:         l.ID,
		KeyHint:    l.KeyHint,
		Plan:       l.Plan,
		PlanName:   l.Plan,
		Status:     l.Status,
		Seats:      int(l.Seats),
		Devices:    int(count),
		MaxDevices: int(l.MaxDevices),
		ExpiresAt:  expiresAt(l),
		CreatedAt:  l.CreatedAt.UTC(),
	}
	if catalog != nil {
		if p, err := catalog.Lookup(l.Plan); err == nil {
			view.PlanName = p.Name
		}
	}
	return view, nil
}

func deviceViews(devices []db.Device) []dto.DeviceView {
	out := make([]dto.DeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, dto.DeviceView{
			ID:              d.ID.String(),
			Fingerprint:     d.Fingerprint,
			Name:            d.Name,
			Platform:        d.Platform,
			Status:          d.Status,
			LastHeartbeatAt: d.LastHeartbeatAt.UTC(),
			ActivatedAt:     d.CreatedAt.UTC(),
		})
	}
	return out
}
