package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/rs/zerolog/log"
)

// AdminService backs the operator endpoints behind the admin API key.
type AdminService struct {
	repo    Repository
	keygen  Licensing
	catalog *plans.Catalog
	issuer  *licenseIssuer
}

// IssueLicense creates a license outside of checkout, e.g. for sales-led
// deals. The plain key is only ever returned here.
func (s *AdminService) IssueLicense(ctx context.Context, req dto.LicenseCreationRequest) (dto.LicenseCreationResponse, error) {
	email, err := normalizeEmail(req.Email, true)
	if err != nil {
		return dto.LicenseCreationResponse{}, err
	}
	plan, err := s.catalog.Lookup(strings.TrimSpace(req.Plan))
	if err != nil {
		return dto.LicenseCreationResponse{}, fmt.Errorf("%w: %q", ErrPlanNotFound, req.Plan)
	}
	if req.Seats < 0 {
		return dto.LicenseCreationResponse{}, invalid("seats must not be negative")
	}
	if req.Seats > 0 && (req.Seats < plan.MinSeats || req.Seats > plan.MaxSeats) {
		return dto.LicenseCreationResponse{}, invalid("seats must be between %d and %d for plan %s", plan.MinSeats, plan.MaxSeats, plan.ID)
	}

	customer, err := s.repo.UpsertCustomer(ctx, db.UpsertCustomerParams{Email: email, Name: strings.TrimSpace(req.Name)})
	if err != nil {
		return dto.LicenseCreationResponse{}, fmt.Errorf("upsert customer: %w", err)
	}
	license, key, err := s.issuer.issue(ctx, issueParams{
		Customer:  customer,
		Plan:      plan,
		Seats:     req.Seats,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return dto.LicenseCreationResponse{}, err
	}
	if plan.IsTeam() {
		if _, err := s.repo.CreateOrganization(ctx, db.CreateOrganizationParams{
			Name:            teamNameFor(customer.Email),
			OwnerCustomerID: customer.ID,
			LicenseID:       license.ID,
		}); err != nil {
			return dto.LicenseCreationResponse{}, fmt.Errorf("create organization: %w", err)
		}
	}

	view, err := licenseView(ctx, s.repo, s.catalog, license)
	if err != nil {
		return dto.LicenseCreationResponse{}, err
	}
	return dto.LicenseCreationResponse{LicenseKey: key, License: view}, nil
}

func (s *AdminService) lookup(ctx context.Context, id int64) (db.License, error) {
	l, err := s.repo.GetLicenseByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return db.License{}, ErrLicenseNotFound
	}
	if err != nil {
		return db.License{}, fmt.Errorf("lookup license: %w", err)
	}
	return l, nil
}

// GetLicense joins the local record with Keygen's machine count so drift
// between the two is visible.
func (s *AdminService) GetLicense(ctx context.Context, id int64) (dto.AdminLicenseResponse, error) {
	l, err := s.lookup(ctx, id)
	if err != nil {
		return dto.AdminLicenseResponse{}, err
	}
	view, err := licenseView(ctx, s.repo, s.catalog, l)
	if err != nil {
		return dto.AdminLicenseResponse{}, err
	}
	devices, err := s.repo.ListDevices(ctx, l.ID)
	if err != nil {
		return dto.AdminLicenseResponse{}, fmt.Errorf("list devices: %w", err)
	}
	resp := dto.AdminLicenseResponse{
		License:  view,
		KeygenID: l.KeygenLicenseID.String,
		Devices:  deviceViews(devices),
	}
	if c, err := s.repo.GetCustomer(ctx, l.CustomerID); err == nil {
		resp.CustomerEmail = c.Email
	}
	if s.keygen != nil && l.KeygenLicenseID.Valid {
		machines, err := s.keygen.ListMachines(ctx, l.KeygenLicenseID.String)
		if err != nil {
			return dto.AdminLicenseResponse{}, keygenError("list keygen machines", err)
		}
		resp.KeygenMachines = len(machines)
	}
	return resp, nil
}

func (s *AdminService) SuspendLicense(ctx context.Context, id int64) (dto.LicenseView, error) {
	return s.setStatus(ctx, id, db.LicenseStatusSuspended)
}

func (s *AdminService) ReinstateLicense(ctx context.Context, id int64) (dto.LicenseView, error) {
	return s.setStatus(ctx, id, db.LicenseStatusActive)
}

func (s *AdminService) setStatus(ctx context.Context, id int64, status string) (dto.LicenseView, error) {
	if s.keygen == nil {
		return dto.LicenseView{}, ErrNotConfigured
	}
	l, err := s.lookup(ctx, id)
	if err != nil {
		return dto.LicenseView{}, err
	}
	if l.Status != status && l.KeygenLicenseID.Valid {
		if status == db.LicenseStatusSuspended {
			_, err = s.keygen.SuspendLicense(ctx, l.KeygenLicenseID.String)
		} else {
			_, err = s.keygen.ReinstateLicense(ctx, l.KeygenLicenseID.String)
		}
		if err != nil && !isKeygenStatus(err, http.StatusUnprocessableEntity) {
			return dto.LicenseView{}, upstream("sync keygen license status", err)
		}
	}
	if l.Status != status {
		if l, err = s.repo.UpdateLicenseStatus(ctx, l.ID, status); err != nil {
			return dto.LicenseView{}, fmt.Errorf("update license status: %w", err)
		}
		log.Info().Int64("license_id", l.ID).Str("status", status).Msg("license status set by admin")
	}
	return licenseView(ctx, s.repo, s.catalog, l)
}
