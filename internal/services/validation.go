package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/licensecrypto"
	"github.com/rs/zerolog/log"
)

const (
	CodeTrial          = "TRIAL"
	CodeTrialExpired   = "TRIAL_EXPIRED"
	CodeTrialConverted = "TRIAL_CONVERTED"
)

// Validate reports the license state for a fingerprint. Without a key the
// fingerprint's trial is reported, starting it on first contact. A valid,
// activated license also receives a fresh offline token.
func (s *LicenseService) Validate(ctx context.Context, req dto.LicenseValidationRequest) (dto.LicenseValidationResponse, error) {
	if err := validateFingerprint(req.Fingerprint); err != nil {
		return dto.LicenseValidationResponse{}, err
	}
	if strings.TrimSpace(req.LicenseKey) == "" {
		return s.validateTrial(ctx, req.Fingerprint)
	}

	license, err := s.resolveLicense(ctx, req.LicenseKey)
	if err != nil {
		return dto.LicenseValidationResponse{}, err
	}
	count, err := s.repo.CountDevices(ctx, license.ID)
	if err != nil {
		return dto.LicenseValidationResponse{}, fmt.Errorf("count devices: %w", err)
	}
	_, err = s.repo.GetDeviceByFingerprint(ctx, license.ID, req.Fingerprint)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return dto.LicenseValidationResponse{}, fmt.Errorf("lookup device: %w", err)
	}
	activated := err == nil

	resp := dto.LicenseValidationResponse{
		Status:     license.Status,
		Plan:       license.Plan,
		ExpiresAt:  expiresAt(license),
		Activated:  activated,
		Devices:    int(count),
		MaxDevices: int(license.MaxDevices),
	}
	resp.Valid, resp.Code = s.localValidation(license, activated)

	if s.keygen != nil && license.KeygenLicenseID.Valid {
		v, err := s.keygen.ValidateKey(ctx, licensecrypto.CanonicalKey(req.LicenseKey), req.Fingerprint)
		if err != nil {
			return dto.LicenseValidationResponse{}, keygenError("validate key", err)
		}
		if v.Code == keygen.ValidationNotFound {
			log.Warn().Int64("license_id", license.ID).Msg("license known locally but not in keygen")
		}
		resp.Valid, resp.Code = v.Valid, v.Code
	}

	if resp.Valid && activated {
		token, _, err := s.tokens.Issue(license, s.features(license.Plan), req.Fingerprint)
		if err != nil {
			return dto.LicenseValidationResponse{}, fmt.Errorf("sign token: %w", err)
		}
		resp.Token = token
	}
	return resp, nil
}

// localValidation mirrors Keygen's validation codes from the local record.
func (s *LicenseService) localValidation(license db.License, activated bool) (bool, string) {
	switch {
	case license.Status == db.LicenseStatusSuspended || license.Status == db.LicenseStatusCanceled:
		return false, keygen.ValidationSuspended
	case license.Status == db.LicenseStatusExpired || license.Expired(s.now()):
		return false, keygen.ValidationExpired
	case !activated:
		return false, keygen.ValidationNoMachine
	}
	return true, keygen.ValidationValid
}

func (s *LicenseService) validateTrial(ctx context.Context, fingerprint string) (dto.LicenseValidationResponse, error) {
	trial, _, err := s.trials.Start(ctx, fingerprint)
	if err != nil {
		return dto.LicenseValidationResponse{}, err
	}
	resp := dto.LicenseValidationResponse{
		Valid:  trial.Active,
		Code:   CodeTrial,
		Status: trial.Status,
		Trial:  &trial,
	}
	switch {
	case trial.Status == db.TrialStatusConverted:
		// The fingerprint is activated on a license; the client should send its key.
		resp.Code = CodeTrialConverted
	case !trial.Active:
		resp.Code = CodeTrialExpired
	}
	return resp, nil
}

// Refresh re-issues an offline token for the device it was bound to.
func (s *LicenseService) Refresh(ctx context.Context, req dto.RefreshTokenRequest) (dto.RefreshTokenResponse, error) {
	claims, err := s.tokens.Parse(req.Token)
	if err != nil {
		return dto.RefreshTokenResponse{}, err
	}
	licenseID, err := licenseIDFromSubject(claims.Subject)
	if err != nil {
		return dto.RefreshTokenResponse{}, err
	}

	license, err := s.repo.GetLicenseByID(ctx, licenseID)
	if errors.Is(err, db.ErrNotFound) {
		return dto.RefreshTokenResponse{}, ErrLicenseNotFound
	}
	if err != nil {
		return dto.RefreshTokenResponse{}, fmt.Errorf("lookup license: %w", err)
	}
	if err := s.checkUsable(license); err != nil {
		return dto.RefreshTokenResponse{}, err
	}

	if req.Fingerprint != "" && claims.HWID != "" && req.Fingerprint != claims.HWID {
		return dto.RefreshTokenResponse{}, ErrHWIDMismatch
	}
	if claims.HWID != "" {
		_, err := s.repo.GetDeviceByFingerprint(ctx, license.ID, claims.HWID)
		if errors.Is(err, db.ErrNotFound) {
			return dto.RefreshTokenResponse{}, ErrDeviceNotFound
		}
		if err != nil {
			return dto.RefreshTokenResponse{}, fmt.Errorf("lookup device: %w", err)
		}
	}

	token, newClaims, err := s.tokens.Issue(license, s.features(license.Plan), claims.HWID)
	if err != nil {
		return dto.RefreshTokenResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return dto.RefreshTokenResponse{Token: token, ExpiresAt: newClaims.ExpiresAt.Time.UTC()}, nil
}
