package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/licensecrypto"
	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const (
	maxFingerprintLen = 255
	rollbackTimeout   = 10 * time.Second
)

// LicenseService runs the device lifecycle of a license: activation,
// heartbeat, deactivation and offline token validation. Keygen stays the
// enforcing authority; the local seat count is checked under a row lock so
// concurrent activations cannot overshoot it either.
type LicenseService struct {
	repo              Repository
	keygen            Licensing
	tokens            *TokenService
	trials            *TrialService
	catalog           *plans.Catalog
	secret            []byte
	heartbeatInterval time.Duration
	now               func() time.Time
}

func (s *LicenseService) Activate(ctx context.Context, req dto.ActivateLicenseRequest) (dto.ActivateLicenseResponse, error) {
	outcome := "error"
	defer func() { metrics.ActivationsTotal.WithLabelValues(outcome).Inc() }()

	if err := validateFingerprint(req.Fingerprint); err != nil {
		outcome = "rejected"
		return dto.ActivateLicenseResponse{}, err
	}
	license, err := s.resolveLicense(ctx, req.LicenseKey)
	if err != nil {
		outcome = "rejected"
		return dto.ActivateLicenseResponse{}, err
	}
	if err := s.checkUsable(license); err != nil {
		outcome = "rejected"
		return dto.ActivateLicenseResponse{}, err
	}

	device, err := s.repo.GetDeviceByFingerprint(ctx, license.ID, req.Fingerprint)
	if err == nil {
		outcome = "existing"
		return s.activationResponse(ctx, license, device, true)
	}
	if !errors.Is(err, db.ErrNotFound) {
		return dto.ActivateLicenseResponse{}, fmt.Errorf("lookup device: %w", err)
	}

	count, err := s.repo.CountDevices(ctx, license.ID)
	if err != nil {
		return dto.ActivateLicenseResponse{}, fmt.Errorf("count devices: %w", err)
	}
	if count >= int64(license.MaxDevices) {
		outcome = "limit_reached"
		return dto.ActivateLicenseResponse{}, ErrDeviceLimitReached
	}

	if s.keygen == nil || !license.KeygenLicenseID.Valid {
		return dto.ActivateLicenseResponse{}, ErrNotConfigured
	}
	machine, adopted, err := s.createMachine(ctx, license, req)
	if err != nil {
		if errors.Is(err, ErrDeviceLimitReached) {
			outcome = "limit_reached"
		} else if !errors.Is(err, ErrUpstream) {
			outcome = "rejected"
		}
		return dto.ActivateLicenseResponse{}, err
	}

	device, created, err := s.repo.ActivateDevice(ctx, db.ActivateDeviceParams{
		LicenseID:       license.ID,
		Fingerprint:     req.Fingerprint,
		Name:            req.Name,
		Platform:        req.Platform,
		KeygenMachineID: machine.ID,
	})
	if err != nil {
		if !adopted {
			s.rollbackMachine(ctx, machine.ID)
		}
		if errors.Is(err, db.ErrSeatLimit) {
			outcome = "limit_reached"
			return dto.ActivateLicenseResponse{}, ErrDeviceLimitReached
		}
		return dto.ActivateLicenseResponse{}, fmt.Errorf("store device: %w", err)
	}

	if err := s.repo.ConvertTrial(ctx, req.Fingerprint, license.ID); err != nil {
		log.Warn().Err(err).Str("fingerprint", req.Fingerprint).Msg("failed to mark trial converted")
	}

	outcome = "activated"
	if !created {
		outcome = "existing"
	}
	log.Info().
		Int64("license_id", license.ID).
		Str("device_id", device.ID.String()).
		Str("keygen_machine_id", machine.ID).
		Bool("adopted", adopted).
		Msg("device activated")
	return s.activationResponse(ctx, license, device, !created)
}

// createMachine registers the fingerprint with Keygen. A fingerprint Keygen
// already knows for this license is adopted so retried activations converge.
func (s *LicenseService) createMachine(ctx context.Context, license db.License, req dto.ActivateLicenseRequest) (*keygen.Machine, bool, error) {
	keygenID := license.KeygenLicenseID.String
	m, err := s.keygen.CreateMachine(ctx, keygen.CreateMachineParams{
		LicenseID:   keygenID,
		Fingerprint: req.Fingerprint,
		Name:        req.Name,
		Platform:    req.Platform,
	})
	switch {
	case err == nil:
		return m, false, nil
	case keygen.IsFingerprintTaken(err):
		existing, ferr := s.keygen.FindMachine(ctx, keygenID, req.Fingerprint)
		if ferr != nil {
			return nil, false, upstream("find keygen machine", ferr)
		}
		if existing == nil {
			return nil, false, ErrFingerprintTaken
		}
		return existing, true, nil
	case keygen.IsMachineLimitExceeded(err):
		return nil, false, ErrDeviceLimitReached
	default:
		return nil, false, keygenError("create keygen machine", err)
	}
}

func (s *LicenseService) rollbackMachine(ctx context.Context, machineID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := s.keygen.DeleteMachine(ctx, machineID); err != nil && !keygen.IsNotFound(err) {
		log.Error().Err(err).Str("keygen_machine_id", machineID).Msg("failed to roll back keygen machine")
	}
}

func (s *LicenseService) activationResponse(ctx context.Context, license db.License, device db.Device, already bool) (dto.ActivateLicenseResponse, error) {
	count, err := s.repo.CountDevices(ctx, license.ID)
	if err != nil {
		return dto.ActivateLicenseResponse{}, fmt.Errorf("count devices: %w", err)
	}
	token, _, err := s.tokens.Issue(license, s.features(license.Plan), device.Fingerprint)
	if err != nil {
		return dto.ActivateLicenseResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return dto.ActivateLicenseResponse{
		Activated:        true,
		AlreadyActivated: already,
		DeviceID:         device.ID.String(),
		Plan:             license.Plan,
		Devices:          int(count),
		MaxDevices:       int(license.MaxDevices),
		ExpiresAt:        expiresAt(license),
		Token:            token,
	}, nil
}

// Heartbeat records liveness of an activated device. The session id is kept
// while the client presents the current one; otherwise a new session starts.
func (s *LicenseService) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) (dto.HeartbeatResponse, error) {
	result := "error"
	defer func() { metrics.HeartbeatsTotal.WithLabelValues(result).Inc() }()

	if err := validateFingerprint(req.Fingerprint); err != nil {
		result = "rejected"
		return dto.HeartbeatResponse{}, err
	}
	license, err := s.resolveLicense(ctx, req.LicenseKey)
	if err != nil {
		result = "rejected"
		return dto.HeartbeatResponse{}, err
	}
	device, err := s.repo.GetDeviceByFingerprint(ctx, license.ID, req.Fingerprint)
	if errors.Is(err, db.ErrNotFound) {
		result = "unknown_device"
		return dto.HeartbeatResponse{}, ErrDeviceNotFound
	}
	if err != nil {
		return dto.HeartbeatResponse{}, fmt.Errorf("lookup device: %w", err)
	}
	if err := s.checkUsable(license); err != nil {
		result = "rejected"
		return dto.HeartbeatResponse{}, err
	}

	if s.keygen != nil && device.KeygenMachineID.Valid {
		if _, err := s.keygen.PingMachine(ctx, device.KeygenMachineID.String); err != nil {
			if keygen.IsNotFound(err) {
				// Keygen culled the machine; release the local slot too.
				if derr := s.repo.DeleteDevice(ctx, device.ID); derr != nil && !errors.Is(derr, db.ErrNotFound) {
					return dto.HeartbeatResponse{}, fmt.Errorf("delete device: %w", derr)
				}
				metrics.DeactivationsTotal.WithLabelValues("heartbeat").Inc()
				result = "unknown_device"
				return dto.HeartbeatResponse{}, ErrDeviceNotFound
			}
			log.Warn().Err(err).
				Str("keygen_machine_id", device.KeygenMachineID.String).
				Msg("keygen ping failed, heartbeat recorded locally")
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	newSession := sessionID == "" || !device.SessionID.Valid || device.SessionID.String != sessionID
	if newSession {
		sessionID = ulid.Make().String()
	}
	if _, err := s.repo.TouchDevice(ctx, device.ID, sessionID, s.now().UTC()); err != nil {
		return dto.HeartbeatResponse{}, fmt.Errorf("touch device: %w", err)
	}

	result = "ok"
	return dto.HeartbeatResponse{
		OK:                   true,
		SessionID:            sessionID,
		NewSession:           newSession,
		NextHeartbeatSeconds: int(s.heartbeatInterval / time.Second),
		Status:               license.Status,
	}, nil
}

// Deactivate releases the device slot held by a fingerprint.
func (s *LicenseService) Deactivate(ctx context.Context, req dto.DeactivateRequest) (dto.DeactivateResponse, error) {
	if err := validateFingerprint(req.Fingerprint); err != nil {
		return dto.DeactivateResponse{}, err
	}
	license, err := s.resolveLicense(ctx, req.LicenseKey)
	if err != nil {
		return dto.DeactivateResponse{}, err
	}
	device, err := s.repo.GetDeviceByFingerprint(ctx, license.ID, req.Fingerprint)
	if errors.Is(err, db.ErrNotFound) {
		return dto.DeactivateResponse{}, ErrDeviceNotFound
	}
	if err != nil {
		return dto.DeactivateResponse{}, fmt.Errorf("lookup device: %w", err)
	}

	if err := s.removeDevice(ctx, device, "client"); err != nil {
		return dto.DeactivateResponse{}, err
	}

	count, err := s.repo.CountDevices(ctx, license.ID)
	if err != nil {
		return dto.DeactivateResponse{}, fmt.Errorf("count devices: %w", err)
	}
	return dto.DeactivateResponse{
		Deactivated:      true,
		DevicesRemaining: int(count),
		MaxDevices:       int(license.MaxDevices),
	}, nil
}

// removeDevice deletes the Keygen machine and the local record. A machine
// that Keygen no longer knows is not an error.
func (s *LicenseService) removeDevice(ctx context.Context, device db.Device, source string) error {
	if device.KeygenMachineID.Valid {
		if s.keygen == nil {
			return ErrNotConfigured
		}
		err := s.keygen.DeleteMachine(ctx, device.KeygenMachineID.String)
		if err != nil && !keygen.IsNotFound(err) {
			return keygenError("delete keygen machine", err)
		}
	}
	if err := s.repo.DeleteDevice(ctx, device.ID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("delete device: %w", err)
	}
	metrics.DeactivationsTotal.WithLabelValues(source).Inc()
	log.Info().
		Int64("license_id", device.LicenseID).
		Str("device_id", device.ID.String()).
		Str("source", source).
		Msg("device deactivated")
	return nil
}

func (s *LicenseService) resolveLicense(ctx context.Context, key string) (db.License, error) {
	if strings.TrimSpace(key) == "" {
		return db.License{}, invalid("licenseKey is required")
	}
	if !licensecrypto.LooksLikeLicenseKey(key) {
		return db.License{}, invalid("licenseKey is malformed")
	}
	license, err := s.repo.GetLicenseByDigest(ctx, licensecrypto.LookupDigest(s.secret, key))
	if errors.Is(err, db.ErrNotFound) {
		return db.License{}, ErrLicenseNotFound
	}
	if err != nil {
		return db.License{}, fmt.Errorf("lookup license: %w", err)
	}
	return license, nil
}

// checkUsable rejects licenses that may not bind or keep devices. past_due
// stays usable while Stripe retries the payment.
func (s *LicenseService) checkUsable(license db.License) error {
	switch license.Status {
	case db.LicenseStatusSuspended, db.LicenseStatusCanceled:
		return fmt.Errorf("%w: %s", ErrLicenseInactive, license.Status)
	case db.LicenseStatusExpired:
		return ErrLicenseExpired
	}
	if license.Expired(s.now()) {
		return ErrLicenseExpired
	}
	return nil
}

func (s *LicenseService) features(planID string) []string {
	if s.catalog == nil {
		return nil
	}
	p, err := s.catalog.Lookup(planID)
	if err != nil {
		return nil
	}
	return p.Features
}

func validateFingerprint(fp string) error {
	switch {
	case strings.TrimSpace(fp) == "":
		return invalid("fingerprint is required")
	case len(fp) > maxFingerprintLen:
		return invalid("fingerprint must be at most %d characters", maxFingerprintLen)
	}
	return nil
}

func expiresAt(l db.License) *time.Time {
	if !l.ExpiresAt.Valid {
		return nil
	}
	t := l.ExpiresAt.Time.UTC()
	return &t
}

// keygenError maps Keygen client errors onto service errors. Anything that
// is not clearly the caller's fault is reported as an upstream failure.
func keygenError(op string, err error) error {
	var kerr *keygen.Error
	if errors.As(err, &kerr) {
		switch kerr.Status {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrLicenseInactive, kerr.Detail)
		case http.StatusUnprocessableEntity:
			return invalid("%s", kerr.Detail)
		}
	}
	return upstream(op, err)
}
