package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Keygen webhook event types mirrored locally.
const (
	KeygenLicenseExpired       = "license.expired"
	KeygenLicenseSuspended     = "license.suspended"
	KeygenLicenseReinstated    = "license.reinstated"
	KeygenLicenseRenewed       = "license.renewed"
	KeygenLicenseDeleted       = "license.deleted"
	KeygenMachineDeleted       = "machine.deleted"
	KeygenMachineHeartbeatDead = "machine.heartbeat.dead"
)

// KeygenWebhookService mirrors license state changes and machine removals
// made in Keygen. The caller verifies the signature before Handle.
type KeygenWebhookService struct {
	repo Repository
	now  func() time.Time
}

func (s *KeygenWebhookService) Handle(ctx context.Context, body []byte) (WebhookResult, error) {
	event, err := keygen.ParseWebhookEvent(body)
	if err != nil {
		return WebhookResult{}, invalid("%v", err)
	}

	res := WebhookResult{EventID: event.ID, EventType: event.Event}
	err = runOnce(ctx, s.repo, ProviderKeygen, event.ID, event.Event, s.now, func() error {
		return s.dispatch(ctx, event)
	})
	if errors.Is(err, errDuplicateDelivery) {
		res.Duplicate = true
		return res, nil
	}
	return res, err
}

func (s *KeygenWebhookService) dispatch(ctx context.Context, event *keygen.WebhookEvent) error {
	switch event.Event {
	case KeygenLicenseExpired, KeygenLicenseSuspended, KeygenLicenseReinstated, KeygenLicenseRenewed, KeygenLicenseDeleted:
		kl, err := event.License()
		if err != nil {
			return invalid("%v", err)
		}
		return s.licenseChanged(ctx, event.Event, kl)

	case KeygenMachineDeleted, KeygenMachineHeartbeatDead:
		m, err := event.Machine()
		if err != nil {
			return invalid("%v", err)
		}
		return s.machineGone(ctx, event.Event, m)

	default:
		log.Debug().Str("event", event.Event).Msg("Keygen webhook ignored (unhandled type)")
		return nil
	}
}

func (s *KeygenWebhookService) licenseChanged(ctx context.Context, eventType string, kl *keygen.License) error {
	license, err := s.repo.GetLicenseByKeygenID(ctx, kl.ID)
	if errors.Is(err, db.ErrNotFound) {
		log.Info().Str("keygen_license_id", kl.ID).Msg("keygen license not tracked locally, ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup license: %w", err)
	}

	var status string
	switch eventType {
	case KeygenLicenseExpired:
		status = db.LicenseStatusExpired
	case KeygenLicenseSuspended:
		status = db.LicenseStatusSuspended
	case KeygenLicenseDeleted:
		status = db.LicenseStatusCanceled
	case KeygenLicenseReinstated, KeygenLicenseRenewed:
		// A license canceled in Stripe stays canceled even if reinstated in Keygen.
		if license.Status == db.LicenseStatusCanceled {
			status = license.Status
		} else {
			status = db.LicenseStatusActive
		}
	}

	if kl.Expiry != nil {
		if _, err := s.repo.UpdateLicenseExpiry(ctx, license.ID, kl.Expiry); err != nil {
			return fmt.Errorf("update license expiry: %w", err)
		}
	}
	if status != license.Status {
		if _, err := s.repo.UpdateLicenseStatus(ctx, license.ID, status); err != nil {
			return fmt.Errorf("update license status: %w", err)
		}
		log.Info().
			Int64("license_id", license.ID).
			Str("event", eventType).
			Str("from", license.Status).
			Str("to", status).
			Msg("license status mirrored from keygen")
	}
	return nil
}

func (s *KeygenWebhookService) machineGone(ctx context.Context, eventType string, m *keygen.Machine) error {
	device, err := s.repo.DeleteDeviceByKeygenMachine(ctx, m.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	metrics.DeactivationsTotal.WithLabelValues("keygen").Inc()
	log.Info().
		Int64("license_id", device.LicenseID).
		Str("device_id", device.ID.String()).
		Str("event", eventType).
		Msg("device slot released")
	return nil
}
