package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/licensecrypto"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/rs/zerolog/log"
)

type issueParams struct {
	Customer                db.Customer
	Plan                    plans.Plan
	Seats                   int
	ExpiresAt               *time.Time
	StripeSubscriptionID    string
	StripeCheckoutSessionID string
}

// licenseIssuer creates a license in Keygen under the plan's policy and
// stores the local record. Only the lookup digest of the key is persisted.
type licenseIssuer struct {
	repo   Repository
	keygen Licensing
	secret []byte
}

func (i *licenseIssuer) issue(ctx context.Context, p issueParams) (db.License, string, error) {
	if i.keygen == nil {
		return db.License{}, "", ErrNotConfigured
	}

	key, err := licensecrypto.GenerateLicenseKey()
	if err != nil {
		return db.License{}, "", fmt.Errorf("generate license key: %w", err)
	}
	seats := p.Plan.ClampSeats(p.Seats)
	maxDevices := p.Plan.MaxDevices(seats)

	kl, err := i.keygen.CreateLicense(ctx, keygen.CreateLicenseParams{
		PolicyID:    p.Plan.KeygenPolicyID,
		Key:         key,
		Name:        fmt.Sprintf("%s (%s)", p.Plan.Name, p.Customer.Email),
		MaxMachines: maxDevices,
		Expiry:      p.ExpiresAt,
		Metadata: map[string]any{
			"customerId":           p.Customer.ID.String(),
			"email":                p.Customer.Email,
			"plan":                 p.Plan.ID,
			"seats":                seats,
			"stripeSubscriptionId": p.StripeSubscriptionID,
		},
	})
	if err != nil {
		return db.License{}, "", upstream("create keygen license", err)
	}

	license, err := i.repo.CreateLicense(ctx, db.CreateLicenseParams{
		CustomerID:              p.Customer.ID,
		Plan:                    p.Plan.ID,
		Seats:                   int32(seats),
		MaxDevices:              int32(maxDevices),
		LookupDigest:            licensecrypto.LookupDigest(i.secret, key),
		KeyHint:                 keyHint(key),
		KeygenLicenseID:         kl.ID,
		StripeSubscriptionID:    p.StripeSubscriptionID,
		StripeCheckoutSessionID: p.StripeCheckoutSessionID,
		ExpiresAt:               p.ExpiresAt,
	})
	if err != nil {
		// Without the local row nothing can reach the Keygen license, and a
		// retried delivery would create another one.
		if derr := i.keygen.DeleteLicense(context.WithoutCancel(ctx), kl.ID); derr != nil {
			log.Error().Err(derr).Str("keygen_license_id", kl.ID).Msg("failed to roll back keygen license")
		}
		return db.License{}, "", fmt.Errorf("store license: %w", err)
	}

	log.Info().
		Int64("license_id", license.ID).
		Str("key_ref", licensecrypto.LogRef(i.secret, key)).
		Str("keygen_license_id", kl.ID).
		Str("plan", p.Plan.ID).
		Int("seats", seats).
		Msg("license issued")
	return license, key, nil
}

// keyHint keeps the last group of the key so users can tell keys apart.
func keyHint(key string) string {
	n := licensecrypto.NormalizeKey(key)
	if len(n) <= 4 {
		return n
	}
	return n[len(n)-4:]
}
