package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const licenseColumns = `id, customer_id, plan, seats, max_devices, status, lookup_digest, key_hint,
    keygen_license_id, stripe_subscription_id, stripe_checkout_session_id, expires_at, created_at, updated_at`

func scanLicense(row interface{ Scan(...any) error }) (License, error) {
	var l License
	err := row.Scan(&l.ID, &l.CustomerID, &l.Plan, &l.Seats, &l.MaxDevices, &l.Status, &l.LookupDigest, &l.KeyHint,
		&l.KeygenLicenseID, &l.StripeSubscriptionID, &l.StripeCheckoutSessionID, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	return l, mapErr(err)
}

type CreateLicenseParams struct {
	CustomerID              uuid.UUID
	Plan                    string
	Seats                   int32
	MaxDevices              int32
	LookupDigest            []byte
	KeyHint                 string
	KeygenLicenseID         string
	StripeSubscriptionID    string
	StripeCheckoutSessionID string
	ExpiresAt               *time.Time
}

func (q *Queries) CreateLicense(ctx context.Context, arg CreateLicenseParams) (License, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO licenses (customer_id, plan, seats, max_devices, lookup_digest, key_hint,
    keygen_license_id, stripe_subscription_id, stripe_checkout_session_id, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+licenseColumns,
		arg.CustomerID, arg.Plan, arg.Seats, arg.MaxDevices, arg.LookupDigest, arg.KeyHint,
		Text(arg.KeygenLicenseID), Text(arg.StripeSubscriptionID), Text(arg.StripeCheckoutSessionID), Timestamptz(arg.ExpiresAt))
	return scanLicense(row)
}

func (q *Queries) GetLicenseByID(ctx context.Context, id int64) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id))
}

func (q *Queries) GetLicenseByDigest(ctx context.Context, digest []byte) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE lookup_digest = $1`, digest))
}

func (q *Queries) GetLicenseByKeygenID(ctx context.Context, keygenID string) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE keygen_license_id = $1`, keygenID))
}

func (q *Queries) GetLicenseByStripeSubscription(ctx context.Context, subscriptionID string) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE stripe_subscription_id = $1`, subscriptionID))
}

func (q *Queries) GetLicenseByCheckoutSession(ctx context.Context, sessionID string) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE stripe_checkout_session_id = $1`, sessionID))
}

// GetLicenseForCustomer returns the newest license the customer owns, or the
// license of the organization the customer belongs to.
func (q *Queries) GetLicenseForCustomer(ctx context.Context, customerID uuid.UUID) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `
SELECT `+licenseColumns+` FROM licenses
WHERE customer_id = $1
   OR id IN (SELECT o.license_id FROM organizations o JOIN org_members m ON m.org_id = o.id WHERE m.customer_id = $1)
ORDER BY (customer_id = $1) DESC, created_at DESC
LIMIT 1`, customerID))
}

func (q *Queries) UpdateLicenseStatus(ctx context.Context, id int64, status string) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `
UPDATE licenses SET status = $2, updated_at = now()
WHERE id = $1
RETURNING `+licenseColumns, id, status))
}

func (q *Queries) UpdateLicenseExpiry(ctx context.Context, id int64, expiresAt *time.Time) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `
UPDATE licenses SET expires_at = $2, updated_at = now()
WHERE id = $1
RETURNING `+licenseColumns, id, Timestamptz(expiresAt)))
}

type UpdateLicensePlanParams struct {
	ID         int64
	Plan       string
	Seats      int32
	MaxDevices int32
}

func (q *Queries) UpdateLicensePlan(ctx context.Context, arg UpdateLicensePlanParams) (License, error) {
	return scanLicense(q.db.QueryRow(ctx, `
UPDATE licenses SET plan = $2, seats = $3, max_devices = $4, updated_at = now()
WHERE id = $1
RETURNING `+licenseColumns, arg.ID, arg.Plan, arg.Seats, arg.MaxDevices))
}
