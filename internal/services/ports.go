package services

import (
	"context"
	"time"

	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// Repository is the storage the services use. *db.Store implements it.
type Repository interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (db.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (db.Customer, error)
	GetCustomerByCognitoSub(ctx context.Context, sub string) (db.Customer, error)
	UpsertCustomer(ctx context.Context, arg db.UpsertCustomerParams) (db.Customer, error)
	LinkCustomerCognito(ctx context.Context, id uuid.UUID, sub string) (db.Customer, error)

	CreateLicense(ctx context.Context, arg db.CreateLicenseParams) (db.License, error)
	GetLicenseByID(ctx context.Context, id int64) (db.License, error)
	GetLicenseByDigest(ctx context.Context, digest []byte) (db.License, error)
	GetLicenseByKeygenID(ctx context.Context, keygenID string) (db.License, error)
	GetLicenseByStripeSubscription(ctx context.Context, subscriptionID string) (db.License, error)
	GetLicenseByCheckoutSession(ctx context.Context, sessionID string) (db.License, error)
	GetLicenseForCustomer(ctx context.Context, customerID uuid.UUID) (db.License, error)
	UpdateLicenseStatus(ctx context.Context, id int64, status string) (db.License, error)
	UpdateLicenseExpiry(ctx context.Context, id int64, expiresAt *time.Time) (db.License, error)
	UpdateLicensePlan(ctx context.Context, arg db.UpdateLicensePlanParams) (db.License, error)

	GetDevice(ctx context.Context, id uuid.UUID) (db.Device, error)
	GetDeviceByFingerprint(ctx context.Context, licenseID int64, fingerprint string) (db.Device, error)
	ListDevices(ctx context.Context, licenseID int64) ([]db.Device, error)
	CountDevices(ctx context.Context, licenseID int64) (int64, error)
	ActivateDevice(ctx context.Context, arg db.ActivateDeviceParams) (db.Device, bool, error)
	TouchDevice(ctx context.Context, id uuid.UUID, sessionID string, at time.Time) (db.Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	DeleteDeviceByKeygenMachine(ctx context.Context, machineID string) (db.Device, error)
	MarkStaleDevicesInactive(ctx context.Context, before time.Time) (int64, error)

	GetTrial(ctx context.Context, fingerprint string) (db.Trial, error)
	InsertTrial(ctx context.Context, fingerprint string, startedAt, expiresAt time.Time) (db.Trial, bool, error)
	ConvertTrial(ctx context.Context, fingerprint string, licenseID int64) error
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)

	ClaimWebhookEvent(ctx context.Context, provider, eventID, eventType string, staleBefore time.Time) (db.ClaimResult, error)
	CompleteWebhookEvent(ctx context.Context, provider, eventID string) error
	FailWebhookEvent(ctx context.Context, provider, eventID, reason string) error
	PruneWebhookEvents(ctx context.Context, before time.Time) (int64, error)

	CreateOrganization(ctx context.Context, arg db.CreateOrganizationParams) (db.Organization, error)
	GetMembership(ctx context.Context, customerID uuid.UUID) (db.Organization, db.OrgMember, error)
	ListOrgMembers(ctx context.Context, orgID uuid.UUID) ([]db.OrgMemberRow, error)
	DeleteOrgMember(ctx context.Context, orgID, customerID uuid.UUID) error
	CreateInvite(ctx context.Context, arg db.CreateInviteParams) (db.Invite, error)
	GetInviteByTokenDigest(ctx context.Context, digest []byte) (db.Invite, error)
	ListPendingInvites(ctx context.Context, orgID uuid.UUID, now time.Time) ([]db.Invite, error)
	ExpireInvites(ctx context.Context, now time.Time) (int64, error)
	RevokeInvite(ctx context.Context, orgID, id uuid.UUID) error
	AcceptInvite(ctx context.Context, inviteID, customerID uuid.UUID) (db.OrgMember, error)
}

// Licensing is the Keygen surface used for enforcement. *keygen.Client implements it.
type Licensing interface {
	ValidateKey(ctx context.Context, key, fingerprint string) (*keygen.Validation, error)
	GetLicense(ctx context.Context, id string) (*keygen.License, error)
	CreateLicense(ctx context.Context, p keygen.CreateLicenseParams) (*keygen.License, error)
	UpdateLicense(ctx context.Context, id string, maxMachines int, expiry *time.Time) (*keygen.License, error)
	SuspendLicense(ctx context.Context, id string) (*keygen.License, error)
	ReinstateLicense(ctx context.Context, id string) (*keygen.License, error)
	RenewLicense(ctx context.Context, id string) (*keygen.License, error)
	DeleteLicense(ctx context.Context, id string) error
	CreateMachine(ctx context.Context, p keygen.CreateMachineParams) (*keygen.Machine, error)
	FindMachine(ctx context.Context, licenseID, fingerprint string) (*keygen.Machine, error)
	ListMachines(ctx context.Context, licenseID string) ([]*keygen.Machine, error)
	PingMachine(ctx context.Context, id string) (*keygen.Machine, error)
	DeleteMachine(ctx context.Context, id string) error
}

// Billing is the Stripe surface. *billing.Client implements it.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*billing.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int64) ([]billing.Invoice, error)
	ParseWebhook(payload []byte, signature string) (stripe.Event, error)
}
