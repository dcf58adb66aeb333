package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	LicenseStatusActive    = "active"
	LicenseStatusPastDue   = "past_due"
	LicenseStatusSuspended = "suspended"
	LicenseStatusCanceled  = "canceled"
	LicenseStatusExpired   = "expired"

	DeviceStatusActive   = "active"
	DeviceStatusInactive = "inactive"

	TrialStatusActive    = "active"
	TrialStatusExpired   = "expired"
	TrialStatusConverted = "converted"

	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"

	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"

	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRevoked  = "revoked"
	InviteStatusExpired  = "expired"
)

type Customer struct {
	ID               uuid.UUID
	Email            string
	Name             string
	CognitoSub       pgtype.Text
	StripeCustomerID pgtype.Text
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type License struct {
	ID                      int64
	CustomerID              uuid.UUID
	Plan                    string
	Seats                   int32
	MaxDevices              int32
	Status                  string
	LookupDigest            []byte
	KeyHint                 string
	KeygenLicenseID         pgtype.Text
	StripeSubscriptionID    pgtype.Text
	StripeCheckoutSessionID pgtype.Text
	ExpiresAt               pgtype.Timestamptz
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Expired reports whether the license has a set expiry that lies before now.
func (l License) Expired(now time.Time) bool {
	return l.ExpiresAt.Valid && now.After(l.ExpiresAt.Time)
}

type Device struct {
	ID              uuid.UUID
	LicenseID       int64
	Fingerprint     string
	Name            string
	Platform        string
	KeygenMachineID pgtype.Text
	Status          string
	SessionID       pgtype.Text
	LastHeartbeatAt time.Time
	CreatedAt       time.Time
}

type Trial struct {
	Fingerprint        string
	ID                 uuid.UUID
	Status             string
	StartedAt          time.Time
	ExpiresAt          time.Time
	ConvertedLicenseID pgtype.Int8
	ConvertedAt        pgtype.Timestamptz
}

type WebhookEvent struct {
	Provider    string
	EventID     string
	EventType   string
	Status      string
	Attempts    int32
	LastError   pgtype.Text
	ReceivedAt  time.Time
	UpdatedAt   time.Time
	ProcessedAt pgtype.Timestamptz
}

type Organization struct {
	ID              uuid.UUID
	Name            string
	OwnerCustomerID uuid.UUID
	LicenseID       int64
	CreatedAt       time.Time
}

type OrgMember struct {
	OrgID      uuid.UUID
	CustomerID uuid.UUID
	Role       string
	JoinedAt   time.Time
}

// OrgMemberRow is a member joined with the customer's email and name.
type OrgMemberRow struct {
	OrgMember
	Email string
	Name  string
}

type Invite struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Email       string
	Role        string
	TokenDigest []byte
	InvitedBy   uuid.UUID
	Status      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	AcceptedAt  pgtype.Timestamptz
}

func Text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func Timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
