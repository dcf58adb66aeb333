package dto

import (
	"time"

	"github.com/cheetahbyte/plg/internal/billing"
)

type MeResponse struct {
	CustomerID string `json:"customerId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	HasLicense bool   `json:"hasLicense"`
	Plan       string `json:"plan,omitempty"`
	Role       string `json:"role,omitempty"`
	HasBilling bool   `json:"hasBilling"`
}

type DevicesResponse struct {
	Devices    []DeviceView `json:"devices"`
	MaxDevices int          `json:"maxDevices"`
}

type BillingPortalRequest struct {
	ReturnURL string `json:"returnUrl,omitempty"`
}

type BillingPortalResponse struct {
	URL string `json:"url"`
}

type InvoicesResponse struct {
	Invoices []billing.Invoice `json:"invoices"`
}

type TeamMember struct {
	CustomerID string    `json:"customerId"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
}

type InviteView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type TeamResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Role      string       `json:"role"`
	Seats     int          `json:"seats"`
	SeatsUsed int          `json:"seatsUsed"`
	Members   []TeamMember `json:"members"`
	Invites   []InviteView `json:"invites"`
}

type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type InviteResponse struct {
	Invite    InviteView `json:"invite"`
	Token     string     `json:"token"`
	AcceptURL string     `json:"acceptUrl"`
}

type AcceptInviteRequest struct {
	Token string `json:"token"`
}

type AcceptInviteResponse struct {
	TeamID string `json:"teamId"`
	Role   string `json:"role"`
}
