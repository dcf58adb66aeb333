package dto

import "time"

type CheckoutRequest struct {
	Plan  string `json:"plan"`
	Cycle string `json:"cycle,omitempty"`
	Seats int    `json:"seats,omitempty"`
	Email string `json:"email,omitempty"`
}

type CheckoutResponse struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CheckoutStatusResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Complete      bool   `json:"complete"`
	LicenseReady  bool   `json:"licenseReady"`
	Email         string `json:"email,omitempty"`
}

type WebhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"eventId,omitempty"`
}
