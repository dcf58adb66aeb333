package dto

import "time"

type LicenseValidationRequest struct {
	LicenseKey  string `json:"licenseKey,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

type LicenseValidationResponse struct {
	Valid      bool         `json:"valid"`
	Code       string       `json:"code"`
	Status     string       `json:"status"`
	Plan       string       `json:"plan,omitempty"`
	ExpiresAt  *time.Time   `json:"expiresAt,omitempty"`
	Activated  bool         `json:"activated"`
	Devices    int          `json:"devices"`
	MaxDevices int          `json:"maxDevices"`
	Token      string       `json:"token,omitempty"`
	Trial      *TrialStatus `json:"trial,omitempty"`
}

type RefreshTokenRequest struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
}

type RefreshTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type TrialRequest struct {
	Fingerprint string `json:"fingerprint"`
}

type TrialStatus struct {
	Fingerprint   string    `json:"fingerprint"`
	Status        string    `json:"status"`
	Active        bool      `json:"active"`
	StartedAt     time.Time `json:"startedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DaysRemaining int       `json:"daysRemaining"`
}
