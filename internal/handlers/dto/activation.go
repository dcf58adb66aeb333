package dto

import "time"

type ActivateLicenseRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

type ActivateLicenseResponse struct {
	Activated        bool       `json:"activated"`
	AlreadyActivated bool       `json:"alreadyActivated"`
	DeviceID         string     `json:"deviceId"`
	Plan             string     `json:"plan"`
	Devices          int        `json:"devices"`
	MaxDevices       int        `json:"maxDevices"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Token            string     `json:"token"`
}

type HeartbeatRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
	SessionID   string `json:"sessionId,omitempty"`
}

type HeartbeatResponse struct {
	OK                   bool   `json:"ok"`
	SessionID            string `json:"sessionId"`
	NewSession           bool   `json:"newSession"`
	NextHeartbeatSeconds int    `json:"nextHeartbeatSeconds"`
	Status               string `json:"status"`
}

type DeactivateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	Fingerprint string `json:"fingerprint"`
}

type DeactivateResponse struct {
	Deactivated      bool `json:"deactivated"`
	DevicesRemaining int  `json:"devicesRemaining"`
	MaxDevices       int  `json:"maxDevices"`
}
