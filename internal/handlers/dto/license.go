package dto

import "time"

// LicenseView is the license as shown to portal users and admins. The key
// itself is only present where the caller is allowed to see it.
type LicenseView struct {
	ID         int64      `json:"id"`
	Key        string     `json:"key,omitempty"`
	KeyHint    string     `json:"keyHint"`
	Plan       string     `json:"plan"`
	PlanName   string     `json:"planName"`
	Status     string     `json:"status"`
	Seats      int        `json:"seats"`
	Devices    int        `json:"devices"`
	MaxDevices int        `json:"maxDevices"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type DeviceView struct {
	ID              string    `json:"id"`
	Fingerprint     string    `json:"fingerprint"`
	Name            string    `json:"name"`
	Platform        string    `json:"platform"`
	Status          string    `json:"status"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	ActivatedAt     time.Time `json:"activatedAt"`
}

type LicenseCreationRequest struct {
	Email     string     `json:"email"`
	Name      string     `json:"name,omitempty"`
	Plan      string     `json:"plan"`
	Seats     int        `json:"seats,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type LicenseCreationResponse struct {
	LicenseKey string      `json:"licenseKey"`
	License    LicenseView `json:"license"`
}

type AdminLicenseResponse struct {
	License        LicenseView  `json:"license"`
	CustomerEmail  string       `json:"customerEmail"`
	KeygenID       string       `json:"keygenId,omitempty"`
	KeygenMachines int          `json:"keygenMachines"`
	Devices        []DeviceView `json:"devices"`
}
