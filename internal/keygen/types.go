package keygen

import (
	"encoding/json"
	"time"
)

// License statuses as reported by Keygen.
const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusExpiring  = "EXPIRING"
	StatusExpired   = "EXPIRED"
	StatusSuspended = "SUSPENDED"
	StatusBanned    = "BANNED"
)

// Validation codes returned by validate-key.
const (
	ValidationValid               = "VALID"
	ValidationNotFound            = "NOT_FOUND"
	ValidationNoMachine           = "NO_MACHINE"
	ValidationNoMachines          = "NO_MACHINES"
	ValidationFingerprintMismatch = "FINGERPRINT_SCOPE_MISMATCH"
	ValidationExpired             = "EXPIRED"
	ValidationSuspended           = "SUSPENDED"
	ValidationTooManyMachines     = "TOO_MANY_MACHINES"
	ValidationHeartbeatDead       = "HEARTBEAT_DEAD"
)

type License struct {
	ID           string
	Key          string
	Name         string
	Status       string
	Expiry       *time.Time
	Suspended    bool
	MaxMachines  int
	PolicyID     string
	MachineCount int
	Metadata     map[string]any
}

type Machine struct {
	ID              string
	Fingerprint     string
	Name            string
	Platform        string
	HeartbeatStatus string
	LastHeartbeat   *time.Time
	LicenseID       string
}

type Validation struct {
	Valid   bool
	Code    string
	Detail  string
	License *License
}

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type relationship struct {
	Data *identifier `json:"data,omitempty"`
	Meta *struct {
		Count int `json:"count"`
	} `json:"meta,omitempty"`
}

type resource[A any] struct {
	ID            string                  `json:"id,omitempty"`
	Type          string                  `json:"type"`
	Attributes    A                       `json:"attributes"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

func (r resource[A]) relatedID(name string) string {
	if rel, ok := r.Relationships[name]; ok && rel.Data != nil {
		return rel.Data.ID
	}
	return ""
}

func (r resource[A]) relatedCount(name string) int {
	if rel, ok := r.Relationships[name]; ok && rel.Meta != nil {
		return rel.Meta.Count
	}
	return 0
}

type document[D any] struct {
	Data D               `json:"data"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

type licenseAttributes struct {
	Name        string         `json:"name,omitempty"`
	Key         string         `json:"key,omitempty"`
	Expiry      *time.Time     `json:"expiry,omitempty"`
	Status      string         `json:"status,omitempty"`
	Suspended   bool           `json:"suspended,omitempty"`
	MaxMachines *int           `json:"maxMachines,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type machineAttributes struct {
	Fingerprint     string     `json:"fingerprint"`
	Name            string     `json:"name,omitempty"`
	Platform        string     `json:"platform,omitempty"`
	HeartbeatStatus string     `json:"heartbeatStatus,omitempty"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat,omitempty"`
}

func licenseFrom(r resource[licenseAttributes]) *License {
	l := &License{
		ID:           r.ID,
		Key:          r.Attributes.Key,
		Name:         r.Attributes.Name,
		Status:       r.Attributes.Status,
		Expiry:       r.Attributes.Expiry,
		Suspended:    r.Attributes.Suspended,
		PolicyID:     r.relatedID("policy"),
		MachineCount: r.relatedCount("machines"),
		Metadata:     r.Attributes.Metadata,
	}
	if r.Attributes.MaxMachines != nil {
		l.MaxMachines = *r.Attributes.MaxMachines
	}
	return l
}

func machineFrom(r resource[machineAttributes]) *Machine {
	return &Machine{
		ID:              r.ID,
		Fingerprint:     r.Attributes.Fingerprint,
		Name:            r.Attributes.Name,
		Platform:        r.Attributes.Platform,
		HeartbeatStatus: r.Attributes.HeartbeatStatus,
		LastHeartbeat:   r.Attributes.LastHeartbeat,
		LicenseID:       r.relatedID("license"),
	}
}

func ref(typ, id string) relationship {
	return relationship{Data: &identifier{Type: typ, ID: id}}
}
