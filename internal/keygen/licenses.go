package keygen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type validateKeyRequest struct {
	Meta struct {
		Key   string `json:"key"`
		Scope *struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"scope,omitempty"`
	} `json:"meta"`
}

type validationMeta struct {
	Valid  bool   `json:"valid"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// ValidateKey checks a license key, optionally scoped to a machine
// fingerprint. An unknown key is not an error: it yields Valid=false with
// code NOT_FOUND.
func (c *Client) ValidateKey(ctx context.Context, key, fingerprint string) (*Validation, error) {
	var req validateKeyRequest
	req.Meta.Key = key
	if fingerprint != "" {
		req.Meta.Scope = &struct {
			Fingerprint string `json:"fingerprint"`
		}{Fingerprint: fingerprint}
	}

	var doc document[*resource[licenseAttributes]]
	if err := c.do(ctx, "validate_key", http.MethodPost, "/licenses/actions/validate-key", req, &doc); err != nil {
		return nil, err
	}

	var meta validationMeta
	if len(doc.Meta) > 0 {
		if err := json.Unmarshal(doc.Meta, &meta); err != nil {
			return nil, fmt.Errorf("keygen validate_key: decode meta: %w", err)
		}
	}
	v := &Validation{Valid: meta.Valid, Code: meta.Code, Detail: meta.Detail}
	if doc.Data != nil {
		v.License = licenseFrom(*doc.Data)
	}
	return v, nil
}

func (c *Client) GetLicense(ctx context.Context, id string) (*License, error) {
	var doc document[resource[licenseAttributes]]
	if err := c.do(ctx, "get_license", http.MethodGet, "/licenses/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return licenseFrom(doc.Data), nil
}

type CreateLicenseParams struct {
	PolicyID    string
	Key         string
	Name        string
	MaxMachines int
	Expiry      *time.Time
	Metadata    map[string]any
}

// CreateLicense creates a license under a policy. Key is optional; when set,
// Keygen stores the caller's key instead of generating one.
func (c *Client) CreateLicense(ctx context.Context, p CreateLicenseParams) (*License, error) {
	attrs := licenseAttributes{
		Name:     p.Name,
		Key:      p.Key,
		Expiry:   p.Expiry,
		Metadata: p.Metadata,
	}
	if p.MaxMachines > 0 {
		n := p.MaxMachines
		attrs.MaxMachines = &n
	}
	body := document[resource[licenseAttributes]]{
		Data: resource[licenseAttributes]{
			Type:       "licenses",
			Attributes: attrs,
			Relationships: map[string]relationship{
				"policy": ref("policies", p.PolicyID),
			},
		},
	}

	var doc document[resource[licenseAttributes]]
	if err := c.do(ctx, "create_license", http.MethodPost, "/licenses", body, &doc); err != nil {
		return nil, err
	}
	return licenseFrom(doc.Data), nil
}

// UpdateLicense changes the machine limit and/or expiry of a license.
func (c *Client) UpdateLicense(ctx context.Context, id string, maxMachines int, expiry *time.Time) (*License, error) {
	attrs := licenseAttributes{Expiry: expiry}
	if maxMachines > 0 {
		attrs.MaxMachines = &maxMachines
	}
	body := document[resource[licenseAttributes]]{
		Data: resource[licenseAttributes]{ID: id, Type: "licenses", Attributes: attrs},
	}

	var doc document[resource[licenseAttributes]]
	if err := c.do(ctx, "update_license", http.MethodPatch, "/licenses/"+url.PathEscape(id), body, &doc); err != nil {
		return nil, err
	}
	return licenseFrom(doc.Data), nil
}

func (c *Client) licenseAction(ctx context.Context, id, action string) (*License, error) {
	var doc document[resource[licenseAttributes]]
	path := fmt.Sprintf("/licenses/%s/actions/%s", url.PathEscape(id), action)
	if err := c.do(ctx, action+"_license", http.MethodPost, path, nil, &doc); err != nil {
		return nil, err
	}
	return licenseFrom(doc.Data), nil
}

func (c *Client) SuspendLicense(ctx context.Context, id string) (*License, error) {
	return c.licenseAction(ctx, id, "suspend")
}

func (c *Client) ReinstateLicense(ctx context.Context, id string) (*License, error) {
	return c.licenseAction(ctx, id, "reinstate")
}

// RenewLicense extends the expiry by the policy duration.
func (c *Client) RenewLicense(ctx context.Context, id string) (*License, error) {
	return c.licenseAction(ctx, id, "renew")
}

// DeleteLicense removes a license and its machines.
func (c *Client) DeleteLicense(ctx context.Context, id string) error {
	return c.do(ctx, "delete_license", http.MethodDelete, "/licenses/"+url.PathEscape(id), nil, nil)
}
