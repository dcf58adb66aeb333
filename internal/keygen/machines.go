package keygen

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type CreateMachineParams struct {
	LicenseID   string
	Fingerprint string
	Name        string
	Platform    string
}

// CreateMachine activates a machine for a license. Keygen rejects duplicate
// fingerprints (IsFingerprintTaken) and activations above the policy limit
// (IsMachineLimitExceeded).
func (c *Client) CreateMachine(ctx context.Context, p CreateMachineParams) (*Machine, error) {
	body := document[resource[machineAttributes]]{
		Data: resource[machineAttributes]{
			Type: "machines",
			Attributes: machineAttributes{
				Fingerprint: p.Fingerprint,
				Name:        p.Name,
				Platform:    p.Platform,
			},
			Relationships: map[string]relationship{
				"license": ref("licenses", p.LicenseID),
			},
		},
	}

	var doc document[resource[machineAttributes]]
	if err := c.do(ctx, "create_machine", http.MethodPost, "/machines", body, &doc); err != nil {
		return nil, err
	}
	return machineFrom(doc.Data), nil
}

func (c *Client) GetMachine(ctx context.Context, id string) (*Machine, error) {
	var doc document[resource[machineAttributes]]
	if err := c.do(ctx, "get_machine", http.MethodGet, "/machines/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return machineFrom(doc.Data), nil
}

// FindMachine looks up the machine with the given fingerprint on a license.
// It returns (nil, nil) when there is none.
func (c *Client) FindMachine(ctx context.Context, licenseID, fingerprint string) (*Machine, error) {
	q := url.Values{}
	q.Set("license", licenseID)
	q.Set("fingerprint", fingerprint)

	var doc document[[]resource[machineAttributes]]
	if err := c.do(ctx, "find_machine", http.MethodGet, "/machines?"+q.Encode(), nil, &doc); err != nil {
		return nil, err
	}
	for _, r := range doc.Data {
		if r.Attributes.Fingerprint == fingerprint {
			return machineFrom(r), nil
		}
	}
	return nil, nil
}

func (c *Client) ListMachines(ctx context.Context, licenseID string) ([]*Machine, error) {
	q := url.Values{}
	q.Set("license", licenseID)
	q.Set("page[size]", "100")
	q.Set("page[number]", "1")

	var doc document[[]resource[machineAttributes]]
	if err := c.do(ctx, "list_machines", http.MethodGet, "/machines?"+q.Encode(), nil, &doc); err != nil {
		return nil, err
	}
	out := make([]*Machine, 0, len(doc.Data))
	for _, r := range doc.Data {
		out = append(out, machineFrom(r))
	}
	return out, nil
}

// PingMachine records a heartbeat and starts heartbeat monitoring on first use.
func (c *Client) PingMachine(ctx context.Context, id string) (*Machine, error) {
	var doc document[resource[machineAttributes]]
	path := fmt.Sprintf("/machines/%s/actions/ping", url.PathEscape(id))
	if err := c.do(ctx, "ping_machine", http.MethodPost, path, nil, &doc); err != nil {
		return nil, err
	}
	return machineFrom(doc.Data), nil
}

// DeleteMachine deactivates a machine and frees its slot.
func (c *Client) DeleteMachine(ctx context.Context, id string) error {
	return c.do(ctx, "delete_machine", http.MethodDelete, "/machines/"+url.PathEscape(id), nil, nil)
}
