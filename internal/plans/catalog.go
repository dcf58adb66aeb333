package plans

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

const (
	CycleMonthly = "monthly"
	CycleAnnual  = "annual"
)

var ErrUnknownPlan = errors.New("unknown plan")

type Plan struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	DevicesPerSeat int               `yaml:"devices_per_seat"`
	MinSeats       int               `yaml:"min_seats"`
	MaxSeats       int               `yaml:"max_seats"`
	Checkout       bool              `yaml:"checkout"`
	KeygenPolicyID string            `yaml:"keygen_policy_id"`
	Features       []string          `yaml:"features"`
	Prices         map[string]string `yaml:"prices"`
}

// MaxDevices is the device activation capacity for the given seat count.
func (p Plan) MaxDevices(seats int) int {
	return p.DevicesPerSeat * p.ClampSeats(seats)
}

// ClampSeats forces seats into the plan's [MinSeats, MaxSeats] range.
func (p Plan) ClampSeats(seats int) int {
	return max(p.MinSeats, min(seats, p.MaxSeats))
}

// IsTeam reports whether the plan has shared seats and an organization.
func (p Plan) IsTeam() bool { return p.MaxSeats > 1 }

// PriceID returns the Stripe price for a billing cycle.
func (p Plan) PriceID(cycle string) (string, bool) {
	id, ok := p.Prices[cycle]
	return id, ok && id != ""
}

type Catalog struct {
	plans   []Plan
	byID    map[string]Plan
	byPrice map[string]Plan
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plans file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, errors.New("plan catalog is empty")
	}

	c := &Catalog{
		byID:    make(map[string]Plan, len(f.Plans)),
		byPrice: make(map[string]Plan),
	}
	for _, p := range f.Plans {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return nil, errors.New("plan without id")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.DevicesPerSeat <= 0 {
			return nil, fmt.Errorf("plan %q: devices_per_seat must be positive", p.ID)
		}
		if p.MinSeats <= 0 || p.MaxSeats < p.MinSeats {
			return nil, fmt.Errorf("plan %q: invalid seat range %d..%d", p.ID, p.MinSeats, p.MaxSeats)
		}
		if p.Checkout && len(p.Prices) == 0 {
			return nil, fmt.Errorf("plan %q: checkout enabled without prices", p.ID)
		}
		for cycle, price := range p.Prices {
			if cycle != CycleMonthly && cycle != CycleAnnual {
				return nil, fmt.Errorf("plan %q: unknown billing cycle %q", p.ID, cycle)
			}
			if other, dup := c.byPrice[price]; dup {
				return nil, fmt.Errorf("price %q used by plans %q and %q", price, other.ID, p.ID)
			}
			c.byPrice[price] = p
		}
		c.plans = append(c.plans, p)
		c.byID[p.ID] = p
	}
	return c, nil
}

func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

func (c *Catalog) ByPriceID(priceID string) (Plan, bool) {
	p, ok := c.byPrice[priceID]
	return p, ok
}

func (c *Catalog) All() []Plan {
	return append([]Plan(nil), c.plans...)
}
