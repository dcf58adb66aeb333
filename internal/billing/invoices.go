package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
)

// Stripe amounts are integers in the currency's minor unit; these
// currencies have none.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type Invoice struct {
	ID         string          `json:"id"`
	Number     string          `json:"number"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	AmountDue  decimal.Decimal `json:"amountDue"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	HostedURL  string          `json:"hostedUrl,omitempty"`
	Created    time.Time       `json:"created"`
}

// MinorToMajor converts an amount in minor units to a decimal in major units.
func MinorToMajor(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func (c *Client) ListInvoices(_ context.Context, customerID string, limit int64) ([]Invoice, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Limit = stripe.Int64(max(min(limit, 100), 1))
	params.Single = true

	raw, err := c.listInvoices(params)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	out := make([]Invoice, 0, len(raw))
	for _, inv := range raw {
		if inv == nil {
			continue
		}
		currency := string(inv.Currency)
		out = append(out, Invoice{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			Currency:   strings.ToUpper(currency),
			AmountDue:  MinorToMajor(inv.AmountDue, currency),
			AmountPaid: MinorToMajor(inv.AmountPaid, currency),
			HostedURL:  inv.HostedInvoiceURL,
			Created:    time.Unix(inv.Created, 0).UTC(),
		})
	}
	return out, nil
}
