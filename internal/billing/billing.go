// Package billing wraps the Stripe calls the PLG backend makes: hosted
// checkout, the customer billing portal, invoice history and webhook
// signature verification.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrNotConfigured = errors.New("stripe is not configured")

type Config struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getCheckoutSession    func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	listInvoices          func(params *stripe.InvoiceListParams) ([]*stripe.Invoice, error)
}

func New(cfg Config) *Client {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		stripe.Key = key
	}
	return &Client{
		cfg:                   cfg,
		createCheckoutSession: checkoutsession.New,
		getCheckoutSession:    checkoutsession.Get,
		createPortalSession:   portalsession.New,
		listInvoices: func(params *stripe.InvoiceListParams) ([]*stripe.Invoice, error) {
			var out []*stripe.Invoice
			it := invoice.List(params)
			for it.Next() {
				out = append(out, it.Invoice())
			}
			return out, it.Err()
		},
	}
}

func (c *Client) configured() error {
	if c == nil || strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrNotConfigured
	}
	return nil
}

type CheckoutParams struct {
	PriceID    string
	Quantity   int64
	Email      string
	CustomerID string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID             string
	URL            string
	Status         string
	PaymentStatus  string
	CustomerID     string
	SubscriptionID string
	Email          string
	ExpiresAt      time.Time
	Metadata       map[string]string
}

// Complete reports whether the customer finished the hosted checkout.
func (s *CheckoutSession) Complete() bool {
	return s.Status == string(stripe.CheckoutSessionStatusComplete)
}

func (c *Client) CreateCheckoutSession(_ context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(max(p.Quantity, 1)),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		Metadata:            p.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		},
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.Email != "" {
		params.CustomerEmail = stripe.String(p.Email)
	}

	s, err := c.createCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if s == nil || strings.TrimSpace(s.URL) == "" {
		return nil, errors.New("create checkout session: empty session url")
	}
	return checkoutSessionFrom(s), nil
}

func (c *Client) GetCheckoutSession(_ context.Context, id string) (*CheckoutSession, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	s, err := c.getCheckoutSession(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	if s == nil {
		return nil, errors.New("get checkout session: empty response")
	}
	return checkoutSessionFrom(s), nil
}

func checkoutSessionFrom(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		Email:         strings.TrimSpace(s.CustomerEmail),
		Metadata:      s.Metadata,
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.CustomerDetails != nil && strings.TrimSpace(s.CustomerDetails.Email) != "" {
		out.Email = strings.TrimSpace(s.CustomerDetails.Email)
	}
	return out
}

// CreatePortalSession returns the URL of Stripe's hosted billing portal.
func (c *Client) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	s, err := c.createPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if s == nil || s.URL == "" {
		return "", errors.New("create portal session: empty url")
	}
	return s.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and returns the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || strings.TrimSpace(c.cfg.WebhookSecret) == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
