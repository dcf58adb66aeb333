package billing

import (
	"strings"
	"time"
)

// Webhook event types handled by the backend.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// CheckoutSessionEvent is a minimal representation of checkout.session objects.
type CheckoutSessionEvent struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email prefers the address the customer confirmed during checkout.
func (s *CheckoutSessionEvent) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return strings.ToLower(e)
	}
	if e := strings.TrimSpace(s.CustomerEmail); e != "" {
		return strings.ToLower(e)
	}
	return strings.ToLower(strings.TrimSpace(s.Metadata["email"]))
}

type SubscriptionItem struct {
	Quantity         int64 `json:"quantity"`
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"price"`
}

// SubscriptionEvent is a minimal representation of subscription objects.
type SubscriptionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *SubscriptionEvent) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

// Quantity is the seat count of the first item.
func (s *SubscriptionEvent) Quantity() int {
	for _, item := range s.Items.Data {
		if item.Quantity > 0 {
			return int(item.Quantity)
		}
	}
	return 1
}

// PeriodEnd handles both the legacy top-level field and the per-item field
// used by newer API versions.
func (s *SubscriptionEvent) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		end = max(end, item.CurrentPeriodEnd)
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// InvoiceEvent is a minimal representation of invoice objects.
type InvoiceEvent struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	Status        string `json:"status"`
	BillingReason string `json:"billing_reason"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *InvoiceEvent) SubscriptionID() string {
	if s := strings.TrimSpace(i.Subscription); s != "" {
		return s
	}
	return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
}

func (i *InvoiceEvent) PeriodEnd() *time.Time {
	var end int64
	for _, l := range i.Lines.Data {
		end = max(end, l.Period.End)
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}
