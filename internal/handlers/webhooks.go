package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/metrics"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/rs/zerolog/hlog"
)

const (
	providerStripe = "stripe"
	providerKeygen = "keygen"
)

// StripeWebhook authenticates deliveries by their Stripe-Signature header.
// Failures other than client faults answer non-2xx so Stripe retries.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(providerStripe, eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(providerStripe).Observe(time.Since(start).Seconds())
	}()

	body, err := readBody(w, r)
	if err != nil {
		status, _ = classify(err)
		h.writeError(w, r, err)
		return
	}

	res, err := h.Services.StripeWebhook().Handle(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if res.EventType != "" {
		eventType = res.EventType
	}
	if err != nil {
		status = h.webhookFailed(w, r, providerStripe, res, err)
		return
	}
	writeJSON(w, status, dto.WebhookResponse{Received: true, Duplicate: res.Duplicate, EventID: res.EventID})
}

// KeygenWebhook verifies the Keygen-Signature before the body is parsed.
func (h *Handlers) KeygenWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(providerKeygen, eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(providerKeygen).Observe(time.Since(start).Seconds())
	}()

	if h.keygenWebhooks == nil {
		status = http.StatusServiceUnavailable
		h.writeError(w, r, services.ErrNotConfigured)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		status, _ = classify(err)
		h.writeError(w, r, err)
		return
	}
	if err := h.keygenWebhooks.Verify(r, body); err != nil {
		err = fmt.Errorf("%w: %v", services.ErrInvalidSignature, err)
		status, _ = classify(err)
		h.writeError(w, r, err)
		return
	}

	res, err := h.Services.KeygenWebhook().Handle(r.Context(), body)
	if res.EventType != "" {
		eventType = res.EventType
	}
	if err != nil {
		status = h.webhookFailed(w, r, providerKeygen, res, err)
		return
	}
	writeJSON(w, status, dto.WebhookResponse{Received: true, Duplicate: res.Duplicate, EventID: res.EventID})
}

func (h *Handlers) webhookFailed(w http.ResponseWriter, r *http.Request, provider string, res services.WebhookResult, err error) int {
	status, _ := classify(err)
	logger := hlog.FromRequest(r)
	if errors.Is(err, services.ErrWebhookInProgress) {
		logger.Warn().
			Str("provider", provider).
			Str("event_id", res.EventID).
			Str("type", res.EventType).
			Msg("Webhook event is already in flight; returning non-2xx so the sender retries")
	} else if status < http.StatusInternalServerError {
		logger.Warn().Err(err).Str("provider", provider).Str("event_id", res.EventID).Msg("Webhook rejected")
	}
	h.writeError(w, r, err)
	return status
}
