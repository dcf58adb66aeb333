package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/rs/zerolog/log"
)

var errDuplicateDelivery = errors.New("duplicate delivery")

// runOnce claims the delivery, runs fn and records the outcome. It returns
// errDuplicateDelivery when the event was already processed and
// ErrWebhookInProgress while another delivery holds the claim.
func runOnce(ctx context.Context, repo Repository, provider, eventID, eventType string, now func() time.Time, fn func() error) error {
	claim, err := repo.ClaimWebhookEvent(ctx, provider, eventID, eventType, now().Add(-webhookClaimTimeout))
	if err != nil {
		return fmt.Errorf("claim webhook event: %w", err)
	}
	if !claim.Claimed {
		if claim.Status == db.WebhookStatusProcessed {
			log.Info().Str("provider", provider).Str("event_id", eventID).Msg("duplicate webhook delivery skipped")
			return errDuplicateDelivery
		}
		return ErrWebhookInProgress
	}

	if err := fn(); err != nil {
		// The claim must be released even when the request context is gone.
		fctx := context.WithoutCancel(ctx)
		if ferr := repo.FailWebhookEvent(fctx, provider, eventID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("provider", provider).Str("event_id", eventID).Msg("failed to record webhook failure")
		}
		return err
	}
	if err := repo.CompleteWebhookEvent(ctx, provider, eventID); err != nil {
		return fmt.Errorf("complete webhook event: %w", err)
	}
	return nil
}

func isKeygenStatus(err error, status int) bool {
	var kerr *keygen.Error
	return errors.As(err, &kerr) && kerr.Status == status
}
