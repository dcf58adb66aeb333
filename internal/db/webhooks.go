package db

import (
	"context"
	"errors"
	"time"
)

// ClaimResult tells the caller whether it owns the delivery. When Claimed is
// false, Status holds the state recorded by an earlier delivery.
type ClaimResult struct {
	Claimed bool
	Status  string
}

// ClaimWebhookEvent records a delivery as processing. A delivery that failed
// before, or whose processing claim is older than staleBefore, is claimed
// again; a processed one never is.
func (q *Queries) ClaimWebhookEvent(ctx context.Context, provider, eventID, eventType string, staleBefore time.Time) (ClaimResult, error) {
	var status string
	err := q.db.QueryRow(ctx, `
INSERT INTO webhook_events (provider, event_id, event_type, status)
VALUES ($1, $2, $3, 'processing')
ON CONFLICT (provider, event_id) DO UPDATE SET
    status     = 'processing',
    attempts   = webhook_events.attempts + 1,
    last_error = NULL,
    updated_at = now()
WHERE webhook_events.status = 'failed'
   OR (webhook_events.status = 'processing' AND webhook_events.updated_at < $4)
RETURNING status`, provider, eventID, eventType, staleBefore).Scan(&status)
	if err == nil {
		return ClaimResult{Claimed: true, Status: status}, nil
	}
	if err = mapErr(err); !errors.Is(err, ErrNotFound) {
		return ClaimResult{}, err
	}

	err = q.db.QueryRow(ctx,
		`SELECT status FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID).Scan(&status)
	if err != nil {
		return ClaimResult{}, mapErr(err)
	}
	return ClaimResult{Claimed: false, Status: status}, nil
}

func (q *Queries) CompleteWebhookEvent(ctx context.Context, provider, eventID string) error {
	_, err := q.db.Exec(ctx, `
UPDATE webhook_events SET status = 'processed', processed_at = now(), updated_at = now()
WHERE provider = $1 AND event_id = $2`, provider, eventID)
	return err
}

func (q *Queries) FailWebhookEvent(ctx context.Context, provider, eventID, reason string) error {
	_, err := q.db.Exec(ctx, `
UPDATE webhook_events SET status = 'failed', last_error = $3, updated_at = now()
WHERE provider = $1 AND event_id = $2`, provider, eventID, reason)
	return err
}

func (q *Queries) PruneWebhookEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM webhook_events WHERE status = 'processed' AND processed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetWebhookEvent(ctx context.Context, provider, eventID string) (WebhookEvent, error) {
	var e WebhookEvent
	err := q.db.QueryRow(ctx, `
SELECT provider, event_id, event_type, status, attempts, last_error, received_at, updated_at, processed_at
FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID).
		Scan(&e.Provider, &e.EventID, &e.EventType, &e.Status, &e.Attempts, &e.LastError, &e.ReceivedAt, &e.UpdatedAt, &e.ProcessedAt)
	return e, mapErr(err)
}
