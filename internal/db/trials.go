package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const trialColumns = `fingerprint, id, status, started_at, expires_at, converted_license_id, converted_at`

func scanTrial(row interface{ Scan(...any) error }) (Trial, error) {
	var t Trial
	err := row.Scan(&t.Fingerprint, &t.ID, &t.Status, &t.StartedAt, &t.ExpiresAt, &t.ConvertedLicenseID, &t.ConvertedAt)
	return t, mapErr(err)
}

func (q *Queries) GetTrial(ctx context.Context, fingerprint string) (Trial, error) {
	return scanTrial(q.db.QueryRow(ctx, `SELECT `+trialColumns+` FROM trials WHERE fingerprint = $1`, fingerprint))
}

// InsertTrial starts a trial unless the fingerprint already has one, in which
// case the existing trial is returned with created=false.
func (q *Queries) InsertTrial(ctx context.Context, fingerprint string, startedAt, expiresAt time.Time) (Trial, bool, error) {
	t, err := scanTrial(q.db.QueryRow(ctx, `
INSERT INTO trials (fingerprint, id, started_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING `+trialColumns, fingerprint, uuid.New(), startedAt, expiresAt))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Trial{}, false, err
	}
	t, err = q.GetTrial(ctx, fingerprint)
	return t, false, err
}

func (q *Queries) ConvertTrial(ctx context.Context, fingerprint string, licenseID int64) error {
	_, err := q.db.Exec(ctx, `
UPDATE trials SET status = 'converted', converted_license_id = $2, converted_at = now()
WHERE fingerprint = $1 AND status <> 'converted'`, fingerprint, licenseID)
	return err
}

func (q *Queries) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE trials SET status = 'expired' WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
