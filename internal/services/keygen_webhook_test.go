package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keygenEvent(t *testing.T, id, event, resourceType, resourceID string, attrs map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{"id": resourceID, "type": resourceType, "attributes": attrs},
	})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":   id,
			"type": "webhook-events",
			"attributes": map[string]any{
				"event":   event,
				"payload": string(payload),
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestKeygenLicenseEventsMirrorStatus(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.issue(t, "dev@example.com", "individual", 1)
	svc := env.stack.KeygenWebhook()
	ctx := context.Background()
	kid := l.KeygenLicenseID.String

	status := func() db.License {
		t.Helper()
		got, err := env.repo.GetLicenseByID(ctx, l.ID)
		require.NoError(t, err)
		return got
	}

	_, err := svc.Handle(ctx, keygenEvent(t, "wh-1", KeygenLicenseSuspended, "licenses", kid, map[string]any{"suspended": true}))
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusSuspended, status().Status)

	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Handle(ctx, keygenEvent(t, "wh-2", KeygenLicenseRenewed, "licenses", kid, map[string]any{"expiry": expiry}))
	require.NoError(t, err)
	got := status()
	assert.Equal(t, db.LicenseStatusActive, got.Status)
	assert.True(t, got.ExpiresAt.Time.Equal(expiry))

	_, err = svc.Handle(ctx, keygenEvent(t, "wh-3", KeygenLicenseExpired, "licenses", kid, nil))
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusExpired, status().Status)
}

func TestKeygenReinstateKeepsCanceledLicense(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.issue(t, "dev@example.com", "individual", 1)
	ctx := context.Background()
	_, err := env.repo.UpdateLicenseStatus(ctx, l.ID, db.LicenseStatusCanceled)
	require.NoError(t, err)

	_, err = env.stack.KeygenWebhook().Handle(ctx, keygenEvent(t, "wh-1", KeygenLicenseReinstated, "licenses", l.KeygenLicenseID.String, nil))
	require.NoError(t, err)
	got, err := env.repo.GetLicenseByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusCanceled, got.Status)
}

func TestKeygenMachineDeletedReleasesSlot(t *testing.T) {
	env := newTestEnv(t)
	l, key := env.issue(t, "dev@example.com", "individual", 1)
	activate(t, env, key, "fp-1")
	ctx := context.Background()
	d, err := env.repo.GetDeviceByFingerprint(ctx, l.ID, "fp-1")
	require.NoError(t, err)

	body := keygenEvent(t, "wh-1", KeygenMachineHeartbeatDead, "machines", d.KeygenMachineID.String, map[string]any{"fingerprint": "fp-1"})
	res, err := env.stack.KeygenWebhook().Handle(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, "wh-1", res.EventID)

	n, err := env.repo.CountDevices(ctx, l.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err = env.stack.KeygenWebhook().Handle(ctx, body)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestKeygenWebhookIgnoresUnknown(t *testing.T) {
	env := newTestEnv(t)
	svc := env.stack.KeygenWebhook()
	ctx := context.Background()

	_, err := svc.Handle(ctx, keygenEvent(t, "wh-1", KeygenLicenseSuspended, "licenses", "kg-untracked", nil))
	require.NoError(t, err)
	_, err = svc.Handle(ctx, keygenEvent(t, "wh-2", "machine.created", "machines", "kg-m", nil))
	require.NoError(t, err)
	_, err = svc.Handle(ctx, keygenEvent(t, "wh-3", KeygenMachineDeleted, "machines", "kg-gone", nil))
	require.NoError(t, err)

	_, err = svc.Handle(ctx, []byte(`{"data": {}}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
