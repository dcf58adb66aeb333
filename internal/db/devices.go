package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const deviceColumns = `id, license_id, fingerprint, name, platform, keygen_machine_id, status, session_id, last_heartbeat_at, created_at`

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.LicenseID, &d.Fingerprint, &d.Name, &d.Platform, &d.KeygenMachineID,
		&d.Status, &d.SessionID, &d.LastHeartbeatAt, &d.CreatedAt)
	return d, mapErr(err)
}

func (q *Queries) GetDevice(ctx context.Context, id uuid.UUID) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
}

func (q *Queries) GetDeviceByFingerprint(ctx context.Context, licenseID int64, fingerprint string) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE license_id = $1 AND fingerprint = $2`, licenseID, fingerprint))
}

func (q *Queries) ListDevices(ctx context.Context, licenseID int64) ([]Device, error) {
	rows, err := q.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE license_id = $1 ORDER BY created_at`, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (q *Queries) CountDevices(ctx context.Context, licenseID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM devices WHERE license_id = $1`, licenseID).Scan(&n)
	return n, err
}

type ActivateDeviceParams struct {
	LicenseID       int64
	Fingerprint     string
	Name            string
	Platform        string
	KeygenMachineID string
	SessionID       string
}

func (q *Queries) insertDevice(ctx context.Context, arg ActivateDeviceParams) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx, `
INSERT INTO devices (id, license_id, fingerprint, name, platform, keygen_machine_id, session_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+deviceColumns,
		uuid.New(), arg.LicenseID, arg.Fingerprint, arg.Name, arg.Platform, Text(arg.KeygenMachineID), Text(arg.SessionID)))
}

func (q *Queries) refreshDevice(ctx context.Context, id uuid.UUID, arg ActivateDeviceParams) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx, `
UPDATE devices SET
    name              = CASE WHEN $2 = '' THEN name ELSE $2 END,
    platform          = CASE WHEN $3 = '' THEN platform ELSE $3 END,
    keygen_machine_id = COALESCE($4, keygen_machine_id),
    status            = 'active',
    last_heartbeat_at = now()
WHERE id = $1
RETURNING `+deviceColumns, id, arg.Name, arg.Platform, Text(arg.KeygenMachineID)))
}

// ActivateDevice binds a fingerprint to a license. The license row is locked
// for the duration so concurrent activations cannot exceed max_devices. An
// already bound fingerprint is refreshed and returned with created=false.
func (s *Store) ActivateDevice(ctx context.Context, arg ActivateDeviceParams) (Device, bool, error) {
	var (
		device  Device
		created bool
	)
	err := s.execTx(ctx, func(q *Queries) error {
		var maxDevices int32
		err := q.db.QueryRow(ctx, `SELECT max_devices FROM licenses WHERE id = $1 FOR UPDATE`, arg.LicenseID).Scan(&maxDevices)
		if err != nil {
			return mapErr(err)
		}

		existing, err := q.GetDeviceByFingerprint(ctx, arg.LicenseID, arg.Fingerprint)
		switch {
		case err == nil:
			device, err = q.refreshDevice(ctx, existing.ID, arg)
			return err
		case !errors.Is(err, ErrNotFound):
			return err
		}

		count, err := q.CountDevices(ctx, arg.LicenseID)
		if err != nil {
			return err
		}
		if count >= int64(maxDevices) {
			return ErrSeatLimit
		}

		device, err = q.insertDevice(ctx, arg)
		created = err == nil
		return err
	})
	if err != nil {
		return Device{}, false, fmt.Errorf("activate device: %w", err)
	}
	return device, created, nil
}

func (q *Queries) TouchDevice(ctx context.Context, id uuid.UUID, sessionID string, at time.Time) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx, `
UPDATE devices SET session_id = $2, last_heartbeat_at = $3, status = 'active'
WHERE id = $1
RETURNING `+deviceColumns, id, sessionID, at))
}

func (q *Queries) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) DeleteDeviceByKeygenMachine(ctx context.Context, machineID string) (Device, error) {
	return scanDevice(q.db.QueryRow(ctx,
		`DELETE FROM devices WHERE keygen_machine_id = $1 RETURNING `+deviceColumns, machineID))
}

// MarkStaleDevicesInactive flags active devices whose last heartbeat is older than before.
func (q *Queries) MarkStaleDevicesInactive(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE devices SET status = 'inactive' WHERE status = 'active' AND last_heartbeat_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
