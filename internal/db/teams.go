package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const orgColumns = `id, name, owner_customer_id, license_id, created_at`

func scanOrganization(row interface{ Scan(...any) error }) (Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.OwnerCustomerID, &o.LicenseID, &o.CreatedAt)
	return o, mapErr(err)
}

type CreateOrganizationParams struct {
	Name            string
	OwnerCustomerID uuid.UUID
	LicenseID       int64
}

// CreateOrganization creates the organization for a team license and adds the
// owner as its first member. A license already bound to an organization
// returns that organization.
func (s *Store) CreateOrganization(ctx context.Context, arg CreateOrganizationParams) (Organization, error) {
	var org Organization
	err := s.execTx(ctx, func(q *Queries) error {
		existing, err := q.GetOrganizationByLicense(ctx, arg.LicenseID)
		if err == nil {
			org = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		org, err = scanOrganization(q.db.QueryRow(ctx, `
INSERT INTO organizations (id, name, owner_customer_id, license_id)
VALUES ($1, $2, $3, $4)
RETURNING `+orgColumns, uuid.New(), arg.Name, arg.OwnerCustomerID, arg.LicenseID))
		if err != nil {
			return err
		}
		_, err = q.db.Exec(ctx,
			`INSERT INTO org_members (org_id, customer_id, role) VALUES ($1, $2, 'owner')`, org.ID, arg.OwnerCustomerID)
		return mapErr(err)
	})
	if err != nil {
		return Organization{}, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

func (q *Queries) GetOrganizationByLicense(ctx context.Context, licenseID int64) (Organization, error) {
	return scanOrganization(q.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE license_id = $1`, licenseID))
}

// GetMembership returns the newest organization the customer belongs to and
// the customer's membership in it.
func (q *Queries) GetMembership(ctx context.Context, customerID uuid.UUID) (Organization, OrgMember, error) {
	var (
		o Organization
		m OrgMember
	)
	err := q.db.QueryRow(ctx, `
SELECT o.id, o.name, o.owner_customer_id, o.license_id, o.created_at, m.org_id, m.customer_id, m.role, m.joined_at
FROM org_members m JOIN organizations o ON o.id = m.org_id
WHERE m.customer_id = $1
ORDER BY m.joined_at DESC
LIMIT 1`, customerID).Scan(&o.ID, &o.Name, &o.OwnerCustomerID, &o.LicenseID, &o.CreatedAt,
		&m.OrgID, &m.CustomerID, &m.Role, &m.JoinedAt)
	if err != nil {
		return Organization{}, OrgMember{}, mapErr(err)
	}
	return o, m, nil
}

func (q *Queries) ListOrgMembers(ctx context.Context, orgID uuid.UUID) ([]OrgMemberRow, error) {
	rows, err := q.db.Query(ctx, `
SELECT m.org_id, m.customer_id, m.role, m.joined_at, c.email, c.name
FROM org_members m JOIN customers c ON c.id = m.customer_id
WHERE m.org_id = $1
ORDER BY m.joined_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrgMemberRow
	for rows.Next() {
		var r OrgMemberRow
		if err := rows.Scan(&r.OrgID, &r.CustomerID, &r.Role, &r.JoinedAt, &r.Email, &r.Name); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (q *Queries) DeleteOrgMember(ctx context.Context, orgID, customerID uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM org_members WHERE org_id = $1 AND customer_id = $2`, orgID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const inviteColumns = `id, org_id, email, role, token_digest, invited_by, status, expires_at, created_at, accepted_at`

func scanInvite(row interface{ Scan(...any) error }) (Invite, error) {
	var i Invite
	err := row.Scan(&i.ID, &i.OrgID, &i.Email, &i.Role, &i.TokenDigest, &i.InvitedBy, &i.Status, &i.ExpiresAt,
		&i.CreatedAt, &i.AcceptedAt)
	return i, mapErr(err)
}

type CreateInviteParams struct {
	OrgID       uuid.UUID
	Email       string
	Role        string
	TokenDigest []byte
	InvitedBy   uuid.UUID
	ExpiresAt   time.Time
	// Now marks lapsed pending invites for the same address expired before
	// the insert so they do not trip invites_pending_email_idx.
	Now time.Time
}

func (q *Queries) createInvite(ctx context.Context, arg CreateInviteParams) (Invite, error) {
	return scanInvite(q.db.QueryRow(ctx, `
INSERT INTO invites (id, org_id, email, role, token_digest, invited_by, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+inviteColumns, uuid.New(), arg.OrgID, arg.Email, arg.Role, arg.TokenDigest, arg.InvitedBy, arg.ExpiresAt))
}

// CreateInvite inserts a pending invite. A lapsed pending invite for the same
// address is expired in the same transaction.
func (s *Store) CreateInvite(ctx context.Context, arg CreateInviteParams) (Invite, error) {
	var inv Invite
	err := s.execTx(ctx, func(q *Queries) error {
		if !arg.Now.IsZero() {
			if _, err := q.db.Exec(ctx, `
UPDATE invites SET status = 'expired'
WHERE org_id = $1 AND email = $2 AND status = 'pending' AND expires_at <= $3`,
				arg.OrgID, arg.Email, arg.Now); err != nil {
				return err
			}
		}
		var err error
		inv, err = q.createInvite(ctx, arg)
		return err
	})
	if err != nil {
		return Invite{}, fmt.Errorf("create invite: %w", err)
	}
	return inv, nil
}

func (q *Queries) GetInviteByTokenDigest(ctx context.Context, digest []byte) (Invite, error) {
	return scanInvite(q.db.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token_digest = $1`, digest))
}

// ListPendingInvites returns the invites of orgID still open at now.
func (q *Queries) ListPendingInvites(ctx context.Context, orgID uuid.UUID, now time.Time) ([]Invite, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE org_id = $1 AND status = 'pending' AND expires_at > $2
ORDER BY created_at`, orgID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Invite
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// ExpireInvites marks pending invites past their deadline expired, which
// releases their seat and their slot in invites_pending_email_idx.
func (q *Queries) ExpireInvites(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE invites SET status = 'expired' WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) RevokeInvite(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE invites SET status = 'revoked' WHERE id = $1 AND org_id = $2 AND status = 'pending'`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptInvite marks a pending invite accepted and adds the customer to the
// organization in one transaction.
func (s *Store) AcceptInvite(ctx context.Context, inviteID, customerID uuid.UUID) (OrgMember, error) {
	var m OrgMember
	err := s.execTx(ctx, func(q *Queries) error {
		inv, err := scanInvite(q.db.QueryRow(ctx, `
UPDATE invites SET status = 'accepted', accepted_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING `+inviteColumns, inviteID))
		if err != nil {
			return err
		}
		err = q.db.QueryRow(ctx, `
INSERT INTO org_members (org_id, customer_id, role) VALUES ($1, $2, $3)
RETURNING org_id, customer_id, role, joined_at`, inv.OrgID, customerID, inv.Role).
			Scan(&m.OrgID, &m.CustomerID, &m.Role, &m.JoinedAt)
		return mapErr(err)
	})
	if err != nil {
		return OrgMember{}, fmt.Errorf("accept invite: %w", err)
	}
	return m, nil
}
