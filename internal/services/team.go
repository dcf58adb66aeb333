package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/licensecrypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const inviteTokenBytes = 32

// TeamService manages the organization behind a team license. Every member
// and pending invite occupies one seat.
type TeamService struct {
	repo      Repository
	portal    *PortalService
	secret    []byte
	inviteTTL time.Duration
	baseURL   string
	now       func() time.Time
}

type teamContext struct {
	customer db.Customer
	org      db.Organization
	member   db.OrgMember
}

func (s *TeamService) load(ctx context.Context, id *auth.Identity) (teamContext, error) {
	c, err := s.portal.customer(ctx, id)
	if err != nil {
		return teamContext{}, err
	}
	org, m, err := s.repo.GetMembership(ctx, c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return teamContext{}, ErrTeamNotFound
	}
	if err != nil {
		return teamContext{}, fmt.Errorf("lookup membership: %w", err)
	}
	return teamContext{customer: c, org: org, member: m}, nil
}

func (tc teamContext) canManage() bool {
	return tc.member.Role == db.RoleOwner || tc.member.Role == db.RoleAdmin
}

func (s *TeamService) Team(ctx context.Context, id *auth.Identity) (dto.TeamResponse, error) {
	tc, err := s.load(ctx, id)
	if err != nil {
		return dto.TeamResponse{}, err
	}
	license, err := s.repo.GetLicenseByID(ctx, tc.org.LicenseID)
	if err != nil {
		return dto.TeamResponse{}, fmt.Errorf("lookup team license: %w", err)
	}
	members, err := s.repo.ListOrgMembers(ctx, tc.org.ID)
	if err != nil {
		return dto.TeamResponse{}, fmt.Errorf("list members: %w", err)
	}
	invites, err := s.repo.ListPendingInvites(ctx, tc.org.ID, s.now().UTC())
	if err != nil {
		return dto.TeamResponse{}, fmt.Errorf("list invites: %w", err)
	}

	resp := dto.TeamResponse{
		ID:        tc.org.ID.String(),
		Name:      tc.org.Name,
		Role:      tc.member.Role,
		Seats:     int(license.Seats),
		SeatsUsed: len(members) + len(invites),
		Members:   make([]dto.TeamMember, 0, len(members)),
		Invites:   make([]dto.InviteView, 0, len(invites)),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, dto.TeamMember{
			CustomerID: m.CustomerID.String(),
			Email:      m.Email,
			Name:       m.Name,
			Role:       m.Role,
			JoinedAt:   m.JoinedAt.UTC(),
		})
	}
	// Only managers see who is invited.
	if tc.canManage() {
		for _, inv := range invites {
			resp.Invites = append(resp.Invites, inviteView(inv))
		}
	}
	return resp, nil
}

// Invite reserves a seat for email and returns the one-time accept token.
func (s *TeamService) Invite(ctx context.Context, id *auth.Identity, req dto.InviteRequest) (dto.InviteResponse, error) {
	email, err := normalizeEmail(req.Email, true)
	if err != nil {
		return dto.InviteResponse{}, err
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = db.RoleMember
	}
	if role != db.RoleMember && role != db.RoleAdmin {
		return dto.InviteResponse{}, invalid("role must be %q or %q", db.RoleMember, db.RoleAdmin)
	}

	tc, err := s.load(ctx, id)
	if err != nil {
		return dto.InviteResponse{}, err
	}
	if !tc.canManage() {
		return dto.InviteResponse{}, ErrForbidden
	}

	license, err := s.repo.GetLicenseByID(ctx, tc.org.LicenseID)
	if err != nil {
		return dto.InviteResponse{}, fmt.Errorf("lookup team license: %w", err)
	}
	members, err := s.repo.ListOrgMembers(ctx, tc.org.ID)
	if err != nil {
		return dto.InviteResponse{}, fmt.Errorf("list members: %w", err)
	}
	for _, m := range members {
		if m.Email == email {
			return dto.InviteResponse{}, ErrAlreadyMember
		}
	}
	invites, err := s.repo.ListPendingInvites(ctx, tc.org.ID, s.now().UTC())
	if err != nil {
		return dto.InviteResponse{}, fmt.Errorf("list invites: %w", err)
	}
	for _, inv := range invites {
		if inv.Email == email {
			return dto.InviteResponse{}, ErrInvitePending
		}
	}
	if len(members)+len(invites) >= int(license.Seats) {
		return dto.InviteResponse{}, ErrTeamFull
	}

	token, err := licensecrypto.GenerateToken(inviteTokenBytes)
	if err != nil {
		return dto.InviteResponse{}, fmt.Errorf("generate invite token: %w", err)
	}
	now := s.now().UTC()
	inv, err := s.repo.CreateInvite(ctx, db.CreateInviteParams{
		OrgID:       tc.org.ID,
		Email:       email,
		Role:        role,
		TokenDigest: licensecrypto.TokenDigest(s.secret, token),
		InvitedBy:   tc.customer.ID,
		ExpiresAt:   now.Add(s.inviteTTL),
		Now:         now,
	})
	if errors.Is(err, db.ErrDuplicate) {
		return dto.InviteResponse{}, ErrInvitePending
	}
	if err != nil {
		return dto.InviteResponse{}, fmt.Errorf("create invite: %w", err)
	}

	log.Info().
		Str("org_id", tc.org.ID.String()).
		Str("invite_id", inv.ID.String()).
		Str("role", role).
		Msg("team invite created")
	return dto.InviteResponse{
		Invite:    inviteView(inv),
		Token:     token,
		AcceptURL: s.acceptURL(token),
	}, nil
}

func (s *TeamService) acceptURL(token string) string {
	return strings.TrimRight(s.baseURL, "/") + "/portal/invites/accept?token=" + url.QueryEscape(token)
}

// AcceptInvite joins the caller to the inviting organization. The signed-in
// email must match the invited address.
func (s *TeamService) AcceptInvite(ctx context.Context, id *auth.Identity, req dto.AcceptInviteRequest) (dto.AcceptInviteResponse, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return dto.AcceptInviteResponse{}, invalid("token is required")
	}
	inv, err := s.repo.GetInviteByTokenDigest(ctx, licensecrypto.TokenDigest(s.secret, token))
	if errors.Is(err, db.ErrNotFound) {
		return dto.AcceptInviteResponse{}, ErrInviteNotFound
	}
	if err != nil {
		return dto.AcceptInviteResponse{}, fmt.Errorf("lookup invite: %w", err)
	}
	switch {
	case inv.Status == db.InviteStatusAccepted:
		return dto.AcceptInviteResponse{}, ErrInviteUsed
	case inv.Status == db.InviteStatusExpired:
		return dto.AcceptInviteResponse{}, ErrInviteExpired
	case inv.Status != db.InviteStatusPending:
		return dto.AcceptInviteResponse{}, ErrInviteNotFound
	case !s.now().Before(inv.ExpiresAt):
		return dto.AcceptInviteResponse{}, ErrInviteExpired
	}

	c, err := s.portal.customer(ctx, id)
	if err != nil {
		return dto.AcceptInviteResponse{}, err
	}
	if !strings.EqualFold(c.Email, inv.Email) {
		return dto.AcceptInviteResponse{}, fmt.Errorf("%w: invite was sent to a different email", ErrForbidden)
	}

	m, err := s.repo.AcceptInvite(ctx, inv.ID, c.ID)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return dto.AcceptInviteResponse{}, ErrAlreadyMember
	case errors.Is(err, db.ErrNotFound):
		// Lost a race with another accept or a revoke.
		return dto.AcceptInviteResponse{}, ErrInviteUsed
	case err != nil:
		return dto.AcceptInviteResponse{}, fmt.Errorf("accept invite: %w", err)
	}

	log.Info().Str("org_id", m.OrgID.String()).Str("customer_id", c.ID.String()).Msg("team invite accepted")
	return dto.AcceptInviteResponse{TeamID: m.OrgID.String(), Role: m.Role}, nil
}

// RemoveMember removes a member from the caller's team. Managers may remove
// anyone but the owner; members may only remove themselves.
func (s *TeamService) RemoveMember(ctx context.Context, id *auth.Identity, customerID string) error {
	target, err := uuid.Parse(customerID)
	if err != nil {
		return invalid("customerId is malformed")
	}
	tc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if target != tc.customer.ID && !tc.canManage() {
		return ErrForbidden
	}
	if target == tc.org.OwnerCustomerID {
		return ErrCannotRemoveOwner
	}
	if err := s.repo.DeleteOrgMember(ctx, tc.org.ID, target); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("remove member: %w", err)
	}
	log.Info().Str("org_id", tc.org.ID.String()).Str("customer_id", target.String()).Msg("team member removed")
	return nil
}

func (s *TeamService) RevokeInvite(ctx context.Context, id *auth.Identity, inviteID string) error {
	iid, err := uuid.Parse(inviteID)
	if err != nil {
		return invalid("inviteId is malformed")
	}
	tc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !tc.canManage() {
		return ErrForbidden
	}
	if err := s.repo.RevokeInvite(ctx, tc.org.ID, iid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrInviteNotFound
		}
		return fmt.Errorf("revoke invite: %w", err)
	}
	return nil
}

func inviteView(inv db.Invite) dto.InviteView {
	return dto.InviteView{
		ID:        inv.ID.String(),
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt.UTC(),
		CreatedAt: inv.CreatedAt.UTC(),
	}
}
