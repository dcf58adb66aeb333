package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/config"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/licensecrypto"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

var testSecret = []byte("test-hmac-secret-0123456789abcdef")

// fakeRepo is an in-memory Repository with the same conflict and locking
// semantics as the Postgres store.
type fakeRepo struct {
	mu sync.Mutex

	customers map[uuid.UUID]db.Customer
	licenses  map[int64]db.License
	devices   map[uuid.UUID]db.Device
	trials    map[string]db.Trial
	webhooks  map[string]db.WebhookEvent
	orgs      map[uuid.UUID]db.Organization
	members   []db.OrgMember
	invites   map[uuid.UUID]db.Invite

	nextLicenseID int64
	clock         time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		customers: map[uuid.UUID]db.Customer{},
		licenses:  map[int64]db.License{},
		devices:   map[uuid.UUID]db.Device{},
		trials:    map[string]db.Trial{},
		webhooks:  map[string]db.WebhookEvent{},
		orgs:      map[uuid.UUID]db.Organization{},
		invites:   map[uuid.UUID]db.Invite{},
		clock:     time.Now().UTC().Truncate(time.Second),
	}
}

// tick hands out strictly increasing timestamps so ordering is stable.
func (r *fakeRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *fakeRepo) GetCustomer(_ context.Context, id uuid.UUID) (db.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return db.Customer{}, db.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) GetCustomerByEmail(_ context.Context, email string) (db.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return db.Customer{}, db.ErrNotFound
}

func (r *fakeRepo) GetCustomerByCognitoSub(_ context.Context, sub string) (db.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.CognitoSub.Valid && c.CognitoSub.String == sub {
			return c, nil
		}
	}
	return db.Customer{}, db.ErrNotFound
}

func (r *fakeRepo) UpsertCustomer(_ context.Context, arg db.UpsertCustomerParams) (db.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.customers {
		if c.Email != arg.Email {
			continue
		}
		if c.Name == "" {
			c.Name = arg.Name
		}
		if !c.StripeCustomerID.Valid {
			c.StripeCustomerID = db.Text(arg.StripeCustomerID)
		}
		if !c.CognitoSub.Valid {
			c.CognitoSub = db.Text(arg.CognitoSub)
		}
		c.UpdatedAt = r.tick()
		r.customers[id] = c
		return c, nil
	}
	now := r.tick()
	c := db.Customer{
		ID:               uuid.New(),
		Email:            arg.Email,
		Name:             arg.Name,
		StripeCustomerID: db.Text(arg.StripeCustomerID),
		CognitoSub:       db.Text(arg.CognitoSub),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.customers[c.ID] = c
	return c, nil
}

func (r *fakeRepo) LinkCustomerCognito(_ context.Context, id uuid.UUID, sub string) (db.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return db.Customer{}, db.ErrNotFound
	}
	c.CognitoSub = db.Text(sub)
	r.customers[id] = c
	return c, nil
}

func (r *fakeRepo) CreateLicense(_ context.Context, arg db.CreateLicenseParams) (db.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if bytes.Equal(l.LookupDigest, arg.LookupDigest) {
			return db.License{}, db.ErrDuplicate
		}
	}
	r.nextLicenseID++
	now := r.tick()
	l := db.License{
		ID:                      r.nextLicenseID,
		CustomerID:              arg.CustomerID,
		Plan:                    arg.Plan,
		Seats:                   arg.Seats,
		MaxDevices:              arg.MaxDevices,
		Status:                  db.LicenseStatusActive,
		LookupDigest:            arg.LookupDigest,
		KeyHint:                 arg.KeyHint,
		KeygenLicenseID:         db.Text(arg.KeygenLicenseID),
		StripeSubscriptionID:    db.Text(arg.StripeSubscriptionID),
		StripeCheckoutSessionID: db.Text(arg.StripeCheckoutSessionID),
		ExpiresAt:               db.Timestamptz(arg.ExpiresAt),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	r.licenses[l.ID] = l
	return l, nil
}

func (r *fakeRepo) findLicense(match func(db.License) bool) (db.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if match(l) {
			return l, nil
		}
	}
	return db.License{}, db.ErrNotFound
}

func (r *fakeRepo) GetLicenseByID(_ context.Context, id int64) (db.License, error) {
	return r.findLicense(func(l db.License) bool { return l.ID == id })
}

func (r *fakeRepo) GetLicenseByDigest(_ context.Context, digest []byte) (db.License, error) {
	return r.findLicense(func(l db.License) bool { return bytes.Equal(l.LookupDigest, digest) })
}

func (r *fakeRepo) GetLicenseByKeygenID(_ context.Context, keygenID string) (db.License, error) {
	return r.findLicense(func(l db.License) bool { return l.KeygenLicenseID.String == keygenID })
}

func (r *fakeRepo) GetLicenseByStripeSubscription(_ context.Context, subscriptionID string) (db.License, error) {
	return r.findLicense(func(l db.License) bool { return l.StripeSubscriptionID.String == subscriptionID })
}

func (r *fakeRepo) GetLicenseByCheckoutSession(_ context.Context, sessionID string) (db.License, error) {
	return r.findLicense(func(l db.License) bool { return l.StripeCheckoutSessionID.String == sessionID })
}

func (r *fakeRepo) GetLicenseForCustomer(_ context.Context, customerID uuid.UUID) (db.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.licenses {
		if l.CustomerID == customerID {
			return l, nil
		}
	}
	for _, m := range r.members {
		if m.CustomerID != customerID {
			continue
		}
		if l, ok := r.licenses[r.orgs[m.OrgID].LicenseID]; ok {
			return l, nil
		}
	}
	return db.License{}, db.ErrNotFound
}

func (r *fakeRepo) updateLicense(id int64, fn func(*db.License)) (db.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return db.License{}, db.ErrNotFound
	}
	fn(&l)
	l.UpdatedAt = r.tick()
	r.licenses[id] = l
	return l, nil
}

func (r *fakeRepo) UpdateLicenseStatus(_ context.Context, id int64, status string) (db.License, error) {
	return r.updateLicense(id, func(l *db.License) { l.Status = status })
}

func (r *fakeRepo) UpdateLicenseExpiry(_ context.Context, id int64, expiresAt *time.Time) (db.License, error) {
	return r.updateLicense(id, func(l *db.License) { l.ExpiresAt = db.Timestamptz(expiresAt) })
}

func (r *fakeRepo) UpdateLicensePlan(_ context.Context, arg db.UpdateLicensePlanParams) (db.License, error) {
	return r.updateLicense(arg.ID, func(l *db.License) {
		l.Plan = arg.Plan
		l.Seats = arg.Seats
		l.MaxDevices = arg.MaxDevices
	})
}

func (r *fakeRepo) GetDevice(_ context.Context, id uuid.UUID) (db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return db.Device{}, db.ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) deviceByFingerprint(licenseID int64, fingerprint string) (db.Device, bool) {
	for _, d := range r.devices {
		if d.LicenseID == licenseID && d.Fingerprint == fingerprint {
			return d, true
		}
	}
	return db.Device{}, false
}

func (r *fakeRepo) GetDeviceByFingerprint(_ context.Context, licenseID int64, fingerprint string) (db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deviceByFingerprint(licenseID, fingerprint)
	if !ok {
		return db.Device{}, db.ErrNotFound
	}
	return d, nil
}

func (r *fakeRepo) ListDevices(_ context.Context, licenseID int64) ([]db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []db.Device
	for _, d := range r.devices {
		if d.LicenseID == licenseID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) countDevices(licenseID int64) int64 {
	var n int64
	for _, d := range r.devices {
		if d.LicenseID == licenseID {
			n++
		}
	}
	return n
}

func (r *fakeRepo) CountDevices(_ context.Context, licenseID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countDevices(licenseID), nil
}

func (r *fakeRepo) ActivateDevice(_ context.Context, arg db.ActivateDeviceParams) (db.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[arg.LicenseID]
	if !ok {
		return db.Device{}, false, db.ErrNotFound
	}
	now := r.tick()
	if d, ok := r.deviceByFingerprint(arg.LicenseID, arg.Fingerprint); ok {
		d.Name, d.Platform = arg.Name, arg.Platform
		d.KeygenMachineID = db.Text(arg.KeygenMachineID)
		d.Status = db.DeviceStatusActive
		d.LastHeartbeatAt = now
		r.devices[d.ID] = d
		return d, false, nil
	}
	if r.countDevices(arg.LicenseID) >= int64(l.MaxDevices) {
		return db.Device{}, false, db.ErrSeatLimit
	}
	d := db.Device{
		ID:              uuid.New(),
		LicenseID:       arg.LicenseID,
		Fingerprint:     arg.Fingerprint,
		Name:            arg.Name,
		Platform:        arg.Platform,
		KeygenMachineID: db.Text(arg.KeygenMachineID),
		Status:          db.DeviceStatusActive,
		SessionID:       db.Text(arg.SessionID),
		LastHeartbeatAt: now,
		CreatedAt:       now,
	}
	r.devices[d.ID] = d
	return d, true, nil
}

func (r *fakeRepo) TouchDevice(_ context.Context, id uuid.UUID, sessionID string, at time.Time) (db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return db.Device{}, db.ErrNotFound
	}
	d.SessionID = db.Text(sessionID)
	d.LastHeartbeatAt = at
	d.Status = db.DeviceStatusActive
	r.devices[id] = d
	return d, nil
}

func (r *fakeRepo) DeleteDevice(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return db.ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

func (r *fakeRepo) DeleteDeviceByKeygenMachine(_ context.Context, machineID string) (db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.devices {
		if d.KeygenMachineID.String == machineID {
			delete(r.devices, id)
			return d, nil
		}
	}
	return db.Device{}, db.ErrNotFound
}

func (r *fakeRepo) MarkStaleDevicesInactive(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, d := range r.devices {
		if d.Status == db.DeviceStatusActive && d.LastHeartbeatAt.Before(before) {
			d.Status = db.DeviceStatusInactive
			r.devices[id] = d
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) GetTrial(_ context.Context, fingerprint string) (db.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trials[fingerprint]
	if !ok {
		return db.Trial{}, db.ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) InsertTrial(_ context.Context, fingerprint string, startedAt, expiresAt time.Time) (db.Trial, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trials[fingerprint]; ok {
		return t, false, nil
	}
	t := db.Trial{
		Fingerprint: fingerprint,
		ID:          uuid.New(),
		Status:      db.TrialStatusActive,
		StartedAt:   startedAt,
		ExpiresAt:   expiresAt,
	}
	r.trials[fingerprint] = t
	return t, true, nil
}

func (r *fakeRepo) ConvertTrial(_ context.Context, fingerprint string, licenseID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trials[fingerprint]
	if !ok || t.Status == db.TrialStatusConverted {
		return nil
	}
	t.Status = db.TrialStatusConverted
	t.ConvertedLicenseID = pgtype.Int8{Int64: licenseID, Valid: true}
	t.ConvertedAt = pgtype.Timestamptz{Time: r.tick(), Valid: true}
	r.trials[fingerprint] = t
	return nil
}

func (r *fakeRepo) ExpireTrials(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for fp, t := range r.trials {
		if t.Status == db.TrialStatusActive && !t.ExpiresAt.After(now) {
			t.Status = db.TrialStatusExpired
			r.trials[fp] = t
			n++
		}
	}
	return n, nil
}

func webhookKey(provider, eventID string) string { return provider + "/" + eventID }

func (r *fakeRepo) ClaimWebhookEvent(_ context.Context, provider, eventID, eventType string, staleBefore time.Time) (db.ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(provider, eventID)
	now := r.tick()
	ev, ok := r.webhooks[key]
	if !ok {
		r.webhooks[key] = db.WebhookEvent{
			Provider:   provider,
			EventID:    eventID,
			EventType:  eventType,
			Status:     db.WebhookStatusProcessing,
			Attempts:   1,
			ReceivedAt: now,
			UpdatedAt:  now,
		}
		return db.ClaimResult{Claimed: true, Status: db.WebhookStatusProcessing}, nil
	}
	if ev.Status == db.WebhookStatusFailed || (ev.Status == db.WebhookStatusProcessing && ev.UpdatedAt.Before(staleBefore)) {
		ev.Status = db.WebhookStatusProcessing
		ev.Attempts++
		ev.LastError = pgtype.Text{}
		ev.UpdatedAt = now
		r.webhooks[key] = ev
		return db.ClaimResult{Claimed: true, Status: ev.Status}, nil
	}
	return db.ClaimResult{Claimed: false, Status: ev.Status}, nil
}

func (r *fakeRepo) CompleteWebhookEvent(_ context.Context, provider, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(provider, eventID)
	ev := r.webhooks[key]
	ev.Status = db.WebhookStatusProcessed
	ev.ProcessedAt = pgtype.Timestamptz{Time: r.tick(), Valid: true}
	r.webhooks[key] = ev
	return nil
}

func (r *fakeRepo) FailWebhookEvent(_ context.Context, provider, eventID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(provider, eventID)
	ev := r.webhooks[key]
	ev.Status = db.WebhookStatusFailed
	ev.LastError = db.Text(reason)
	r.webhooks[key] = ev
	return nil
}

func (r *fakeRepo) PruneWebhookEvents(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, ev := range r.webhooks {
		if ev.Status == db.WebhookStatusProcessed && ev.ProcessedAt.Time.Before(before) {
			delete(r.webhooks, key)
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) webhook(provider, eventID string) db.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.webhooks[webhookKey(provider, eventID)]
}

func (r *fakeRepo) CreateOrganization(_ context.Context, arg db.CreateOrganizationParams) (db.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orgs {
		if o.LicenseID == arg.LicenseID {
			return o, nil
		}
	}
	now := r.tick()
	o := db.Organization{
		ID:              uuid.New(),
		Name:            arg.Name,
		OwnerCustomerID: arg.OwnerCustomerID,
		LicenseID:       arg.LicenseID,
		CreatedAt:       now,
	}
	r.orgs[o.ID] = o
	r.members = append(r.members, db.OrgMember{OrgID: o.ID, CustomerID: arg.OwnerCustomerID, Role: db.RoleOwner, JoinedAt: now})
	return o, nil
}

func (r *fakeRepo) GetMembership(_ context.Context, customerID uuid.UUID) (db.Organization, db.OrgMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		found db.OrgMember
		ok    bool
	)
	for _, m := range r.members {
		if m.CustomerID == customerID && (!ok || m.JoinedAt.After(found.JoinedAt)) {
			found, ok = m, true
		}
	}
	if !ok {
		return db.Organization{}, db.OrgMember{}, db.ErrNotFound
	}
	return r.orgs[found.OrgID], found, nil
}

func (r *fakeRepo) ListOrgMembers(_ context.Context, orgID uuid.UUID) ([]db.OrgMemberRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []db.OrgMemberRow
	for _, m := range r.members {
		if m.OrgID == orgID {
			c := r.customers[m.CustomerID]
			out = append(out, db.OrgMemberRow{OrgMember: m, Email: c.Email, Name: c.Name})
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteOrgMember(_ context.Context, orgID, customerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m.OrgID == orgID && m.CustomerID == customerID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (r *fakeRepo) CreateInvite(_ context.Context, arg db.CreateInviteParams) (db.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inv := range r.invites {
		if inv.OrgID != arg.OrgID || inv.Email != arg.Email || inv.Status != db.InviteStatusPending {
			continue
		}
		if !arg.Now.IsZero() && !inv.ExpiresAt.After(arg.Now) {
			inv.Status = db.InviteStatusExpired
			r.invites[id] = inv
			continue
		}
		return db.Invite{}, db.ErrDuplicate
	}
	inv := db.Invite{
		ID:          uuid.New(),
		OrgID:       arg.OrgID,
		Email:       arg.Email,
		Role:        arg.Role,
		TokenDigest: arg.TokenDigest,
		InvitedBy:   arg.InvitedBy,
		Status:      db.InviteStatusPending,
		ExpiresAt:   arg.ExpiresAt,
		CreatedAt:   r.tick(),
	}
	r.invites[inv.ID] = inv
	return inv, nil
}

func (r *fakeRepo) GetInviteByTokenDigest(_ context.Context, digest []byte) (db.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invites {
		if bytes.Equal(inv.TokenDigest, digest) {
			return inv, nil
		}
	}
	return db.Invite{}, db.ErrNotFound
}

func (r *fakeRepo) ListPendingInvites(_ context.Context, orgID uuid.UUID, now time.Time) ([]db.Invite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []db.Invite
	for _, inv := range r.invites {
		if inv.OrgID == orgID && inv.Status == db.InviteStatusPending && inv.ExpiresAt.After(now) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) ExpireInvites(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, inv := range r.invites {
		if inv.Status == db.InviteStatusPending && !inv.ExpiresAt.After(now) {
			inv.Status = db.InviteStatusExpired
			r.invites[id] = inv
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) RevokeInvite(_ context.Context, orgID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invites[id]
	if !ok || inv.OrgID != orgID || inv.Status != db.InviteStatusPending {
		return db.ErrNotFound
	}
	inv.Status = db.InviteStatusRevoked
	r.invites[id] = inv
	return nil
}

func (r *fakeRepo) AcceptInvite(_ context.Context, inviteID, customerID uuid.UUID) (db.OrgMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invites[inviteID]
	if !ok || inv.Status != db.InviteStatusPending {
		return db.OrgMember{}, db.ErrNotFound
	}
	for _, m := range r.members {
		if m.OrgID == inv.OrgID && m.CustomerID == customerID {
			return db.OrgMember{}, db.ErrDuplicate
		}
	}
	now := r.tick()
	inv.Status = db.InviteStatusAccepted
	inv.AcceptedAt = pgtype.Timestamptz{Time: now, Valid: true}
	r.invites[inviteID] = inv
	m := db.OrgMember{OrgID: inv.OrgID, CustomerID: customerID, Role: inv.Role, JoinedAt: now}
	r.members = append(r.members, m)
	return m, nil
}

// fakeKeygen keeps licenses and machines in memory and answers with the
// error shapes of the real API.
type fakeKeygen struct {
	mu sync.Mutex

	licenses map[string]*keygen.License
	machines map[string]*keygen.Machine
	next     int

	// failNext makes the next call of the named operation return the error.
	failNext map[string]error
	calls    []string
}

func newFakeKeygen() *fakeKeygen {
	return &fakeKeygen{
		licenses: map[string]*keygen.License{},
		machines: map[string]*keygen.Machine{},
		failNext: map[string]error{},
	}
}

func (k *fakeKeygen) enter(op string) error {
	k.calls = append(k.calls, op)
	if err, ok := k.failNext[op]; ok {
		delete(k.failNext, op)
		return err
	}
	return nil
}

func (k *fakeKeygen) called(op string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, c := range k.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (k *fakeKeygen) id(prefix string) string {
	k.next++
	return fmt.Sprintf("%s-%d", prefix, k.next)
}

func (k *fakeKeygen) machinesFor(licenseID string) []*keygen.Machine {
	var out []*keygen.Machine
	for _, m := range k.machines {
		if m.LicenseID == licenseID {
			out = append(out, m)
		}
	}
	return out
}

func (k *fakeKeygen) ValidateKey(_ context.Context, key, fingerprint string) (*keygen.Validation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("validate"); err != nil {
		return nil, err
	}
	for _, l := range k.licenses {
		if l.Key != key {
			continue
		}
		v := &keygen.Validation{License: l}
		switch {
		case l.Suspended:
			v.Code = keygen.ValidationSuspended
		case l.Expiry != nil && time.Now().After(*l.Expiry):
			v.Code = keygen.ValidationExpired
		default:
			v.Code = keygen.ValidationNoMachine
			for _, m := range k.machinesFor(l.ID) {
				if m.Fingerprint == fingerprint {
					v.Valid, v.Code = true, keygen.ValidationValid
				}
			}
		}
		return v, nil
	}
	return &keygen.Validation{Code: keygen.ValidationNotFound}, nil
}

func (k *fakeKeygen) GetLicense(_ context.Context, id string) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("get_license"); err != nil {
		return nil, err
	}
	l, ok := k.licenses[id]
	if !ok {
		return nil, &keygen.Error{Op: "get license", Status: 404, Code: keygen.CodeNotFound}
	}
	return l, nil
}

func (k *fakeKeygen) CreateLicense(_ context.Context, p keygen.CreateLicenseParams) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("create_license"); err != nil {
		return nil, err
	}
	l := &keygen.License{
		ID:          k.id("kg-lic"),
		Key:         p.Key,
		Name:        p.Name,
		Status:      keygen.StatusActive,
		Expiry:      p.Expiry,
		MaxMachines: p.MaxMachines,
		PolicyID:    p.PolicyID,
		Metadata:    p.Metadata,
	}
	k.licenses[l.ID] = l
	return l, nil
}

func (k *fakeKeygen) license(id string) (*keygen.License, error) {
	l, ok := k.licenses[id]
	if !ok {
		return nil, &keygen.Error{Op: "license", Status: 404, Code: keygen.CodeNotFound}
	}
	return l, nil
}

func (k *fakeKeygen) UpdateLicense(_ context.Context, id string, maxMachines int, expiry *time.Time) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("update_license"); err != nil {
		return nil, err
	}
	l, err := k.license(id)
	if err != nil {
		return nil, err
	}
	if maxMachines > 0 {
		l.MaxMachines = maxMachines
	}
	if expiry != nil {
		l.Expiry = expiry
	}
	return l, nil
}

func (k *fakeKeygen) SuspendLicense(_ context.Context, id string) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("suspend"); err != nil {
		return nil, err
	}
	l, err := k.license(id)
	if err != nil {
		return nil, err
	}
	if l.Suspended {
		return nil, &keygen.Error{Op: "suspend license", Status: 422, Detail: "already suspended"}
	}
	l.Suspended, l.Status = true, keygen.StatusSuspended
	return l, nil
}

func (k *fakeKeygen) ReinstateLicense(_ context.Context, id string) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("reinstate"); err != nil {
		return nil, err
	}
	l, err := k.license(id)
	if err != nil {
		return nil, err
	}
	if !l.Suspended {
		return nil, &keygen.Error{Op: "reinstate license", Status: 422, Detail: "not suspended"}
	}
	l.Suspended, l.Status = false, keygen.StatusActive
	return l, nil
}

func (k *fakeKeygen) RenewLicense(_ context.Context, id string) (*keygen.License, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("renew"); err != nil {
		return nil, err
	}
	l, err := k.license(id)
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(30 * 24 * time.Hour).UTC()
	l.Expiry = &exp
	return l, nil
}

func (k *fakeKeygen) CreateMachine(_ context.Context, p keygen.CreateMachineParams) (*keygen.Machine, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("create_machine"); err != nil {
		return nil, err
	}
	l, err := k.license(p.LicenseID)
	if err != nil {
		return nil, err
	}
	existing := k.machinesFor(p.LicenseID)
	for _, m := range existing {
		if m.Fingerprint == p.Fingerprint {
			return nil, &keygen.Error{Op: "create machine", Status: 422, Code: keygen.CodeFingerprintTaken}
		}
	}
	if l.MaxMachines > 0 && len(existing) >= l.MaxMachines {
		return nil, &keygen.Error{Op: "create machine", Status: 422, Code: keygen.CodeMachineLimitExceeded}
	}
	m := &keygen.Machine{
		ID:          k.id("kg-mach"),
		Fingerprint: p.Fingerprint,
		Name:        p.Name,
		Platform:    p.Platform,
		LicenseID:   p.LicenseID,
	}
	k.machines[m.ID] = m
	return m, nil
}

func (k *fakeKeygen) FindMachine(_ context.Context, licenseID, fingerprint string) (*keygen.Machine, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("find_machine"); err != nil {
		return nil, err
	}
	for _, m := range k.machinesFor(licenseID) {
		if m.Fingerprint == fingerprint {
			return m, nil
		}
	}
	return nil, nil
}

func (k *fakeKeygen) ListMachines(_ context.Context, licenseID string) ([]*keygen.Machine, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("list_machines"); err != nil {
		return nil, err
	}
	return k.machinesFor(licenseID), nil
}

func (k *fakeKeygen) PingMachine(_ context.Context, id string) (*keygen.Machine, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("ping"); err != nil {
		return nil, err
	}
	m, ok := k.machines[id]
	if !ok {
		return nil, &keygen.Error{Op: "ping machine", Status: 404, Code: keygen.CodeNotFound}
	}
	now := time.Now()
	m.LastHeartbeat = &now
	m.HeartbeatStatus = "ALIVE"
	return m, nil
}

func (k *fakeKeygen) DeleteLicense(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("delete_license"); err != nil {
		return err
	}
	if _, err := k.license(id); err != nil {
		return err
	}
	delete(k.licenses, id)
	return nil
}

func (k *fakeKeygen) DeleteMachine(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.enter("delete_machine"); err != nil {
		return err
	}
	if _, ok := k.machines[id]; !ok {
		return &keygen.Error{Op: "delete machine", Status: 404, Code: keygen.CodeNotFound}
	}
	delete(k.machines, id)
	return nil
}

func (k *fakeKeygen) machineCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.machines)
}

// fakeBilling returns canned Stripe objects. Webhook payloads are accepted
// when the signature equals validSignature.
type fakeBilling struct {
	mu sync.Mutex

	sessions  map[string]*billing.CheckoutSession
	events    map[string]stripe.Event
	invoices  []billing.Invoice
	portalURL string

	lastCheckout billing.CheckoutParams
	portalCalls  []string
	err          error
}

const validSignature = "t=1,v1=ok"

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		sessions:  map[string]*billing.CheckoutSession{},
		events:    map[string]stripe.Event{},
		portalURL: "https://billing.stripe.test/session",
	}
}

func (b *fakeBilling) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.lastCheckout = p
	s := &billing.CheckoutSession{
		ID:        fmt.Sprintf("cs_test_%d", len(b.sessions)+1),
		URL:       "https://checkout.stripe.test/pay",
		Status:    "open",
		Email:     p.Email,
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
		Metadata:  p.Metadata,
	}
	b.sessions[s.ID] = s
	return s, nil
}

func (b *fakeBilling) GetCheckoutSession(_ context.Context, id string) (*billing.CheckoutSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing, Msg: "No such checkout.session"}
	}
	return s, nil
}

func (b *fakeBilling) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.portalCalls = append(b.portalCalls, customerID+"|"+returnURL)
	return b.portalURL, nil
}

func (b *fakeBilling) ListInvoices(_ context.Context, _ string, limit int64) ([]billing.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if int64(len(b.invoices)) > limit {
		return b.invoices[:limit], nil
	}
	return b.invoices, nil
}

func (b *fakeBilling) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if signature != validSignature {
		return stripe.Event{}, fmt.Errorf("signature mismatch")
	}
	ev, ok := b.events[string(payload)]
	if !ok {
		return stripe.Event{}, fmt.Errorf("unknown payload")
	}
	return ev, nil
}

// stripeEvent registers an event and returns the payload that delivers it.
func (b *fakeBilling) stripeEvent(id, eventType, object string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload := []byte(id)
	b.events[id] = stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: []byte(object)},
	}
	return payload
}

type testEnv struct {
	repo    *fakeRepo
	keygen  *fakeKeygen
	billing *fakeBilling
	catalog *plans.Catalog
	cfg     *config.Config
	stack   ServiceStack
	now     time.Time
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &config.Config{
		TokenPrivateKey:   priv,
		TokenPublicKey:    pub,
		TokenAudience:     "plg-test",
		TokenTTL:          24 * time.Hour,
		TrialDuration:     DefaultTrialDuration,
		HeartbeatInterval: 10 * time.Minute,
		HeartbeatTimeout:  30 * time.Minute,
		SweepInterval:     time.Minute,
		InviteTTL:         7 * 24 * time.Hour,
		BaseURL:           "https://app.example.test",
		LicenseHMACSecret: testSecret,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := plans.Load("")
	require.NoError(t, err)
	env := &testEnv{
		repo:    newFakeRepo(),
		keygen:  newFakeKeygen(),
		billing: newFakeBilling(),
		catalog: catalog,
		cfg:     testConfig(t),
	}
	env.stack = InitServices(Deps{
		Repo:    env.repo,
		Keygen:  env.keygen,
		Billing: env.billing,
		Catalog: catalog,
		Config:  env.cfg,
	})
	return env
}

// issue creates a customer and a license for plan through the real issuer.
func (e *testEnv) issue(t *testing.T, email, planID string, seats int) (db.License, string) {
	t.Helper()
	ctx := context.Background()
	c, err := e.repo.UpsertCustomer(ctx, db.UpsertCustomerParams{Email: email})
	require.NoError(t, err)
	plan, err := e.catalog.Lookup(planID)
	require.NoError(t, err)
	l, key, err := e.stack.admin.issuer.issue(ctx, issueParams{Customer: c, Plan: plan, Seats: seats})
	require.NoError(t, err)
	return l, key
}

func (e *testEnv) license(t *testing.T, key string) db.License {
	t.Helper()
	l, err := e.repo.GetLicenseByDigest(context.Background(), licensecrypto.LookupDigest(testSecret, key))
	require.NoError(t, err)
	return l
}
