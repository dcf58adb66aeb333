package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutObject(sessionID, plan string, seats int) string {
	return fmt.Sprintf(`{
		"id": %q,
		"mode": "subscription",
		"status": "complete",
		"payment_status": "paid",
		"customer": "cus_123",
		"subscription": "sub_123",
		"customer_details": {"email": "Buyer@Example.com"},
		"metadata": {"plan": %q, "seats": "%d", "cycle": "monthly"}
	}`, sessionID, plan, seats)
}

func subscriptionObject(status, priceID string, quantity int) string {
	return fmt.Sprintf(`{
		"id": "sub_123",
		"customer": "cus_123",
		"status": %q,
		"items": {"data": [{"quantity": %d, "price": {"id": %q}}]}
	}`, status, quantity, priceID)
}

func deliver(t *testing.T, env *testEnv, id, eventType, object string) (WebhookResult, error) {
	t.Helper()
	payload := env.billing.stripeEvent(id, eventType, object)
	return env.stack.StripeWebhook().Handle(context.Background(), payload, validSignature)
}

func completeCheckout(t *testing.T, env *testEnv, plan string, seats int) db.License {
	t.Helper()
	res, err := deliver(t, env, "evt_checkout", "checkout.session.completed", checkoutObject("cs_test_1", plan, seats))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	l, err := env.repo.GetLicenseByCheckoutSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	return l
}

func TestStripeCheckoutIssuesLicense(t *testing.T) {
	env := newTestEnv(t)
	l := completeCheckout(t, env, "individual", 1)
	ctx := context.Background()

	assert.Equal(t, "individual", l.Plan)
	assert.EqualValues(t, 3, l.MaxDevices)
	assert.Equal(t, "sub_123", l.StripeSubscriptionID.String)

	c, err := env.repo.GetCustomer(ctx, l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", c.Email)
	assert.Equal(t, "cus_123", c.StripeCustomerID.String)

	kl, err := env.keygen.GetLicense(ctx, l.KeygenLicenseID.String)
	require.NoError(t, err)
	assert.Equal(t, "policy-individual", kl.PolicyID)
	assert.Equal(t, 3, kl.MaxMachines)
	assert.Equal(t, db.WebhookStatusProcessed, env.repo.webhook(ProviderStripe, "evt_checkout").Status)
}

func TestStripeCheckoutTeamPlanCreatesOrganization(t *testing.T) {
	env := newTestEnv(t)
	l := completeCheckout(t, env, "team", 5)

	assert.EqualValues(t, 5, l.Seats)
	assert.EqualValues(t, 10, l.MaxDevices)
	org, m, err := env.repo.GetMembership(context.Background(), l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, org.LicenseID)
	assert.Equal(t, "example.com", org.Name)
	assert.Equal(t, db.RoleOwner, m.Role)
}

// flakyRepo fails the next call of the chosen writes once.
type flakyRepo struct {
	*fakeRepo
	failOrg     bool
	failLicense bool
}

func (r *flakyRepo) CreateOrganization(ctx context.Context, arg db.CreateOrganizationParams) (db.Organization, error) {
	if r.failOrg {
		r.failOrg = false
		return db.Organization{}, errors.New("connection reset")
	}
	return r.fakeRepo.CreateOrganization(ctx, arg)
}

func (r *flakyRepo) CreateLicense(ctx context.Context, arg db.CreateLicenseParams) (db.License, error) {
	if r.failLicense {
		r.failLicense = false
		return db.License{}, errors.New("connection reset")
	}
	return r.fakeRepo.CreateLicense(ctx, arg)
}

func withFlakyRepo(env *testEnv) *flakyRepo {
	flaky := &flakyRepo{fakeRepo: env.repo}
	env.stack = InitServices(Deps{
		Repo:    flaky,
		Keygen:  env.keygen,
		Billing: env.billing,
		Catalog: env.catalog,
		Config:  env.cfg,
	})
	return flaky
}

func TestStripeCheckoutRetryCreatesMissingOrganization(t *testing.T) {
	env := newTestEnv(t)
	flaky := withFlakyRepo(env)
	flaky.failOrg = true
	ctx := context.Background()

	_, err := deliver(t, env, "evt_checkout", "checkout.session.completed", checkoutObject("cs_test_1", "team", 5))
	require.Error(t, err)
	l, err := env.repo.GetLicenseByCheckoutSession(ctx, "cs_test_1")
	require.NoError(t, err)
	_, _, err = env.repo.GetMembership(ctx, l.CustomerID)
	require.ErrorIs(t, err, db.ErrNotFound)

	res, err := env.stack.StripeWebhook().Handle(ctx, []byte("evt_checkout"), validSignature)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	org, m, err := env.repo.GetMembership(ctx, l.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, org.LicenseID)
	assert.Equal(t, db.RoleOwner, m.Role)
	assert.Equal(t, 1, env.keygen.called("create_license"))
	assert.Len(t, env.repo.licenses, 1)
}

func TestStripeCheckoutRollsBackKeygenLicense(t *testing.T) {
	env := newTestEnv(t)
	flaky := withFlakyRepo(env)
	flaky.failLicense = true
	ctx := context.Background()

	_, err := deliver(t, env, "evt_checkout", "checkout.session.completed", checkoutObject("cs_test_1", "individual", 1))
	require.Error(t, err)
	assert.Equal(t, 1, env.keygen.called("delete_license"))
	assert.Empty(t, env.keygen.licenses)

	_, err = env.stack.StripeWebhook().Handle(ctx, []byte("evt_checkout"), validSignature)
	require.NoError(t, err)
	l, err := env.repo.GetLicenseByCheckoutSession(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Len(t, env.keygen.licenses, 1)
	_, ok := env.keygen.licenses[l.KeygenLicenseID.String]
	assert.True(t, ok)
}

func TestStripeDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	completeCheckout(t, env, "individual", 1)

	res, err := env.stack.StripeWebhook().Handle(context.Background(), []byte("evt_checkout"), validSignature)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1, env.keygen.called("create_license"))
	assert.Len(t, env.repo.licenses, 1)
}

func TestStripeRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := env.billing.stripeEvent("evt_1", "checkout.session.completed", checkoutObject("cs_test_1", "individual", 1))
	svc := env.stack.StripeWebhook()

	_, err := svc.Handle(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = svc.Handle(context.Background(), payload, "t=1,v1=forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, env.repo.webhooks)
}

func TestStripeFailedDeliveryIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.keygen.failNext["create_license"] = &keygen.Error{Op: "create license", Status: 500}

	_, err := deliver(t, env, "evt_checkout", "checkout.session.completed", checkoutObject("cs_test_1", "individual", 1))
	require.ErrorIs(t, err, ErrUpstream)
	ev := env.repo.webhook(ProviderStripe, "evt_checkout")
	assert.Equal(t, db.WebhookStatusFailed, ev.Status)
	assert.True(t, ev.LastError.Valid)

	res, err := env.stack.StripeWebhook().Handle(context.Background(), []byte("evt_checkout"), validSignature)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	_, err = env.repo.GetLicenseByCheckoutSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
}

func TestStripeDeliveryInProgress(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.repo.ClaimWebhookEvent(context.Background(), ProviderStripe, "evt_checkout", "checkout.session.completed", time.Time{})
	require.NoError(t, err)

	_, err = deliver(t, env, "evt_checkout", "checkout.session.completed", checkoutObject("cs_test_1", "individual", 1))
	assert.ErrorIs(t, err, ErrWebhookInProgress)
}

func TestStripeUnpaidCheckoutWaits(t *testing.T) {
	env := newTestEnv(t)
	object := `{"id": "cs_test_9", "payment_status": "unpaid", "customer_details": {"email": "a@example.com"}, "metadata": {"plan": "individual"}}`

	_, err := deliver(t, env, "evt_unpaid", "checkout.session.completed", object)
	require.NoError(t, err)
	assert.Empty(t, env.repo.licenses)
}

func TestStripeSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	l := completeCheckout(t, env, "individual", 1)
	ctx := context.Background()
	keygenID := l.KeygenLicenseID.String

	status := func() string {
		t.Helper()
		got, err := env.repo.GetLicenseByID(ctx, l.ID)
		require.NoError(t, err)
		return got.Status
	}

	_, err := deliver(t, env, "evt_2", "invoice.payment_failed", `{"id": "in_1", "subscription": "sub_123"}`)
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusPastDue, status())
	assert.False(t, env.keygen.licenses[keygenID].Suspended)

	_, err = deliver(t, env, "evt_3", "customer.subscription.updated", subscriptionObject("unpaid", "price_individual_monthly", 1))
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusSuspended, status())
	assert.True(t, env.keygen.licenses[keygenID].Suspended)

	_, err = deliver(t, env, "evt_4", "customer.subscription.updated", subscriptionObject("active", "price_individual_monthly", 1))
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusActive, status())
	assert.False(t, env.keygen.licenses[keygenID].Suspended)

	_, err = deliver(t, env, "evt_5", "customer.subscription.deleted", subscriptionObject("canceled", "price_individual_monthly", 1))
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusCanceled, status())
	assert.True(t, env.keygen.licenses[keygenID].Suspended)
}

func TestStripeSubscriptionPlanChange(t *testing.T) {
	env := newTestEnv(t)
	l := completeCheckout(t, env, "team", 2)

	_, err := deliver(t, env, "evt_2", "customer.subscription.updated", subscriptionObject("active", "price_team_annual", 8))
	require.NoError(t, err)

	got, err := env.repo.GetLicenseByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 8, got.Seats)
	assert.EqualValues(t, 16, got.MaxDevices)
	assert.Equal(t, 16, env.keygen.licenses[l.KeygenLicenseID.String].MaxMachines)
}

func TestStripeInvoicePaidExtendsExpiry(t *testing.T) {
	env := newTestEnv(t)
	l := completeCheckout(t, env, "individual", 1)
	ctx := context.Background()
	_, err := env.repo.UpdateLicenseStatus(ctx, l.ID, db.LicenseStatusPastDue)
	require.NoError(t, err)

	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	object := fmt.Sprintf(`{"id": "in_1", "subscription": "sub_123", "lines": {"data": [{"period": {"end": %d}}]}}`, end.Unix())
	_, err = deliver(t, env, "evt_paid", "invoice.payment_succeeded", object)
	require.NoError(t, err)

	got, err := env.repo.GetLicenseByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, db.LicenseStatusActive, got.Status)
	require.True(t, got.ExpiresAt.Valid)
	assert.True(t, got.ExpiresAt.Time.Equal(end.Add(renewalGrace)))
	assert.True(t, env.keygen.licenses[l.KeygenLicenseID.String].Expiry.Equal(end.Add(renewalGrace)))
}

func TestStripeEventsForUnknownSubscriptionAreAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	_, err := deliver(t, env, "evt_1", "invoice.payment_succeeded", `{"id": "in_1", "subscription": "sub_unknown"}`)
	require.NoError(t, err)
	_, err = deliver(t, env, "evt_2", "customer.subscription.deleted", `{"id": "sub_unknown", "status": "canceled"}`)
	require.NoError(t, err)
	_, err = deliver(t, env, "evt_3", "charge.refunded", `{"id": "ch_1"}`)
	require.NoError(t, err)
	assert.Equal(t, db.WebhookStatusProcessed, env.repo.webhook(ProviderStripe, "evt_3").Status)
}

func TestSubscriptionStatusMapping(t *testing.T) {
	cases := map[string]string{
		"active":             db.LicenseStatusActive,
		"trialing":           db.LicenseStatusActive,
		"past_due":           db.LicenseStatusPastDue,
		"unpaid":             db.LicenseStatusSuspended,
		"paused":             db.LicenseStatusSuspended,
		"canceled":           db.LicenseStatusCanceled,
		"incomplete_expired": db.LicenseStatusCanceled,
	}
	for in, want := range cases {
		got, ok := subscriptionStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := subscriptionStatus("incomplete")
	assert.False(t, ok)
}
