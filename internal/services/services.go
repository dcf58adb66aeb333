package services

import (
	"time"

	"github.com/cheetahbyte/plg/internal/config"
	"github.com/cheetahbyte/plg/internal/plans"
)

// Deps are the collaborators shared by all services. Keygen and Billing are
// nil when the integration is not configured.
type Deps struct {
	Repo    Repository
	Keygen  Licensing
	Billing Billing
	Catalog *plans.Catalog
	Config  *config.Config
}

type ServiceStack struct {
	license       *LicenseService
	trial         *TrialService
	checkout      *CheckoutService
	stripeWebhook *StripeWebhookService
	keygenWebhook *KeygenWebhookService
	portal        *PortalService
	team          *TeamService
	admin         *AdminService
	sweeper       *Sweeper
}

func InitServices(d Deps) ServiceStack {
	cfg := d.Config
	now := time.Now

	tokens := NewTokenService(cfg.TokenPrivateKey, cfg.TokenPublicKey, cfg.TokenAudience, cfg.TokenTTL)
	issuer := &licenseIssuer{repo: d.Repo, keygen: d.Keygen, secret: cfg.LicenseHMACSecret}
	trial := NewTrialService(d.Repo, cfg.TrialDuration, now)
	license := &LicenseService{
		repo:              d.Repo,
		keygen:            d.Keygen,
		tokens:            tokens,
		trials:            trial,
		catalog:           d.Catalog,
		secret:            cfg.LicenseHMACSecret,
		heartbeatInterval: cfg.HeartbeatInterval,
		now:               now,
	}

	portal := &PortalService{
		repo:         d.Repo,
		keygen:       d.Keygen,
		billing:      d.Billing,
		catalog:      d.Catalog,
		licenses:     license,
		portalReturn: cfg.Stripe.PortalReturn,
	}

	return ServiceStack{
		license:  license,
		trial:    trial,
		checkout: &CheckoutService{repo: d.Repo, billing: d.Billing, catalog: d.Catalog},
		stripeWebhook: &StripeWebhookService{
			repo:    d.Repo,
			keygen:  d.Keygen,
			billing: d.Billing,
			catalog: d.Catalog,
			issuer:  issuer,
			now:     now,
		},
		keygenWebhook: &KeygenWebhookService{repo: d.Repo, now: now},
		portal:        portal,
		team: &TeamService{
			repo:      d.Repo,
			portal:    portal,
			secret:    cfg.LicenseHMACSecret,
			inviteTTL: cfg.InviteTTL,
			baseURL:   cfg.BaseURL,
			now:       now,
		},
		admin:   &AdminService{repo: d.Repo, keygen: d.Keygen, catalog: d.Catalog, issuer: issuer},
		sweeper: NewSweeper(d.Repo, cfg.SweepInterval, cfg.HeartbeatTimeout),
	}
}

func (s ServiceStack) License() *LicenseService { return s.license }

func (s ServiceStack) Trial() *TrialService { return s.trial }

func (s ServiceStack) Checkout() *CheckoutService { return s.checkout }

func (s ServiceStack) StripeWebhook() *StripeWebhookService { return s.stripeWebhook }

func (s ServiceStack) KeygenWebhook() *KeygenWebhookService { return s.keygenWebhook }

func (s ServiceStack) Portal() *PortalService { return s.portal }

func (s ServiceStack) Team() *TeamService { return s.team }

func (s ServiceStack) Admin() *AdminService { return s.admin }

func (s ServiceStack) Sweeper() *Sweeper { return s.sweeper }
