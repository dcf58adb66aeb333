package api

import (
	"net/http"
	"time"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Options struct {
	Logger         zerolog.Logger
	RequestTimeout time.Duration

	// Limiter guards the unauthenticated license, trial and checkout routes.
	Limiter *RateLimiter

	// Identity is nil when Cognito is not configured.
	Identity IdentityVerifier
	Admin    *auth.AdminAuthenticator

	// Contract is always served; it is enforced when ValidateRequests is set.
	Contract         *Contract
	ValidateRequests bool
}

func Register(r *chi.Mux, h *handlers.Handlers, opts Options) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteProblem(w, r, handlers.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteProblem(w, r, handlers.ErrMethodNotAllowed)
	})

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	limited := func(next http.Handler) http.Handler { return next }
	if opts.Limiter != nil {
		limited = opts.Limiter.Middleware
	}
	contract := func(next http.Handler) http.Handler { return next }
	if opts.Contract != nil && opts.ValidateRequests {
		contract = opts.Contract.Validate
	}

	r.Route("/api", func(apiRouter chi.Router) {
		if opts.Contract != nil {
			apiRouter.Get("/openapi.json", opts.Contract.ServeJSON)
		}

		// Webhooks authenticate by signature over the raw body.
		apiRouter.Route("/webhooks", func(wh chi.Router) {
			wh.Post("/stripe", h.StripeWebhook)
			wh.Post("/keygen", h.KeygenWebhook)
		})

		apiRouter.Group(func(public chi.Router) {
			public.Use(limited, contract)

			public.Route("/license", func(lr chi.Router) {
				lr.Post("/validate", h.ValidateLicense)
				lr.Post("/activate", h.ActivateLicense)
				lr.Post("/heartbeat", h.Heartbeat)
				lr.Post("/deactivate", h.DeactivateLicense)
				lr.Post("/refresh", h.RefreshToken)
			})
			public.Post("/trial", h.StartTrial)
			public.Get("/trial/{fingerprint}", h.TrialStatus)
			public.Post("/checkout", h.CreateCheckout)
			public.Get("/checkout/{sessionID}", h.CheckoutStatus)
		})

		apiRouter.Route("/portal", func(pr chi.Router) {
			pr.Use(RequireIdentity(opts.Identity), contract)

			pr.Get("/me", h.PortalMe)
			pr.Get("/license", h.PortalLicense)
			pr.Get("/devices", h.PortalDevices)
			pr.Delete("/devices/{deviceID}", h.PortalDeactivateDevice)
			pr.Post("/billing", h.PortalBilling)
			pr.Get("/invoices", h.PortalInvoices)
			pr.Get("/team", h.Team)
			pr.Post("/team/invites", h.InviteMember)
			pr.Delete("/team/invites/{inviteID}", h.RevokeInvite)
			pr.Delete("/team/members/{customerID}", h.RemoveMember)
			pr.Post("/invites/accept", h.AcceptInvite)
		})

		apiRouter.Route("/admin", func(ar chi.Router) {
			ar.Use(RequireAdmin(opts.Admin), contract)

			ar.Post("/licenses", h.CreateLicense)
			ar.Get("/licenses/{licenseID}", h.GetLicense)
			ar.Post("/licenses/{licenseID}/suspend", h.SuspendLicense)
			ar.Post("/licenses/{licenseID}/reinstate", h.ReinstateLicense)
		})
	})
}
