// Package server assembles the PLG backend from configuration and runs it
// until the context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cheetahbyte/plg/internal/api"
	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/cheetahbyte/plg/internal/billing"
	"github.com/cheetahbyte/plg/internal/config"
	"github.com/cheetahbyte/plg/internal/db"
	"github.com/cheetahbyte/plg/internal/handlers"
	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/plans"
	"github.com/cheetahbyte/plg/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// integrations builds the optional Keygen and Stripe clients. Unset ones stay
// nil interfaces so the services report them as not configured.
func integrations(cfg *config.Config) (services.Licensing, services.Billing) {
	var lic services.Licensing
	if cfg.Keygen.Enabled() {
		lic = keygen.New(keygen.Options{
			BaseURL:    cfg.Keygen.BaseURL,
			AccountID:  cfg.Keygen.AccountID,
			Token:      cfg.Keygen.ProductToken,
			Timeout:    cfg.Keygen.Timeout,
			MaxRetries: cfg.Keygen.MaxRetries,
		})
	}
	var bill services.Billing
	if cfg.Stripe.Enabled() {
		bill = billing.New(billing.Config{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		})
	}
	return lic, bill
}

// NewStack opens the database and builds the service layer. The caller
// closes the returned store.
func NewStack(ctx context.Context, cfg *config.Config) (*db.Store, services.ServiceStack, error) {
	catalog, err := plans.Load(cfg.PlansFile)
	if err != nil {
		return nil, services.ServiceStack{}, err
	}
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, services.ServiceStack{}, err
	}
	lic, bill := integrations(cfg)
	stack := services.InitServices(services.Deps{
		Repo:    store,
		Keygen:  lic,
		Billing: bill,
		Catalog: catalog,
		Config:  cfg,
	})
	return store, stack, nil
}

// Run serves HTTP and runs the sweeper until ctx is cancelled, then drains
// in-flight requests.
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, stack, err := NewStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.AutoMigrate {
		n, err := store.Migrate(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("applied", n).Msg("Database migrations applied")
	}

	var verifier *keygen.WebhookVerifier
	if cfg.Keygen.WebhookPublicKey != "" {
		if verifier, err = keygen.NewWebhookVerifier(cfg.Keygen.WebhookPublicKey); err != nil {
			return fmt.Errorf("keygen webhook key: %w", err)
		}
	}

	var identity api.IdentityVerifier
	if cfg.Cognito.Enabled() {
		cognito, err := auth.NewCognitoVerifier(ctx, cfg.Cognito.IssuerURL(), cfg.Cognito.ClientID)
		if err != nil {
			return err
		}
		identity = cognito
	}

	contract, err := api.LoadContract(ctx)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	api.Register(router, handlers.New(stack, verifier, store), api.Options{
		Logger:           logger,
		RequestTimeout:   cfg.RequestTimeout,
		Limiter:          api.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		Identity:         identity,
		Admin:            auth.NewAdminAuthenticator(cfg.AdminAPIKeyHash),
		Contract:         contract,
		ValidateRequests: cfg.ValidateContract,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Bool("keygen", cfg.Keygen.Enabled()).
			Bool("stripe", cfg.Stripe.Enabled()).
			Bool("cognito", cfg.Cognito.Enabled()).
			Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		stack.Sweeper().Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}
