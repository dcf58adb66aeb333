package handlers

import (
	"context"

	"github.com/cheetahbyte/plg/internal/keygen"
	"github.com/cheetahbyte/plg/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Services services.ServiceStack

	keygenWebhooks *keygen.WebhookVerifier
	store          Pinger
}

// New wires the HTTP handlers. verifier is nil when Keygen webhooks are not
// configured; store may be nil, in which case readiness always succeeds.
func New(s services.ServiceStack, verifier *keygen.WebhookVerifier, store Pinger) *Handlers {
	return &Handlers{Services: s, keygenWebhooks: verifier, store: store}
}
