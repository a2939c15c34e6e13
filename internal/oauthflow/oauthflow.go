// Package oauthflow performs the authorization-code exchange that links
// a tenant's identity-provider and payment-provider accounts to the
// platform. Flows are stateless apart from short-lived anti-forgery
// state tokens.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/idgen"
	"github.com/plinthhq/plinth/internal/traces"
	"github.com/plinthhq/plinth/internal/vault"
)

// Errors
var (
	// ErrInvalidState covers a missing, expired, replayed, or
	// wrong-provider state token. The sole CSRF defense; always 400.
	ErrInvalidState = errors.New("oauthflow: invalid or expired state")
	// ErrProviderRejected surfaces a failed token exchange.
	ErrProviderRejected = errors.New("oauthflow: provider rejected exchange")
	// ErrNamespaceMissing means the callback arrived for a tenant whose
	// namespace was never created. The caller must restart setup.
	ErrNamespaceMissing = errors.New("oauthflow: tenant namespace missing")
	ErrUnknownProvider  = errors.New("oauthflow: unknown provider")
)

// StateTTL bounds the window between redirect and callback.
const StateTTL = 10 * time.Minute

// Provider abstracts one external authorization endpoint. The GitHub
// and Stripe flows are structurally identical behind this interface.
type Provider interface {
	Name() string
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*vault.Credential, error)
}

// Service drives the exchange state machine for all providers.
type Service struct {
	providers map[string]Provider
	states    *StateStore
	dir       directory.Store
	vault     *vault.Vault
}

// NewService creates an exchange service with the given providers.
func NewService(states *StateStore, dir directory.Store, v *vault.Vault, providers ...Provider) *Service {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{providers: byName, states: states, dir: dir, vault: v}
}

// Start issues a state token and returns the provider authorization URL
// to redirect the user agent to.
func (s *Service) Start(ctx context.Context, providerName, tenantID string, mode directory.Mode) (string, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	if _, err := s.dir.GetTenant(ctx, tenantID); err != nil {
		return "", err
	}

	token := idgen.WithPrefix("st_")
	if err := s.states.Put(ctx, token, &State{
		Provider: providerName,
		TenantID: tenantID,
		Mode:     mode,
	}); err != nil {
		return "", err
	}

	exchangeStarted.WithLabelValues(providerName).Inc()
	return p.AuthorizeURL(token), nil
}

// Callback validates the state token, exchanges the code, and writes
// the resulting credential into the tenant's namespace. The state token
// is consumed atomically on first read: a replayed callback fails with
// ErrInvalidState even inside the TTL window.
func (s *Service) Callback(ctx context.Context, providerName, code, stateToken string) error {
	ctx, span := traces.StartSpan(ctx, "oauthflow.callback", traces.ProviderName(providerName))
	defer span.End()

	p, ok := s.providers[providerName]
	if !ok {
		return ErrUnknownProvider
	}
	if code == "" || stateToken == "" {
		return ErrInvalidState
	}

	st, ok, err := s.states.Take(ctx, stateToken)
	if err != nil {
		return err
	}
	if !ok {
		exchangeFailed.WithLabelValues(providerName, "invalid_state").Inc()
		return ErrInvalidState
	}
	// A state minted for one provider must not authorize another.
	if st.Provider != providerName {
		exchangeFailed.WithLabelValues(providerName, "provider_mismatch").Inc()
		return ErrInvalidState
	}

	// The OAuth path requires a pre-existing namespace; only the tier
	// config write path creates one lazily.
	handle, err := s.dir.GetNamespaceHandle(ctx, st.TenantID)
	if err != nil {
		if errors.Is(err, directory.ErrNoNamespace) {
			exchangeFailed.WithLabelValues(providerName, "namespace_missing").Inc()
			return ErrNamespaceMissing
		}
		return err
	}

	cred, err := p.Exchange(ctx, code)
	if err != nil {
		exchangeFailed.WithLabelValues(providerName, "provider_rejected").Inc()
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	if err := s.vault.WriteCredential(ctx, vault.Handle(handle), providerName, st.Mode, cred); err != nil {
		return err
	}

	exchangeCompleted.WithLabelValues(providerName).Inc()
	return nil
}
