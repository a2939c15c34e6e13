package billing

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/tiers"
	"github.com/plinthhq/plinth/internal/traces"
	"github.com/plinthhq/plinth/internal/vault"
)

// ProviderClient is the slice of the payment-provider SDK the proxy
// uses. Satisfied by apiClient in production and by fakes in tests.
type ProviderClient interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// ClientFactory builds a ProviderClient authenticated with the given
// bearer token. The act-as-account header, when needed, is set on the
// request params, not the client.
type ClientFactory func(token string) ProviderClient

type apiClient struct {
	api *client.API
}

func (c *apiClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *apiClient) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return c.api.BillingPortalSessions.New(params)
}

// NewAPIClient is the production ClientFactory.
func NewAPIClient(token string) ProviderClient {
	api := &client.API{}
	api.Init(token, nil)
	return &apiClient{api: api}
}

// CheckoutRequest describes one checkout-session creation.
type CheckoutRequest struct {
	TenantID  string
	PublicKey string
	Mode      directory.Mode

	// Tier names a configured tier; PriceID bypasses tier resolution
	// when the caller supplies a concrete price.
	Tier    string
	PriceID string

	SubjectID    string
	SubjectEmail string

	SuccessURL string
	CancelURL  string
}

// Service is the billing proxy.
type Service struct {
	dir       directory.Store
	vault     *vault.Vault
	tiers     *tiers.Service
	masterKey string
	newClient ClientFactory
}

// NewService creates a billing proxy. masterKey may be empty when the
// platform runs without a master-credential fallback.
func NewService(dir directory.Store, v *vault.Vault, t *tiers.Service, masterKey string, factory ClientFactory) *Service {
	if factory == nil {
		factory = NewAPIClient
	}
	return &Service{dir: dir, vault: v, tiers: t, masterKey: masterKey, newClient: factory}
}

// auth resolves the tenant's authorization for one request. Fails with
// ErrNotConnected before any network call when nothing usable exists.
func (s *Service) auth(ctx context.Context, tenantID string, mode directory.Mode) (Auth, error) {
	handle, err := s.dir.GetNamespaceHandle(ctx, tenantID)
	if err != nil {
		if errors.Is(err, directory.ErrNoNamespace) {
			return Auth{}, ErrNotConnected
		}
		return Auth{}, err
	}
	cred, ok, err := s.vault.ReadCredential(ctx, vault.Handle(handle), "stripe", mode)
	if err != nil {
		return Auth{}, err
	}
	if !ok {
		cred = nil
	}
	return SelectAuth(cred, s.masterKey)
}

// CreateCheckoutSession resolves pricing and credentials, then creates
// a provider checkout session. Returns the redirect URL. Single
// attempt; a failed call is retried only by the user re-clicking.
func (s *Service) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (string, error) {
	ctx, span := traces.StartSpan(ctx, "billing.checkout",
		traces.TenantID(req.TenantID),
		traces.SubjectID(req.SubjectID),
		traces.EnvMode(string(req.Mode)))
	defer span.End()

	tierName := req.Tier
	priceID := req.PriceID
	var trialDays int64

	if priceID == "" {
		if tierName == "" {
			tierName = tiers.DefaultTierName
		}
		cfg, err := s.tiers.Get(ctx, req.TenantID, req.Mode)
		if err != nil {
			return "", err
		}
		tier, ok := cfg.Find(tierName)
		if !ok {
			return "", tiers.ErrTierNotFound
		}
		if tier.PriceID == "" {
			return "", tiers.ErrNoPrice
		}
		priceID = tier.PriceID
		trialDays = cfg.TrialDays
	}
	if tierName != "" {
		span.SetAttributes(traces.TierName(tierName))
	}

	auth, err := s.auth(ctx, req.TenantID, req.Mode)
	if err != nil {
		return "", err
	}

	// Metadata on both the session and the subscription lets the
	// provider's async status notifications be correlated back to
	// (tenant, subject) without a lookup table.
	meta := map[string]string{
		"subjectId": req.SubjectID,
		"tier":      tierName,
		"publicKey": req.PublicKey,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.SubjectID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	if req.SubjectEmail != "" {
		params.CustomerEmail = stripe.String(req.SubjectEmail)
	}
	if trialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(trialDays)
	}
	if auth.Kind == AuthMasterAccount {
		params.SetStripeAccount(auth.AccountID)
	}

	sess, err := s.newClient(auth.Token).NewCheckoutSession(params)
	if err != nil {
		checkoutTotal.WithLabelValues(string(req.Mode), "error").Inc()
		return "", normalizeProviderErr(err)
	}

	checkoutTotal.WithLabelValues(string(req.Mode), "ok").Inc()
	return sess.URL, nil
}

// CreatePortalSession creates a billing-portal session for an existing
// provider customer. The caller is responsible for mapping a missing
// customer id to its user-facing "no active subscription" condition.
func (s *Service) CreatePortalSession(ctx context.Context, tenantID string, mode directory.Mode, customerID, returnURL string) (string, error) {
	auth, err := s.auth(ctx, tenantID, mode)
	if err != nil {
		return "", err
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	if auth.Kind == AuthMasterAccount {
		params.SetStripeAccount(auth.AccountID)
	}

	sess, err := s.newClient(auth.Token).NewPortalSession(params)
	if err != nil {
		portalTotal.WithLabelValues(string(mode), "error").Inc()
		return "", normalizeProviderErr(err)
	}

	portalTotal.WithLabelValues(string(mode), "ok").Inc()
	return sess.URL, nil
}
