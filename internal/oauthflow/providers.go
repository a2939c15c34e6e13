package oauthflow

import (
	"context"
	"net/url"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/plinthhq/plinth/internal/vault"
)

// Provider names, also the :provider path segment on the HTTP routes.
const (
	ProviderGitHub = "github"
	ProviderStripe = "stripe"
)

// GitHubProvider exchanges codes against the GitHub-like identity
// provider.
type GitHubProvider struct {
	cfg *oauth2.Config
}

// NewGitHubProvider configures the identity-provider flow.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     githuboauth.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
	}
}

func (p *GitHubProvider) Name() string { return ProviderGitHub }

func (p *GitHubProvider) AuthorizeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*vault.Credential, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return &vault.Credential{AccessToken: tok.AccessToken}, nil
}

const stripeAuthorizeEndpoint = "https://connect.stripe.com/oauth/authorize"

// StripeProvider exchanges codes against the payment provider's connect
// flow. The returned credential carries both the account-scoped access
// token and the connected-account id.
type StripeProvider struct {
	clientID string
	api      *client.API
}

// NewStripeProvider configures the payment-provider flow. The platform
// secret key authenticates the token exchange itself.
func NewStripeProvider(clientID, platformSecretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(platformSecretKey, nil)
	return &StripeProvider{clientID: clientID, api: api}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.clientID)
	q.Set("scope", "read_write")
	q.Set("state", state)
	return stripeAuthorizeEndpoint + "?" + q.Encode()
}

func (p *StripeProvider) Exchange(ctx context.Context, code string) (*vault.Credential, error) {
	params := &stripe.OAuthTokenParams{
		GrantType: stripe.String("authorization_code"),
		Code:      stripe.String(code),
	}
	params.Context = ctx
	tok, err := p.api.OAuth.New(params)
	if err != nil {
		return nil, err
	}
	return &vault.Credential{
		AccessToken: tok.AccessToken,
		AccountID:   tok.StripeUserID,
		Scope:       string(tok.Scope),
		Livemode:    tok.Livemode,
	}, nil
}
