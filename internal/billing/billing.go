// Package billing builds and issues outbound checkout and portal
// requests against the payment provider on behalf of a tenant's
// connected account.
package billing

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/plinthhq/plinth/internal/vault"
)

// ErrNotConnected means the tenant has no usable billing credential:
// no account-scoped access token, and no master-key fallback possible.
// Nothing is ever sent to the provider unauthenticated.
var ErrNotConnected = errors.New("billing: tenant not connected")

// AuthKind discriminates the two mutually exclusive authorization
// shapes the provider supports.
type AuthKind int

const (
	// AuthAccessToken authenticates with the tenant's account-scoped
	// OAuth access token, alone.
	AuthAccessToken AuthKind = iota + 1
	// AuthMasterAccount authenticates with the platform master key
	// plus an explicit act-as-account header.
	AuthMasterAccount
)

// Auth is the resolved authorization for one outbound request.
type Auth struct {
	Kind  AuthKind
	Token string
	// AccountID is set only for AuthMasterAccount.
	AccountID string
}

// SelectAuth resolves the authorization shape from the stored
// credential record. Pure; called once per request, never re-branched
// at call sites. Precedence: access token, then master key + connected
// account, then ErrNotConnected.
func SelectAuth(cred *vault.Credential, masterKey string) (Auth, error) {
	if cred != nil && cred.AccessToken != "" {
		return Auth{Kind: AuthAccessToken, Token: cred.AccessToken}, nil
	}
	if cred != nil && cred.AccountID != "" && masterKey != "" {
		return Auth{Kind: AuthMasterAccount, Token: masterKey, AccountID: cred.AccountID}, nil
	}
	return Auth{}, ErrNotConnected
}

// ProviderError carries a payment-provider rejection verbatim.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing: provider error (%d): %s", e.StatusCode, e.Message)
}

// normalizeProviderErr converts provider SDK failures into
// ProviderError, preserving the upstream message and status when
// available and falling back to 500 otherwise.
func normalizeProviderErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		status := se.HTTPStatusCode
		if status == 0 {
			status = 500
		}
		msg := se.Msg
		if msg == "" {
			msg = "payment provider error"
		}
		return &ProviderError{StatusCode: status, Message: msg}
	}
	return &ProviderError{StatusCode: 500, Message: err.Error()}
}
