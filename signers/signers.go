// Package signers picks the signer variant a payment request asks for.
package signers

import (
	"context"

	"github.com/odla-network/settlement"
	"github.com/odla-network/settlement/signers/custodial"
	"github.com/odla-network/settlement/signers/delegated"
)

// Credentials are the signing fields of a payment request. Exactly one of
// SenderKey and SessionID is expected; SenderKey wins when both are set.
type Credentials struct {
	SenderAddress string
	SenderKey     string
	SessionID     string
}

// Resolver builds the signer for a request
type Resolver struct {
	hub *delegated.Hub
}

// NewResolver creates a resolver. A nil hub disables delegated signing.
func NewResolver(hub *delegated.Hub) *Resolver {
	return &Resolver{hub: hub}
}

// Hub returns the wallet hub, or nil when delegated signing is disabled
func (r *Resolver) Hub() *delegated.Hub {
	return r.hub
}

// Resolve returns a custodial signer for a private key or the delegated
// signer of a connected wallet session. Requests carrying neither fail with
// ErrMissingField naming sender_key.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (settlement.Signer, error) {
	switch {
	case creds.SenderKey != "":
		return custodial.NewSignerFromPrivateKey(creds.SenderKey, creds.SenderAddress)
	case creds.SessionID != "":
		if r.hub == nil {
			return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable,
				"delegated signing is not enabled on this relay", nil)
		}
		return r.hub.Signer(ctx, creds.SessionID)
	}
	return nil, settlement.NewError(settlement.ErrCodeMissingField, "missing required field: sender_key",
		map[string]interface{}{"field": "sender_key"})
}
