package custodial

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/odla-network/settlement"
)

// Signer signs transfers with an ed25519 private key held by the relay.
// Signing is synchronous and deterministic.
type Signer struct {
	privateKey ed25519.PrivateKey
	address    settlement.AccountAddress
}

var _ settlement.Signer = (*Signer)(nil)

// NewSignerFromPrivateKey creates a signer from a hex-encoded key.
//
// Args:
//
//	privateKeyHex: 32-byte seed or 64-byte private key, hex, with or without "0x"
//	sender: the account address the key is expected to control, or "" to skip the check
//
// Returns ErrInvalidKey when the key does not parse and ErrSignerMismatch when
// it does not control sender.
func NewSignerFromPrivateKey(privateKeyHex string, sender string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, settlement.WrapError(settlement.ErrCodeInvalidKey, err, "private key is not valid hex")
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !key.Equal(ed25519.PrivateKey(raw)) {
			return nil, settlement.NewError(settlement.ErrCodeInvalidKey,
				"private key does not match its embedded public key", nil)
		}
	default:
		return nil, settlement.NewError(settlement.ErrCodeInvalidKey,
			fmt.Sprintf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw)),
			nil)
	}

	s := NewSigner(key)
	if sender != "" {
		declared, err := settlement.ParseAddress(sender)
		if err != nil {
			return nil, err
		}
		if declared != s.address {
			return nil, settlement.NewError(settlement.ErrCodeSignerMismatch,
				"private key does not control the sender account",
				map[string]interface{}{"sender": sender, "derived": s.address.String()})
		}
	}
	return s, nil
}

// NewSigner creates a signer from a parsed key
func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{
		privateKey: key,
		address:    settlement.AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
	}
}

// Kind implements settlement.Signer
func (s *Signer) Kind() settlement.SignerKind {
	return settlement.SignerCustodial
}

// Address implements settlement.Signer
func (s *Signer) Address() settlement.AccountAddress {
	return s.address
}

// PublicKey returns the verification key
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Sign implements settlement.Signer
func (s *Signer) Sign(_ context.Context, header settlement.TransactionHeader, payload settlement.TransactionPayload) ([]byte, error) {
	if header.Sender != s.address {
		return nil, settlement.NewError(settlement.ErrCodeSignerMismatch,
			"transaction sender is not the signer's account", nil)
	}
	digest, err := settlement.SignDigest(header, payload)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(s.privateKey, digest), nil
}
