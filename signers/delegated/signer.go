package delegated

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
)

// Wallet events
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// PayloadShape names the encoding of the payload sent to a wallet
type PayloadShape string

const (
	// ShapeTyped wraps every field in a typed object, the form current
	// wallet extensions expect
	ShapeTyped PayloadShape = "typed"
	// ShapePlain sends bare values, accepted by older wallets
	ShapePlain PayloadShape = "plain"
)

// SignRequest is what a wallet is asked to approve and sign
type SignRequest struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Shape   PayloadShape    `json:"shape"`
	Header  HeaderView      `json:"header"`
	Payload json.RawMessage `json:"payload"`
	// Digest is the hex BLAKE3 sign digest the wallet signs
	Digest string `json:"digest"`
}

// HeaderView is the header as shown to the wallet
type HeaderView struct {
	Sender string `json:"sender"`
	Nonce  uint64 `json:"nonce"`
	Expiry int64  `json:"expiry"`
	Energy uint64 `json:"energy"`
}

// WalletAgent is the signing capability of a user's wallet.
//
// SendTransaction returns the signature over the request digest, or
// ErrUserRejected when the user declined and ErrSigningUnavailable when the
// wallet cannot handle the request.
type WalletAgent interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	SendTransaction(ctx context.Context, req SignRequest) ([]byte, error)
}

// EventSource is implemented by agents that report account and chain changes
type EventSource interface {
	On(event string, handler func(args ...string))
}

// Signer forwards transfers to a wallet the user controls
type Signer struct {
	agent   WalletAgent
	network string
	logger  *zap.Logger

	mu          sync.RWMutex
	address     settlement.AccountAddress
	unavailable string
}

var _ settlement.Signer = (*Signer)(nil)

// Option configures a Signer
type Option func(*Signer)

// WithNetwork pins the network the wallet must stay on
func WithNetwork(network string) Option {
	return func(s *Signer) {
		s.network = network
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Signer) {
		s.logger = logger
	}
}

// NewSigner connects to agent and adopts its first account.
// A nil agent fails with ErrSigningUnavailable.
func NewSigner(ctx context.Context, agent WalletAgent, opts ...Option) (*Signer, error) {
	if agent == nil {
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, "no wallet connected", nil)
	}

	s := &Signer{agent: agent, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	accounts, err := agent.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, "wallet exposes no accounts", nil)
	}
	address, err := settlement.ParseAddress(accounts[0])
	if err != nil {
		return nil, err
	}
	s.address = address

	if events, ok := agent.(EventSource); ok {
		events.On(EventAccountsChanged, s.accountsChanged)
		events.On(EventChainChanged, s.chainChanged)
	}
	return s, nil
}

// Kind implements settlement.Signer
func (s *Signer) Kind() settlement.SignerKind {
	return settlement.SignerDelegated
}

// Address implements settlement.Signer
func (s *Signer) Address() settlement.AccountAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Sign asks the wallet to sign. The typed payload shape is tried first; a
// wallet reporting it cannot handle it gets the plain shape once. A user
// rejection is returned as is and never retried.
func (s *Signer) Sign(
	ctx context.Context,
	header settlement.TransactionHeader,
	payload settlement.TransactionPayload,
) ([]byte, error) {
	s.mu.RLock()
	address, unavailable := s.address, s.unavailable
	s.mu.RUnlock()

	if unavailable != "" {
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, unavailable, nil)
	}
	if header.Sender != address {
		return nil, settlement.NewError(settlement.ErrCodeSignerMismatch,
			"wallet account changed since the transaction was built",
			map[string]interface{}{"sender": header.Sender.String(), "wallet": address.String()})
	}

	digest, err := settlement.SignDigest(header, payload)
	if err != nil {
		return nil, err
	}

	sig, err := s.send(ctx, ShapeTyped, header, payload, digest)
	if err == nil || !settlement.HasCode(err, settlement.ErrCodeSigningUnavailable) {
		return sig, err
	}

	s.logger.Info("wallet refused typed payload, retrying with plain shape", zap.Error(err))
	sig, err = s.send(ctx, ShapePlain, header, payload, digest)
	if err != nil && settlement.HasCode(err, settlement.ErrCodeSigningUnavailable) {
		return nil, settlement.WrapError(settlement.ErrCodeSigningUnavailable, err,
			"wallet cannot sign transfers")
	}
	return sig, err
}

func (s *Signer) send(
	ctx context.Context,
	shape PayloadShape,
	header settlement.TransactionHeader,
	payload settlement.TransactionPayload,
	digest []byte,
) ([]byte, error) {
	body, err := EncodePayload(shape, payload)
	if err != nil {
		return nil, err
	}
	sig, err := s.agent.SendTransaction(ctx, SignRequest{
		Type:  payload.Type,
		Shape: shape,
		Header: HeaderView{
			Sender: header.Sender.String(),
			Nonce:  header.Nonce,
			Expiry: header.Expiry,
			Energy: header.Energy,
		},
		Payload: body,
		Digest:  hex.EncodeToString(digest),
	})
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, "wallet returned an empty signature", nil)
	}
	return sig, nil
}

func (s *Signer) accountsChanged(args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(args) == 0 || args[0] == "" {
		s.unavailable = "wallet disconnected all accounts"
		return
	}
	address, err := settlement.ParseAddress(args[0])
	if err != nil {
		s.logger.Warn("wallet reported an invalid account", zap.String("account", args[0]))
		s.unavailable = "wallet reported an invalid account"
		return
	}
	s.address = address
	s.unavailable = ""
}

func (s *Signer) chainChanged(args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.network == "" || len(args) == 0 {
		return
	}
	if args[0] != s.network {
		s.unavailable = "wallet switched to network " + args[0]
		return
	}
	s.unavailable = ""
}

// EncodePayload renders payload in the given shape
func EncodePayload(shape PayloadShape, payload settlement.TransactionPayload) (json.RawMessage, error) {
	var v interface{}
	switch shape {
	case ShapeTyped:
		typed := map[string]interface{}{
			"amount":    map[string]string{"microCCDAmount": strconv.FormatUint(payload.Amount, 10)},
			"toAddress": map[string]string{"address": payload.Recipient.String()},
		}
		if payload.Memo != "" {
			typed["memo"] = map[string]string{"memo": payload.Memo}
		}
		v = typed
	case ShapePlain:
		plain := map[string]interface{}{
			"amount":    payload.Amount,
			"toAddress": payload.Recipient.String(),
		}
		if payload.Memo != "" {
			plain["memo"] = payload.Memo
		}
		v = plain
	default:
		return nil, errors.Errorf("unknown payload shape %q", shape)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}
