package settlement

import (
	"fmt"
	"time"
)

// TransactionBuilder assembles transfer headers and payloads
type TransactionBuilder struct {
	clock        Clock
	expiryWindow time.Duration
}

// BuilderOption configures the builder
type BuilderOption func(*TransactionBuilder)

// WithBuilderClock sets the clock used for expiry
func WithBuilderClock(clock Clock) BuilderOption {
	return func(b *TransactionBuilder) {
		b.clock = clock
	}
}

// WithExpiryWindow overrides the default five minute validity window
func WithExpiryWindow(window time.Duration) BuilderOption {
	return func(b *TransactionBuilder) {
		if window > 0 {
			b.expiryWindow = window
		}
	}
}

// NewTransactionBuilder creates a builder
func NewTransactionBuilder(opts ...BuilderOption) *TransactionBuilder {
	b := &TransactionBuilder{
		clock:        SystemClock{},
		expiryWindow: DefaultExpiryWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExpiryWindow returns the validity window of built transactions
func (b *TransactionBuilder) ExpiryWindow() time.Duration {
	return b.expiryWindow
}

// Build assembles a transfer valid for the builder's expiry window
func (b *TransactionBuilder) Build(req PaymentRequest, nonce uint64) (TransactionHeader, TransactionPayload, error) {
	return b.BuildWithExpiry(req, nonce, b.clock.Now().Add(b.expiryWindow))
}

// BuildWithExpiry assembles a transfer with an explicit expiry, which must be
// strictly in the future.
func (b *TransactionBuilder) BuildWithExpiry(
	req PaymentRequest,
	nonce uint64,
	expiry time.Time,
) (TransactionHeader, TransactionPayload, error) {
	sender, err := ParseAddress(req.Sender)
	if err != nil {
		return TransactionHeader{}, TransactionPayload{}, err
	}
	recipient, err := ParseAddress(req.Recipient)
	if err != nil {
		return TransactionHeader{}, TransactionPayload{}, err
	}
	amount, err := ToSmallestUnit(req.Amount)
	if err != nil {
		return TransactionHeader{}, TransactionPayload{}, err
	}
	if err := ValidateMemo(req.Memo); err != nil {
		return TransactionHeader{}, TransactionPayload{}, err
	}

	// Expiry has one second resolution on the ledger.
	expiry = expiry.Truncate(time.Second)
	if !expiry.After(b.clock.Now()) {
		return TransactionHeader{}, TransactionPayload{}, NewError(ErrCodeTransactionExpired,
			"expiry must be in the future",
			map[string]interface{}{"expiry": expiry.UTC().Format(time.RFC3339)})
	}

	header := TransactionHeader{
		Sender: sender,
		Nonce:  nonce,
		Expiry: expiry.Unix(),
		Energy: TransferEnergy,
	}
	payload := TransactionPayload{
		Type:      TransactionTypeTransfer,
		Recipient: recipient,
		Amount:    amount,
		Memo:      req.Memo,
	}
	return header, payload, nil
}

// ValidateMemo checks the memo fits the ledger limit
func ValidateMemo(memo string) error {
	if len(memo) > MaxMemoSize {
		return NewError(ErrCodeInvalidMemo,
			fmt.Sprintf("memo is %d bytes, maximum is %d", len(memo), MaxMemoSize), nil)
	}
	return nil
}
