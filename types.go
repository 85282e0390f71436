package settlement

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionTypeTransfer is the only transaction type the relay builds
const TransactionTypeTransfer = "transfer"

// TransferEnergy is the fixed execution cost charged for a simple transfer
const TransferEnergy uint64 = 501

// DefaultExpiryWindow is how long a built transaction stays valid
const DefaultExpiryWindow = 5 * time.Minute

// MaxMemoSize is the largest memo the ledger accepts, in bytes
const MaxMemoSize = 256

// ============================================================================
// Transaction status
// ============================================================================

// TransactionStatus is the relay's view of a submitted transaction
type TransactionStatus string

const (
	StatusSubmitted TransactionStatus = "submitted"
	StatusReceived  TransactionStatus = "received"
	StatusFinalized TransactionStatus = "finalized"
	StatusRejected  TransactionStatus = "rejected"
	StatusExpired   TransactionStatus = "expired"
	StatusUnknown   TransactionStatus = "unknown"
)

// IsTerminal reports whether no further state change can be observed
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusFinalized, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// rank orders statuses so that observations never move a record backwards.
func (s TransactionStatus) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusReceived, StatusUnknown:
		return 1
	case StatusFinalized, StatusRejected, StatusExpired:
		return 2
	}
	return 0
}

// ============================================================================
// Requests and transactions
// ============================================================================

// PaymentRequest is a request to move Amount CCD from Sender to Recipient
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
	Memo      string          `json:"memo,omitempty"`
	Sender    string          `json:"sender_address"`
}

// TransactionPayload is the body of a transfer
type TransactionPayload struct {
	Type      string         `json:"type" cbor:"1,keyasint"`
	Recipient AccountAddress `json:"recipient" cbor:"2,keyasint"`
	Amount    uint64         `json:"amount" cbor:"3,keyasint"`
	Memo      string         `json:"memo,omitempty" cbor:"4,keyasint,omitempty"`
}

// TransactionHeader carries the sender-side fields of a transaction
type TransactionHeader struct {
	Sender AccountAddress `json:"sender" cbor:"1,keyasint"`
	Nonce  uint64         `json:"nonce" cbor:"2,keyasint"`
	Expiry int64          `json:"expiry" cbor:"3,keyasint"`
	Energy uint64         `json:"energy" cbor:"4,keyasint"`
}

// ExpiresAt returns the header expiry as a time
func (h TransactionHeader) ExpiresAt() time.Time {
	return time.Unix(h.Expiry, 0)
}

// SignedTransaction is a header and payload together with the sender's signature
type SignedTransaction struct {
	Header    TransactionHeader  `cbor:"1,keyasint"`
	Payload   TransactionPayload `cbor:"2,keyasint"`
	Signature []byte             `cbor:"3,keyasint"`
}

// TransactionRecord tracks a broadcast transaction
type TransactionRecord struct {
	Hash        string            `json:"transaction_hash"`
	Status      TransactionStatus `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Sender      string            `json:"sender"`
	Recipient   string            `json:"recipient"`
	Amount      uint64            `json:"amount_microccd"`
	Memo        string            `json:"memo,omitempty"`
	Nonce       uint64            `json:"nonce"`
	Expiry      time.Time         `json:"expiry"`
}

// Receipt is returned by a successful payment
type Receipt struct {
	Record TransactionRecord
	Amount decimal.Decimal
	Signer SignerKind
}

// ============================================================================
// Ledger node views
// ============================================================================

// NextNonce is the node's view of the next usable nonce of an account
type NextNonce struct {
	Nonce uint64 `json:"nonce"`
	// AllFinal is true when every transaction the node knows of is finalized
	AllFinal bool `json:"allFinal"`
}

// BlockItemStatus is the raw state the node reports for a transaction
type BlockItemStatus struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
	Block   string `json:"block,omitempty"`
}

// ConsensusInfo describes the ledger network the node follows
type ConsensusInfo struct {
	NetworkID   string `json:"networkId"`
	GenesisHash string `json:"genesisHash"`
	BestBlock   string `json:"bestBlock,omitempty"`
}

// Health is the relay's health report
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Node      string `json:"node"`
	NetworkID string `json:"network_id"`
}

// ============================================================================
// Signer kinds
// ============================================================================

// SignerKind tags the two signer variants
type SignerKind int

const (
	SignerCustodial SignerKind = iota
	SignerDelegated
)

func (k SignerKind) String() string {
	switch k {
	case SignerCustodial:
		return "custodial"
	case SignerDelegated:
		return "delegated"
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its name
func (k SignerKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Interactive reports whether signing involves a human
func (k SignerKind) Interactive() bool {
	return k == SignerDelegated
}

// ParseStatus maps a status name back to a TransactionStatus
func ParseStatus(s string) TransactionStatus {
	switch TransactionStatus(strings.ToLower(s)) {
	case StatusSubmitted:
		return StatusSubmitted
	case StatusReceived:
		return StatusReceived
	case StatusFinalized:
		return StatusFinalized
	case StatusRejected:
		return StatusRejected
	case StatusExpired:
		return StatusExpired
	}
	return StatusUnknown
}
