package settlement

import (
	"context"
	"time"
)

// Signer produces the signature of a transfer on behalf of its sender.
//
// Two variants exist:
//   - custodial signers hold the private key and sign synchronously
//   - delegated signers forward the transaction to a wallet the user controls
//     and wait for the user's decision
//
// Sign returns ErrUserRejected when the user declined and
// ErrSigningUnavailable when no compatible signing capability exists.
type Signer interface {
	Kind() SignerKind
	Address() AccountAddress
	Sign(ctx context.Context, header TransactionHeader, payload TransactionPayload) ([]byte, error)
}

// NodeClient is the subset of the ledger node API the relay uses.
// Implementations return *Error values for classified node rejections.
type NodeClient interface {
	// NextNonce returns the next nonce the node expects from the account
	NextNonce(ctx context.Context, address AccountAddress) (NextNonce, error)

	// Balance returns the account balance in microCCD
	Balance(ctx context.Context, address AccountAddress) (uint64, error)

	// SendBlockItem submits a serialized signed transaction and returns its hash
	SendBlockItem(ctx context.Context, item []byte) (string, error)

	// BlockItemStatus returns the node's state for a transaction hash.
	// ErrNotFound is returned for hashes the node has never seen.
	BlockItemStatus(ctx context.Context, hash string) (BlockItemStatus, error)

	// ConsensusInfo describes the network the node is on
	ConsensusInfo(ctx context.Context) (ConsensusInfo, error)

	// Endpoint identifies the node for health reporting
	Endpoint() string
}

// Clock abstracts time so expiry handling can be tested
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}
