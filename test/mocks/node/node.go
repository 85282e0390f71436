package node

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	"github.com/odla-network/settlement/ledger"
)

// DefaultNetworkID is reported by the developer node
const DefaultNetworkID = "odla-devnet"

// ============================================================================
// In-memory ledger
// ============================================================================

// Ledger is an in-memory account ledger speaking the node JSON-RPC API.
//
// Transfers are checked the way a real node checks them: the nonce must be
// the sender's next one, the transaction must not be expired, the sender
// must afford the amount, and signatures are verified for accounts whose
// public key was registered. Accepted items start as "received" and become
// "finalized" through Finalize or immediately with auto finalization.
type Ledger struct {
	mu sync.Mutex

	clock        settlement.Clock
	networkID    string
	autoFinalize bool
	logger       *zap.Logger

	accounts map[settlement.AccountAddress]*account
	items    map[string]*blockItem
	height   uint64
}

type account struct {
	balance uint64
	nonce   uint64
	key     ed25519.PublicKey
}

type blockItem struct {
	tx      settlement.SignedTransaction
	status  string
	outcome string
	block   string
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock sets the clock used for expiry checks
func WithClock(clock settlement.Clock) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithNetworkID sets the reported network id
func WithNetworkID(id string) Option {
	return func(l *Ledger) {
		l.networkID = id
	}
}

// WithAutoFinalize finalizes every accepted item at once
func WithAutoFinalize(enabled bool) Option {
	return func(l *Ledger) {
		l.autoFinalize = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:     settlement.SystemClock{},
		networkID: DefaultNetworkID,
		logger:    zap.NewNop(),
		accounts:  map[settlement.AccountAddress]*account{},
		items:     map[string]*blockItem{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fund credits microCCD to address
func (l *Ledger) Fund(address settlement.AccountAddress, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account(address).balance += amount
}

// RegisterKey creates the account owned by pub and enables signature checks on it
func (l *Ledger) RegisterKey(pub ed25519.PublicKey) settlement.AccountAddress {
	l.mu.Lock()
	defer l.mu.Unlock()

	address := settlement.AddressFromPublicKey(pub)
	l.account(address).key = pub
	return address
}

// SetNextNonce overrides the next nonce of address
func (l *Ledger) SetNextNonce(address settlement.AccountAddress, nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account(address).nonce = nonce
}

// Balance returns the balance of address in microCCD
func (l *Ledger) Balance(address settlement.AccountAddress) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.account(address).balance
}

// NextNonce returns the next nonce the ledger accepts from address
func (l *Ledger) NextNonce(address settlement.AccountAddress) settlement.NextNonce {
	l.mu.Lock()
	defer l.mu.Unlock()

	allFinal := true
	for _, item := range l.items {
		if item.tx.Header.Sender == address && item.status != settlement.NodeStatusFinalized {
			allFinal = false
			break
		}
	}
	return settlement.NextNonce{Nonce: l.account(address).nonce, AllFinal: allFinal}
}

// Submit validates and applies a serialized transfer and returns its hash
func (l *Ledger) Submit(encoded []byte) (string, error) {
	tx, err := settlement.DecodeTransaction(encoded)
	if err != nil {
		return "", ledger.Errorf(-32602, "malformed block item: %v", err)
	}
	hash := settlement.TransactionHash(encoded)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.items[hash]; exists {
		return "", ledger.Errorf(ledger.CodeDuplicate, "block item %s already submitted", hash)
	}
	if tx.Payload.Type != settlement.TransactionTypeTransfer {
		return "", ledger.Errorf(-32602, "unsupported transaction type %q", tx.Payload.Type)
	}
	if !tx.Header.ExpiresAt().After(l.clock.Now()) {
		return "", ledger.Errorf(ledger.CodeExpired, "transaction expired at %d", tx.Header.Expiry)
	}

	sender := l.account(tx.Header.Sender)
	if sender.key != nil {
		digest, err := settlement.SignDigest(tx.Header, tx.Payload)
		if err != nil {
			return "", errors.WithStack(err)
		}
		if !ed25519.Verify(sender.key, digest, tx.Signature) {
			return "", ledger.Errorf(ledger.CodeBadSignature, "invalid signature")
		}
	}

	switch {
	case tx.Header.Nonce < sender.nonce:
		return "", ledger.Errorf(ledger.CodeNonceTooLow, "nonce %d too low, next is %d", tx.Header.Nonce, sender.nonce)
	case tx.Header.Nonce > sender.nonce:
		return "", ledger.Errorf(ledger.CodeNonceGap, "nonce %d skips ahead, next is %d", tx.Header.Nonce, sender.nonce)
	}
	if sender.balance < tx.Payload.Amount {
		return "", ledger.Errorf(ledger.CodeInsufficientFunds, "balance %d below amount %d",
			sender.balance, tx.Payload.Amount)
	}

	sender.balance -= tx.Payload.Amount
	sender.nonce++
	l.account(tx.Payload.Recipient).balance += tx.Payload.Amount

	item := &blockItem{tx: tx, status: settlement.NodeStatusReceived}
	l.items[hash] = item
	if l.autoFinalize {
		l.finalizeLocked(item, settlement.OutcomeSuccess)
	}

	l.logger.Debug("block item accepted",
		zap.String("hash", hash),
		zap.String("sender", tx.Header.Sender.String()),
		zap.Uint64("nonce", tx.Header.Nonce),
		zap.Uint64("amount", tx.Payload.Amount))
	return hash, nil
}

// Status returns the state of a block item
func (l *Ledger) Status(hash string) (settlement.BlockItemStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[hash]
	if !ok {
		return settlement.BlockItemStatus{}, ledger.Errorf(ledger.CodeNotFound, "block item %s not found", hash)
	}
	return settlement.BlockItemStatus{Status: item.status, Outcome: item.outcome, Block: item.block}, nil
}

// Commit moves received items into a block without finalizing them
func (l *Ledger) Commit() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for _, item := range l.items {
		if item.status == settlement.NodeStatusReceived {
			item.status = settlement.NodeStatusCommitted
			item.block = l.nextBlockLocked()
			n++
		}
	}
	return n
}

// Finalize finalizes every pending item successfully and returns how many
func (l *Ledger) Finalize() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int
	for _, item := range l.items {
		if item.status != settlement.NodeStatusFinalized {
			l.finalizeLocked(item, settlement.OutcomeSuccess)
			n++
		}
	}
	return n
}

// Reject finalizes a pending item with a reject outcome and refunds it
func (l *Ledger) Reject(hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[hash]
	if !ok {
		return ledger.Errorf(ledger.CodeNotFound, "block item %s not found", hash)
	}
	if item.status == settlement.NodeStatusFinalized {
		return errors.Errorf("block item %s is already finalized", hash)
	}
	l.account(item.tx.Payload.Recipient).balance -= item.tx.Payload.Amount
	l.account(item.tx.Header.Sender).balance += item.tx.Payload.Amount
	l.finalizeLocked(item, settlement.OutcomeReject)
	return nil
}

// ConsensusInfo describes the ledger
func (l *Ledger) ConsensusInfo() settlement.ConsensusInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	genesis := blake3.Sum256([]byte(l.networkID))
	return settlement.ConsensusInfo{
		NetworkID:   l.networkID,
		GenesisHash: hex.EncodeToString(genesis[:]),
		BestBlock:   blockHash(l.height),
	}
}

func (l *Ledger) account(address settlement.AccountAddress) *account {
	acc, ok := l.accounts[address]
	if !ok {
		// account nonces start at 1
		acc = &account{nonce: 1}
		l.accounts[address] = acc
	}
	return acc
}

func (l *Ledger) finalizeLocked(item *blockItem, outcome string) {
	if item.block == "" {
		item.block = l.nextBlockLocked()
	}
	item.status = settlement.NodeStatusFinalized
	item.outcome = outcome
}

func (l *Ledger) nextBlockLocked() string {
	l.height++
	return blockHash(l.height)
}

func blockHash(height uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	sum := blake3.Sum256(b[:])
	return hex.EncodeToString(sum[:])
}

// ============================================================================
// JSON-RPC server
// ============================================================================

// Server returns a JSON-RPC server exposing the ledger.
// *rpc.Server is an http.Handler.
func (l *Ledger) Server() (*rpc.Server, error) {
	server := rpc.NewServer()
	services := map[string]interface{}{
		"account": &accountService{l: l},
		"tx":      &txService{l: l},
		"node":    &nodeService{l: l},
	}
	for name, svc := range services {
		if err := server.RegisterName(name, svc); err != nil {
			server.Stop()
			return nil, errors.Wrapf(err, "registering %s service failed", name)
		}
	}
	return server, nil
}

// Client returns a ledger client connected in process
func (l *Ledger) Client() (*ledger.Client, error) {
	server, err := l.Server()
	if err != nil {
		return nil, err
	}
	return ledger.NewClient(rpc.DialInProc(server), "inproc://devnode", 0), nil
}
