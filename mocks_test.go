package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Mock ledger node for testing
type mockNode struct {
	mu sync.Mutex

	nextNonce       map[AccountAddress]uint64
	nextNonceCalls  int
	balances        map[AccountAddress]uint64
	sent            []SignedTransaction
	statuses        map[string]BlockItemStatus
	nextNonceErr    error
	sendErr         func(tx SignedTransaction) error
	statusErr       error
	consensusErr    error
	blockItemCalled int
}

func newMockNode() *mockNode {
	return &mockNode{
		nextNonce: map[AccountAddress]uint64{},
		balances:  map[AccountAddress]uint64{},
		statuses:  map[string]BlockItemStatus{},
	}
}

func (m *mockNode) NextNonce(_ context.Context, address AccountAddress) (NextNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextNonceCalls++
	if m.nextNonceErr != nil {
		return NextNonce{}, m.nextNonceErr
	}
	n, ok := m.nextNonce[address]
	if !ok {
		n = 1
	}
	return NextNonce{Nonce: n, AllFinal: true}, nil
}

func (m *mockNode) Balance(_ context.Context, address AccountAddress) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[address], nil
}

func (m *mockNode) SendBlockItem(_ context.Context, item []byte) (string, error) {
	tx, err := DecodeTransaction(item)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		if err := m.sendErr(tx); err != nil {
			return "", err
		}
	}
	m.sent = append(m.sent, tx)
	hash := TransactionHash(item)
	m.statuses[hash] = BlockItemStatus{Status: NodeStatusReceived}
	return hash, nil
}

func (m *mockNode) BlockItemStatus(_ context.Context, hash string) (BlockItemStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blockItemCalled++
	if m.statusErr != nil {
		return BlockItemStatus{}, m.statusErr
	}
	status, ok := m.statuses[hash]
	if !ok {
		return BlockItemStatus{}, NewError(ErrCodeNotFound, "block item not found", nil)
	}
	return status, nil
}

func (m *mockNode) ConsensusInfo(context.Context) (ConsensusInfo, error) {
	if m.consensusErr != nil {
		return ConsensusInfo{}, m.consensusErr
	}
	return ConsensusInfo{NetworkID: "testnet", GenesisHash: "00"}, nil
}

func (m *mockNode) Endpoint() string {
	return "mock://node"
}

func (m *mockNode) setStatus(hash string, status BlockItemStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[hash] = status
}

func (m *mockNode) sentTransactions() []SignedTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SignedTransaction(nil), m.sent...)
}

// Mock signer for testing
type mockSigner struct {
	kind    SignerKind
	address AccountAddress
	sign    func(ctx context.Context, header TransactionHeader, payload TransactionPayload) ([]byte, error)
}

func (m *mockSigner) Kind() SignerKind {
	return m.kind
}

func (m *mockSigner) Address() AccountAddress {
	return m.address
}

func (m *mockSigner) Sign(ctx context.Context, header TransactionHeader, payload TransactionPayload) ([]byte, error) {
	if m.sign != nil {
		return m.sign(ctx, header, payload)
	}
	return SignDigest(header, payload)
}

// Manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAddress(seed byte) AccountAddress {
	return AddressFromPublicKey([]byte{seed})
}

func testRequest(sender, recipient AccountAddress, amount string, memo string) PaymentRequest {
	return PaymentRequest{
		Amount:    decimal.RequireFromString(amount),
		Recipient: recipient.String(),
		Memo:      memo,
		Sender:    sender.String(),
	}
}
