package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServiceName identifies the relay in health reports
const ServiceName = "settlement-relay"

// DefaultDelegatedLease bounds how long a wallet user may take to approve
const DefaultDelegatedLease = 2 * time.Minute

// maxPayAttempts is the first attempt plus one resynchronized retry
const maxPayAttempts = 2

// Relay settles payments on the ledger.
//
// Pay turns a PaymentRequest into a signed transfer: it reserves the sender's
// next nonce, builds and signs the transaction, broadcasts it and records the
// result. Status queries go through the StatusTracker and never regress a
// settled record.
type Relay struct {
	node        NodeClient
	nonces      *NonceAllocator
	builder     *TransactionBuilder
	broadcaster *Broadcaster
	tracker     *StatusTracker
	history     *PaymentHistory
	cache       *PaymentCache
	clock       Clock
	logger      *zap.Logger

	delegatedLease time.Duration

	hooksMu              sync.RWMutex
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// RelayConfig holds the tunables of a Relay
type RelayConfig struct {
	Clock          Clock
	Logger         *zap.Logger
	Lease          time.Duration
	DelegatedLease time.Duration
	ExpiryWindow   time.Duration
	HistorySize    int
	CacheTTL       time.Duration
}

// RelayOption configures a Relay
type RelayOption func(*RelayConfig)

// WithClock sets the clock used for expiry and record timestamps
func WithClock(clock Clock) RelayOption {
	return func(c *RelayConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RelayOption {
	return func(c *RelayConfig) {
		c.Logger = logger
	}
}

// WithNonceLease sets the lease of custodial reservations
func WithNonceLease(lease time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.Lease = lease
	}
}

// WithDelegatedLease sets the lease of reservations signed by a wallet user
func WithDelegatedLease(lease time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.DelegatedLease = lease
	}
}

// WithTransactionExpiry sets how long built transactions stay valid
func WithTransactionExpiry(window time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.ExpiryWindow = window
	}
}

// WithHistorySize sets the number of records kept in history
func WithHistorySize(size int) RelayOption {
	return func(c *RelayConfig) {
		c.HistorySize = size
	}
}

// WithPaymentCacheTTL sets how long settled payments are deduplicated
func WithPaymentCacheTTL(ttl time.Duration) RelayOption {
	return func(c *RelayConfig) {
		c.CacheTTL = ttl
	}
}

// NewRelay creates a relay talking to node
func NewRelay(node NodeClient, opts ...RelayOption) *Relay {
	cfg := RelayConfig{
		Clock:          SystemClock{},
		Logger:         zap.NewNop(),
		Lease:          DefaultLease,
		DelegatedLease: DefaultDelegatedLease,
		ExpiryWindow:   DefaultExpiryWindow,
		HistorySize:    DefaultHistorySize,
		CacheTTL:       DefaultPaymentCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	history := NewPaymentHistory(cfg.HistorySize)
	return &Relay{
		node: node,
		nonces: NewNonceAllocator(node,
			WithLease(cfg.Lease),
			WithNonceClock(cfg.Clock),
			WithNonceExpiryWindow(cfg.ExpiryWindow),
			WithNonceLogger(cfg.Logger),
		),
		builder:        NewTransactionBuilder(WithBuilderClock(cfg.Clock), WithExpiryWindow(cfg.ExpiryWindow)),
		broadcaster:    NewBroadcaster(node, cfg.Clock, cfg.Logger),
		tracker:        NewStatusTracker(node, history, cfg.Clock),
		history:        history,
		cache:          NewPaymentCache(cfg.CacheTTL, cfg.Clock),
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		delegatedLease: cfg.DelegatedLease,
	}
}

// History returns the relay's payment history
func (r *Relay) History() *PaymentHistory {
	return r.history
}

// Nonces returns the relay's nonce allocator
func (r *Relay) Nonces() *NonceAllocator {
	return r.nonces
}

// Tracker returns the relay's status tracker
func (r *Relay) Tracker() *StatusTracker {
	return r.tracker
}

// ============================================================================
// Pay
// ============================================================================

// Pay settles req with signer and returns the receipt of the broadcast
// transaction. The transaction is not final yet; use Transaction to follow it.
//
// A StaleNonce rejection is retried once after resynchronizing when the
// signer is custodial. Interactive signers get the conflict back, since a
// retry would prompt the user again. Payments carrying a memo are
// deduplicated: a repeated request returns the first receipt.
func (r *Relay) Pay(ctx context.Context, req PaymentRequest, signer Signer) (*Receipt, error) {
	if signer == nil {
		return nil, NewError(ErrCodeSigningUnavailable, "no signer available for the sender", nil)
	}

	sender, err := ParseAddress(req.Sender)
	if err != nil {
		return nil, err
	}
	recipient, err := ParseAddress(req.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := ToSmallestUnit(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := ValidateMemo(req.Memo); err != nil {
		return nil, err
	}
	if signer.Address() != sender {
		return nil, NewError(ErrCodeSignerMismatch, "signer does not control the sender account",
			map[string]interface{}{"sender": sender.String(), "signer": signer.Address().String()})
	}

	key := PaymentKey(sender.String(), recipient.String(), amount, req.Memo)
	if key == "" {
		return r.settle(ctx, req, signer, sender)
	}

	for {
		status, receipt, done := r.cache.CheckAndMark(key)
		switch status {
		case CacheHit:
			r.logger.Info("payment already settled",
				zap.String("memo", req.Memo),
				zap.String("hash", receipt.Record.Hash))
			return receipt, nil
		case CacheInFlight:
			receipt, err := r.cache.WaitForResult(ctx, key, done)
			if err != nil {
				return nil, err
			}
			if receipt != nil {
				return receipt, nil
			}
			continue
		}

		receipt, err := r.settle(ctx, req, signer, sender)
		if err != nil {
			r.cache.Fail(key, done)
			return nil, err
		}
		r.cache.Complete(key, receipt, done)
		return receipt, nil
	}
}

func (r *Relay) settle(ctx context.Context, req PaymentRequest, signer Signer, sender AccountAddress) (*Receipt, error) {
	before, after, failure := r.hooks()

	hookCtx := SettleContext{
		Ctx:        ctx,
		Request:    req,
		SignerKind: signer.Kind(),
		Timestamp:  r.clock.Now(),
	}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, WrapError(ErrCodePaymentAborted, err, "before settle hook failed")
		}
		if result != nil && result.Abort {
			return nil, NewError(ErrCodePaymentAborted, result.Reason, nil)
		}
	}

	lease := r.nonces.Lease()
	if signer.Kind().Interactive() {
		lease = r.delegatedLease
	}

	var (
		record TransactionRecord
		err    error
	)
	for attempt := 1; attempt <= maxPayAttempts; attempt++ {
		record, err = r.settleOnce(ctx, req, signer, sender, lease)
		if err == nil || !r.retryable(err, signer, attempt) {
			break
		}
		r.logger.Info("retrying payment after nonce resynchronization",
			zap.String("sender", sender.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	duration := r.clock.Now().Sub(hookCtx.Timestamp)
	if err != nil {
		r.logger.Warn("payment failed",
			zap.String("sender", sender.String()),
			zap.String("recipient", req.Recipient),
			zap.String("signer", signer.Kind().String()),
			zap.Error(err))
		failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: err, Duration: duration}
		for _, hook := range failure {
			hook(failureCtx)
		}
		return nil, err
	}

	r.history.Add(record)
	receipt := &Receipt{
		Record: record,
		Amount: ToDecimal(record.Amount),
		Signer: signer.Kind(),
	}
	r.logger.Info("payment broadcast",
		zap.String("hash", record.Hash),
		zap.String("sender", record.Sender),
		zap.String("recipient", record.Recipient),
		zap.Uint64("amount", record.Amount),
		zap.Uint64("nonce", record.Nonce),
		zap.String("signer", signer.Kind().String()))

	resultCtx := SettleResultContext{SettleContext: hookCtx, Receipt: *receipt, Duration: duration}
	for _, hook := range after {
		if err := hook(resultCtx); err != nil {
			r.logger.Warn("after settle hook failed", zap.String("hash", record.Hash), zap.Error(err))
		}
	}
	return receipt, nil
}

func (r *Relay) retryable(err error, signer Signer, attempt int) bool {
	if attempt >= maxPayAttempts || signer.Kind().Interactive() {
		return false
	}
	return HasCode(err, ErrCodeStaleNonce) || HasCode(err, ErrCodeNonceConflict)
}

func (r *Relay) settleOnce(
	ctx context.Context,
	req PaymentRequest,
	signer Signer,
	sender AccountAddress,
	lease time.Duration,
) (TransactionRecord, error) {
	reservation, err := r.nonces.ReserveWithLease(ctx, sender, lease)
	if err != nil {
		return TransactionRecord{}, err
	}

	header, payload, err := r.builder.Build(req, reservation.Nonce)
	if err != nil {
		reservation.Release()
		return TransactionRecord{}, err
	}

	signature, err := signWithinLease(ctx, reservation, signer, header, payload)
	if !reservation.Held() {
		return TransactionRecord{}, NewError(ErrCodeNonceConflict,
			fmt.Sprintf("nonce %d was released before the signature arrived", reservation.Nonce),
			map[string]interface{}{"sender": sender.String()})
	}
	if err != nil {
		reservation.Release()
		return TransactionRecord{}, err
	}

	record, err := r.broadcaster.Submit(ctx, SignedTransaction{
		Header:    header,
		Payload:   payload,
		Signature: signature,
	})
	if err != nil {
		// Releasing marks the sender unsynchronized, so a stale nonce is
		// re-read from the node before the next reservation.
		reservation.Release()
		return TransactionRecord{}, err
	}

	if err := reservation.Commit(); err != nil {
		r.logger.Warn("transaction broadcast after its nonce lease expired",
			zap.String("hash", record.Hash),
			zap.Uint64("nonce", reservation.Nonce),
			zap.Error(err))
	}
	return record, nil
}

// signWithinLease asks signer for a signature and withdraws the request
// once the reservation's lease runs out
func signWithinLease(
	ctx context.Context,
	reservation *Reservation,
	signer Signer,
	header TransactionHeader,
	payload TransactionPayload,
) ([]byte, error) {
	signCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-reservation.Done():
			cancel()
		case <-signCtx.Done():
		}
	}()

	return signer.Sign(signCtx, header, payload)
}

// ============================================================================
// Queries
// ============================================================================

// Balance returns the balance of address in microCCD
func (r *Relay) Balance(ctx context.Context, address string) (uint64, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}
	balance, err := r.node.Balance(ctx, addr)
	if err != nil {
		if e := AsError(err); e.Kind() != KindInternal {
			return 0, e
		}
		return 0, WrapError(ErrCodeNetworkUnavailable, err, "querying balance failed")
	}
	return balance, nil
}

// Transaction returns the current status of hash
func (r *Relay) Transaction(ctx context.Context, hash string) (TransactionRecord, error) {
	return r.tracker.Status(ctx, hash)
}

// Health reports whether the ledger node is reachable
func (r *Relay) Health(ctx context.Context) (Health, error) {
	health := Health{
		Status:  "healthy",
		Service: ServiceName,
		Node:    r.node.Endpoint(),
	}
	info, err := r.node.ConsensusInfo(ctx)
	if err != nil {
		health.Status = "unhealthy"
		return health, WrapError(ErrCodeNetworkUnavailable, err, "ledger node unreachable")
	}
	health.NetworkID = info.NetworkID
	return health, nil
}
