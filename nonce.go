package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultLease bounds how long a reservation may hold a sender's lock
const DefaultLease = 30 * time.Second

// NonceAllocator hands out nonces per sender account.
//
// Access to a sender is exclusive from Reserve until Commit or Release, so
// two concurrent payments from the same sender always get consecutive nonces.
// Different senders never block each other.
type NonceAllocator struct {
	node         NodeClient
	clock        Clock
	lease        time.Duration
	expiryWindow time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	seq      uint64
	accounts map[AccountAddress]*accountNonce
}

type accountNonce struct {
	// sem is a one-slot lock; a channel lets acquisition honour ctx.
	sem chan struct{}

	// guarded by NonceAllocator.mu
	synced        bool
	committed     bool
	lastCommitted uint64
	committedAt   time.Time
	holder        uint64
}

// NonceOption configures a NonceAllocator
type NonceOption func(*NonceAllocator)

// WithLease sets the reservation lease
func WithLease(lease time.Duration) NonceOption {
	return func(a *NonceAllocator) {
		if lease > 0 {
			a.lease = lease
		}
	}
}

// WithNonceClock sets the clock used to age commits
func WithNonceClock(clock Clock) NonceOption {
	return func(a *NonceAllocator) {
		a.clock = clock
	}
}

// WithNonceExpiryWindow sets how long an unconfirmed commit may still be
// pending on the node. It should match the builder's expiry window.
func WithNonceExpiryWindow(window time.Duration) NonceOption {
	return func(a *NonceAllocator) {
		if window > 0 {
			a.expiryWindow = window
		}
	}
}

// WithNonceLogger sets the logger
func WithNonceLogger(logger *zap.Logger) NonceOption {
	return func(a *NonceAllocator) {
		a.logger = logger
	}
}

// NewNonceAllocator creates an allocator reading chain state from node
func NewNonceAllocator(node NodeClient, opts ...NonceOption) *NonceAllocator {
	a := &NonceAllocator{
		node:         node,
		clock:        SystemClock{},
		lease:        DefaultLease,
		expiryWindow: DefaultExpiryWindow,
		logger:       zap.NewNop(),
		accounts:     map[AccountAddress]*accountNonce{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Lease returns the configured reservation lease
func (a *NonceAllocator) Lease() time.Duration {
	return a.lease
}

// Reservation is exclusive use of one nonce of one sender
type Reservation struct {
	Sender AccountAddress
	Nonce  uint64

	alloc *NonceAllocator
	entry *accountNonce
	token uint64
	timer *time.Timer
	done  chan struct{}
}

// Reserve acquires the sender's lock and returns the next nonce to use.
// The lock is held until the reservation is committed or released, or until
// the lease runs out.
func (a *NonceAllocator) Reserve(ctx context.Context, sender AccountAddress) (*Reservation, error) {
	return a.reserve(ctx, sender, a.lease)
}

// ReserveWithLease is Reserve with a lease other than the default, used for
// signers that wait on a human.
func (a *NonceAllocator) ReserveWithLease(
	ctx context.Context,
	sender AccountAddress,
	lease time.Duration,
) (*Reservation, error) {
	if lease <= 0 {
		lease = a.lease
	}
	return a.reserve(ctx, sender, lease)
}

func (a *NonceAllocator) reserve(ctx context.Context, sender AccountAddress, lease time.Duration) (*Reservation, error) {
	entry := a.entry(sender)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}

	nonce, err := a.next(ctx, sender, entry)
	if err != nil {
		<-entry.sem
		return nil, err
	}

	r := &Reservation{
		Sender: sender,
		Nonce:  nonce,
		alloc:  a,
		entry:  entry,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	a.seq++
	r.token = a.seq
	entry.holder = r.token
	r.timer = time.AfterFunc(lease, r.expire)
	a.mu.Unlock()

	return r, nil
}

// Resync forces the next reservation for sender to re-query the node
func (a *NonceAllocator) Resync(sender AccountAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.accounts[sender]; ok {
		entry.synced = false
	}
}

// Synced reports whether the next reservation for sender is served locally
func (a *NonceAllocator) Synced(sender AccountAddress) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.accounts[sender]
	return ok && entry.synced
}

func (a *NonceAllocator) entry(sender AccountAddress) *accountNonce {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.accounts[sender]
	if !ok {
		entry = &accountNonce{sem: make(chan struct{}, 1)}
		a.accounts[sender] = entry
	}
	return entry
}

// next must be called with the sender's lock held.
func (a *NonceAllocator) next(ctx context.Context, sender AccountAddress, entry *accountNonce) (uint64, error) {
	a.mu.Lock()
	synced := entry.synced
	committed := entry.committed
	last := entry.lastCommitted
	committedAt := entry.committedAt
	a.mu.Unlock()

	if synced {
		return last + 1, nil
	}

	info, err := a.node.NextNonce(ctx, sender)
	if err != nil {
		if HasCode(err, ErrCodeNetworkUnavailable) {
			return 0, err
		}
		return 0, WrapError(ErrCodeNetworkUnavailable, err, "querying next nonce failed")
	}

	nonce := info.Nonce
	// The node may not have seen our latest submissions yet. Until they
	// could have expired, local state wins over a lower chain value.
	if committed && nonce <= last && a.clock.Now().Sub(committedAt) < a.expiryWindow {
		a.logger.Debug("chain nonce behind local state",
			zap.String("sender", sender.String()),
			zap.Uint64("chainNonce", nonce),
			zap.Uint64("lastCommitted", last))
		nonce = last + 1
	}
	return nonce, nil
}

// Commit records the nonce as used and releases the sender's lock.
// It fails with ErrNonceConflict when the lease ran out first; the nonce is
// still remembered as used.
func (r *Reservation) Commit() error {
	if !r.finish(true) {
		return NewError(ErrCodeNonceConflict, "nonce reservation lease expired before commit",
			map[string]interface{}{"sender": r.Sender.String(), "nonce": r.Nonce})
	}
	return nil
}

// Release gives the nonce back and marks the sender for resynchronization.
// Releasing twice, or after Commit, does nothing.
func (r *Reservation) Release() {
	r.finish(false)
}

// Done is closed once the reservation stops owning the sender's lock,
// whether by Commit, Release or lease expiry
func (r *Reservation) Done() <-chan struct{} {
	return r.done
}

// Held reports whether the reservation still owns the sender's lock
func (r *Reservation) Held() bool {
	r.alloc.mu.Lock()
	defer r.alloc.mu.Unlock()

	return r.entry.holder == r.token
}

func (r *Reservation) expire() {
	if r.finish(false) {
		r.alloc.logger.Warn("nonce reservation lease expired",
			zap.String("sender", r.Sender.String()),
			zap.Uint64("nonce", r.Nonce))
	}
}

func (r *Reservation) finish(commit bool) bool {
	a := r.alloc

	a.mu.Lock()
	if r.entry.holder != r.token {
		// The lease is gone but the nonce may already be on the node, so
		// later resynchronization must not hand it out again.
		if commit && (!r.entry.committed || r.Nonce > r.entry.lastCommitted) {
			r.entry.committed = true
			r.entry.lastCommitted = r.Nonce
			r.entry.committedAt = a.clock.Now()
		}
		a.mu.Unlock()
		return false
	}
	r.entry.holder = 0
	r.timer.Stop()
	close(r.done)
	if commit {
		r.entry.synced = true
		r.entry.committed = true
		r.entry.lastCommitted = r.Nonce
		r.entry.committedAt = a.clock.Now()
	} else {
		r.entry.synced = false
	}
	a.mu.Unlock()

	<-r.entry.sem
	return true
}
