package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultPaymentCacheTTL is how long a settled payment is remembered
const DefaultPaymentCacheTTL = 10 * time.Minute

// PaymentCache makes job payments idempotent. A payment retried after a
// timeout returns the receipt of the first attempt instead of paying twice,
// and concurrent duplicates wait for the one in flight.
type PaymentCache struct {
	mu       sync.Mutex
	results  map[string]*Receipt
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
	clock    Clock
}

// NewPaymentCache creates a cache remembering receipts for ttl
func NewPaymentCache(ttl time.Duration, clock Clock) *PaymentCache {
	if ttl <= 0 {
		ttl = DefaultPaymentCacheTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &PaymentCache{
		results:  make(map[string]*Receipt),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		clock:    clock,
	}
}

// PaymentKey identifies a payment by sender, recipient, microCCD amount and
// memo. Payments without a memo carry no job correlation and get no key.
func PaymentKey(sender, recipient string, amount uint64, memo string) string {
	if memo == "" {
		return ""
	}

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)

	h := sha256.New()
	for _, part := range [][]byte{[]byte(sender), []byte(recipient), amt[:], []byte(memo)} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(part)))
		h.Write(l[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheStatus is the result of checking the cache
type CacheStatus int

const (
	// CacheMiss means this caller now owns the payment and must finish it
	CacheMiss CacheStatus = iota
	// CacheHit means the payment already settled
	CacheHit
	// CacheInFlight means another caller is settling the same payment
	CacheInFlight
)

// CheckAndMark atomically checks the cache and marks key in flight on a miss.
// On CacheMiss the caller must call Complete or Fail with the returned channel.
func (c *PaymentCache) CheckAndMark(key string) (CacheStatus, *Receipt, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if c.clock.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return CacheHit, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return CacheInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return CacheMiss, nil, done
}

// WaitForResult waits for an in-flight payment. A nil receipt means the
// other attempt failed and the caller may try again.
func (c *PaymentCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*Receipt, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Get returns the cached receipt of key, or nil
func (c *PaymentCache) Get(key string) *Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if !c.clock.Now().Before(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches receipt and wakes the waiters
func (c *PaymentCache) Complete(key string, receipt *Receipt, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = receipt
	c.expiry[key] = c.clock.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail drops the in-flight marker without caching, so the payment can be retried
func (c *PaymentCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// Must be called with c.mu held.
func (c *PaymentCache) cleanupExpiredLocked() {
	now := c.clock.Now()
	for key, expiry := range c.expiry {
		if !now.Before(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
