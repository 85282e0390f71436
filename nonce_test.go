package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceAllocatorQueriesNodeOnce(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	node.nextNonce[sender] = 7
	alloc := NewNonceAllocator(node)

	for want := uint64(7); want < 10; want++ {
		r, err := alloc.Reserve(context.Background(), sender)
		require.NoError(t, err)
		assert.Equal(t, want, r.Nonce)
		require.NoError(t, r.Commit())
	}
	assert.Equal(t, 1, node.nextNonceCalls)
	assert.True(t, alloc.Synced(sender))
}

func TestNonceAllocatorConcurrentReservationsAreContiguous(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	node.nextNonce[sender] = 1
	alloc := NewNonceAllocator(node)

	const n = 50
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces []uint64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := alloc.Reserve(context.Background(), sender)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			nonces = append(nonces, r.Nonce)
			mu.Unlock()
			assert.NoError(t, r.Commit())
		}()
	}
	wg.Wait()

	require.Len(t, nonces, n)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		assert.Equal(t, uint64(i+1), nonce)
	}
}

func TestNonceAllocatorTwoConcurrentPayments(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	node.nextNonce[sender] = 12
	alloc := NewNonceAllocator(node)

	first, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)

	got := make(chan uint64, 1)
	go func() {
		r, err := alloc.Reserve(context.Background(), sender)
		if err != nil {
			close(got)
			return
		}
		got <- r.Nonce
		_ = r.Commit()
	}()

	select {
	case <-got:
		t.Fatal("second reservation must wait for the first")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Commit())
	assert.Equal(t, uint64(12), first.Nonce)
	assert.Equal(t, uint64(13), <-got)
}

func TestNonceAllocatorSendersAreIndependent(t *testing.T) {
	node := newMockNode()
	alloc := NewNonceAllocator(node)

	a, err := alloc.Reserve(context.Background(), testAddress(1))
	require.NoError(t, err)
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := alloc.Reserve(ctx, testAddress(2))
	require.NoError(t, err)
	b.Release()
}

func TestNonceAllocatorReserveHonoursContext(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	alloc := NewNonceAllocator(node)

	held, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = alloc.Reserve(ctx, sender)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNonceAllocatorReleaseResynchronizes(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	node.nextNonce[sender] = 3
	alloc := NewNonceAllocator(node)

	r, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	require.NoError(t, r.Commit())
	assert.Equal(t, 1, node.nextNonceCalls)

	// a stale nonce rejection releases the reservation
	r, err = alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.Nonce)
	r.Release()
	r.Release()
	assert.False(t, alloc.Synced(sender))

	node.mu.Lock()
	node.nextNonce[sender] = 9
	node.mu.Unlock()

	r, err = alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), r.Nonce)
	assert.Equal(t, 2, node.nextNonceCalls)
	require.NoError(t, r.Commit())
}

func TestNonceAllocatorNeverReusesCommittedNonce(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	node.nextNonce[sender] = 5
	clock := newFakeClock()
	alloc := NewNonceAllocator(node, WithNonceClock(clock))

	r, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	require.NoError(t, r.Commit())

	// the node has not seen nonce 5 yet
	alloc.Resync(sender)
	r, err = alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), r.Nonce)
	r.Release()

	// once every pending transaction could have expired the chain wins
	clock.Advance(DefaultExpiryWindow + time.Second)
	r, err = alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.Nonce)
	r.Release()
}

func TestNonceAllocatorLeaseTimeout(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	alloc := NewNonceAllocator(node, WithLease(30*time.Millisecond))

	r, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, r.Held())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next, err := alloc.Reserve(ctx, sender)
	require.NoError(t, err)
	defer next.Release()

	assert.False(t, r.Held())
	err = r.Commit()
	assert.ErrorIs(t, err, ErrNonceConflict)
}

func TestReservationDone(t *testing.T) {
	node := newMockNode()
	sender := testAddress(1)
	alloc := NewNonceAllocator(node, WithLease(30*time.Millisecond))

	committed, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	select {
	case <-committed.Done():
		t.Fatal("done before the reservation finished")
	default:
	}
	require.NoError(t, committed.Commit())
	<-committed.Done()

	released, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	released.Release()
	released.Release()
	<-released.Done()

	expired, err := alloc.Reserve(context.Background(), sender)
	require.NoError(t, err)
	select {
	case <-expired.Done():
		assert.False(t, expired.Held())
	case <-time.After(time.Second):
		t.Fatal("lease expiry did not close done")
	}
}

func TestNonceAllocatorNodeFailure(t *testing.T) {
	node := newMockNode()
	node.nextNonceErr = errors.New("connection refused")
	sender := testAddress(1)
	alloc := NewNonceAllocator(node)

	_, err := alloc.Reserve(context.Background(), sender)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)

	// the lock was given back
	node.mu.Lock()
	node.nextNonceErr = nil
	node.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := alloc.Reserve(ctx, sender)
	require.NoError(t, err)
	r.Release()
}
