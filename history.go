package settlement

import "sync"

// DefaultHistorySize is the number of records kept by default
const DefaultHistorySize = 1024

// PaymentHistory is a bounded in-memory log of broadcast transactions.
// When full, adding a record evicts the oldest one.
type PaymentHistory struct {
	mu     sync.RWMutex
	ring   []TransactionRecord
	next   int
	count  int
	byHash map[string]int
}

// NewPaymentHistory creates a history holding at most capacity records
func NewPaymentHistory(capacity int) *PaymentHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &PaymentHistory{
		ring:   make([]TransactionRecord, capacity),
		byHash: make(map[string]int, capacity),
	}
}

// Capacity returns the maximum number of records kept
func (h *PaymentHistory) Capacity() int {
	return len(h.ring)
}

// Len returns the number of records currently kept
func (h *PaymentHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.count
}

// Add stores a record. A record with a hash already present replaces it.
func (h *PaymentHistory) Add(record TransactionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i, ok := h.byHash[record.Hash]; ok {
		h.ring[i] = record
		return
	}

	if h.count == len(h.ring) {
		delete(h.byHash, h.ring[h.next].Hash)
	} else {
		h.count++
	}
	h.ring[h.next] = record
	h.byHash[record.Hash] = h.next
	h.next = (h.next + 1) % len(h.ring)
}

// Update sets the status of a kept record. It returns the stored record and
// false when the hash is unknown. Statuses never move backwards, so an
// update to an earlier state is ignored.
func (h *PaymentHistory) Update(hash string, status TransactionStatus) (TransactionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, ok := h.byHash[hash]
	if !ok {
		return TransactionRecord{}, false
	}
	if advances(h.ring[i].Status, status) {
		h.ring[i].Status = status
	}
	return h.ring[i], true
}

// Get returns the record of hash
func (h *PaymentHistory) Get(hash string) (TransactionRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i, ok := h.byHash[hash]
	if !ok {
		return TransactionRecord{}, false
	}
	return h.ring[i], true
}

// Recent returns up to limit records, newest first. When address is set only
// records sent from or to it are returned. A limit <= 0 returns all matches.
func (h *PaymentHistory) Recent(limit int, address string) []TransactionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []TransactionRecord
	h.walk(func(r TransactionRecord) bool {
		if address != "" && r.Sender != address && r.Recipient != address {
			return true
		}
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Pending returns the records not yet in a terminal state, newest first
func (h *PaymentHistory) Pending() []TransactionRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []TransactionRecord
	h.walk(func(r TransactionRecord) bool {
		if !r.Status.IsTerminal() {
			out = append(out, r)
		}
		return true
	})
	return out
}

// walk visits records newest first until fn returns false.
func (h *PaymentHistory) walk(fn func(TransactionRecord) bool) {
	for n := 1; n <= h.count; n++ {
		i := (h.next - n + len(h.ring)) % len(h.ring)
		if !fn(h.ring[i]) {
			return
		}
	}
}

func advances(from, to TransactionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	return to.rank() >= from.rank()
}
