package settlement

import (
	"context"
	"strings"
)

// Block item states reported by the ledger node
const (
	NodeStatusReceived  = "received"
	NodeStatusCommitted = "committed"
	NodeStatusFinalized = "finalized"

	OutcomeSuccess = "success"
	OutcomeReject  = "reject"
)

// StatusTracker resolves the current status of submitted transactions
type StatusTracker struct {
	node    NodeClient
	history *PaymentHistory
	clock   Clock
}

// NewStatusTracker creates a tracker. Records found in history are updated
// with every observation; history may be nil.
func NewStatusTracker(node NodeClient, history *PaymentHistory, clock Clock) *StatusTracker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StatusTracker{node: node, history: history, clock: clock}
}

// Status queries the node for hash and maps the answer to a TransactionStatus.
//
// Records the relay knows about never move backwards: once Finalized,
// Rejected or Expired, later observations are ignored. Calling Status
// repeatedly without a state change on the node returns the same record.
func (t *StatusTracker) Status(ctx context.Context, hash string) (TransactionRecord, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return TransactionRecord{}, NewError(ErrCodeMissingField, "transaction hash is required",
			map[string]interface{}{"field": "hash"})
	}

	local, known := t.local(hash)
	if known && local.Status.IsTerminal() {
		return local, nil
	}

	item, err := t.node.BlockItemStatus(ctx, hash)
	if err != nil {
		if !HasCode(err, ErrCodeNotFound) {
			if HasCode(err, ErrCodeNetworkUnavailable) {
				return TransactionRecord{}, err
			}
			return TransactionRecord{}, WrapError(ErrCodeNetworkUnavailable, err, "querying transaction status failed")
		}
		if !known {
			return TransactionRecord{}, NewError(ErrCodeNotFound, "transaction not found",
				map[string]interface{}{"transaction_hash": hash})
		}
		status := StatusSubmitted
		if !t.clock.Now().Before(local.Expiry) {
			status = StatusExpired
		}
		return t.observe(hash, local, status), nil
	}

	status := MapBlockItemStatus(item)
	if !known {
		return TransactionRecord{Hash: hash, Status: status}, nil
	}
	return t.observe(hash, local, status), nil
}

// MapBlockItemStatus maps a raw node state to a TransactionStatus
func MapBlockItemStatus(item BlockItemStatus) TransactionStatus {
	switch strings.ToLower(item.Status) {
	case NodeStatusReceived, NodeStatusCommitted:
		return StatusReceived
	case NodeStatusFinalized:
		switch strings.ToLower(item.Outcome) {
		case OutcomeSuccess:
			return StatusFinalized
		case OutcomeReject, "rejected":
			return StatusRejected
		}
	}
	return StatusUnknown
}

func (t *StatusTracker) local(hash string) (TransactionRecord, bool) {
	if t.history == nil {
		return TransactionRecord{}, false
	}
	return t.history.Get(hash)
}

func (t *StatusTracker) observe(hash string, local TransactionRecord, status TransactionStatus) TransactionRecord {
	if t.history != nil {
		if updated, ok := t.history.Update(hash, status); ok {
			return updated
		}
	}
	if advances(local.Status, status) {
		local.Status = status
	}
	return local
}
