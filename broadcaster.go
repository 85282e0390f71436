package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Broadcaster submits signed transactions to a ledger node
type Broadcaster struct {
	node   NodeClient
	clock  Clock
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster. A nil clock means the wall clock.
func NewBroadcaster(node NodeClient, clock Clock, logger *zap.Logger) *Broadcaster {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{node: node, clock: clock, logger: logger}
}

// Submit broadcasts tx and returns its record in the Submitted state.
//
// A transaction whose expiry has passed is refused locally with
// ErrTransactionExpired and never reaches the node. Node rejections are
// returned as classified errors: ErrStaleNonce requires the caller to
// resynchronize the sender's nonce, ErrNetworkUnavailable may be retried by
// the caller. Nothing is retried here.
func (b *Broadcaster) Submit(ctx context.Context, tx SignedTransaction) (TransactionRecord, error) {
	now := b.clock.Now()
	if !tx.Header.ExpiresAt().After(now) {
		return TransactionRecord{}, NewError(ErrCodeTransactionExpired,
			"transaction expired before broadcast",
			map[string]interface{}{
				"nonce":  tx.Header.Nonce,
				"expiry": tx.Header.ExpiresAt().UTC().Format(time.RFC3339),
			})
	}

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return TransactionRecord{}, WrapError(ErrCodeInternal, err, "encoding transaction failed")
	}
	localHash := TransactionHash(encoded)

	hash, err := b.node.SendBlockItem(ctx, encoded)
	if err != nil {
		classified := classifySubmitError(err)
		b.logger.Info("node refused transaction",
			zap.String("hash", localHash),
			zap.String("sender", tx.Header.Sender.String()),
			zap.Uint64("nonce", tx.Header.Nonce),
			zap.String("code", classified.Code),
			zap.Error(err))
		return TransactionRecord{}, classified
	}
	if hash == "" {
		hash = localHash
	} else if !strings.EqualFold(hash, localHash) {
		b.logger.Warn("node reported a different transaction hash",
			zap.String("local", localHash),
			zap.String("node", hash))
	}

	return TransactionRecord{
		Hash:        strings.ToLower(hash),
		Status:      StatusSubmitted,
		SubmittedAt: now,
		Sender:      tx.Header.Sender.String(),
		Recipient:   tx.Payload.Recipient.String(),
		Amount:      tx.Payload.Amount,
		Memo:        tx.Payload.Memo,
		Nonce:       tx.Header.Nonce,
		Expiry:      tx.Header.ExpiresAt(),
	}, nil
}

// classifySubmitError keeps classified node errors. Errors outside the
// taxonomy mean the node could not be reached.
func classifySubmitError(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return WrapError(ErrCodeNetworkUnavailable, err, "ledger node unreachable")
	}
	switch e.Kind() {
	case KindNodeSubmission, KindNonceConflict:
		return e
	}
	if e.Code == ErrCodeTransactionExpired {
		return WrapError(ErrCodeExpired, err, "node reports the transaction expired")
	}
	return WrapError(ErrCodeNodeRejected, err, e.Message)
}
