package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultReconcileInterval is how often pending records are refreshed
const DefaultReconcileInterval = 5 * time.Second

// FinalizedHandler is called once for every record reaching a terminal state
type FinalizedHandler func(ctx context.Context, record TransactionRecord)

// Reconciler periodically refreshes non-terminal history records
type Reconciler struct {
	tracker  *StatusTracker
	history  *PaymentHistory
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	handlers []FinalizedHandler
	notified map[string]struct{}
}

// NewReconciler creates a reconciler for the relay's history
func NewReconciler(relay *Relay, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		tracker:  relay.Tracker(),
		history:  relay.History(),
		interval: interval,
		logger:   relay.logger,
		notified: map[string]struct{}{},
	}
}

// OnFinalized registers a handler for records reaching a terminal state
func (r *Reconciler) OnFinalized(handler FinalizedHandler) *Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
	return r
}

// Run reconciles until ctx is canceled
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile refreshes every pending record once and returns how many
// reached a terminal state.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	var settled int
	for _, pending := range r.history.Pending() {
		if ctx.Err() != nil {
			return settled
		}

		record, err := r.tracker.Status(ctx, pending.Hash)
		if err != nil {
			r.logger.Debug("reconciling transaction failed",
				zap.String("hash", pending.Hash),
				zap.Error(err))
			continue
		}
		if !record.Status.IsTerminal() {
			continue
		}

		settled++
		r.logger.Info("transaction settled",
			zap.String("hash", record.Hash),
			zap.String("status", string(record.Status)))
		r.notify(ctx, record)
	}
	r.prune()
	return settled
}

// prune forgets notified hashes that were evicted from history.
func (r *Reconciler) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.notified) <= r.history.Capacity() {
		return
	}
	for hash := range r.notified {
		if _, ok := r.history.Get(hash); !ok {
			delete(r.notified, hash)
		}
	}
}

func (r *Reconciler) notify(ctx context.Context, record TransactionRecord) {
	r.mu.Lock()
	if _, done := r.notified[record.Hash]; done {
		r.mu.Unlock()
		return
	}
	r.notified[record.Hash] = struct{}{}
	handlers := r.handlers
	r.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, record)
	}
}
