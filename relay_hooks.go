package settlement

import (
	"context"
	"time"
)

// ============================================================================
// Settle Hook Context Types
// ============================================================================

// SettleContext contains information passed to settle hooks
type SettleContext struct {
	Ctx        context.Context
	Request    PaymentRequest
	SignerKind SignerKind
	Timestamp  time.Time
}

// SettleResultContext contains the settled payment and its context
type SettleResultContext struct {
	SettleContext
	Receipt  Receipt
	Duration time.Duration
}

// SettleFailureContext contains the failed payment and its context
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Settle Hook Result Types
// ============================================================================

// BeforeSettleHookResult represents the result of a "before" hook.
// If Abort is true, the payment is refused with the given Reason.
type BeforeSettleHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Settle Hook Function Types
// ============================================================================

// BeforeSettleHook is called after validation and before a nonce is reserved.
// Returning Abort=true refuses the payment without touching the ledger.
type BeforeSettleHook func(SettleContext) (*BeforeSettleHookResult, error)

// AfterSettleHook is called after a successful broadcast.
// Errors are logged and never affect the payment.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when a payment fails. It observes the
// failure; a transaction that may have reached the ledger is never retried
// from a hook.
type OnSettleFailureHook func(SettleFailureContext)

// ============================================================================
// Hook Registration Methods
// ============================================================================

// OnBeforeSettle registers a hook run before every payment
func (r *Relay) OnBeforeSettle(hook BeforeSettleHook) *Relay {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.beforeSettleHooks = append(r.beforeSettleHooks, hook)
	return r
}

// OnAfterSettle registers a hook run after every successful payment
func (r *Relay) OnAfterSettle(hook AfterSettleHook) *Relay {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.afterSettleHooks = append(r.afterSettleHooks, hook)
	return r
}

// OnSettleFailure registers a hook run after every failed payment
func (r *Relay) OnSettleFailure(hook OnSettleFailureHook) *Relay {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onSettleFailureHooks = append(r.onSettleFailureHooks, hook)
	return r
}

func (r *Relay) hooks() ([]BeforeSettleHook, []AfterSettleHook, []OnSettleFailureHook) {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	return r.beforeSettleHooks, r.afterSettleHooks, r.onSettleFailureHooks
}
