package delegated

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
)

// DefaultSessionIdle is how long a wallet session may go without polling
const DefaultSessionIdle = 10 * time.Minute

// ============================================================================
// Hub
// ============================================================================

// Hub connects browser wallets to the relay over HTTP.
//
// A wallet opens a session announcing its accounts, then long-polls for sign
// requests and resolves each with a signature, a rejection or an
// unavailability report. Each session is a WalletAgent, so a delegated
// Signer can be built on top of it.
type Hub struct {
	idle   time.Duration
	clock  settlement.Clock
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSessionIdle sets how long an idle session is kept
func WithSessionIdle(idle time.Duration) HubOption {
	return func(h *Hub) {
		if idle > 0 {
			h.idle = idle
		}
	}
}

// WithHubClock sets the clock used for idle tracking
func WithHubClock(clock settlement.Clock) HubOption {
	return func(h *Hub) {
		h.clock = clock
	}
}

// WithHubLogger sets the logger
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		idle:     DefaultSessionIdle,
		clock:    settlement.SystemClock{},
		logger:   zap.NewNop(),
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open starts a session for a wallet exposing accounts on network
func (h *Hub) Open(accounts []string, network string) (*Session, error) {
	if len(accounts) == 0 {
		return nil, settlement.NewError(settlement.ErrCodeMissingField, "at least one account is required",
			map[string]interface{}{"field": "accounts"})
	}
	for _, account := range accounts {
		if err := settlement.ValidateAddress(account); err != nil {
			return nil, err
		}
	}

	now := h.clock.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		hub:       h,
		accounts:  append([]string(nil), accounts...),
		network:   network,
		lastSeen:  now,
		pending:   map[string]*pendingRequest{},
		handlers:  map[string][]func(args ...string){},
		wake:      make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.logger.Info("wallet session opened",
		zap.String("session", s.ID),
		zap.Strings("accounts", accounts),
		zap.String("network", network))
	return s, nil
}

// Get returns an open session
func (h *Hub) Get(id string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, settlement.NewError(settlement.ErrCodeNotFound, "wallet session not found",
			map[string]interface{}{"session_id": id})
	}
	return s, nil
}

// Signer returns the delegated signer of a session, creating it on first use
func (h *Hub) Signer(ctx context.Context, id string) (*Signer, error) {
	s, err := h.Get(id)
	if err != nil {
		if settlement.HasCode(err, settlement.ErrCodeNotFound) {
			return nil, settlement.WrapError(settlement.ErrCodeSigningUnavailable, err, "wallet session is not connected")
		}
		return nil, err
	}

	s.mu.Lock()
	signer := s.signer
	s.mu.Unlock()
	if signer != nil {
		return signer, nil
	}

	signer, err = NewSigner(ctx, s, WithNetwork(s.Network()), WithLogger(h.logger))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil {
		s.signer = signer
	}
	return s.signer, nil
}

// Poll returns the session's unresolved sign requests, waiting up to wait
// for one to arrive when there are none.
func (h *Hub) Poll(ctx context.Context, id string, wait time.Duration) ([]SignRequest, error) {
	s, err := h.Get(id)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		requests, wake, closed := s.snapshot(h.clock.Now())
		if closed {
			return nil, settlement.NewError(settlement.ErrCodeNotFound, "wallet session closed", nil)
		}
		if len(requests) > 0 || wait <= 0 {
			return requests, nil
		}

		select {
		case <-wake:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}
}

// Resolution is a wallet's answer to a sign request
type Resolution struct {
	// Signature is the hex signature over the request digest
	Signature string `json:"signature,omitempty"`
	// Rejected is set when the user declined
	Rejected bool `json:"rejected,omitempty"`
	// Unavailable is set when the wallet cannot handle the request
	Unavailable bool `json:"unavailable,omitempty"`
	// Message is shown in the error returned to the payer
	Message string `json:"message,omitempty"`
}

// Resolve answers a pending sign request
func (h *Hub) Resolve(id, requestID string, res Resolution) error {
	s, err := h.Get(id)
	if err != nil {
		return err
	}

	var result signResult
	switch {
	case res.Rejected:
		msg := res.Message
		if msg == "" {
			msg = "user rejected the transaction"
		}
		result.err = settlement.NewError(settlement.ErrCodeUserRejected, msg, nil)
	case res.Unavailable:
		msg := res.Message
		if msg == "" {
			msg = "wallet cannot sign this request"
		}
		result.err = settlement.NewError(settlement.ErrCodeSigningUnavailable, msg, nil)
	default:
		sig, err := hex.DecodeString(strings.TrimPrefix(res.Signature, "0x"))
		if err != nil || len(sig) == 0 {
			return settlement.NewError(settlement.ErrCodeMissingField, "signature must be non-empty hex",
				map[string]interface{}{"field": "signature"})
		}
		result.signature = sig
	}

	return s.resolve(requestID, result)
}

// Emit delivers a wallet event to the session's listeners
func (h *Hub) Emit(id, event string, args ...string) error {
	s, err := h.Get(id)
	if err != nil {
		return err
	}
	s.emit(event, args...)
	return nil
}

// Close ends a session. Pending requests fail with ErrSigningUnavailable.
func (h *Hub) Close(id string) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if !ok {
		return settlement.NewError(settlement.ErrCodeNotFound, "wallet session not found",
			map[string]interface{}{"session_id": id})
	}
	s.close()
	h.logger.Info("wallet session closed", zap.String("session", id))
	return nil
}

// Prune closes sessions idle for longer than the idle timeout
func (h *Hub) Prune() int {
	cutoff := h.clock.Now().Add(-h.idle)

	h.mu.Lock()
	var stale []string
	for id, s := range h.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		_ = h.Close(id)
	}
	return len(stale)
}

// Run prunes idle sessions until ctx is canceled
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			if n := h.Prune(); n > 0 {
				h.logger.Info("pruned idle wallet sessions", zap.Int("count", n))
			}
		}
	}
}

// ============================================================================
// Session
// ============================================================================

// Session is one connected wallet. It implements WalletAgent and EventSource.
type Session struct {
	ID        string
	CreatedAt time.Time

	hub *Hub

	mu       sync.Mutex
	accounts []string
	network  string
	lastSeen time.Time
	pending  map[string]*pendingRequest
	order    []string
	handlers map[string][]func(args ...string)
	wake     chan struct{}
	closed   bool
	signer   *Signer
}

type pendingRequest struct {
	req    SignRequest
	result chan signResult
}

type signResult struct {
	signature []byte
	err       error
}

var (
	_ WalletAgent = (*Session)(nil)
	_ EventSource = (*Session)(nil)
)

// Network returns the network the wallet announced
func (s *Session) Network() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

// RequestAccounts implements WalletAgent
func (s *Session) RequestAccounts(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.accounts) == 0 {
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, "wallet session has no accounts", nil)
	}
	return append([]string(nil), s.accounts...), nil
}

// SendTransaction implements WalletAgent. It queues the request for the
// wallet and waits for the user's answer.
func (s *Session) SendTransaction(ctx context.Context, req SignRequest) ([]byte, error) {
	req.ID = uuid.New().String()
	p := &pendingRequest{req: req, result: make(chan signResult, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, settlement.NewError(settlement.ErrCodeSigningUnavailable, "wallet session closed", nil)
	}
	s.pending[req.ID] = p
	s.order = append(s.order, req.ID)
	s.wakeLocked()
	s.mu.Unlock()

	select {
	case res := <-p.result:
		return res.signature, res.err
	case <-ctx.Done():
		s.mu.Lock()
		s.removeLocked(req.ID)
		s.mu.Unlock()
		return nil, errors.WithStack(ctx.Err())
	}
}

// On implements EventSource
func (s *Session) On(event string, handler func(args ...string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *Session) snapshot(now time.Time) ([]SignRequest, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = now
	requests := make([]SignRequest, 0, len(s.order))
	for _, id := range s.order {
		requests = append(requests, s.pending[id].req)
	}
	return requests, s.wake, s.closed
}

func (s *Session) resolve(requestID string, result signResult) error {
	s.mu.Lock()
	p, ok := s.pending[requestID]
	if ok {
		s.removeLocked(requestID)
	}
	s.mu.Unlock()

	if !ok {
		return settlement.NewError(settlement.ErrCodeNotFound, "sign request not found",
			map[string]interface{}{"request_id": requestID})
	}
	p.result <- result
	return nil
}

func (s *Session) emit(event string, args ...string) {
	s.mu.Lock()
	switch event {
	case EventAccountsChanged:
		s.accounts = append([]string(nil), args...)
	case EventChainChanged:
		if len(args) > 0 {
			s.network = args[0]
		}
	}
	handlers := append([]func(args ...string){}, s.handlers[event]...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(args...)
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, id := range s.order {
		s.pending[id].result <- signResult{
			err: settlement.NewError(settlement.ErrCodeSigningUnavailable, "wallet session closed", nil),
		}
	}
	s.pending = map[string]*pendingRequest{}
	s.order = nil
	s.wakeLocked()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) removeLocked(id string) {
	delete(s.pending, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// wakeLocked releases every poller waiting on the current channel.
func (s *Session) wakeLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}
