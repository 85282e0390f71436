package gin

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/signers"
	"github.com/odla-network/settlement/signers/delegated"
	"github.com/odla-network/settlement/test/mocks/node"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	dev       *node.Ledger
	router    *gin.Engine
	relay     *settlement.Relay
	key       ed25519.PrivateKey
	sender    settlement.AccountAddress
	recipient settlement.AccountAddress
}

func setup(t *testing.T, hub *delegated.Hub, opts ...settlement.RelayOption) *fixture {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	key := ed25519.NewKeyFromSeed(seed)

	dev := node.New()
	sender := dev.RegisterKey(key.Public().(ed25519.PublicKey))
	dev.Fund(sender, 10_000_000)

	ledgerClient, err := dev.Client()
	require.NoError(t, err)
	t.Cleanup(ledgerClient.Close)

	relay := settlement.NewRelay(ledgerClient, opts...)
	router := NewRouter(Config{
		Relay:       relay,
		Signers:     signers.NewResolver(hub),
		ExplorerURL: "https://explorer.test/tx/%s",
	})

	return &fixture{
		dev:       dev,
		router:    router,
		relay:     relay,
		key:       key,
		sender:    sender,
		recipient: settlement.AddressFromPublicKey([]byte("inference node")),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) relayhttp.ErrorResponse {
	t.Helper()
	var resp relayhttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPayCustodial(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/pay", map[string]interface{}{
		"amount":         "2.5",
		"recipient":      f.recipient.String(),
		"memo":           "job-17",
		"sender_address": f.sender.String(),
		"sender_key":     hex.EncodeToString(f.key.Seed()),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var resp relayhttp.PayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "2.5", resp.Amount.String())
	assert.Equal(t, "job-17", resp.Memo)
	assert.Equal(t, "https://explorer.test/tx/"+resp.TransactionHash, resp.ExplorerURL)

	w = f.do(t, http.MethodGet, "/transaction/"+resp.TransactionHash, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tx relayhttp.TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, settlement.StatusReceived, tx.Status)

	w = f.do(t, http.MethodGet, "/balance/"+f.recipient.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance relayhttp.BalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, uint64(2_500_000), balance.BalanceMicroCCD)
	assert.Equal(t, "2.5", balance.Balance.String())

	w = f.do(t, http.MethodGet, "/history?limit=10&address="+f.recipient.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history relayhttp.HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, resp.TransactionHash, history.Transactions[0].Hash)
}

func TestPayWithoutSenderKeyIsRejected(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/pay", map[string]interface{}{
		"amount":         "1",
		"recipient":      f.recipient.String(),
		"sender_address": f.sender.String(),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, string(settlement.KindValidation), resp.Error)
	assert.Equal(t, settlement.ErrCodeMissingField, resp.Code)
	assert.Equal(t, "sender_key", resp.Details["field"])

	assert.Empty(t, f.relay.History().Recent(0, ""))
	balance, err := f.relay.Balance(t.Context(), f.sender.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), balance)
}

func TestPayValidation(t *testing.T) {
	f := setup(t, nil)

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{
			name: "not json",
			body: "{",
			code: settlement.ErrCodeMissingField,
		},
		{
			name: "missing recipient",
			body: map[string]interface{}{"amount": 1, "sender_address": f.sender.String()},
			code: settlement.ErrCodeMissingField,
		},
		{
			name: "negative amount",
			body: map[string]interface{}{
				"amount": "-1", "recipient": f.recipient.String(), "sender_address": f.sender.String(),
			},
			code: settlement.ErrCodeInvalidAmount,
		},
		{
			name: "bad recipient checksum",
			body: map[string]interface{}{
				"amount":         "1",
				"recipient":      "3kBx1h2R3invalid",
				"sender_address": f.sender.String(),
				"sender_key":     hex.EncodeToString(f.key.Seed()),
			},
			code: settlement.ErrCodeInvalidAddress,
		},
		{
			name: "amount exponent out of range",
			body: fmt.Sprintf(`{"amount": 1e200000000, "recipient": %q, "sender_address": %q, "sender_key": %q}`,
				f.recipient.String(), f.sender.String(), hex.EncodeToString(f.key.Seed())),
			code: settlement.ErrCodeInvalidAmount,
		},
		{
			name: "amount exponent too negative",
			body: fmt.Sprintf(`{"amount": 1e-200000000, "recipient": %q, "sender_address": %q, "sender_key": %q}`,
				f.recipient.String(), f.sender.String(), hex.EncodeToString(f.key.Seed())),
			code: settlement.ErrCodeInvalidAmount,
		},
		{
			name: "amount does not fit a decimal",
			body: fmt.Sprintf(`{"amount": 1e99999999999, "recipient": %q, "sender_address": %q}`,
				f.recipient.String(), f.sender.String()),
			code: settlement.ErrCodeInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/pay", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
	assert.Empty(t, f.relay.History().Recent(0, ""))
}

func TestPayInsufficientFunds(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/pay", map[string]interface{}{
		"amount":         "50",
		"recipient":      f.recipient.String(),
		"sender_address": f.sender.String(),
		"sender_key":     hex.EncodeToString(f.key.Seed()),
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, settlement.ErrCodeInsufficientFunds, decodeError(t, w).Code)
}

func TestQueries(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health settlement.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, settlement.ServiceName, health.Service)
	assert.Equal(t, node.DefaultNetworkID, health.NetworkID)

	w = f.do(t, http.MethodGet, "/balance/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, settlement.ErrCodeInvalidAddress, decodeError(t, w).Code)

	w = f.do(t, http.MethodGet, "/transaction/00ff", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, settlement.ErrCodeNotFound, decodeError(t, w).Code)

	w = f.do(t, http.MethodGet, "/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"transactions":[]}`, w.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := setup(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}

func TestWalletRoutesNeedHub(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/wallet/sessions", map[string]interface{}{"accounts": []string{f.sender.String()}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/pay", map[string]interface{}{
		"amount":         "1",
		"recipient":      f.recipient.String(),
		"sender_address": f.sender.String(),
		"session_id":     "abc",
	})
	assert.Equal(t, settlement.ErrCodeSigningUnavailable, decodeError(t, w).Code)
}

func TestDelegatedPayment(t *testing.T) {
	hub := delegated.NewHub()
	f := setup(t, hub)

	w := f.do(t, http.MethodPost, "/wallet/sessions", OpenSessionRequest{
		Accounts: []string{f.sender.String()},
		Network:  node.DefaultNetworkID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session OpenSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.SessionID)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		body, _ := json.Marshal(map[string]interface{}{
			"amount":         "1.25",
			"recipient":      f.recipient.String(),
			"memo":           "job-99",
			"sender_address": f.sender.String(),
			"session_id":     session.SessionID,
		})
		req := httptest.NewRequest(http.MethodPost, "/pay", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		done <- rec
	}()

	base := "/wallet/sessions/" + session.SessionID
	var poll PollResponse
	for len(poll.Requests) == 0 {
		w = f.do(t, http.MethodGet, base+"/requests?wait=5s", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	}
	request := poll.Requests[0]
	assert.Equal(t, delegated.ShapeTyped, request.Shape)
	assert.Equal(t, f.sender.String(), request.Header.Sender)

	digest, err := hex.DecodeString(request.Digest)
	require.NoError(t, err)
	w = f.do(t, http.MethodPost, base+"/requests/"+request.ID, delegated.Resolution{
		Signature: hex.EncodeToString(ed25519.Sign(f.key, digest)),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec := <-done
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp relayhttp.PayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-99", resp.Memo)

	balance, err := f.relay.Balance(t.Context(), f.recipient.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000), balance)

	w = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, base+"/requests?wait=0s", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelegatedRejection(t *testing.T) {
	hub := delegated.NewHub()
	f := setup(t, hub)

	session, err := hub.Open([]string{f.sender.String()}, "")
	require.NoError(t, err)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		body, _ := json.Marshal(map[string]interface{}{
			"amount":         "1",
			"recipient":      f.recipient.String(),
			"sender_address": f.sender.String(),
			"session_id":     session.ID,
		})
		req := httptest.NewRequest(http.MethodPost, "/pay", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		done <- rec
	}()

	base := "/wallet/sessions/" + session.ID
	var poll PollResponse
	for len(poll.Requests) == 0 {
		w := f.do(t, http.MethodGet, base+"/requests?wait=5s", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	}

	w := f.do(t, http.MethodPost, base+"/requests/"+poll.Requests[0].ID, delegated.Resolution{Rejected: true})
	require.Equal(t, http.StatusOK, w.Code)

	rec := <-done
	assert.Equal(t, settlement.ErrCodeUserRejected, decodeError(t, rec).Code)
	assert.Empty(t, f.relay.History().Recent(0, ""))
}

func TestDelegatedLeaseExpiryWithdrawsRequest(t *testing.T) {
	hub := delegated.NewHub()
	f := setup(t, hub, settlement.WithDelegatedLease(200*time.Millisecond))

	session, err := hub.Open([]string{f.sender.String()}, "")
	require.NoError(t, err)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		body, _ := json.Marshal(map[string]interface{}{
			"amount":         "1",
			"recipient":      f.recipient.String(),
			"sender_address": f.sender.String(),
			"session_id":     session.ID,
		})
		req := httptest.NewRequest(http.MethodPost, "/pay", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		done <- rec
	}()

	base := "/wallet/sessions/" + session.ID
	var poll PollResponse
	for len(poll.Requests) == 0 {
		w := f.do(t, http.MethodGet, base+"/requests?wait=5s", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	}
	stale := poll.Requests[0]

	// the wallet never answers
	var rec *httptest.ResponseRecorder
	select {
	case rec = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("payment did not fail when the nonce lease expired")
	}
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, settlement.ErrCodeNonceConflict, decodeError(t, rec).Code)

	w := f.do(t, http.MethodGet, base+"/requests?wait=0s", nil)
	require.Equal(t, http.StatusOK, w.Code)
	poll = PollResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &poll))
	assert.Empty(t, poll.Requests)

	digest, err := hex.DecodeString(stale.Digest)
	require.NoError(t, err)
	w = f.do(t, http.MethodPost, base+"/requests/"+stale.ID, delegated.Resolution{
		Signature: hex.EncodeToString(ed25519.Sign(f.key, digest)),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, f.relay.History().Recent(0, ""))
	balance, err := f.relay.Balance(t.Context(), f.recipient.String())
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestWalletValidation(t *testing.T) {
	f := setup(t, delegated.NewHub())

	w := f.do(t, http.MethodPost, "/wallet/sessions", OpenSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, settlement.ErrCodeMissingField, decodeError(t, w).Code)

	w = f.do(t, http.MethodGet, "/wallet/sessions/missing/requests", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/wallet/sessions/missing/requests?wait=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/wallet/sessions/missing/events", EventRequest{})
	assert.Equal(t, settlement.ErrCodeMissingField, decodeError(t, w).Code)
}
