// Package http provides HTTP clients for the settlement relay and the
// inference operator, together with the wire types of the relay API.
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/odla-network/settlement"
)

// ============================================================================
// Relay API wire types
// ============================================================================

// PayRequest is the body of POST /pay.
//
// Custodial payments carry SenderKey, delegated payments carry the SessionID
// of a connected wallet.
type PayRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Recipient     string          `json:"recipient"`
	Memo          string          `json:"memo,omitempty"`
	SenderAddress string          `json:"sender_address"`
	SenderKey     string          `json:"sender_key,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
}

// PaymentRequest converts the body to the relay's request type
func (r PayRequest) PaymentRequest() settlement.PaymentRequest {
	return settlement.PaymentRequest{
		Amount:    r.Amount,
		Recipient: r.Recipient,
		Memo:      r.Memo,
		Sender:    r.SenderAddress,
	}
}

// PayResponse is returned by a successful POST /pay
type PayResponse struct {
	Success         bool            `json:"success"`
	TransactionHash string          `json:"transaction_hash"`
	Amount          decimal.Decimal `json:"amount"`
	Recipient       string          `json:"recipient"`
	Memo            string          `json:"memo"`
	ExplorerURL     string          `json:"explorer_url"`
}

// BalanceResponse is returned by GET /balance/:address
type BalanceResponse struct {
	Address         string          `json:"address"`
	Balance         decimal.Decimal `json:"balance"`
	BalanceMicroCCD uint64          `json:"balance_microccd"`
}

// TransactionResponse is returned by GET /transaction/:hash
type TransactionResponse struct {
	TransactionHash string                       `json:"transaction_hash"`
	Status          settlement.TransactionStatus `json:"status"`
	ExplorerURL     string                       `json:"explorer_url"`
}

// HistoryResponse is returned by GET /history
type HistoryResponse struct {
	Transactions []settlement.TransactionRecord `json:"transactions"`
}

// ErrorResponse is the body of every failed relay request
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse renders err for the API
func NewErrorResponse(err error) (int, ErrorResponse) {
	e := settlement.AsError(err)
	return e.HTTPStatus(), ErrorResponse{
		Error:   string(e.Kind()),
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// DefaultExplorerURL is the transaction page format of the testnet explorer
const DefaultExplorerURL = "https://testnet.ccdscan.io/?dcount=1&dentity=transaction&dhash=%s"

// ExplorerLink formats the explorer page of a transaction. format must
// contain exactly one %s verb.
func ExplorerLink(format, hash string) string {
	if format == "" {
		format = DefaultExplorerURL
	}
	return fmt.Sprintf(format, hash)
}

// ============================================================================
// Response decoding
// ============================================================================

// maxErrorBody bounds how much of an unexpected response is quoted in errors
const maxErrorBody = 512

// decodeResponse reads resp into out, or turns a failure status into an error
func decodeResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to decode response (%d)", resp.StatusCode)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Code != "" {
		return settlement.NewError(errResp.Code, errResp.Message, errResp.Details)
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	switch {
	case status == http.StatusNotFound:
		return settlement.NewError(settlement.ErrCodeNotFound, text, map[string]interface{}{"status": status})
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return settlement.NewError(settlement.ErrCodeNetworkUnavailable,
			fmt.Sprintf("request failed (%d): %s", status, text), nil)
	}
	return errors.Errorf("request failed (%d): %s", status, text)
}
