package ledger

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/odla-network/settlement"
)

// JSON-RPC error codes returned by the ledger node
const (
	CodeNotFound          = -32004
	CodeInsufficientFunds = -32010
	CodeNonceTooLow       = -32011
	CodeExpired           = -32012
	CodeNonceGap          = -32013
	CodeBadSignature      = -32014
	CodeDuplicate         = -32015
)

// NodeError is a JSON-RPC error carrying one of the ledger codes.
// It satisfies rpc.Error so servers pass the code through unchanged.
type NodeError struct {
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return e.Message
}

// ErrorCode implements rpc.Error
func (e *NodeError) ErrorCode() int {
	return e.Code
}

// Errorf creates a NodeError
func Errorf(code int, format string, args ...interface{}) *NodeError {
	return &NodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// classify converts transport and JSON-RPC failures to settlement errors
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		details := map[string]interface{}{"operation": op, "rpc_code": rpcErr.ErrorCode()}
		switch rpcErr.ErrorCode() {
		case CodeNotFound:
			return settlement.NewError(settlement.ErrCodeNotFound, rpcErr.Error(), details)
		case CodeInsufficientFunds:
			return settlement.NewError(settlement.ErrCodeInsufficientFunds, rpcErr.Error(), details)
		case CodeNonceTooLow, CodeNonceGap:
			return settlement.NewError(settlement.ErrCodeStaleNonce, rpcErr.Error(), details)
		case CodeExpired:
			return settlement.NewError(settlement.ErrCodeExpired, rpcErr.Error(), details)
		}
		return settlement.NewError(settlement.ErrCodeNodeRejected, rpcErr.Error(), details)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError &&
		httpErr.StatusCode != http.StatusTooManyRequests {
		return settlement.WrapError(settlement.ErrCodeNodeRejected, err,
			fmt.Sprintf("%s: node answered %s", op, httpErr.Status))
	}

	if errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, "%s canceled", op)
	}
	return settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err,
		fmt.Sprintf("%s: ledger node unreachable", op))
}
