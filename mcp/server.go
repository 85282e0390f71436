package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/signers"
)

// ServerConfig configures the relay tools
type ServerConfig struct {
	// Relay settles payments and answers queries
	Relay *settlement.Relay

	// Signers resolves the signer of a pay call (optional, custodial only
	// when nil)
	Signers *signers.Resolver

	// ExplorerURL is the transaction page format (optional)
	ExplorerURL string

	// Logger (optional)
	Logger *zap.Logger
}

type toolServer struct {
	relay       *settlement.Relay
	signers     *signers.Resolver
	explorerURL string
	logger      *zap.Logger
}

// NewServer creates an MCP server exposing pay, get_balance and
// get_transaction
func NewServer(config ServerConfig) *mcpsdk.Server {
	s := &toolServer{
		relay:       config.Relay,
		signers:     config.Signers,
		explorerURL: config.ExplorerURL,
		logger:      config.Logger,
	}
	if s.signers == nil {
		s.signers = signers.NewResolver(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolPay,
		Description: "Pay for an inference job with a CCD transfer. Returns the transaction hash once broadcast.",
		InputSchema: payInputSchema,
	}, s.pay)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolGetBalance,
		Description: "Get the CCD balance of an account.",
		InputSchema: balanceInputSchema,
	}, s.balance)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolGetTransaction,
		Description: "Get the settlement status of a transaction.",
		InputSchema: transactionInputSchema,
	}, s.transaction)

	return server
}

// NewHandler serves server over the SSE transport
func NewHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, &mcpsdk.SSEOptions{})
}

func (s *toolServer) pay(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	body, err := relayhttp.DecodePayRequest(arguments(req))
	if err != nil {
		return errorResult(err), nil
	}

	signer, err := s.signers.Resolve(ctx, signers.Credentials{
		SenderAddress: body.SenderAddress,
		SenderKey:     body.SenderKey,
		SessionID:     body.SessionID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	receipt, err := s.relay.Pay(ctx, body.PaymentRequest(), signer)
	if err != nil {
		s.logger.Info("pay tool failed", zap.Error(err))
		return errorResult(err), nil
	}

	return jsonResult(relayhttp.PayResponse{
		Success:         true,
		TransactionHash: receipt.Record.Hash,
		Amount:          receipt.Amount,
		Recipient:       receipt.Record.Recipient,
		Memo:            receipt.Record.Memo,
		ExplorerURL:     relayhttp.ExplorerLink(s.explorerURL, receipt.Record.Hash),
	})
}

func (s *toolServer) balance(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args BalanceArgs
	if err := json.Unmarshal(arguments(req), &args); err != nil || args.Address == "" {
		return errorResult(settlement.NewError(settlement.ErrCodeMissingField, "missing required field: address",
			map[string]interface{}{"field": "address"})), nil
	}

	units, err := s.relay.Balance(ctx, args.Address)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(relayhttp.BalanceResponse{
		Address:         args.Address,
		Balance:         settlement.ToDecimal(units),
		BalanceMicroCCD: units,
	})
}

func (s *toolServer) transaction(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args TransactionArgs
	if err := json.Unmarshal(arguments(req), &args); err != nil || args.Hash == "" {
		return errorResult(settlement.NewError(settlement.ErrCodeMissingField, "missing required field: hash",
			map[string]interface{}{"field": "hash"})), nil
	}

	record, err := s.relay.Transaction(ctx, args.Hash)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(relayhttp.TransactionResponse{
		TransactionHash: record.Hash,
		Status:          record.Status,
		ExplorerURL:     relayhttp.ExplorerLink(s.explorerURL, record.Hash),
	})
}

func arguments(req *mcpsdk.CallToolRequest) json.RawMessage {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	return req.Params.Arguments
}
