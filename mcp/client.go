package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	relayhttp "github.com/odla-network/settlement/http"
)

// Client calls the relay tools over an MCP session
type Client struct {
	session ToolCaller
}

// NewClient wraps a connected session
func NewClient(session ToolCaller) *Client {
	return &Client{session: session}
}

// Pay calls the pay tool
func (c *Client) Pay(ctx context.Context, req relayhttp.PayRequest) (*relayhttp.PayResponse, error) {
	var resp relayhttp.PayResponse
	if err := c.call(ctx, ToolPay, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance calls the get_balance tool
func (c *Client) Balance(ctx context.Context, address string) (*relayhttp.BalanceResponse, error) {
	var resp relayhttp.BalanceResponse
	if err := c.call(ctx, ToolGetBalance, BalanceArgs{Address: address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transaction calls the get_transaction tool
func (c *Client) Transaction(ctx context.Context, hash string) (*relayhttp.TransactionResponse, error) {
	var resp relayhttp.TransactionResponse
	if err := c.call(ctx, ToolGetTransaction, TransactionArgs{Hash: hash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, name string, args, out interface{}) error {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to call tool %s", name)
	}
	return decodeResult(result, out)
}
