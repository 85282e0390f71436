package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCaller is the part of an MCP client session the relay client needs.
// *mcpsdk.ClientSession implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

var _ ToolCaller = (*mcpsdk.ClientSession)(nil)
