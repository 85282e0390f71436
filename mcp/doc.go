// Package mcp exposes the settlement relay to inference agents as Model
// Context Protocol tools.
//
// # Server Usage
//
// Register the relay tools on an MCP server and serve it over SSE:
//
//	import (
//	    "github.com/odla-network/settlement/mcp"
//	    mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
//	)
//
//	server := mcp.NewServer(mcp.ServerConfig{
//	    Relay:   relay,
//	    Signers: signers.NewResolver(hub),
//	})
//	http.Handle("/mcp", mcp.NewHandler(server))
//
// # Client Usage
//
// Wrap a connected session to call the tools with typed arguments:
//
//	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agent", Version: "1.0.0"}, nil)
//	session, _ := mcpClient.Connect(ctx, &mcpsdk.SSEClientTransport{Endpoint: relayURL + "/mcp"}, nil)
//
//	client := mcp.NewClient(session)
//	receipt, err := client.Pay(ctx, relayhttp.PayRequest{...})
//
// Failed tool calls are returned as *settlement.Error with the code the
// relay reported.
package mcp
