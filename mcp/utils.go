package mcp

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
)

// jsonResult renders v as both text and structured content
func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool result")
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
		StructuredContent: json.RawMessage(b),
	}, nil
}

// errorResult reports err to the agent as a failed tool call
func errorResult(err error) *mcpsdk.CallToolResult {
	_, body := relayhttp.NewErrorResponse(err)
	b, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		b = []byte(err.Error())
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}
}

// resultText returns the first text content of a result
func resultText(result *mcpsdk.CallToolResult) string {
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// decodeResult unmarshals a tool result into out, or converts a failed call
// back into a settlement error
func decodeResult(result *mcpsdk.CallToolResult, out interface{}) error {
	text := resultText(result)
	if result.IsError {
		var body relayhttp.ErrorResponse
		if err := json.Unmarshal([]byte(text), &body); err == nil && body.Code != "" {
			return settlement.NewError(body.Code, body.Message, body.Details)
		}
		return errors.Errorf("tool call failed: %s", text)
	}
	if text == "" {
		return errors.New("tool result has no text content")
	}
	return errors.Wrap(json.Unmarshal([]byte(text), out), "failed to decode tool result")
}
