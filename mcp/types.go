package mcp

// Tool names
const (
	ToolPay            = "pay"
	ToolGetBalance     = "get_balance"
	ToolGetTransaction = "get_transaction"
)

// ServerName is the implementation name announced to MCP clients
const ServerName = "odla-settlement"

// ServerVersion is the implementation version announced to MCP clients
const ServerVersion = "1.0.0"

// BalanceArgs are the arguments of the get_balance tool
type BalanceArgs struct {
	Address string `json:"address"`
}

// TransactionArgs are the arguments of the get_transaction tool
type TransactionArgs struct {
	Hash string `json:"hash"`
}

var payInputSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"amount", "recipient", "sender_address"},
	"properties": map[string]interface{}{
		"amount":         map[string]interface{}{"type": []string{"number", "string"}, "description": "Amount in CCD"},
		"recipient":      map[string]interface{}{"type": "string", "description": "Recipient account address"},
		"memo":           map[string]interface{}{"type": "string", "description": "Job id or other correlation tag"},
		"sender_address": map[string]interface{}{"type": "string", "description": "Paying account address"},
		"sender_key":     map[string]interface{}{"type": "string", "description": "Hex private key of a custodial sender"},
		"session_id":     map[string]interface{}{"type": "string", "description": "Wallet session of a delegated sender"},
	},
}

var balanceInputSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"address"},
	"properties": map[string]interface{}{
		"address": map[string]interface{}{"type": "string", "description": "Account address"},
	},
}

var transactionInputSchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"hash"},
	"properties": map[string]interface{}{
		"hash": map[string]interface{}{"type": "string", "description": "Transaction hash"},
	},
}
