package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/odla-network/settlement"
)

// DefaultNodeURL is the JSON-RPC endpoint of a local ledger node
const DefaultNodeURL = "http://127.0.0.1:20000"

// DefaultTimeout bounds every node call that has no deadline of its own
const DefaultTimeout = 15 * time.Second

// Method names of the ledger node API
const (
	MethodNextSequenceNumber = "account_getNextSequenceNumber"
	MethodBalance            = "account_getBalance"
	MethodSendBlockItem      = "tx_sendBlockItem"
	MethodBlockItemStatus    = "tx_getBlockItemStatus"
	MethodConsensusInfo      = "node_getConsensusInfo"
)

// Config configures the ledger node client
type Config struct {
	// URL is the node's JSON-RPC endpoint (optional, defaults to DefaultNodeURL)
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for calls without a context deadline (optional, defaults to 15s)
	Timeout time.Duration
}

// Client talks JSON-RPC 2.0 to a ledger node.
// It implements settlement.NodeClient.
type Client struct {
	rpc      *rpc.Client
	endpoint string
	timeout  time.Duration
}

var _ settlement.NodeClient = (*Client)(nil)

// Dial connects to the node described by config
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}

	url := config.URL
	if url == "" {
		url = DefaultNodeURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrapf(err, "dialing ledger node %s failed", url)
	}
	return NewClient(c, url, config.Timeout), nil
}

// NewClient wraps an established RPC connection
func NewClient(c *rpc.Client, endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{rpc: c, endpoint: endpoint, timeout: timeout}
}

// Close closes the connection
func (c *Client) Close() {
	c.rpc.Close()
}

// Endpoint returns the node URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// NextNonce implements settlement.NodeClient
func (c *Client) NextNonce(ctx context.Context, address settlement.AccountAddress) (settlement.NextNonce, error) {
	var result settlement.NextNonce
	if err := c.call(ctx, &result, MethodNextSequenceNumber, address.String()); err != nil {
		return settlement.NextNonce{}, err
	}
	return result, nil
}

// Balance implements settlement.NodeClient
func (c *Client) Balance(ctx context.Context, address settlement.AccountAddress) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, &result, MethodBalance, address.String()); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SendBlockItem implements settlement.NodeClient
func (c *Client) SendBlockItem(ctx context.Context, item []byte) (string, error) {
	var hash string
	if err := c.call(ctx, &hash, MethodSendBlockItem, hexutil.Bytes(item)); err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.ToLower(hash), "0x"), nil
}

// BlockItemStatus implements settlement.NodeClient
func (c *Client) BlockItemStatus(ctx context.Context, hash string) (settlement.BlockItemStatus, error) {
	var result settlement.BlockItemStatus
	if err := c.call(ctx, &result, MethodBlockItemStatus, hash); err != nil {
		return settlement.BlockItemStatus{}, err
	}
	return result, nil
}

// ConsensusInfo implements settlement.NodeClient
func (c *Client) ConsensusInfo(ctx context.Context) (settlement.ConsensusInfo, error) {
	var result settlement.ConsensusInfo
	if err := c.call(ctx, &result, MethodConsensusInfo); err != nil {
		return settlement.ConsensusInfo{}, err
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return classify(c.rpc.CallContext(ctx, result, method, args...), method)
}
