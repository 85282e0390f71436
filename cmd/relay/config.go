package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/ledger"
)

// Duration is a time.Duration written as "30s" in config.json
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the relay service configuration.
//
// Values are taken from config.json, then from the environment, then from
// command line flags, each layer overriding the previous one.
type Config struct {
	// Listen is the address the relay API binds to
	Listen string `json:"listen"`
	// NodeURL is the ledger node's JSON-RPC endpoint
	NodeURL string `json:"node_url"`
	// NodeTimeout bounds each node call
	NodeTimeout Duration `json:"node_timeout"`
	// ExplorerURL formats transaction links, with one %s for the hash
	ExplorerURL string `json:"explorer_url"`
	// OperatorURL is notified of settled job payments (optional)
	OperatorURL string `json:"operator_url"`

	// NonceLease bounds how long a custodial payment holds a sender's nonce
	NonceLease Duration `json:"nonce_lease"`
	// DelegatedLease bounds how long a wallet may take to approve
	DelegatedLease Duration `json:"delegated_lease"`
	// ReconcileInterval is how often pending payments are refreshed
	ReconcileInterval Duration `json:"reconcile_interval"`
	// HistorySize is how many payments are kept for GET /history
	HistorySize int `json:"history_size"`

	// WalletBridge serves the browser wallet endpoints
	WalletBridge bool `json:"wallet_bridge"`
	// SessionIdle closes wallet sessions that stop polling
	SessionIdle Duration `json:"session_idle"`
}

// Defaults
const (
	DefaultListen         = ":8000"
	DefaultConfigFile     = "config.json"
	DefaultNonceLease     = 30 * time.Second
	DefaultDelegatedLease = 2 * time.Minute
	DefaultSessionIdle    = 10 * time.Minute
)

// Environment variables
const (
	EnvNodeURL     = "ODLA_NODE_URL"
	EnvListen      = "ODLA_LISTEN"
	EnvExplorerURL = "ODLA_EXPLORER_URL"
	EnvOperatorURL = "ODLA_OPERATOR_URL"
)

// Config validation errors
var (
	ErrMissingListen  = errors.New("relay: listen address is required")
	ErrMissingNodeURL = errors.New("relay: node url is required")
	ErrInvalidLease   = errors.New("relay: leases must be positive")
)

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Listen:            DefaultListen,
		NodeURL:           ledger.DefaultNodeURL,
		NodeTimeout:       Duration(ledger.DefaultTimeout),
		ExplorerURL:       relayhttp.DefaultExplorerURL,
		NonceLease:        Duration(DefaultNonceLease),
		DelegatedLease:    Duration(DefaultDelegatedLease),
		ReconcileInterval: Duration(settlement.DefaultReconcileInterval),
		HistorySize:       settlement.DefaultHistorySize,
		WalletBridge:      true,
		SessionIdle:       Duration(DefaultSessionIdle),
	}
}

// Validate checks if the config has all required fields
func (c *Config) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.NodeURL == "" {
		return ErrMissingNodeURL
	}
	if c.NonceLease <= 0 || c.DelegatedLease <= 0 {
		return ErrInvalidLease
	}
	return nil
}

// LoadConfig builds the configuration from the config file named by
// --config, the environment and args
func LoadConfig(args []string, getenv func(string) string) (Config, error) {
	config := DefaultConfig()

	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	file := flags.String("config", DefaultConfigFile, "path to config.json")
	listen := flags.String("listen", config.Listen, "address of the relay API")
	nodeURL := flags.String("node-url", config.NodeURL, "ledger node JSON-RPC endpoint")
	nodeTimeout := flags.Duration("node-timeout", time.Duration(config.NodeTimeout), "timeout of node calls")
	explorerURL := flags.String("explorer-url", config.ExplorerURL, "transaction explorer link format")
	operatorURL := flags.String("operator-url", "", "operator notified of settled job payments")
	nonceLease := flags.Duration("nonce-lease", time.Duration(config.NonceLease), "custodial nonce lease")
	delegatedLease := flags.Duration("delegated-lease", time.Duration(config.DelegatedLease), "wallet approval lease")
	reconcile := flags.Duration("reconcile-interval", time.Duration(config.ReconcileInterval),
		"pending payment refresh interval")
	historySize := flags.Int("history-size", config.HistorySize, "payments kept in history")
	walletBridge := flags.Bool("wallet-bridge", config.WalletBridge, "serve browser wallet sessions")
	sessionIdle := flags.Duration("session-idle", time.Duration(config.SessionIdle), "idle wallet session timeout")

	if err := flags.Parse(args); err != nil {
		return Config{}, errors.WithStack(err)
	}

	raw, err := os.ReadFile(*file)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &config); err != nil {
			return Config{}, errors.Wrapf(err, "parsing %s failed", *file)
		}
	case !os.IsNotExist(err) || flags.Changed("config"):
		return Config{}, errors.Wrapf(err, "reading %s failed", *file)
	}

	for env, field := range map[string]*string{
		EnvNodeURL:     &config.NodeURL,
		EnvListen:      &config.Listen,
		EnvExplorerURL: &config.ExplorerURL,
		EnvOperatorURL: &config.OperatorURL,
	} {
		if v := getenv(env); v != "" {
			*field = v
		}
	}

	if flags.Changed("listen") {
		config.Listen = *listen
	}
	if flags.Changed("node-url") {
		config.NodeURL = *nodeURL
	}
	if flags.Changed("node-timeout") {
		config.NodeTimeout = Duration(*nodeTimeout)
	}
	if flags.Changed("explorer-url") {
		config.ExplorerURL = *explorerURL
	}
	if flags.Changed("operator-url") {
		config.OperatorURL = *operatorURL
	}
	if flags.Changed("nonce-lease") {
		config.NonceLease = Duration(*nonceLease)
	}
	if flags.Changed("delegated-lease") {
		config.DelegatedLease = Duration(*delegatedLease)
	}
	if flags.Changed("reconcile-interval") {
		config.ReconcileInterval = Duration(*reconcile)
	}
	if flags.Changed("history-size") {
		config.HistorySize = *historySize
	}
	if flags.Changed("wallet-bridge") {
		config.WalletBridge = *walletBridge
	}
	if flags.Changed("session-idle") {
		config.SessionIdle = Duration(*sessionIdle)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
