package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
)

// Environment variables holding the payer's credentials
const (
	EnvSenderKey     = "CONCORDIUM_SENDER_KEY"
	EnvSenderAddress = "CONCORDIUM_SENDER_ADDRESS"
)

func main() {
	ctx, cancel := signal.NotifyContext(
		logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	paid, err := payJob(ctx, opts)
	if err != nil {
		logger.Get(ctx).Error("payment failed", zap.String("job", opts.jobID), zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("paid %s CCD for job %s\ntransaction: %s\nstatus: %s\n%s\n",
		paid.Amount, opts.jobID, paid.TransactionHash, paid.Status, paid.ExplorerURL)
}

type options struct {
	jobID         string
	operatorURL   string
	relayURL      string
	senderKey     string
	senderAddress string
	wait          time.Duration
	pollInterval  time.Duration
	confirm       bool
}

type fileConfig struct {
	OperatorURL       string `json:"operator_url"`
	PaymentServiceURL string `json:"payment_service_url"`
}

func parseFlags(args []string, getenv func(string) string) (options, error) {
	var opts options
	var configPath string

	flags := pflag.NewFlagSet("payjob", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "config.json", "file providing operator_url and payment_service_url")
	flags.StringVar(&opts.operatorURL, "operator-url", "", "operator that ran the job")
	flags.StringVar(&opts.relayURL, "relay-url", "", "settlement relay")
	flags.StringVar(&opts.senderKey, "sender-key", getenv(EnvSenderKey), "hex private key of the payer")
	flags.StringVar(&opts.senderAddress, "sender-address", getenv(EnvSenderAddress), "account of the payer")
	flags.DurationVar(&opts.wait, "wait", 2*time.Minute, "how long to wait for finalization, 0 skips waiting")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "status poll interval")
	flags.BoolVar(&opts.confirm, "confirm", true, "notify the operator once paid")
	if err := flags.Parse(args); err != nil {
		return options{}, errors.WithStack(err)
	}
	if flags.NArg() != 1 {
		return options{}, errors.New("usage: payjob [flags] <job-id>")
	}
	opts.jobID = flags.Arg(0)

	if raw, err := os.ReadFile(configPath); err == nil {
		var fc fileConfig
		if err := json.Unmarshal(raw, &fc); err != nil {
			return options{}, errors.Wrapf(err, "parsing %s failed", configPath)
		}
		if opts.operatorURL == "" {
			opts.operatorURL = fc.OperatorURL
		}
		if opts.relayURL == "" {
			opts.relayURL = fc.PaymentServiceURL
		}
	}

	if opts.operatorURL == "" {
		return options{}, errors.Errorf("no operator url: pass --operator-url or set operator_url in %s", configPath)
	}
	if opts.senderKey == "" || opts.senderAddress == "" {
		return options{}, errors.Errorf("%s and %s must be set", EnvSenderKey, EnvSenderAddress)
	}
	return opts, nil
}

// result summarizes a paid job
type result struct {
	relayhttp.PayResponse
	Status settlement.TransactionStatus
}

func payJob(ctx context.Context, opts options) (*result, error) {
	log := logger.Get(ctx)

	operator, err := relayhttp.NewOperatorClient(&relayhttp.OperatorConfig{URL: opts.operatorURL})
	if err != nil {
		return nil, err
	}
	relay := relayhttp.NewRelayClient(&relayhttp.RelayConfig{URL: opts.relayURL})

	job, err := operator.Job(ctx, opts.jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading job %s failed", opts.jobID)
	}
	if job.Payment == nil {
		return nil, errors.Errorf("job %s has no payment due", opts.jobID)
	}

	log.Info("paying job",
		zap.String("job", job.JobID),
		zap.String("amount", job.Payment.AmountCCD.String()),
		zap.String("recipient", job.Payment.RecipientAddress))

	paid, err := relay.Pay(ctx, relayhttp.PayRequest{
		Amount:        job.Payment.AmountCCD,
		Recipient:     job.Payment.RecipientAddress,
		Memo:          job.JobID,
		SenderAddress: opts.senderAddress,
		SenderKey:     opts.senderKey,
	})
	if err != nil {
		return nil, err
	}

	res := &result{PayResponse: *paid, Status: settlement.StatusSubmitted}
	if opts.wait > 0 {
		res.Status, err = awaitFinal(ctx, relay, paid.TransactionHash, opts.wait, opts.pollInterval)
		if err != nil {
			return nil, err
		}
		if res.Status != settlement.StatusFinalized {
			return res, errors.Errorf("transaction %s ended %s", paid.TransactionHash, res.Status)
		}
	}

	if opts.confirm {
		if err := operator.ConfirmPayment(ctx, relayhttp.PaymentConfirmation{
			JobID:           job.JobID,
			TransactionHash: paid.TransactionHash,
			Amount:          paid.Amount,
		}); err != nil {
			return res, errors.Wrap(err, "payment succeeded but the operator was not notified")
		}
	}
	return res, nil
}

// awaitFinal polls the relay until the transaction is terminal or wait
// elapses, returning the last status seen
func awaitFinal(
	ctx context.Context,
	relay *relayhttp.RelayClient,
	hash string,
	wait, interval time.Duration,
) (settlement.TransactionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	status := settlement.StatusSubmitted
	for {
		tx, err := relay.Transaction(ctx, hash)
		switch {
		case err == nil:
			status = tx.Status
			if status.IsTerminal() {
				return status, nil
			}
		case ctx.Err() == nil && !settlement.HasCode(err, settlement.ErrCodeNotFound):
			return status, err
		}

		select {
		case <-ctx.Done():
			return status, nil
		case <-ticker.C:
		}
	}
}
