package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	"github.com/odla-network/settlement/test/mocks/node"
)

func main() {
	ctx, cancel := signal.NotifyContext(
		logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get(ctx).Error("devnode failed", zap.Error(err))
		os.Exit(1)
	}
}

type options struct {
	listen        string
	networkID     string
	autoFinalize  bool
	finalizeEvery time.Duration
	funds         []string
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("devnode", pflag.ContinueOnError)
	flags.StringVar(&opts.listen, "listen", "127.0.0.1:20000", "JSON-RPC listen address")
	flags.StringVar(&opts.networkID, "network-id", node.DefaultNetworkID, "reported network id")
	flags.BoolVar(&opts.autoFinalize, "auto-finalize", false, "finalize transfers as soon as they are accepted")
	flags.DurationVar(&opts.finalizeEvery, "finalize-every", 2*time.Second, "block interval, 0 disables")
	flags.StringArrayVar(&opts.funds, "fund", nil, "account=CCD to credit at start, repeatable")
	if err := flags.Parse(args); err != nil {
		return options{}, errors.WithStack(err)
	}
	return opts, nil
}

// parseFunding reads "address=amount" with amount in CCD
func parseFunding(funding string) (settlement.AccountAddress, uint64, error) {
	address, amount, ok := strings.Cut(funding, "=")
	if !ok {
		return settlement.AccountAddress{}, 0, errors.Errorf("funding %q must be address=amount", funding)
	}
	account, err := settlement.ParseAddress(address)
	if err != nil {
		return settlement.AccountAddress{}, 0, err
	}
	ccd, err := settlement.ParseAmount(amount)
	if err != nil {
		return settlement.AccountAddress{}, 0, err
	}
	units, err := settlement.ToSmallestUnit(ccd)
	if err != nil {
		return settlement.AccountAddress{}, 0, err
	}
	return account, units, nil
}

func run(ctx context.Context, args []string) error {
	log := logger.Get(ctx)

	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	dev := node.New(
		node.WithNetworkID(opts.networkID),
		node.WithAutoFinalize(opts.autoFinalize),
		node.WithLogger(log))
	for _, funding := range opts.funds {
		account, units, err := parseFunding(funding)
		if err != nil {
			return err
		}
		dev.Fund(account, units)
		log.Info("account funded", zap.String("account", account.String()), zap.Uint64("amount", units))
	}

	rpcServer, err := dev.Server()
	if err != nil {
		return err
	}
	defer rpcServer.Stop()

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return errors.Wrapf(err, "listening on %s failed", opts.listen)
	}
	server := &http.Server{Handler: rpcServer, ReadHeaderTimeout: 10 * time.Second}
	log.Info("developer ledger node listening",
		zap.String("address", ln.Addr().String()),
		zap.String("network", opts.networkID))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			err := server.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			return errors.WithStack(err)
		})
		if opts.finalizeEvery > 0 && !opts.autoFinalize {
			spawn("blocks", parallel.Fail, func(ctx context.Context) error {
				ticker := time.NewTicker(opts.finalizeEvery)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case <-ticker.C:
						if n := dev.Finalize(); n > 0 {
							log.Info("block finalized", zap.Int("items", n))
						}
					}
				}
			})
		}
		spawn("watchdog", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			_ = server.Close()
			return errors.WithStack(ctx.Err())
		})
		return nil
	})
}
