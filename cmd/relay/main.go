package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/ledger"
	"github.com/odla-network/settlement/mcp"
	relaygin "github.com/odla-network/settlement/pkg/gin"
	"github.com/odla-network/settlement/signers"
	"github.com/odla-network/settlement/signers/delegated"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(
		logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get(ctx).Error("relay failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	log := logger.Get(ctx)

	config, err := LoadConfig(args, os.Getenv)
	if err != nil {
		return err
	}

	node, err := ledger.Dial(ctx, &ledger.Config{
		URL:     config.NodeURL,
		Timeout: time.Duration(config.NodeTimeout),
	})
	if err != nil {
		return err
	}
	defer node.Close()

	relay := settlement.NewRelay(node,
		settlement.WithLogger(log),
		settlement.WithNonceLease(time.Duration(config.NonceLease)),
		settlement.WithDelegatedLease(time.Duration(config.DelegatedLease)),
		settlement.WithHistorySize(config.HistorySize))

	if config.OperatorURL != "" {
		operator, err := relayhttp.NewOperatorClient(&relayhttp.OperatorConfig{URL: config.OperatorURL})
		if err != nil {
			return err
		}
		relay.OnAfterSettle(operator.NotifyHook(log))
	}

	var hub *delegated.Hub
	if config.WalletBridge {
		hub = delegated.NewHub(
			delegated.WithSessionIdle(time.Duration(config.SessionIdle)),
			delegated.WithHubLogger(log))
	}
	resolver := signers.NewResolver(hub)

	mcpServer := mcp.NewServer(mcp.ServerConfig{
		Relay:       relay,
		Signers:     resolver,
		ExplorerURL: config.ExplorerURL,
		Logger:      log,
	})
	router := relaygin.NewRouter(relaygin.Config{
		Relay:       relay,
		Signers:     resolver,
		MCP:         mcp.NewHandler(mcpServer),
		ExplorerURL: config.ExplorerURL,
		Logger:      log,
	})

	reconciler := settlement.NewReconciler(relay, time.Duration(config.ReconcileInterval)).
		OnFinalized(func(_ context.Context, record settlement.TransactionRecord) {
			log.Info("payment reached terminal state",
				zap.String("hash", record.Hash),
				zap.String("status", string(record.Status)))
		})

	if health, err := relay.Health(ctx); err != nil {
		log.Warn("ledger node is not reachable yet", zap.String("node", config.NodeURL), zap.Error(err))
	} else {
		log.Info("connected to ledger node", zap.String("node", health.Node), zap.String("network", health.NetworkID))
	}

	ln, err := net.Listen("tcp", config.Listen)
	if err != nil {
		return errors.Wrapf(err, "listening on %s failed", config.Listen)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("relay API listening", zap.String("address", ln.Addr().String()))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			err := server.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			return errors.WithStack(err)
		})
		spawn("reconciler", parallel.Fail, reconciler.Run)
		if hub != nil {
			spawn("walletSessions", parallel.Fail, hub.Run)
		}
		spawn("watchdog", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("graceful shutdown failed", zap.Error(err))
				_ = server.Close()
			}
			return errors.WithStack(ctx.Err())
		})
		return nil
	})
}
