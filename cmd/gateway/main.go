package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/uhyunpark/dexgate/params"
	"github.com/uhyunpark/dexgate/pkg/action"
	"github.com/uhyunpark/dexgate/pkg/api"
	"github.com/uhyunpark/dexgate/pkg/chain"
	"github.com/uhyunpark/dexgate/pkg/crypto"
	"github.com/uhyunpark/dexgate/pkg/feed"
	"github.com/uhyunpark/dexgate/pkg/ids"
	"github.com/uhyunpark/dexgate/pkg/indexer"
	"github.com/uhyunpark/dexgate/pkg/metrics"
	"github.com/uhyunpark/dexgate/pkg/storage"
	"github.com/uhyunpark/dexgate/pkg/subscription"
	"github.com/uhyunpark/dexgate/pkg/txflow"
	"github.com/uhyunpark/dexgate/pkg/util"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, cmd *cli.Command) error {
	// Priority: ENV > .env file > defaults
	cfg := params.LoadFromEnv(cmd.String("env-file"))
	if logFile := cmd.String("log-file"); logFile != "" {
		cfg.Server.LogFile = logFile
	}

	logger, err := util.NewLoggerWithFile(cfg.Server.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile)

	for _, w := range cfg.Warnings {
		sugar.Warnw("config_default", "detail", w)
	}
	if err := cfg.Validate(); err != nil {
		sugar.Errorw("config_invalid", "err", err)
		return err
	}

	key, err := crypto.FromSeedPhrase(cfg.Signer.SeedPhrase)
	if err != nil {
		sugar.Errorw("keyring_init_failed", "err", err)
		return err
	}
	signer := crypto.NewActionSigner(key, crypto.DefaultDomain())
	sugar.Infow("keyring_initialized", "address", signer.Address().Hex())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Upstream ----
	node, err := chain.Dial(ctx, cfg.Chain.Node, sugar)
	if err != nil {
		return err
	}
	defer node.Close()

	idx := indexer.New(cfg.Indexer.Endpoint, cfg.Indexer.Timeout)
	genesis := indexer.NewGenesis(node, idx, sugar)
	go func() {
		if err := genesis.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("genesis_failed", "err", err)
		}
	}()

	journal, err := storage.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		sugar.Errorw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		return err
	}
	defer journal.Close()

	// ---- Core ----
	stats := metrics.New()
	trades := feed.NewTradeHub(node, idx, genesis, cfg.Indexer.LookbackBlocks, sugar, stats)
	adapter := feed.NewAdapter(node, trades, sugar, stats)
	subs := subscription.NewManager(adapter, cfg.Gateway.Tokens, sugar, stats)
	defer subs.Close()

	driver := txflow.NewDriver(node, signer, journal, util.RealClock{}, cfg.Chain.TxTimeout, sugar, stats)
	dispatcher := action.New(ctx, subs, driver, sugar)
	defer dispatcher.Wait()

	// ---- Transport ----
	server := api.NewServer(api.Deps{
		Dispatcher:    dispatcher,
		Subscriptions: subs,
		IDs:           ids.NewIssuer(),
		Trades:        trades,
		Chain:         genesis,
		Journal:       journal,
		Tokens:        cfg.Gateway.Tokens,
		RateLimit:     cfg.Gateway.ActionRateLimit,
		Signer:        signer.Address().Hex(),
	}, sugar, stats)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx, cfg.ListenAddr())
	}()
	sugar.Infow("gateway_started",
		"addr", cfg.ListenAddr(),
		"tokens", cfg.Gateway.Tokens,
		"chain_node", cfg.Chain.Node,
		"indexer", cfg.Indexer.Endpoint,
		"tx_timeout", cfg.Chain.TxTimeout)

	var serveErr error
	select {
	case <-ctx.Done():
		sugar.Infow("gateway_stopping")
	case serveErr = <-errCh:
		if serveErr != nil {
			sugar.Errorw("api_server_failed", "err", serveErr)
		}
	}
	// In-flight transactions observe the cancel and reply before Wait returns.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	return serveErr
}

func main() {
	cmd := &cli.Command{
		Name:  "gateway",
		Usage: "Serve DEX market data and order actions over websocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a `.env` file (defaults to ./.env when present)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Log file path, overriding LOG_FILE",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
