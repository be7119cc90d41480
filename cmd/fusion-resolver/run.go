package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashbridge/fusion-resolver/internal/alert"
	"github.com/hashbridge/fusion-resolver/internal/api"
	"github.com/hashbridge/fusion-resolver/internal/chain"
	"github.com/hashbridge/fusion-resolver/internal/config"
	"github.com/hashbridge/fusion-resolver/internal/engine"
	"github.com/hashbridge/fusion-resolver/internal/health"
	"github.com/hashbridge/fusion-resolver/internal/logging"
	"github.com/hashbridge/fusion-resolver/internal/metrics"
	"github.com/hashbridge/fusion-resolver/internal/resolver"
	"github.com/hashbridge/fusion-resolver/internal/source"
	"github.com/hashbridge/fusion-resolver/internal/source/evm"
	"github.com/hashbridge/fusion-resolver/internal/source/sui"
	"github.com/hashbridge/fusion-resolver/internal/storage"
)

var (
	flagOnce    bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run one ingest and one resolve pass, then exit")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingest and resolve cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		descs, err := cfg.Descriptors()
		if err != nil {
			return err
		}
		registry, err := chain.NewRegistry(descs)
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		for _, desc := range descs {
			if err := store.SeedCursor(ctx, desc.ID, desc.StartBlock, desc.ProcessDelay, desc.EscrowFactory); err != nil {
				return fmt.Errorf("seed cursor %s: %w", desc.ID, err)
			}
		}

		evmClients := map[string]evm.BlockClient{}
		txClients := map[string]evm.TxClient{}
		adapters := map[string]source.Adapter{}
		resolverAdapters := map[chain.Family]resolver.ChainAdapter{}

		for _, desc := range descs {
			switch desc.Family {
			case chain.FamilyEVM:
				cli, err := evm.NewRPCClient(desc.RPCURL)
				if err != nil {
					return fmt.Errorf("chain %s: %w", desc.ID, err)
				}
				evmClients[desc.ID] = cli
				txClients[desc.ID] = cli
				adapters[desc.ID] = evm.NewScanner(cli, desc)
			case chain.FamilySui:
				suiAdapter := sui.NewAdapter(desc, log)
				adapters[desc.ID] = suiAdapter
				resolverAdapters[chain.FamilySui] = suiAdapter
			}
		}

		if len(txClients) > 0 {
			submitter, err := evm.NewSubmitter(cfg.Resolver.PrivateKey, registry, txClients, cfg.ConfirmationTimeout(), log)
			if err != nil {
				return err
			}
			resolverAdapters[chain.FamilyEVM] = submitter
			log.Info("resolver signer ready", "address", submitter.Address())
		}

		var notifier resolver.Notifier
		if cfg.Alerts.WebhookURL != "" {
			wh, err := alert.NewWebhook(cfg.Alerts.WebhookURL, cfg.Alerts.Template)
			if err != nil {
				return err
			}
			notifier = wh
			log.Info("operator alerts enabled")
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server", "error", err)
				}
			}()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(evmClients)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing: store.Ping,
				Chains: rpcChecker.Probe,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if cfg.API.ListenAddr != "" {
			apiSrv := api.NewServer(store, log).Serve(cfg.API.ListenAddr)
			log.Info("relayer api enabled", "addr", cfg.API.ListenAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = api.Shutdown(shutdownCtx, apiSrv)
			}()
		}

		ingestor := engine.NewIngestor(store, registry, adapters, mtr, log)
		resolve := resolver.New(store, registry, resolverAdapters, notifier, mtr, log)

		if flagOnce {
			if err := ingestor.RunOnce(ctx); err != nil {
				return err
			}
			return resolve.ProcessOrders(ctx)
		}

		runCycle(ctx, log, mtr, "ingest", cfg.IngestInterval(), ingestor.RunOnce)
		runCycle(ctx, log, mtr, "resolve", cfg.ResolveInterval(), resolve.ProcessOrders)

		log.Info("resolver running",
			"chains", len(descs),
			"ingest_interval", cfg.IngestInterval().String(),
			"resolve_interval", cfg.ResolveInterval().String())
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	},
}

// runCycle drives one periodic pass on its own ticker. The gate drops
// ticks that land while the previous pass is still running, and
// throttles re-entry to half the interval so a lagging ticker cannot
// fire passes back to back.
func runCycle(ctx context.Context, log *slog.Logger, mtr *metrics.Metrics, name string, interval time.Duration, pass func(context.Context) error) {
	gate := engine.NewGate(interval / 2)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !gate.TryEnter() {
				mtr.CyclesSkipped()
				log.Debug("cycle tick skipped", "cycle", name)
				continue
			}
			if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mtr.Errors()
				log.Error("cycle failed", "cycle", name, "error", err)
			}
			gate.Leave()
		}
	}()
}
