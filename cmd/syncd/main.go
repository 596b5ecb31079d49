// Command syncd runs the Realtime Sync Service against one network
// connection, persisting matched blocks, transactions, and logs into the
// Event Store and emitting checkpoint/reorg events to the log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evmindex/realtime-sync-core/internal/common"
	"github.com/evmindex/realtime-sync-core/internal/config"
	"github.com/evmindex/realtime-sync-core/internal/db"
	"github.com/evmindex/realtime-sync-core/internal/logger"
	"github.com/evmindex/realtime-sync-core/internal/metrics"
	"github.com/evmindex/realtime-sync-core/internal/realtime"
	"github.com/evmindex/realtime-sync-core/internal/rpc"
	"github.com/evmindex/realtime-sync-core/internal/store"
	storemig "github.com/evmindex/realtime-sync-core/internal/store/migrations"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "syncd",
	Short:   "syncd - realtime EVM block/log sync core",
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level := os.Getenv("PONDER_LOG_LEVEL"); level != "" {
		cfg.Logging.DefaultLevel = level
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentRealtimeSync, cfg.Logging)

	log.Infof("running event store migrations at %s", cfg.DB.Path)
	if err := storemig.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		&cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance coordinator: %w", err)
	}
	defer dbMaintenance.Stop()

	eventStore := store.New(database, logger.NewComponentLoggerFromConfig(common.ComponentEventStore, cfg.Logging), dbMaintenance)

	log.Infof("connecting to %s", cfg.Network.RPCURL)
	ethClient, err := rpc.NewClient(ctx, cfg.Network.RPCURL, &cfg.Retry)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer metricsServer.Stop(ctx)
		log.Infof("metrics server listening on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	svc := realtime.NewService(
		cfg.Network,
		cfg.LogFilters,
		ethClient,
		eventStore,
		logger.NewComponentLoggerFromConfig(common.ComponentRealtimeSync, cfg.Logging),
	)

	go dispatchEvents(svc, log)

	latest, finalized, err := svc.Setup(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up realtime sync: %w", err)
	}
	log.Infof("setup complete: latest=%d finalized=%d", latest, finalized)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start realtime sync: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	svc.Kill()

	return nil
}

// dispatchEvents logs every Event emitted by svc. A production deployment
// would instead fan these into the GraphQL/handler layer; that layer is
// external to this core.
func dispatchEvents(svc *realtime.Service, log *logger.Logger) {
	for ev := range svc.Events() {
		switch e := ev.(type) {
		case realtime.RealtimeCheckpoint:
			log.Debugf("realtime checkpoint at timestamp %d", e.Timestamp)
		case realtime.FinalityCheckpoint:
			log.Infof("finality checkpoint at timestamp %d", e.Timestamp)
		case realtime.ShallowReorg:
			log.Warnf("shallow reorg reconciled, common ancestor timestamp %d", e.CommonAncestorTimestamp)
		case realtime.DeepReorg:
			log.Errorf("deep reorg detected at block %d, minimum depth %d, resync required", e.DetectedAtBlockNumber, e.MinimumDepth)
		case realtime.ErrorEvent:
			log.Errorf("realtime sync error: %v", e.Err)
		}
	}
}
