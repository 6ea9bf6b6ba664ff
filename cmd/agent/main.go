// Package main is the entry point for the liquidity agent: the off-chain
// control plane that observes pools across chains, scores them, and
// schedules the on-chain actions that keep the vault's capital where the
// fees are.
//
// Startup sequence:
//  1. Load configuration and the chain registry
//  2. Open the task and time-series sqlite stores
//  3. Dial every chain and prepare the signing key
//  4. Register the per-chain action definitions
//  5. Start the stats and action loops plus the HTTP server
//  6. Wait for a shutdown signal and drain gracefully
package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/actions"
	"github.com/aristath/liquidity-sentinel/internal/alerts"
	"github.com/aristath/liquidity-sentinel/internal/allocator"
	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/collector"
	"github.com/aristath/liquidity-sentinel/internal/config"
	"github.com/aristath/liquidity-sentinel/internal/database"
	"github.com/aristath/liquidity-sentinel/internal/metrics"
	"github.com/aristath/liquidity-sentinel/internal/reliability"
	"github.com/aristath/liquidity-sentinel/internal/scheduler"
	"github.com/aristath/liquidity-sentinel/internal/server"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
	"github.com/aristath/liquidity-sentinel/internal/timeseries"
	"github.com/aristath/liquidity-sentinel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Environment == config.EnvDevelopment,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("chains", len(cfg.Chains.All())).
		Msg("Starting liquidity agent")

	if cfg.VaultPrivateKey == "" {
		log.Fatal().Msg("VAULT_PRIVATE_KEY is required")
	}

	// Stores. Tasks and time-series live in separate files so the
	// high-churn observation writes never contend with task updates.
	tasksDB, err := database.New(cfg.TasksDBPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open tasks database")
	}
	defer tasksDB.Close()

	seriesDB, err := database.New(cfg.TimeseriesDBPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open timeseries database")
	}
	defer seriesDB.Close()

	taskStore, err := tasks.NewStore(tasksDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize task store")
	}
	seriesStore, err := timeseries.NewStore(seriesDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize timeseries store")
	}

	// Chain access: one dialed backend per configured chain, reads
	// wrapped in the retryer, writes signed with the vault key.
	retryer := chain.NewRetryer(log)
	bridge := chain.NewBridgeClient(cfg.BridgeAPIURL, log)
	client, err := chain.NewClient(cfg.Chains.All(), cfg.VaultPrivateKey, bridge, retryer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize chain client")
	}
	defer client.Close()
	log.Info().Str("operator", client.From().Hex()).Msg("Chain client ready")

	// Stats side: observations in, metrics and LOS scores out.
	engine := metrics.NewEngine(seriesStore, log)
	alloc := allocator.New(config.GasScores, log)
	cache := collector.NewSnapshotCache(filepath.Join(cfg.DataDir, "snapshot.msgpack"))
	coll := collector.New(client, cfg.Chains.All(), seriesStore, engine, alloc, cache, log)

	// Action side: one definition set per chain, sharing the registry.
	registry := tasks.NewRegistry()
	if err := registerActions(cfg, client, coll, registry, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register actions")
	}
	runner := tasks.NewRunner(taskStore, registry, log)

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DataDir:   cfg.DataDir,
		Collector: coll,
		Tasks:     taskStore,
		Runner:    runner,
		Chains:    cfg.Chains.All(),
	})

	// Task transitions fan out to websocket subscribers and, for
	// terminal states, to the alert webhook.
	notifier := alerts.NewNotifier(cfg.AlertWebhookURL, log)
	runner.OnTransition = func(t tasks.Task) {
		srv.TaskHub().Broadcast(t)
		notifier.TaskTransition(t)
	}

	sched := scheduler.New(log)
	collect := func(ctx context.Context) {
		coll.CollectAll(ctx)
		if _, _, lastErr := coll.Statuses(); lastErr != "" {
			notifier.Error("collector", lastErr)
		}
	}
	statsSchedule := everyMs(cfg.StatsIntervalMs)
	if err := sched.AddJob(statsSchedule, scheduler.NewStatsJob(collect, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule stats loop")
	}
	actionSchedule := everyMs(cfg.ActionIntervalMs)
	if err := sched.AddJob(actionSchedule, scheduler.NewActionJob(runner.Tick, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule action loop")
	}

	if cfg.BackupS3Bucket != "" {
		s3, err := reliability.NewS3Client(context.Background(),
			cfg.BackupS3Endpoint, cfg.BackupS3AccessKey, cfg.BackupS3SecretKey,
			cfg.BackupS3Bucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backup := reliability.NewBackupService(s3, cfg.DataDir,
			[]string{cfg.TasksDBPath(), cfg.TimeseriesDBPath()}, log)
		// Daily, off-peak.
		if err := sched.AddJob("0 0 3 * * *", backup); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
	}

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	// Stop the loops first so no new tick starts against a closing
	// server or store, then drain in-flight HTTP requests.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}

// registerActions instantiates every action definition. Registration
// order is scheduling priority: vault sync first, then per-chain
// position upkeep, then cross-chain moves.
func registerActions(cfg *config.Config, client *chain.Client, coll *collector.Collector, registry *tasks.Registry, log zerolog.Logger) error {
	chains := cfg.Chains.All()

	parent := cfg.Chains.Parent()
	if parent == nil {
		return errors.New("no parent chain configured")
	}

	reserve, ok := new(big.Int).SetString(cfg.VaultReserveWei, 10)
	if !ok {
		return errors.New("VAULT_RESERVE_WEI is not a decimal integer")
	}

	deps := func(spec *chain.Spec) actions.Deps {
		return actions.Deps{Adapter: client, Spec: spec, Log: log}
	}

	if err := registry.Register(actions.NewVaultSync(deps(parent), reserve)); err != nil {
		return err
	}

	for _, spec := range chains {
		if spec.Excluded || spec.DefaultPool == nil {
			continue
		}
		if err := registry.Register(actions.NewRemoveLiquidity(deps(spec))); err != nil {
			return err
		}
		if err := registry.Register(actions.NewSwapForBalance(deps(spec))); err != nil {
			return err
		}
		if err := registry.Register(actions.NewAddLiquidity(deps(spec), int32(cfg.TickRangeWidth))); err != nil {
			return err
		}
	}

	for _, from := range chains {
		if from.Excluded || from.DefaultPool == nil {
			continue
		}
		for _, to := range chains {
			if to.ID == from.ID || to.Excluded || to.DefaultPool == nil {
				continue
			}
			transfer := actions.NewCrossChainTransfer(deps(from), to, coll, cfg.RebalanceThreshold)
			if err := registry.Register(transfer); err != nil {
				return err
			}
		}
	}

	return nil
}

// everyMs renders a millisecond interval as a cron "@every" schedule.
func everyMs(ms int) string {
	return "@every " + (time.Duration(ms) * time.Millisecond).String()
}
