// Command riskgated launches the risk-gated execution daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantfall/riskgate/internal/broker"
	"github.com/quantfall/riskgate/internal/broker/fake"
	"github.com/quantfall/riskgate/internal/config"
	"github.com/quantfall/riskgate/internal/execution"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/orders"
	"github.com/quantfall/riskgate/internal/persistence/migrations"
	pgstore "github.com/quantfall/riskgate/internal/persistence/postgres"
	"github.com/quantfall/riskgate/internal/quotes"
	"github.com/quantfall/riskgate/internal/reconcile"
	"github.com/quantfall/riskgate/internal/risk"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

const (
	defaultConfigPath = "config/riskgate.yaml"
	snapshotTimeout   = 5 * time.Second
	telemetryShutdown = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, resolveConfigPath(*cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	observability.SetLogger(observability.NewLogrusLogger(cfg.Logging))
	log := observability.Log()
	log.Info("configuration initialised",
		observability.F("environment", string(cfg.Environment)),
		observability.F("broker", cfg.Broker.Kind))

	telemetryShutdownFn, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer shutdownCancel()
		if err := telemetryShutdownFn(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", observability.F("error", err))
		}
	}()

	registry := session.NewRegistry()

	engine := risk.NewEngine(cfg.Risk)
	throttle, err := risk.NewThrottle(cfg.Throttle)
	if err != nil {
		return fmt.Errorf("initialise throttle: %w", err)
	}
	router := execution.NewRouter(registry, engine, throttle)

	pgClose, err := initPersistence(ctx, cfg, registry, router)
	if err != nil {
		return err
	}
	if pgClose != nil {
		defer pgClose()
	}

	quoteClient, err := initQuotes(ctx, cfg, router)
	if err != nil {
		return err
	}
	if quoteClient != nil {
		defer quoteClient.Stop()
	}

	if worker := initBroker(cfg, registry, router); worker != nil {
		worker.Start(ctx)
		defer worker.Stop()
	}

	log.Info("riskgated started; awaiting shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, initiating graceful shutdown")
	return nil
}

// initPersistence wires the pgx pool, migrations, trade history, and session
// snapshot replay. An empty DSN leaves the daemon fully in-memory.
func initPersistence(ctx context.Context, cfg config.AppConfig, registry *session.Registry, router *execution.Router) (func(), error) {
	log := observability.Log()
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; sessions and trade history are in-memory only")
		return nil, nil
	}

	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	pool, err := pgstore.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pgstore.ObservePoolMetrics(pool, "primary")

	store := pgstore.New(pool)
	router.SetHistory(store.Trades())

	// Replay persisted sessions before installing the snapshot hook, so the
	// replay itself does not write every row straight back.
	persisted, err := store.Sessions().LoadAll(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("replay sessions: %w", err)
	}
	for _, s := range persisted {
		registry.Put(s)
	}
	if len(persisted) > 0 {
		log.Info("sessions replayed from store", observability.F("count", len(persisted)))
	}

	sessions := store.Sessions()
	registry.SetSnapshot(func(s session.Session) {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer saveCancel()
		if err := sessions.Save(saveCtx, s); err != nil {
			log.Error("session snapshot write failed",
				observability.F("session", s.ID), observability.F("error", err))
		}
	})

	return pool.Close, nil
}

// initQuotes connects the websocket quote client and registers the paper
// executor on top of it. Without a quote URL paper execution stays disabled.
func initQuotes(ctx context.Context, cfg config.AppConfig, router *execution.Router) (*quotes.WSClient, error) {
	log := observability.Log()
	if cfg.Quotes.URL == "" {
		log.Warn("no quote feed configured; paper execution disabled")
		return nil, nil
	}

	client := quotes.NewWSClient(ctx, cfg.Quotes)
	if err := client.Start(); err != nil {
		return nil, fmt.Errorf("start quote client: %w", err)
	}
	router.RegisterExecutor(schema.ModePaper, execution.NewPaper(cfg.Paper, client))
	log.Info("quote client connected", observability.F("url", cfg.Quotes.URL))
	return client, nil
}

// initBroker wires live execution and the reconciliation worker when a broker
// backend is configured. Returns the worker to start, or nil.
func initBroker(cfg config.AppConfig, registry *session.Registry, router *execution.Router) *reconcile.Worker {
	log := observability.Log()

	var b broker.Broker
	switch cfg.Broker.Kind {
	case "sim":
		b = fake.New()
	default:
		log.Warn("no broker configured; live execution and reconciliation disabled")
		return nil
	}

	machine := orders.NewMachine(b)
	router.RegisterExecutor(schema.ModeLive, execution.NewLive(cfg.Live, machine))

	if !cfg.Reconcile.Enabled {
		log.Warn("reconciliation disabled by configuration")
		return nil
	}
	worker := reconcile.NewWorker(b, registry)
	worker.SetInterval(cfg.Reconcile.BaseInterval)
	return worker
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
