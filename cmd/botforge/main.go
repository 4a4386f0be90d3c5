package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/botforge/internal/config"
	"github.com/devrev/botforge/internal/events"
	"github.com/devrev/botforge/internal/handler"
	"github.com/devrev/botforge/internal/health"
	"github.com/devrev/botforge/internal/metrics"
	"github.com/devrev/botforge/internal/model"
	"github.com/devrev/botforge/internal/orchestrator"
	"github.com/devrev/botforge/internal/secret"
	"github.com/devrev/botforge/internal/server"
	"github.com/devrev/botforge/internal/service"
	"github.com/devrev/botforge/internal/store"
	"github.com/devrev/botforge/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// backend is the durable store behind both the ledger and the registry
type backend interface {
	store.LedgerStore
	store.TenantStore
}

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "./config.yaml"), "path to config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration with secrets masked and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := initLogger(cfg.Logging)
	err = run(cfg, logger)
	if err != nil {
		logger.Error("Botforge exited with error", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run owns every resource it opens; it returns instead of exiting so the
// deferred closers always run
func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting botforge",
		zap.Int64("main_owner_id", cfg.Bot.ParentOwnerID),
		zap.Strings("required_channels", cfg.Bot.RequiredChannels),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("events_driver", cfg.Events.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	db, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	sessions, err := openSessions(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("Failed to close session store", zap.Error(err))
		}
	}()

	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, logger)
	defer cache.Close()

	sealer, err := secret.NewSealer(cfg.Security.CredentialKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential sealer: %w", err)
	}
	if cfg.Security.CredentialKey == "" {
		logger.Warn("security.credential_key is empty; bot tokens are stored unsealed")
	}

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	}()

	tenantService := service.NewTenantService(db, cache, cfg.Cache.TenantConfigTTL, sealer, publisher, m,
		service.TenantDefaults{
			Currency:    cfg.Ledger.Currency,
			MinWithdraw: cfg.MinWithdraw(),
			MaxWithdraw: cfg.MaxWithdraw(),
		}, logger)
	ledgerService := service.NewLedgerService(db, db, publisher, m,
		service.EarningRates{PerMember: cfg.EarnPerMember(), Downline: cfg.EarnPerDownline()},
		cfg.Ledger.Currency, logger)
	deps := handler.Deps{
		Ledger:         ledgerService,
		Tenants:        tenantService,
		Sessions:       service.NewSessionService(sessions, cfg.Session.TTL, logger),
		Gating:         service.NewGatingService(4, m, logger),
		GlobalChannels: cfg.Bot.RequiredChannels,
		Logger:         logger,
	}

	connector := transport.NewTelegramConnector("", cfg.Bot.PollTimeout, logger)
	orch := orchestrator.New(tenantService, ledgerService, connector, handler.NewFactory(deps), orchestrator.Config{
		HandlerWorkers:       cfg.Orchestrator.HandlerWorkers,
		HandlerQueueSize:     cfg.Orchestrator.HandlerQueueSize,
		StopTimeout:          cfg.Orchestrator.StopTimeout,
		StartConcurrency:     cfg.Orchestrator.StartConcurrency,
		BroadcastInterval:    cfg.Orchestrator.BroadcastInterval,
		BroadcastConcurrency: cfg.Orchestrator.BroadcastConcurrency,
	}, m, logger)

	started, err := orch.Bootstrap(ctx)
	if err != nil {
		logger.Error("Bootstrap finished with errors", zap.Int("started", started), zap.Error(err))
	} else {
		logger.Info("Bootstrap finished", zap.Int("started", started))
	}

	parentBot, err := connector.Connect(ctx, cfg.Bot.ParentToken)
	if err != nil {
		if serr := orch.StopAll(); serr != nil {
			logger.Warn("Tenant workers stopped with errors", zap.Error(serr))
		}
		return fmt.Errorf("failed to connect parent bot: %w", err)
	}
	parent := orch.NewWorker("parent", parentBot)
	surface := handler.NewParentSurface(deps, handler.ParentConfig{
		OwnerID:       cfg.Bot.ParentOwnerID,
		PayoutChannel: cfg.Bot.PayoutChannel,
		Bounds:        model.Bounds{Min: cfg.MinWithdraw(), Max: cfg.MaxWithdraw()},
	}, parentBot, orch)
	parent.Go("set_commands", func(ctx context.Context) {
		if err := surface.RegisterCommands(ctx); err != nil {
			logger.Warn("Failed to register parent commands", zap.Error(err))
		}
	})
	parent.Start(surface)
	logger.Info("Parent bot started", zap.String("handle", parentBot.Identity().Handle))

	var httpServer *server.Server
	var serverErr chan error
	if cfg.Server.Enabled {
		hc := health.NewHealthChecker(map[string]health.Pinger{
			"ledger_store":  db,
			"session_store": sessions,
		}, orch, logger)
		handlers := server.NewHandlers(tenantService, orch, ledgerService, logger)
		var metricsHandler http.Handler
		if cfg.Metrics.Enabled {
			metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
		}
		httpServer = server.NewServer(cfg, handlers, hc, metricsHandler, logger)
		serverErr = httpServer.StartAsync()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server stopped: %w", err)
	}

	if err := parent.Stop(); err != nil {
		logger.Warn("Parent bot stopped with error", zap.Error(err))
	}
	if err := orch.StopAll(); err != nil {
		logger.Warn("Tenant workers stopped with errors", zap.Error(err))
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down HTTP server", zap.Error(err))
		}
		cancel()
	}
	logger.Info("Shutdown complete")
	return runErr
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using the in-memory store; all data is lost on exit")
		return store.NewMemoryStore(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if cfg.Database.DSN != "" {
		return store.NewPostgresStoreFromDSN(connectCtx, cfg.Database.DSN, logger)
	}
	return store.NewPostgresStore(connectCtx,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
}

func openSessions(cfg *config.Config, logger *zap.Logger) (store.SessionStore, error) {
	if !cfg.Redis.Enabled {
		return store.NewMemorySessionStore(), nil
	}
	return store.NewRedisSessionStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, logger)
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if cfg.Events.Driver == "kafka" {
		return events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.WriteTimeout)
	}
	return events.NewLogPublisher(logger), nil
}

// initLogger initializes the zap logger.
func initLogger(lc config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch lc.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
