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

	"github.com/pingup-app/eventd/internal/api"
	"github.com/pingup-app/eventd/internal/clock"
	"github.com/pingup-app/eventd/internal/config"
	"github.com/pingup-app/eventd/internal/db"
	"github.com/pingup-app/eventd/internal/directory"
	"github.com/pingup-app/eventd/internal/executor"
	"github.com/pingup-app/eventd/internal/live"
	"github.com/pingup-app/eventd/internal/logging"
	"github.com/pingup-app/eventd/internal/mail"
	"github.com/pingup-app/eventd/internal/metrics"
	"github.com/pingup-app/eventd/internal/scheduler"
	"github.com/pingup-app/eventd/internal/task"
	"github.com/pingup-app/eventd/internal/workflow"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	loc, err := time.LoadLocation(cfg.DigestTimezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.DigestTimezone).Msg("invalid digest timezone")
	}

	store := task.NewPostgresStore(pool)
	clk := clock.Real{}

	registry := live.NewRegistry()
	bus := live.NewBus(registry, logger)

	exec := executor.New(store, clk, logger)
	sched := scheduler.New(store, exec, clk, loc, logger)

	deps := workflow.Deps{
		Directory:   directory.NewService(pool),
		Mailer:      mail.NewSMTPSender(cfg),
		FrontendURL: cfg.FrontendURL,
	}
	for _, def := range workflow.Definitions(deps, cfg.DigestCron) {
		if err := sched.Register(def); err != nil {
			logger.Fatal().Err(err).Str("workflow", def.Name).Msg("failed to register workflow")
		}
	}

	if err := sched.Start(ctx, cfg.TickInterval); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	srv := api.NewServer(logger, pool, sched, bus, registry, store)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)
	go func() {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)
}
