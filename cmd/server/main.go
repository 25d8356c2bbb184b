/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ICMS solar reimbursement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file + environment)
  2. Build the logger
  3. Initialize SQLite store
  4. Load the rate table and build the calculator
  5. Wire event bus, stats aggregator, metrics and reporter
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $ICMS_CONFIG)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  ICMS_CONFIG, PORT, DB_PATH, LOG_LEVEL, RATE_MISS_POLICY,
  VARIANCE_ENABLED, VARIANCE_SEED (see config/config.go)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the stats reporter (logs final totals)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/icms.db"

  # Strict rate coverage, debug logs
  RATE_MISS_POLICY=fail-closed LOG_LEVEL=debug ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/icms-refund/api"
	"github.com/warp/icms-refund/config"
	"github.com/warp/icms-refund/engine"
	"github.com/warp/icms-refund/stats"
	"github.com/warp/icms-refund/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Rate table and calculator
	rates, err := cfg.Rates()
	if err != nil {
		logger.WithError(err).Fatal("failed to load rate table")
	}
	calcCfg, err := cfg.Calculator(rates)
	if err != nil {
		logger.WithError(err).Fatal("failed to configure calculator")
	}
	calculator := engine.NewCalculator(calcCfg)
	cutoff, err := cfg.Cutoff()
	if err != nil {
		logger.WithError(err).Fatal("invalid gd1_cutoff")
	}

	first, last, _ := rates.Coverage()
	logger.WithFields(logrus.Fields{
		"rate_table":     rates.Version(),
		"rate_from":      engine.NewMonth(first.Year, first.Month).String(),
		"rate_to":        engine.NewMonth(last.Year, last.Month).String(),
		"miss_policy":    calculator.MissPolicy(),
		"reference_date": calculator.ReferenceDate().Format(engine.DateLayout),
		"variance":       cfg.Variance.Enabled,
	}).Info("calculator ready")

	// Observers
	stats.Init()
	bus := stats.NewInMemoryBus()
	aggregator := stats.NewAggregator(logger)
	aggregator.Register(bus)
	reporter := stats.NewReporter(aggregator, logger)
	reporter.Start()
	defer reporter.Stop()

	// Initialize handler
	handler := api.NewHandler(api.HandlerConfig{
		Store:      store,
		Calculator: calculator,
		Rates:      rates,
		Bus:        bus,
		Stats:      aggregator,
		Log:        logger,
		GD1Cutoff:  cutoff,
	})

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
		return
	}

	logger.Info("server stopped")
}
