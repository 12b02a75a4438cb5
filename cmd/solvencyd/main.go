package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tonsurance/solvency-engine/internal/collateral"
	"github.com/tonsurance/solvency-engine/internal/config"
	"github.com/tonsurance/solvency-engine/internal/curve"
	"github.com/tonsurance/solvency-engine/internal/engine"
	"github.com/tonsurance/solvency-engine/internal/ledger"
	"github.com/tonsurance/solvency-engine/internal/logger"
	"github.com/tonsurance/solvency-engine/internal/state"
	"github.com/tonsurance/solvency-engine/internal/utilization"
	"github.com/tonsurance/solvency-engine/internal/waterfall"
	"github.com/tonsurance/solvency-engine/internal/web"
)

const (
	LOOP_INTERVAL = 5 * time.Minute

	DEFAULT_TRANCHE_CONFIG_NAME    = "default_tranche_table"
	DEFAULT_TRANCHE_CONFIG_VERSION = 1
)

// main is the entry point for the solvency engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Solvency Engine Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load the active tranche parameter table, seeding the defaults on first
	// boot so the running version is always recorded in the database.
	trancheConfigs, err := state.LoadActiveTrancheParameters(DEFAULT_TRANCHE_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active tranche parameters, using defaults and saving.")
		if _, err := state.SaveTrancheParameters(config.DefaultTrancheConfigs, DEFAULT_TRANCHE_CONFIG_NAME, DEFAULT_TRANCHE_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default tranche parameters.")
		}
		trancheConfigs = config.DefaultTrancheConfigs
	}
	log.Info().Msg("Tranche parameters loaded successfully.")

	// --- 2. Build the Solvency Core ---
	curveModel := curve.NewModel(trancheConfigs)
	collateralManager := collateral.NewManager(trancheConfigs, config.MaxPoolUtilization, config.MaxTrancheUtilization)
	waterfallSimulator := waterfall.NewSimulator(curveModel, trancheConfigs)
	tracker := utilization.NewTracker(curveModel, trancheConfigs, config.MaxTrancheUtilization)

	engineConfig := engine.Config{
		Collateral:    collateralManager,
		Waterfall:     waterfallSimulator,
		Tracker:       tracker,
		Store:         state.NewPostgresStore(),
		PremiumPeriod: time.Duration(config.PremiumPeriodDays) * 24 * time.Hour,
	}

	solvencyEngine, err := engine.NewEngine(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create solvency engine")
	}

	// --- 3. Connect the Ledger Feed ---
	feed, err := ledger.NewFeed(config.NatsURL, solvencyEngine)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ledger feed")
	}
	defer feed.Close()
	if err := feed.Subscribe(); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to ledger feed")
	}

	// --- 4. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, solvencyEngine, tracker)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting solvency dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Run the Reconciliation Loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	log.Info().Str("interval", LOOP_INTERVAL.String()).Msg("Starting solvency reconciliation loop")
	solvencyEngine.RunLoop(ctx, LOOP_INTERVAL)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
