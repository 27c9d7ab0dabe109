package main

import (
	"context"
	"os"
	"strconv"

	"github.com/meridian-dex/rpm/internal/attestor"
	"github.com/meridian-dex/rpm/internal/config"
	"github.com/meridian-dex/rpm/internal/engine"
	"github.com/meridian-dex/rpm/internal/hooks"
	"github.com/meridian-dex/rpm/internal/ledger"
	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/queue"
	"github.com/meridian-dex/rpm/internal/state"
	"github.com/meridian-dex/rpm/internal/store"
	"github.com/meridian-dex/rpm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the reputation pipeline service.
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
	log.Info().Msg("Reputation Pipeline Starting...")

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

	// Load Pipeline Parameters
	params, err := state.EnsureActivePipelineParameters(engine.DEFAULT_PARAMS_CONFIG_NAME, config.DefaultPipelineParameters)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load pipeline parameters")
	}

	// Environment-configured knobs override the stored parameter set so a
	// redeploy can retune without a parameter migration.
	params.CooldownPeriod = config.CooldownPeriod
	params.BatchSize = config.BatchSize
	params.AutomationInterval = config.AutomationInterval
	params.BaseFeeBps = config.BaseFeeBps
	log.Info().Msg("Pipeline parameters loaded successfully.")

	// --- 2. Core State ---
	updateQueue := queue.NewUpdateQueue()
	batchStore := store.New()

	reputationLedger, err := ledger.NewLedger(ledger.Config{Params: *params})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reputation ledger")
	}

	// --- 3. Attestor Client Initialization (with Safety Switch) ---
	var client attestor.Client
	mode := os.Getenv("RPM_MODE")

	if mode == "live" {
		log.Warn().Msg("Initializing pipeline in LIVE mode. Real attestation requests will be dispatched.")

		// Probe the attestation service before committing to it.
		if err := attestor.ProbeHealth(context.Background(), config.AttestorGRPC); err != nil {
			log.Fatal().Err(err).Str("endpoint", config.AttestorGRPC).Msg("Attestation service health probe failed")
		}
		log.Info().Str("endpoint", config.AttestorGRPC).Msg("Attestation service healthy")

		liveClient, err := attestor.NewLiveClient(config.AttestorAPI, config.IssuerAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize live attestor client")
		}
		client = liveClient
	} else if mode == "sim" {
		log.Warn().Msg("Initializing pipeline in SIM mode. Attestation results are computed locally.")

		sim, err := attestor.NewSimulator(attestor.SimulatorConfig{
			VerificationKeyID: config.VerificationKeyID,
			InitialBalance:    params.DispatchFee.MulInt64(1000),
			Batches:           batchStore,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize attestor simulator")
		}
		client = sim
	} else {
		log.Fatal().Msg("RPM_MODE is not set to 'live' or 'sim'. Halting to prevent accidental execution.")
	}
	defer client.Close()

	// --- 4. Create Engine Instance with Dependency Injection ---
	log.Info().Msg("Creating engine instance with dependency injection...")

	engineConfig := engine.Config{
		Queue:             updateQueue,
		Store:             batchStore,
		Ledger:            reputationLedger,
		Client:            client,
		Params:            *params,
		Issuer:            config.IssuerAddress,
		ChainID:           config.ChainID,
		VerificationKeyID: config.VerificationKeyID,
		CallbackURL:       config.CallbackURL,
		Persist:           true,
	}

	pipelineEngine, err := engine.NewEngine(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	if err := pipelineEngine.Recover(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover pipeline state from database")
	}

	pipelineEngine.Register()
	log.Info().Msg("Engine instance created successfully")

	// --- 5. Hook Surface ---
	poolHooks, err := hooks.NewHooks(hooks.Config{Recorder: pipelineEngine.Recorder()})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create hook surface")
	}

	// --- 6. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer, err := web.NewWebServer(web.Config{
		Port:    webPort,
		Engine:  pipelineEngine,
		Hooks:   poolHooks,
		Queue:   updateQueue,
		Store:   batchStore,
		Ledger:  reputationLedger,
		Persist: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting pipeline web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 7. Start Automation Loop ---
	log.Info().Str("interval", config.AutomationInterval.String()).Msg("Starting automation loop")

	// Create context for graceful shutdown
	ctx := context.Background()

	// Start the automation loop (this will run indefinitely)
	pipelineEngine.RunLoop(ctx, config.AutomationInterval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
