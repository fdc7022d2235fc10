package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/client"
	"github.com/techcesstechnology/stanchion-approvals/internal/config"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
	"github.com/techcesstechnology/stanchion-approvals/internal/handler"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/service"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()
	if cfg.Service.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting approvals service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Connect to NATS. An empty URL runs the service without events.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, event publishing disabled")
	}
	events := client.NewEventPublisher(nc, log)

	// Initialize repositories
	transactionStore := repository.NewTransactionStore(db)
	jobCardStore := repository.NewJobCardStore(db)
	variationStore := repository.NewVariationStore(db)
	accountRepo := repository.NewAccountRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	identity := client.NewProfileIdentityProvider(db)

	// Initialize workflow coordinators
	maxRetries := cfg.Workflow.MaxRetries
	transactionCoord := service.NewCoordinator[*repository.Transaction](
		"transaction", transactionStore, service.TransactionPoster{}, events, log, maxRetries)
	jobCardCoord := service.NewCoordinator[*repository.JobCard](
		"job_card", jobCardStore, service.JobCardPoster{}, events, log, maxRetries)
	variationCoord := service.NewCoordinator[*repository.Variation](
		"variation", variationStore, service.VariationPoster{}, events, log, maxRetries)

	// Initialize services
	transactionService := service.NewTransactionService(transactionCoord, transactionStore, log)
	jobCardService := service.NewJobCardService(jobCardCoord, jobCardStore, inventoryRepo, events, log, maxRetries)
	variationService := service.NewVariationService(variationCoord, variationStore, jobCardStore, log)

	// Start the letter worker when events are available
	if nc != nil {
		issuer := client.NewLocalLetterIssuer(getEnv("LETTER_BASE_URL", "http://localhost:8086/files"))
		letterWorker := service.NewLetterWorker(nc, issuer, map[string]service.AttachFunc{
			"transaction": func(ctx context.Context, id string, letter workflow.ApprovalLetter) error {
				_, err := transactionCoord.AttachApprovalLetter(ctx, id, letter)
				return err
			},
			"job_card": func(ctx context.Context, id string, letter workflow.ApprovalLetter) error {
				_, err := jobCardCoord.AttachApprovalLetter(ctx, id, letter)
				return err
			},
			"variation": func(ctx context.Context, id string, letter workflow.ApprovalLetter) error {
				_, err := variationCoord.AttachApprovalLetter(ctx, id, letter)
				return err
			},
		}, log)
		if err := letterWorker.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start letter worker")
		}
		defer letterWorker.Stop()
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(
		transactionService, jobCardService, variationService,
		accountRepo, inventoryRepo, identity, log)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
