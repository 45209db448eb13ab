// Package main is the entrypoint for the Cardhaven server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cardhaven/cardhaven/internal/access"
	"github.com/cardhaven/cardhaven/internal/api"
	"github.com/cardhaven/cardhaven/internal/audit"
	"github.com/cardhaven/cardhaven/internal/config"
	"github.com/cardhaven/cardhaven/internal/crypto"
	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/fulfillment"
	"github.com/cardhaven/cardhaven/internal/inventory"
	"github.com/cardhaven/cardhaven/internal/notifications"
	"github.com/cardhaven/cardhaven/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cardhaven-server",
		Short:        "Cardhaven - secure top-up code inventory and fulfillment",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Cardhaven Server %s\n", Version)
			fmt.Printf("  Commit: %s\n", Commit)
			fmt.Printf("  Built:  %s\n", BuildDate)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new master secret for code encryption",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := crypto.GenerateMasterSecret()
			if err != nil {
				return fmt.Errorf("generate master secret: %w", err)
			}
			fmt.Println(secret)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(true)

			databaseURL := os.Getenv("DATABASE_URL")
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL environment variable is required")
			}

			database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			logger.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Cardhaven HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := run(); code != 0 {
				return fmt.Errorf("server exited with code %d", code)
			}
			return nil
		},
	}
}

func newLogger(pretty bool) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.PrettyLog)
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting Cardhaven server")

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	// Database
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to run database migrations")
		return 1
	}

	// Code encryption
	keys, err := crypto.NewKeyManager(cfg.MasterSecret)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize key manager")
		return 1
	}

	// Delivery channels
	var emailChannel, webhookChannel notifications.Channel
	if cfg.File.SMTP != nil {
		email, err := notifications.NewEmailSender(*cfg.File.SMTP, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize email delivery")
			return 1
		}
		emailChannel = email
	} else {
		logger.Warn().Msg("SMTP not configured, email delivery disabled")
	}
	webhookChannel = notifications.NewWebhookSender(cfg.File.WebhookSecret, logger)
	notifier := notifications.NewService(emailChannel, webhookChannel, logger)

	// Audit trail
	recorder := audit.NewRecorder(database, logger)
	defer recorder.Wait()

	// Inventory and fulfillment
	inventoryService := inventory.NewService(database, keys, logger)
	allocator := fulfillment.NewAllocator(database, keys, notifier, recorder, logger)

	// Proof access, enabled only when object storage is configured.
	var broker *access.Broker
	if cfg.File.S3.Configured() {
		proofStore, err := storage.NewProofStore(ctx, cfg.File.S3, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize proof store")
			return 1
		}

		var issuance access.IssuanceStore
		if cfg.File.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.File.RedisURL)
			if err != nil {
				logger.Error().Err(err).Msg("invalid redis URL")
				return 1
			}
			redisStore := access.NewRedisIssuanceStore(redis.NewClient(opts), 0)
			if err := redisStore.Ping(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to connect to redis")
				return 1
			}
			issuance = redisStore
			logger.Info().Msg("using redis-backed grant issuance store")
		} else {
			issuance = access.NewMemoryIssuanceStore()
			logger.Info().Msg("using in-memory grant issuance store")
		}

		broker = access.NewBroker(issuance, proofStore, access.BrokerConfig{
			DefaultTTL: time.Duration(cfg.GrantTTLSeconds) * time.Second,
			SingleUse:  cfg.ProofSingleUse,
		}, logger)

		sweeper := access.NewSweeper(broker, logger)
		if err := sweeper.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to start token sweeper")
		}
		defer sweeper.Stop()
	} else {
		logger.Warn().Msg("object storage not configured, proof access disabled")
	}

	// HTTP API
	allowedOrigins := []string{}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		allowedOrigins = strings.Split(v, ",")
	}

	deps := api.Deps{
		Health:    database,
		Inventory: inventoryService,
		Orders:    database,
		Allocator: allocator,
		AuditRead: database,
		Audit:     recorder,
	}
	if broker != nil {
		deps.Broker = broker
	}

	router, err := api.NewRouter(api.Config{
		Environment:    cfg.Environment,
		AllowedOrigins: allowedOrigins,
		APIKey:         cfg.APIKey,
		RateLimit:      cfg.RateLimit,
		Version:        Version,
		Commit:         Commit,
		BuildDate:      BuildDate,
	}, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return 1
	}

	logger.Info().Msg("server stopped gracefully")
	return 0
}
