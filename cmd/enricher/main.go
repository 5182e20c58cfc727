package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/config"
	"bridgescan/enricher/internal/database"
	"bridgescan/enricher/internal/registry"
)

const shutdownTimeout = 2 * time.Minute

// app carries the state shared by every command
type app struct {
	registryPath string
	logger       *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "enricher [message-id]",
		Short: "Enrich bridge messages with fees and decoded actions",
		Long: "Without arguments, polls the scanner feed and enriches every new or changing message.\n" +
			"With a message id, enriches that one message from the feed and exits.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := initLogger()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.runSingle(cmd.Context(), args[0])
			}
			return a.runLoop(cmd.Context(), config.ModePoll)
		},
	}

	root.PersistentFlags().StringVar(&a.registryPath, "registry", "", "chain registry file (defaults to REGISTRY_PATH, then the built-in registry)")

	root.AddCommand(a.watchCommand())
	root.AddCommand(a.backfillCommand())
	root.AddCommand(a.migrateCommand())

	return root
}

// loadRegistry prefers the flag, then the environment, then the embedded file
func (a *app) loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	path := a.registryPath
	if path == "" {
		path = cfg.Registry.Path
	}
	if path == "" {
		return registry.Default()
	}
	return registry.Load(path)
}

// setup loads configuration for mode, connects to the database and loads the registry
func (a *app) setup(mode config.Mode) (*config.Config, *database.DB, *registry.Registry, error) {
	cfg, err := config.LoadConfig(mode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a.logger.Info("Configuration loaded",
		zap.String("mode", string(mode)),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.String("scanner_url", cfg.Scanner.URL))

	reg, err := a.loadRegistry(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load chain registry: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	a.logger.Info("Database connected successfully", zap.Int("chains", len(reg.Chains())))
	return cfg, db, reg, nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Printf("enricher: %v", err)
		stop()
		os.Exit(1)
	}
}
