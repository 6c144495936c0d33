package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/revenda/ledger/internal/app"
	"github.com/revenda/ledger/internal/config"
	"github.com/revenda/ledger/internal/ingestion"
	"github.com/revenda/ledger/internal/repository"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ledger",
		Short:        "Installment and settlement ledger for revenda orders",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(dedupeCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(releaseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrap loads configuration, opens the database and wires the services.
// The returned func releases everything.
func bootstrap(ctx context.Context) (*app.App, func(), error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger.Info("opening database", zap.String("driver", cfg.Database.Driver), zap.String("dsn", cfg.Database.DSN))
	db, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.SettlementGuardErr(); err != nil {
		logger.Warn("duplicate settlements present, run the dedupe command", zap.Error(err))
	}

	cleanup := func() {
		db.Close()
		_ = logger.Sync()
	}
	return app.New(db, cfg, logger), cleanup, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Config.Seed.Enabled {
		seedOrders(ctx, a)
	}

	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Logger.Info("revenda ledger listening",
		zap.String("url", "http://localhost:"+a.Config.Server.Port),
		zap.String("api_base", "/api/v1"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// seedOrders ingests the sample feed when the database has no orders yet.
func seedOrders(ctx context.Context, a *app.App) {
	count, err := a.Orders.Count(ctx)
	if err != nil {
		a.Logger.Warn("count orders", zap.Error(err))
		return
	}
	if count > 0 {
		a.Logger.Info("database already has orders, skipping seed", zap.Int("orders", count))
		return
	}

	candidates := []string{a.Config.Seed.Path}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, a.Config.Seed.Path),
			filepath.Join(dir, "..", "..", a.Config.Seed.Path),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		if data, loadErr = os.ReadFile(path); loadErr == nil {
			a.Logger.Info("loaded seed orders", zap.String("path", path))
			break
		}
	}
	if loadErr != nil {
		a.Logger.Warn("seed file not found", zap.Strings("candidates", candidates), zap.Error(loadErr))
		return
	}

	result, err := a.Ingestion.IngestOrders(ctx, data, formatFor(a.Config.Seed.Path))
	if err != nil {
		a.Logger.Warn("seed orders", zap.Error(err))
		return
	}
	a.Logger.Info("seeded orders",
		zap.Int("inserted", result.OrdersInserted),
		zap.Int("finalized", result.Finalized),
		zap.Int("errors", result.ErrorCount),
	)
}

func formatFor(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return ingestion.FormatJSON
	default:
		return ingestion.FormatCSV
	}
}
