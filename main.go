// Command misyar runs the misyar-connect matchmaking API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/config"
	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/store"
)

var (
	configPath string
	envFiles   []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "misyar",
	Short: "misyar-connect matchmaking API",
	Long: `misyar runs the misyar-connect backend: accounts, profiles, rights
adjustments, compatibility-ranked matches, interests and chat.

Settings come from an optional YAML file (--config) and the environment,
with environment variables taking precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files loaded before reading the environment")

	seedCmd.Flags().IntVar(&seedOpts.Count, "count", 50, "number of users to create")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", 42, "random seed, equal seeds give equal data")
	seedCmd.Flags().StringVar(&seedOpts.Password, "password", "test1234", "password assigned to every seeded user")
	seedCmd.Flags().Float64Var(&seedOpts.InterestRate, "interest-rate", 0.1, "chance that a seeded user expresses interest in a given candidate (0..1)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

// bootstrap loads configuration and builds the logger shared by every command.
func bootstrap() (*config.Config, *zap.Logger, error) {
	config.LoadEnvFiles(envFiles...)
	cfg, errs := config.Load(configPath)
	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	log.Info("starting misyar-connect", zap.Any("config", cfg.LogSummary()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := setupTracing(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	stores, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer stores.Close(context.Background()) //nolint:errcheck
	if err := stores.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a, err := newApp(cfg, log, stores, withTracerProvider(tp))
	if err != nil {
		return err
	}
	go a.sweepLimiters(ctx, time.Hour)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables or indexes for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		stores, err := store.Open(cmd.Context(), cfg.Store, log)
		if err != nil {
			return err
		}
		defer stores.Close(context.Background()) //nolint:errcheck

		if err := stores.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migration complete", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the configured store with deterministic demo users",
	Long: `Create demo users with profiles, rights adjustments, preferences and
some interests. The first user is an admin (admin@misyar.test); the first two
users are mutually matched so chat can be tried right away.

Examples:
  misyar seed --count 200 --seed 7
  STORE_DRIVER=postgres DATABASE_URL=postgres://... misyar seed`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		stores, err := store.Open(cmd.Context(), cfg.Store, log)
		if err != nil {
			return err
		}
		defer stores.Close(context.Background()) //nolint:errcheck
		if err := stores.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		sum, err := seed(cmd.Context(), stores, seedOpts)
		if err != nil {
			return err
		}
		log.Info("seed complete",
			zap.Int("users", sum.Users),
			zap.Int("interests", sum.Interests),
		)
		return nil
	},
}
