package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/nowplaying/internal/companion"
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const stopTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "nowplaying",
		Short:         "Now playing overlay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), config.Path(configFlag))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $NOWPLAYING_CONFIG)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the overlay daemon in the foreground",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemon(cmd.Context(), config.Path(configFlag))
			},
		},
		&cobra.Command{
			Use:   "auth",
			Short: "Authorize with the companion server and store the token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAuth(cmd.Context(), config.Path(configFlag))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	return rootCmd
}

// runDaemon starts the application graph and blocks until interrupted
func runDaemon(ctx context.Context, path config.Path) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(AppOptions(path))
	if err := app.Err(); err != nil {
		return err
	}

	// Handle graceful shutdown
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

// runAuth performs the companion handshake without starting the overlay
func runAuth(ctx context.Context, path config.Path) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := newLogLevel()
	logger, err := newLogger(level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.NewAppConfig(logger, path)
	if err != nil {
		return err
	}
	applyLogLevel(level, cfg, logger)

	token, err := companion.NewAuthenticator(logger, cfg.Companion.URL).Authenticate(signalCtx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	store := companion.NewTokenStore(cfg.Companion.TokenFile)
	if err := store.Save(signalCtx, token); err != nil {
		return err
	}

	logger.Info("Token saved", zap.String("path", store.Path()))
	return nil
}
