package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatline-server/internal/app"
	"github.com/vovakirdan/chatline-server/internal/auth"
	"github.com/vovakirdan/chatline-server/internal/config"
	"github.com/vovakirdan/chatline-server/internal/core"
	applog "github.com/vovakirdan/chatline-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	overrides  config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatline",
		Short:         "Real-time one-to-one chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.overrides.Store.Driver, "store", "", "store driver (sqlite, mongo)")
	root.PersistentFlags().StringVar(&opts.overrides.Store.SQLitePath, "sqlite-path", "", "sqlite database path")
	root.PersistentFlags().StringVar(&opts.overrides.Store.MongoURI, "mongo-uri", "", "mongodb connection uri")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
		c.Flags().DurationVar(&opts.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
		c.Flags().DurationVar(&opts.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	}

	root.AddCommand(serve, newTokenCmd(opts), newSweepCmd(opts))
	return root
}

func newTokenCmd(opts *options) *cobra.Command {
	var userID, username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			token, err := auth.NewService(st, app.JWTConfig(&cfg)).Issue(cmd.Context(), userID, username)
			if err != nil {
				return err
			}
			logger.Debug().Str("user_id", userID).Msg("token issued")
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&username, "name", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Repair interrupted chat deletions and orphaned messages once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := core.NewSweeper(st, 0, logger).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "finished deletions: %d\norphaned messages: %d\ndangling refs: %d\n",
				report.FinishedDeletions, report.OrphanedMessages, report.DanglingRefs)
			return nil
		},
	}
}

func loadConfig(opts *options) (config.Config, *zerolog.Logger, error) {
	bootLogger := applog.New(opts.overrides.LogLevel, "")
	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, bootLogger, err
	}
	cfg.UpdateFrom(opts.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, bootLogger, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServe(parent context.Context, opts *options) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting chatline server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
