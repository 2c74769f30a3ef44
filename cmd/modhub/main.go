package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/modhub-go/internal/config"
	"github.com/rmacdonaldsmith/modhub-go/internal/log"
	"github.com/rmacdonaldsmith/modhub-go/internal/server"

	// Modules linked into the binary; any of them can be named in modhub.yaml
	_ "github.com/rmacdonaldsmith/modhub-go/examples/scoreboard"
)

const (
	// Application info
	appName    = "modhub"
	appVersion = "0.1.0"
)

type options struct {
	configPath string
	jsonLogs   bool
	watch      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Logger.Error().Err(err).Msg("modhub exited")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "modhub [BASE_PATH]",
		Short: "Run a modhub server",
		Long: `modhub hosts modules and distributes their state and events to connected
clients in real time.

BASE_PATH (default: the working directory) holds modhub.yaml, per-module
configuration under config/ and plugin modules under modules/.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := "."
			if len(args) == 1 {
				base = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, base, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default: BASE_PATH/modhub.yaml)")
	cmd.Flags().BoolVar(&opts.jsonLogs, "json-logs", false, "Log JSON instead of console output")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Reload configuration when the file changes or on SIGHUP")

	return cmd
}

func run(ctx context.Context, base string, opts options) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: opts.jsonLogs})

	holder, err := loadConfig(base, opts.configPath)
	if err != nil {
		return err
	}
	cfg := holder.Get()

	// Re-init with the configured level and format
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Logging.Level),
		JSONOutput: opts.jsonLogs || cfg.Logging.Format == "json",
	})
	logger := log.WithComponent("main")

	logger.Info().
		Str("version", appVersion).
		Str("base_path", cfg.Paths.Root).
		Str("config", holder.Path()).
		Str("storage", cfg.Storage.Driver).
		Strs("modules", cfg.Modules).
		Msgf("Starting %s", appName)

	if opts.watch && holder.Path() != "" {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("Config file watching disabled")
		}
		holder.WatchSignals()
	}

	srv, err := server.New(holder)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msgf("%s stopped", appName)
	return nil
}

// loadConfig loads the explicit config file, or BASE_PATH/modhub.yaml when it
// exists, or the defaults for base. Only file-backed holders can reload.
func loadConfig(base, explicit string) (*config.Holder, error) {
	logger := log.WithComponent("config")

	path := explicit
	if path == "" {
		path = filepath.Join(base, config.FileName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Default(base)
			if err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
			logger.Info().Str("base_path", cfg.Paths.Root).Msg("No configuration file; using defaults")
			return config.NewStaticHolder(cfg, "", logger), nil
		}
	}

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return holder, nil
}
