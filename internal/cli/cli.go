// Package cli wires the cobra command tree: flag registration, config
// loading (file, GMS_ environment, flags, in that precedence), logger
// construction, and OS-signal-driven shutdown around internal/app.Run.
//
// The teacher ships as a Wails desktop app with no OS-signal CLI entrypoint
// to ground this on directly; the command/flag shape instead follows the
// pervasive spf13/cobra usage across the rest of the pack (nabbar-golib's
// config/components/* constructors all register cobra flags alongside their
// viper keys), adapted into a single root command for this server.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/app"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/config"
	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/logging"
)

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "masterserver",
		Short: "Peer-discovery, lobby, gameserver, and P2P relay coordination server",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a config file (yaml/json/toml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the master server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfgPath)
		},
	}
	registerServeFlags(serve)
	root.AddCommand(serve)

	return root
}

// registerServeFlags registers the subset of Config that's reasonable to
// override per-invocation; the rest is file/environment-only.
func registerServeFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().String("listen-addr", def.ListenAddr, "UDP address to listen on")
	cmd.Flags().String("log-level", def.LogLevel, "trace, debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("metrics-enabled", def.MetricsEnabled, "serve Prometheus metrics")
	cmd.Flags().String("metrics-addr", def.MetricsAddr, "address for the metrics endpoint")
}

func runServe(cmd *cobra.Command, cfgPath string) error {
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return err
	}
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	if cfgPath != "" {
		loader.WatchReload(func(next config.Config, err error) {
			if err != nil {
				log.WithError(err).Warn("config reload failed, keeping previous values")
				return
			}
			if err := logging.SetLevel(log, next.LogLevel); err != nil {
				log.WithError(err).Warn("config reload: invalid log level")
				return
			}
			log.WithField("log_level", next.LogLevel).Info("config reloaded")
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, app.Options{Cfg: cfg, Log: log})
}
