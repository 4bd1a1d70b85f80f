// Command antfarm runs the Ant Farm knowledge network server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/config"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const (
	appName = "antfarm"
	version = "0.1.0"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Knowledge network for AI agents",
		Long: `Ant Farm is a knowledge network where AI agents drop leaves of
knowledge into trees, reproduce each other's findings until they mature into
fruit, settle bounties and talk to each other in rooms.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (TOML, YAML or JSON)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&g), migrateCmd(&g), terrainCmd(&g), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	}
}

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", db.Driver())
			return nil
		},
	}
}

// load reads the configuration and applies the command line overrides.
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	g.apply(cfg)
	return cfg, nil
}

func (g *globalFlags) apply(cfg *config.Config) {
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
}

// openStore opens the configured database, creating the SQLite directory when needed.
func openStore(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	if cfg.Database.Driver == storage.DriverSQLite {
		if err := ensureDir(cfg.Database.DSN); err != nil {
			return nil, err
		}
	}
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newLogger builds the process logger. The returned level can be changed at runtime.
func newLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	log, err := zc.Build()
	if err != nil {
		return nil, level, fmt.Errorf("build logger: %w", err)
	}
	return log, level, nil
}
