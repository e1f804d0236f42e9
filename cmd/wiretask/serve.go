package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wiretask-server/internal/app"
	"github.com/vovakirdan/wiretask-server/internal/config"
	"github.com/vovakirdan/wiretask-server/internal/log"
	"github.com/vovakirdan/wiretask-server/internal/store/sqlite"
)

// loadConfig resolves file and env configuration, then applies flag overrides.
func loadConfig(path string, overrides config.Config) (config.Config, error) {
	bootLogger := log.New("info", "console")
	cfg, cfgPath, err := config.Load(bootLogger, path)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(overrides)
	bootLogger.Debug().Str("path", cfgPath).Msg("config loaded")
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		cfgPath   string
		overrides config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath, overrides)
			if err != nil {
				return err
			}
			logger := log.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting wiretask server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "path to config file")
	f.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	f.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&overrides.LogFormat, "log-format", "", "log format (console, json)")
	f.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	f.BoolVar(&overrides.Seed, "seed", false, "create the demo account with sample tasks")
	f.StringVar(&overrides.JWT.Secret, "jwt-secret", "", "JWT signing secret")
	f.StringVar(&overrides.Redis.Addr, "redis", "", "Redis address for cross-instance pushes")

	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		cfgPath string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath, config.Config{DatabasePath: dbPath})
			if err != nil {
				return err
			}
			logger := log.New(cfg.LogLevel, cfg.LogFormat)

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema is up to date")
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}
