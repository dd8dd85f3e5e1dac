package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/certregistry/internal/config"
	"github.com/blockadesystems/certregistry/internal/storage"
)

const programName = "certregistry"

var (
	globalFlags = struct {
		debug      bool
		configFile string
	}{}

	cfg    *config.Config
	logger *zap.Logger
)

// newLogger builds the process logger at level, or debug when forced.
func newLogger(level string, debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("component", programName)), nil
}

// openStore opens the configured store, creating the SQLite data directory
// when needed. The schema is ensured as part of opening.
func openStore(cmd *cobra.Command) (*storage.SQLStorage, error) {
	if cfg.StorageType == "sqlite" && cfg.DSN == "" {
		dataDir := filepath.Dir(cfg.SQLitePath)
		if _, err := os.Stat(dataDir); os.IsNotExist(err) {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
			}
			logger.Info("created data directory", zap.String("data_dir", dataDir))
		}
	}
	store, err := storage.NewStorage(cmd.Context(), cfg.StorageType, cfg.DataSourceName())
	if err != nil {
		return nil, err
	}
	logger.Debug("storage opened", zap.String("storage_type", cfg.StorageType))
	return store, nil
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Certificate registry administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(globalFlags.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err = newLogger(cfg.LogLevel, globalFlags.debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			storage.SetLogger(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")

	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(userCommand())
	rootCmd.AddCommand(chainCommand())
	rootCmd.AddCommand(crlCommand())
	return rootCmd
}

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
