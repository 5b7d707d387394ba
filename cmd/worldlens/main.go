package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/worldlens/worldlens/internal/config"
	"github.com/worldlens/worldlens/internal/folder"
	"github.com/worldlens/worldlens/internal/kvstore"
	"github.com/worldlens/worldlens/internal/logging"
	"github.com/worldlens/worldlens/internal/metrics"
	"github.com/worldlens/worldlens/internal/resource"
	"github.com/worldlens/worldlens/internal/worlddb"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "worldlens",
		Short: "worldlens - inspect game save folders and Bedrock world databases",
		Long: `worldlens discovers game save resources (NBT documents, region files and
key-value world databases) below a folder and classifies the keys of Bedrock
world databases.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add configuration flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("log-format", "", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringP("log-output", "", "", "Also ship logs to udp://host:port, tcp://host:port or an http(s) URL")
	rootCmd.PersistentFlags().StringP("engine", "e", "auto", "Store engine (auto, leveldb, pebble, badger)")
	rootCmd.PersistentFlags().BoolP("read-only", "", true, "Open stores read-only")
	rootCmd.PersistentFlags().Int64P("cache-size", "", 64, "Store block cache size in MB")
	rootCmd.PersistentFlags().StringP("catalog", "", "", "SQLite key catalog path")
	rootCmd.PersistentFlags().BoolP("metrics", "", false, "Enable Prometheus metrics")
	rootCmd.PersistentFlags().StringP("metrics-listen", "", ":9105", "HTTP listen address for watch mode and metrics")

	rootCmd.AddCommand(
		newScanCmd(),
		newKeysCmd(),
		newExportCmd(),
		newExportsCmd(),
		newQueryCmd(),
		newCopyCmd(),
		newWatchCmd(),
	)
	return rootCmd
}

// app is what every command needs after configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics metrics.Manager
	hook    *logging.OutputHook
}

func loadApp(cmd *cobra.Command) (*app, error) {
	// Load configuration
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	logrus.SetOutput(cmd.ErrOrStderr())

	a := &app{
		cfg:     cfg,
		logger:  logrus.StandardLogger(),
		metrics: metrics.NewManager(cfg.Metrics),
	}
	if cfg.LogOutput != "" {
		out, err := logging.NewOutput(cfg.LogOutput, "worldlens")
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		a.hook = logging.NewOutputHook(out, a.logger.GetLevel())
		a.logger.AddHook(a.hook)
	}
	return a, nil
}

// Close flushes and detaches the log output, if any.
func (a *app) Close() {
	if a.hook == nil {
		return
	}
	a.logger.ReplaceHooks(make(logrus.LevelHooks))
	if err := a.hook.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close log output")
	}
	a.hook = nil
}

func (a *app) storeOptions() worlddb.Options {
	return worlddb.Options{
		Engine:      kvstore.Engine(a.cfg.Store.Engine),
		ReadOnly:    a.cfg.Store.ReadOnly,
		CacheSizeMB: a.cfg.Store.CacheSizeMB,
		Logger:      a.logger,
		Metrics:     a.metrics,
	}
}

func (a *app) folderOptions() folder.Options {
	return folder.Options{
		Recursive: a.cfg.Recursive,
		Logger:    a.logger,
		Metrics:   a.metrics,
		Gateway: resource.NewGateway(resource.Options{
			Store:   a.storeOptions(),
			Logger:  a.logger,
			Metrics: a.metrics,
		}),
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// Handle graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)
		select {
		case <-c:
			logrus.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func setupLogging(level, format string) {
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
