package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jsondb/src/directors"
	"jsondb/src/engine"
	"jsondb/src/metrics"
	"jsondb/src/server"
	"jsondb/src/settings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// printUsage prints helpful usage information
func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "JSONDB - a JSON document store over TCP")
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  jsondb [options]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	fs.PrintDefaults()

	fmt.Fprintln(os.Stderr, "\nExamples:")
	fmt.Fprintln(os.Stderr, "  ROOT_PASSWORD=secret jsondb --datadir=/data")
	fmt.Fprintln(os.Stderr, "  jsondb --config=jsondb.yaml --port=1776 --logdir=./log_files")
}

func main() {
	args := settings.GetSettings()

	fs := flag.NewFlagSet("jsondb", flag.ExitOnError)
	fs.Usage = func() { printUsage(fs) }
	if err := settings.Load(fs, args, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage(fs)
		os.Exit(1)
	}

	if err := args.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage(fs)
		os.Exit(1)
	}

	logger, err := newLogger(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	sugar := logger.Sugar()
	zap.ReplaceGlobals(logger)

	if args.Verbose {
		sugar.Infow("JSONDB starting",
			"dataDir", args.DataDir,
			"logDir", args.LogDir,
			"address", args.Address(),
			"storageFormat", args.StorageFormat,
			"configFile", args.ConfigFile)
	}

	if err := run(args, sugar); err != nil {
		sugar.Errorw("Server exited with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}

	sugar.Info("Server shutdown complete")
	logger.Sync()
}

func run(args *settings.Arguments, logger *zap.SugaredLogger) error {
	manager, err := directors.NewManager(args, logger, directors.ManagerOptions{
		// memory and disk no longer agree, carrying on would silently lose data
		OnPersistFailure: func(job engine.Job, err error) {
			logger.Fatalw("Failed to persist collection, shutting down", "collection", job.String(), "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	srv := server.NewServer(args, manager, logger)
	if err := srv.Listen(); err != nil {
		return multierr.Append(err, manager.Close())
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// the manager outlives the server so queued writes from the last
	// requests are flushed
	managerCtx, stopManager := context.WithCancel(context.Background())

	g := new(errgroup.Group)
	g.Go(func() error { return manager.Run(managerCtx) })
	g.Go(func() error {
		defer stopManager()
		err := srv.Serve(sigCtx)
		logger.Info("Shutting down server...")
		return err
	})
	if args.MetricsAddr != "" {
		g.Go(func() error {
			err := metrics.Serve(sigCtx, args.MetricsAddr, logger)
			if err != nil {
				stopSignals()
			}
			return err
		})
	}

	err = g.Wait()
	return multierr.Append(err, manager.Close())
}

func newLogger(args *settings.Arguments) (*zap.Logger, error) {
	var cfg zap.Config
	if args.Debug {
		// Development configuration with more verbose output
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stdout"}

	if args.LogDir != "" {
		if err := os.MkdirAll(args.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logFile := filepath.Join(args.LogDir, fmt.Sprintf("%s_%s_ServerLog.txt", timestamp, args.Host))
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Join(errors.New("could not build logger"), err)
	}
	return logger, nil
}
