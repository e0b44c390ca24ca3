package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"debateETL/internal/config"
	"debateETL/internal/contract"
	"debateETL/internal/handler"
	"debateETL/internal/metrics"
	"debateETL/internal/processor"
	"debateETL/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "processor",
		Short:        "Debate contract log processor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process pending raw logs on a fixed interval",
		RunE:  runProcessor,
	}
	addStoreFlags(runCmd.Flags())
	addProcessingFlags(runCmd.Flags())
	runCmd.Flags().Duration("interval", 10*time.Second, "time between processing cycles")
	runCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (empty disables)")
	root.AddCommand(runCmd)

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single processing cycle and exit",
		RunE:  runOnce,
	}
	addStoreFlags(onceCmd.Flags())
	addProcessingFlags(onceCmd.Flags())
	root.AddCommand(onceCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the debate tables and processing columns",
		RunE:  runMigrate,
	}
	addStoreFlags(migrateCmd.Flags())
	root.AddCommand(migrateCmd)

	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return a dead-lettered raw log to the pending set",
		RunE:  runRequeue,
	}
	addStoreFlags(requeueCmd.Flags())
	requeueCmd.Flags().Int64Slice("id", nil, "raw log id to requeue (repeatable)")
	_ = requeueCmd.MarkFlagRequired("id")
	root.AddCommand(requeueCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a JSONL file of raw logs without touching the database",
		RunE:  runDecode,
	}
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/decoded_events.jsonl", "output decoded events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("abi", "", "contract ABI or artifact JSON (default: built-in debate ABI)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(fs *pflag.FlagSet) {
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.String("raw-table", postgres.DefaultRawTable, "raw log table name")
	fs.Duration("statement-timeout", 15*time.Second, "per-statement timeout (0 disables)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addProcessingFlags(fs *pflag.FlagSet) {
	fs.Int("batch-size", 100, "raw logs fetched per cycle")
	fs.Int("max-attempts", 5, "failed attempts before a raw log is dead-lettered (0 retries forever)")
	fs.Duration("record-timeout", 30*time.Second, "time limit for processing one raw log")
	fs.Int("fetch-retries", 3, "retries for a failed fetch within one cycle")
	fs.Duration("fetch-backoff", 500*time.Millisecond, "initial fetch retry backoff")
	fs.String("abi", "", "contract ABI or artifact JSON (default: built-in debate ABI)")
}

// app bundles what the database-backed commands share.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.Store
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN, postgres.Options{
		RawTable:         cfg.RawTable,
		StatementTimeout: cfg.StatementTimeout,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

func (a *app) newProcessor(m *metrics.Metrics) (*processor.Processor, error) {
	contractABI, err := contract.LoadABI(a.cfg.ABIPath)
	if err != nil {
		return nil, err
	}
	decoder := contract.NewDecoder(contractABI)
	registry := handler.NewDefaultRegistry(a.logger)

	known := make(map[string]bool)
	for _, name := range decoder.EventNames() {
		known[name] = true
	}
	for _, name := range registry.Names() {
		if !known[name] {
			a.logger.Warn("handled event missing from abi", zap.String("event", name))
		}
	}

	return processor.NewProcessor(processor.Config{
		BatchSize:     a.cfg.BatchSize,
		MaxAttempts:   a.cfg.MaxAttempts,
		RecordTimeout: a.cfg.RecordTimeout,
		FetchRetries:  a.cfg.FetchRetries,
		FetchBackoff:  a.cfg.FetchBackoff,
	}, a.store, decoder, registry, m, a.logger), nil
}

func runProcessor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	proc, err := a.newProcessor(metrics.New(reg))
	if err != nil {
		return err
	}

	a.logger.Info("processor start",
		zap.String("raw_table", a.cfg.RawTable),
		zap.Duration("interval", a.cfg.Interval),
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Int("max_attempts", a.cfg.MaxAttempts),
		zap.Duration("record_timeout", a.cfg.RecordTimeout),
		zap.Duration("statement_timeout", a.cfg.StatementTimeout),
		zap.String("metrics_addr", a.cfg.MetricsAddr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.NewScheduler(a.cfg.Interval, proc, a.logger).Run(gctx)
	})
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, a.cfg.MetricsAddr, reg, a.logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("processor stopped")
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.newProcessor(nil)
	if err != nil {
		return err
	}

	stats, err := proc.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("cycle complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("committed", stats.Committed),
		zap.Int("no_handler", stats.NoHandler),
		zap.Int("decode_failed", stats.DecodeFailed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("dead_lettered", stats.DeadLettered),
		zap.Bool("aborted", stats.Aborted),
	)
	if stats.Aborted {
		return fmt.Errorf("cycle aborted by a store failure")
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
