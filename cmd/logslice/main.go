package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"logslice/internal/adapters/localstorage"
	"logslice/internal/adapters/logfile"
	"logslice/internal/config"
	"logslice/internal/core/domain"
	"logslice/internal/logging"
	"logslice/internal/metrics"
	"logslice/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "logslice YYYY-MM-DD",
		Short: "Extract the lines of a log file that start with a date",
		Long: `logslice splits a newline-delimited log file into byte-range chunks,
scans the chunks in parallel for lines starting with the given date and
merges the matches, in file order, into output_<date>.txt.

With --failure-policy=skip (the default) a chunk that cannot be read is
reported and its lines are left out of the output. Use --failure-policy=abort
to fail the whole run instead.

Every flag can also be set through a LOGSLICE_* environment variable
(for example LOGSLICE_CHUNK_SIZE), a .env file or --config.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, configFile, args[0], cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("source", "", "log file to read (default test_logs.log)")
	flags.String("output-dir", "", "directory for the output file (default output)")
	flags.String("staging-dir", "", "parent directory for per-run chunk files (default OS temp dir)")
	flags.Int64("chunk-size", 0, "chunk size in bytes (default 100 MiB)")
	flags.Int("workers", 0, "parallel chunk scanners (default number of CPUs)")
	flags.String("failure-policy", "", "skip or abort when a chunk fails (default skip)")
	flags.String("metrics-file", "", "write prometheus metrics to this file after the run")
	flags.String("log-level", "", "debug, info, warn or error (default info)")
	flags.String("log-format", "", "console or json (default console)")
	flags.BoolP("verbose", "v", false, "shorthand for --log-level=debug")

	for key, name := range map[string]string{
		"source":         "source",
		"output_dir":     "output-dir",
		"staging_dir":    "staging-dir",
		"chunk_size":     "chunk-size",
		"workers":        "workers",
		"failure_policy": "failure-policy",
		"metrics_file":   "metrics-file",
		"log.level":      "log-level",
		"log.format":     "log-format",
		"verbose":        "verbose",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func run(ctx context.Context, v *viper.Viper, configFile, date string, stdout io.Writer) error {
	if err := domain.ValidateDate(date); err != nil {
		return err
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if v.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	storage := localstorage.NewLocalStorage(cfg.StagingDir, cfg.OutputDir)
	extractor, err := service.NewExtractor(logfile.Provider{}, storage, service.Options{
		ChunkSize: cfg.ChunkSize,
		Workers:   cfg.Workers,
		Policy:    cfg.Policy(),
	}, m, logger)
	if err != nil {
		return err
	}

	result, err := extractor.Extract(ctx, domain.ExtractionRequest{SourcePath: cfg.Source, Date: date})
	if cfg.MetricsFile != "" {
		if merr := metrics.WriteFile(cfg.MetricsFile, reg); merr != nil {
			logger.Warn("Failed to write metrics", zap.Error(merr))
		}
	}
	if err != nil {
		logger.Error("Extraction failed", zap.Error(err))
		return err
	}

	fmt.Fprintln(stdout, "=== Extraction Summary ===")
	fmt.Fprintf(stdout, "Run ID:        %s\n", result.RunID)
	fmt.Fprintf(stdout, "Chunks:        %d\n", result.Chunks)
	fmt.Fprintf(stdout, "Failed chunks: %d\n", len(result.Failed))
	fmt.Fprintf(stdout, "Matched lines: %d\n", result.MatchedLines)
	fmt.Fprintf(stdout, "Output:        %s\n", result.OutputPath)
	fmt.Fprintf(stdout, "Completed At:  %s\n", result.CompletedAt.Format(time.RFC3339))
	return nil
}
