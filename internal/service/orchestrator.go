package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"logslice/internal/core/domain"
	"logslice/internal/core/ports"
	"logslice/internal/metrics"
	"logslice/internal/planner"
)

// Options tune an Extractor.
type Options struct {
	ChunkSize int64
	Workers   int
	Policy    domain.FailurePolicy
}

// Extractor splits a log file into spans, scans them in parallel and merges
// the matches in file order.
//
// Under PolicySkip a chunk that fails to scan is logged and left out of the
// output, so the result can silently miss that chunk's lines; the failures are
// listed in ExtractionResult.Failed. Under PolicyAbort any chunk failure fails
// the run and no output is published.
type Extractor struct {
	sources ports.SourceProvider
	storage ports.Storage
	opts    Options
	metrics *metrics.Collectors
	logger  *zap.Logger
}

// NewExtractor creates a new Extractor. A nil m gets collectors on a private registry.
func NewExtractor(
	sources ports.SourceProvider,
	storage ports.Storage,
	opts Options,
	m *metrics.Collectors,
	logger *zap.Logger,
) (*Extractor, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = planner.DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Policy == "" {
		opts.Policy = domain.PolicySkip
	}
	if _, err := domain.ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if m == nil {
		var err error
		if m, err = metrics.New(prometheus.NewRegistry()); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		sources: sources,
		storage: storage,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("extractor"),
	}, nil
}

// Extract writes every line of req.SourcePath starting with req.Date to the
// output file and returns its path.
func (e *Extractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	began := time.Now()
	if err := domain.ValidateDate(req.Date); err != nil {
		return nil, err
	}

	src := e.sources.Source(req.SourcePath)
	size, err := src.Size(ctx)
	if err != nil {
		return nil, err
	}
	spans, err := planner.Plan(size, e.opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to plan chunks: %w", err)
	}

	runID := uuid.New().String()
	log := e.logger.With(zap.String("run_id", runID))
	log.Info(fmt.Sprintf("Processing %d chunks...", len(spans)),
		zap.String("source", req.SourcePath),
		zap.String("date", req.Date),
		zap.Int64("size", size),
		zap.Int("workers", e.opts.Workers),
		zap.String("policy", string(e.opts.Policy)),
	)

	if err := e.storage.InitRun(ctx, runID); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.storage.Cleanup(context.WithoutCancel(ctx), runID); err != nil {
			log.Warn("Failed to remove staging directory", zap.Error(err))
		}
	}()

	results, failures, err := e.scanAll(ctx, runID, src, size, spans, []byte(req.Date), log)
	if err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}
	if len(failures) > 0 && e.opts.Policy == domain.PolicyAbort {
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		return nil, fmt.Errorf("%w: %d of %d chunks: %w", domain.ErrChunkFailed, len(failures), len(spans), errors.Join(errs...))
	}

	log.Info("Merging results...", zap.Int("failed_chunks", len(failures)))
	out, err := Merge(ctx, e.storage, req.Date, results)
	if err != nil && out == "" {
		return nil, err
	}
	if err != nil {
		log.Warn("Output written but sinks were not all discarded", zap.Error(err))
	}

	var matched int64
	for _, r := range results {
		if r.Status == domain.ChunkSucceeded {
			matched += r.Matched
		}
	}
	e.metrics.RunDuration.Observe(time.Since(began).Seconds())

	log.Info("Logs extracted to "+out,
		zap.Int64("matched_lines", matched),
		zap.Int("failed_chunks", len(failures)),
		zap.Duration("elapsed", time.Since(began)),
	)
	return &domain.ExtractionResult{
		RunID:        runID,
		OutputPath:   out,
		Chunks:       len(spans),
		MatchedLines: matched,
		Failed:       failures,
		CompletedAt:  time.Now().UTC(),
	}, nil
}
