package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"logslice/internal/core/domain"
	"logslice/internal/core/ports"
	"logslice/internal/scanner"
)

// scanAll runs one scan per span on a pool of e.opts.Workers goroutines and
// waits for all of them. results[i] always describes spans[i]. Failures are
// sent to a single collector goroutine and returned sorted by chunk index.
// The returned error is non-nil only when ctx itself was cancelled.
func (e *Extractor) scanAll(
	ctx context.Context,
	runID string,
	src ports.Source,
	size int64,
	spans []domain.Span,
	prefix []byte,
	log *zap.Logger,
) ([]domain.ChunkResult, []*domain.ChunkFailure, error) {
	results := make([]domain.ChunkResult, len(spans))

	failCh := make(chan *domain.ChunkFailure)
	var failures []*domain.ChunkFailure
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for f := range failCh {
			log.Error(fmt.Sprintf("Error processing chunk %d", f.Index),
				zap.Int("chunk", f.Index),
				zap.Stringer("span", f.Span),
				zap.Error(f.Err),
			)
			e.metrics.Chunks.WithLabelValues(string(domain.ChunkFailed)).Inc()
			failures = append(failures, f)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, span := range spans {
		i, span := i, span
		g.Go(func() error {
			res, err := e.scanChunk(gctx, runID, src, size, i, span, prefix)
			results[i] = res
			if err == nil {
				return nil
			}
			// Siblings stopped by an abort are not failures of their own.
			if gctx.Err() != nil && errors.Is(err, context.Canceled) {
				return err
			}
			f := &domain.ChunkFailure{Index: i, Span: span, Err: err}
			failCh <- f
			if e.opts.Policy == domain.PolicyAbort {
				return f
			}
			return nil
		})
	}
	_ = g.Wait()
	close(failCh)
	<-collected

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	slices.SortFunc(failures, func(a, b *domain.ChunkFailure) int { return a.Index - b.Index })
	return results, failures, nil
}

// scanChunk scans one span into its own sink. On error the sink is discarded
// and the result is marked failed so the merger skips it.
func (e *Extractor) scanChunk(
	ctx context.Context,
	runID string,
	src ports.Source,
	size int64,
	index int,
	span domain.Span,
	prefix []byte,
) (domain.ChunkResult, error) {
	res := domain.ChunkResult{Index: index, Span: span, Status: domain.ChunkFailed}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	sink, path, err := e.storage.CreateSink(ctx, runID, index)
	if err != nil {
		return res, err
	}
	res.SinkPath = path

	st, err := scanInto(ctx, src, size, span, prefix, sink)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close sink %s: %w", path, cerr)
	}
	if err != nil {
		if derr := e.storage.DiscardSink(context.WithoutCancel(ctx), path); derr != nil {
			e.logger.Warn("Failed to discard sink", zap.String("sink", path), zap.Error(derr))
		}
		res.SinkPath = ""
		return res, err
	}

	res.Status = domain.ChunkSucceeded
	res.Matched = st.Matched
	res.Scanned = st.Bytes
	e.metrics.Chunks.WithLabelValues(string(domain.ChunkSucceeded)).Inc()
	e.metrics.MatchedLines.Add(float64(st.Matched))
	e.metrics.ScannedBytes.Add(float64(st.Bytes))
	return res, nil
}

func scanInto(ctx context.Context, src ports.Source, size int64, span domain.Span, prefix []byte, w io.Writer) (scanner.Stats, error) {
	h, err := src.Open(ctx)
	if err != nil {
		return scanner.Stats{}, err
	}
	defer h.Close()
	return scanner.Scan(ctx, h, size, span, prefix, w)
}
