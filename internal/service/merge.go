package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"logslice/internal/core/domain"
	"logslice/internal/core/ports"
)

// Merge concatenates the sinks of succeeded chunks in ascending index order
// into the output for date, then discards every sink. Failed chunks are
// skipped. The output appears only if every sink was copied. A non-empty path
// with a non-nil error means the output is complete but some sinks remain.
func Merge(ctx context.Context, storage ports.Storage, date string, results []domain.ChunkResult) (string, error) {
	ordered := slices.Clone(results)
	slices.SortFunc(ordered, func(a, b domain.ChunkResult) int { return a.Index - b.Index })

	out, err := storage.Publish(ctx, date, func(w io.Writer) error {
		for _, r := range ordered {
			if r.Status != domain.ChunkSucceeded {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := appendSink(ctx, storage, w, r.SinkPath); err != nil {
				return fmt.Errorf("failed to merge chunk %d: %w", r.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	var errs []error
	for _, r := range ordered {
		if r.SinkPath == "" {
			continue
		}
		if err := storage.DiscardSink(ctx, r.SinkPath); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func appendSink(ctx context.Context, storage ports.Storage, w io.Writer, path string) error {
	r, err := storage.OpenSink(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}
