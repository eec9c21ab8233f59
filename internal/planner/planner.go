// Package planner splits a file's byte range into fixed-size spans.
package planner

import (
	"fmt"

	"logslice/internal/core/domain"
)

// DefaultChunkSize is 100 MiB.
const DefaultChunkSize int64 = 100 * 1024 * 1024

// Plan returns ceil(size/chunkSize) contiguous spans covering [0, size).
// Every span is chunkSize long except possibly the last. size 0 yields no spans.
func Plan(size, chunkSize int64) ([]domain.Span, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative file size %d", size)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	n := (size + chunkSize - 1) / chunkSize
	spans := make([]domain.Span, 0, n)
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize
		if end > size {
			end = size
		}
		spans = append(spans, domain.Span{Start: start, End: end})
	}
	return spans, nil
}
