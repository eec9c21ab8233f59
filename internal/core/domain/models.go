package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDate    = errors.New("invalid date format, use YYYY-MM-DD")
	ErrSourceNotFound = errors.New("log file not found")
	ErrChunkFailed    = errors.New("chunk scan failed")
	ErrInvalidPolicy  = errors.New("invalid failure policy")
)

// Span is a half-open byte range [Start, End) of the source file.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int64 {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// ChunkStatus is the outcome of one chunk scan.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkSucceeded ChunkStatus = "succeeded"
	ChunkFailed    ChunkStatus = "failed"
)

// ChunkResult ties a span's index to its intermediate sink.
type ChunkResult struct {
	Index    int
	Span     Span
	SinkPath string
	Status   ChunkStatus
	Matched  int64
	Scanned  int64
}

// ChunkFailure reports a single chunk that could not be scanned.
type ChunkFailure struct {
	Index int
	Span  Span
	Err   error
}

func (f *ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d %s: %v", f.Index, f.Span, f.Err)
}

func (f *ChunkFailure) Unwrap() error {
	return f.Err
}

// FailurePolicy decides what a chunk failure does to the whole run.
type FailurePolicy string

const (
	// PolicySkip drops the failed chunk's lines and publishes the rest.
	PolicySkip FailurePolicy = "skip"
	// PolicyAbort fails the run if any chunk fails.
	PolicyAbort FailurePolicy = "abort"
)

// ParsePolicy converts a config value into a FailurePolicy.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicySkip, PolicyAbort:
		return FailurePolicy(s), nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidPolicy, s, PolicySkip, PolicyAbort)
}

// ExtractionRequest is the caller's input. It is never modified.
type ExtractionRequest struct {
	SourcePath string `json:"source_path"`
	Date       string `json:"date"`
}

// ExtractionResult holds the outcome of a completed extraction.
type ExtractionResult struct {
	RunID        string
	OutputPath   string
	Chunks       int
	MatchedLines int64
	Failed       []*ChunkFailure
	CompletedAt  time.Time
}

// ValidateDate checks the literal YYYY-MM-DD shape. Calendar validity is not checked.
func ValidateDate(date string) error {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	for i := 0; i < len(date); i++ {
		if i == 4 || i == 7 {
			continue
		}
		if date[i] < '0' || date[i] > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidDate, date)
		}
	}
	return nil
}
