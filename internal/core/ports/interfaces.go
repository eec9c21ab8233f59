package ports

import (
	"context"
	"io"
)

// SourceHandle is one independent read-only view of the source file.
// Reads are positional, so handles never share a cursor.
type SourceHandle interface {
	io.ReaderAt
	io.Closer
}

// Source defines the contract for the log file being extracted from.
type Source interface {
	// Size returns the total byte size of the source.
	// Returns domain.ErrSourceNotFound if the source does not exist.
	Size(ctx context.Context) (int64, error)

	// Open returns a fresh handle. Each scanner opens its own.
	Open(ctx context.Context) (SourceHandle, error)
}

// SourceProvider resolves a request's source path to a Source.
type SourceProvider interface {
	Source(path string) Source
}

// Storage defines the contract for staging sinks and the final output.
type Storage interface {
	// InitRun creates the staging directory for a run.
	InitRun(ctx context.Context, runID string) error

	// CreateSink creates the intermediate sink for chunk index.
	// Returns the writer and the sink path used later by the merger.
	CreateSink(ctx context.Context, runID string, index int) (io.WriteCloser, string, error)

	// DiscardSink removes a sink that must not be merged.
	DiscardSink(ctx context.Context, sinkPath string) error

	// OpenSink opens a finished sink for reading.
	OpenSink(ctx context.Context, sinkPath string) (io.ReadCloser, error)

	// Publish writes the final output named after date. write receives the
	// destination; the file only appears at the returned path if write succeeds.
	Publish(ctx context.Context, date string, write func(w io.Writer) error) (string, error)

	// Cleanup removes the staging directory and everything left in it.
	Cleanup(ctx context.Context, runID string) error

	// GetRunPath returns the staging directory for a run.
	GetRunPath(runID string) string

	// OutputPath returns the final output path for a date.
	OutputPath(date string) string
}
