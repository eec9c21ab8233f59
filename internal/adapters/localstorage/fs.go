package localstorage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"logslice/internal/core/ports"
)

const publishBufSize = 256 * 1024

// LocalStorage implements ports.Storage for the local filesystem.
type LocalStorage struct {
	StagingDir string
	OutputDir  string
}

// NewLocalStorage creates a new LocalStorage instance.
// Run directories live under stagingDir; outputs are written to outputDir.
func NewLocalStorage(stagingDir, outputDir string) *LocalStorage {
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	return &LocalStorage{StagingDir: stagingDir, OutputDir: outputDir}
}

var _ ports.Storage = (*LocalStorage)(nil)

// InitRun creates the run's staging directory.
func (s *LocalStorage) InitRun(ctx context.Context, runID string) error {
	path := s.GetRunPath(runID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", path, err)
	}
	return nil
}

// CreateSink creates chunk_<index>.txt in the staging directory.
func (s *LocalStorage) CreateSink(ctx context.Context, runID string, index int) (io.WriteCloser, string, error) {
	path := filepath.Join(s.GetRunPath(runID), fmt.Sprintf("chunk_%d.txt", index))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sink %s: %w", path, err)
	}
	return f, path, nil
}

// DiscardSink removes a sink. A sink that is already gone is not an error.
func (s *LocalStorage) DiscardSink(ctx context.Context, sinkPath string) error {
	if err := os.Remove(sinkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove sink %s: %w", sinkPath, err)
	}
	return nil
}

// OpenSink opens a sink for reading.
func (s *LocalStorage) OpenSink(ctx context.Context, sinkPath string) (io.ReadCloser, error) {
	f, err := os.Open(sinkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink %s: %w", sinkPath, err)
	}
	return f, nil
}

// Publish writes output_<date>.txt through a temp file in the output
// directory and renames it into place, replacing any previous output.
func (s *LocalStorage) Publish(ctx context.Context, date string, write func(w io.Writer) error) (string, error) {
	dest := s.OutputPath(date)
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", s.OutputDir, err)
	}

	tmp, err := os.CreateTemp(s.OutputDir, ".tmp-output-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, 0644)

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	bw := bufio.NewWriterSize(tmp, publishBufSize)
	if err := write(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("failed to write output: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync output: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move output into place %s: %w", dest, err)
	}
	return dest, nil
}

// Cleanup removes the run's staging directory.
func (s *LocalStorage) Cleanup(ctx context.Context, runID string) error {
	path := s.GetRunPath(runID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove staging directory %s: %w", path, err)
	}
	return nil
}

// GetRunPath returns the staging directory for a run.
func (s *LocalStorage) GetRunPath(runID string) string {
	return filepath.Join(s.StagingDir, "logslice-"+runID)
}

// OutputPath returns the final output path for a date.
func (s *LocalStorage) OutputPath(date string) string {
	return filepath.Join(s.OutputDir, "output_"+date+".txt")
}
