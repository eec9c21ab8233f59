package logfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"logslice/internal/core/domain"
	"logslice/internal/core/ports"
)

// FileSource implements ports.Source for a file on the local filesystem.
type FileSource struct {
	Path string
}

// NewFileSource creates a new FileSource.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

var _ ports.Source = (*FileSource)(nil)

// Provider implements ports.SourceProvider with FileSource.
type Provider struct{}

var _ ports.SourceProvider = Provider{}

// Source returns a FileSource for path.
func (Provider) Source(path string) ports.Source {
	return NewFileSource(path)
}

// Size stats the file. A missing file or a directory is reported as ErrSourceNotFound.
func (s *FileSource) Size(ctx context.Context) (int64, error) {
	info, err := os.Stat(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, s.Path)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat log file %s: %w", s.Path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", domain.ErrSourceNotFound, s.Path)
	}
	return info.Size(), nil
}

// Open opens a new read-only handle.
func (s *FileSource) Open(ctx context.Context) (ports.SourceHandle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", s.Path, err)
	}
	return f, nil
}
