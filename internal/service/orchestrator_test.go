package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"logslice/internal/adapters/localstorage"
	"logslice/internal/adapters/logfile"
	"logslice/internal/core/domain"
	"logslice/internal/core/ports"
	"logslice/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	dir     string
	source  string
	staging string
	outDir  string
	storage *localstorage.LocalStorage
	logs    *observer.ObservedLogs
	logger  *zap.Logger
}

func newFixture(t *testing.T, content string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		source:  filepath.Join(dir, "test_logs.log"),
		staging: filepath.Join(dir, "staging"),
		outDir:  filepath.Join(dir, "output"),
	}
	require.NoError(t, os.WriteFile(f.source, []byte(content), 0o644))
	f.storage = localstorage.NewLocalStorage(f.staging, f.outDir)
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	f.logger = zap.New(core)
	return f
}

func (f *fixture) extractor(t *testing.T, sources ports.SourceProvider, opts Options) *Extractor {
	t.Helper()
	e, err := NewExtractor(sources, f.storage, opts, nil, f.logger)
	require.NoError(t, err)
	return e
}

func (f *fixture) run(t *testing.T, sources ports.SourceProvider, opts Options, date string) (*domain.ExtractionResult, string) {
	t.Helper()
	res, err := f.extractor(t, sources, opts).Extract(context.Background(), domain.ExtractionRequest{SourcePath: f.source, Date: date})
	require.NoError(t, err)
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	return res, string(data)
}

func (f *fixture) assertStagingGone(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.staging)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory must be removed after the run")
}

// failingProvider wraps real files and fails reads that begin at failAt.
type failingProvider struct {
	failAt int64
}

func (p failingProvider) Source(path string) ports.Source {
	return failingSource{Source: logfile.NewFileSource(path), failAt: p.failAt}
}

type failingSource struct {
	ports.Source
	failAt int64
}

func (s failingSource) Open(ctx context.Context) (ports.SourceHandle, error) {
	h, err := s.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return failingHandle{SourceHandle: h, failAt: s.failAt}, nil
}

type failingHandle struct {
	ports.SourceHandle
	failAt int64
}

var errUnreadable = errors.New("unreadable span")

func (h failingHandle) ReadAt(p []byte, off int64) (int, error) {
	if off == h.failAt {
		return 0, errUnreadable
	}
	return h.SourceHandle.ReadAt(p, off)
}

func TestExtractThreeLines(t *testing.T) {
	f := newFixture(t, "2024-01-01 A\n2024-01-02 B\n2024-01-01 C\n")
	res, got := f.run(t, logfile.Provider{}, Options{Workers: 4}, "2024-01-01")

	assert.Equal(t, "2024-01-01 A\n2024-01-01 C\n", got)
	assert.Equal(t, filepath.Join(f.outDir, "output_2024-01-01.txt"), res.OutputPath)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, int64(2), res.MatchedLines)
	assert.Empty(t, res.Failed)
	assert.NotEmpty(t, res.RunID)
	f.assertStagingGone(t)

	assert.Equal(t, 1, f.logs.FilterMessage("Processing 1 chunks...").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("Merging results...").Len())
}

func TestExtractEmptySource(t *testing.T) {
	f := newFixture(t, "")
	res, got := f.run(t, logfile.Provider{}, Options{Workers: 2}, "2024-01-01")
	assert.Empty(t, got)
	assert.Zero(t, res.Chunks)
	f.assertStagingGone(t)
}

func TestExtractNoMatches(t *testing.T) {
	f := newFixture(t, "2023-12-31 x\n2024-01-02 y\n")
	res, got := f.run(t, logfile.Provider{}, Options{ChunkSize: 5, Workers: 3}, "2024-01-01")
	assert.Empty(t, got)
	assert.Zero(t, res.MatchedLines)
	assert.FileExists(t, res.OutputPath)
}

func TestExtractChunkSmallerThanLine(t *testing.T) {
	long := "2024-01-01 " + strings.Repeat("payload ", 40) + "\n"
	f := newFixture(t, "2024-01-02 first\n"+long+"2024-01-02 last\n")
	_, got := f.run(t, logfile.Provider{}, Options{ChunkSize: 8, Workers: 4}, "2024-01-01")
	assert.Equal(t, long, got)
}

func TestExtractLineStartingOnBoundary(t *testing.T) {
	first := "2024-01-02 owned by chunk zero\n"
	second := "2024-01-01 owned by chunk one\n"
	f := newFixture(t, first+second)
	res, got := f.run(t, logfile.Provider{}, Options{ChunkSize: int64(len(first)), Workers: 2}, "2024-01-01")
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, second, got)
}

func TestExtractMatchesSequentialScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	var src, want strings.Builder
	for i := 0; i < 1000; i++ {
		d := dates[rng.Intn(len(dates))]
		line := fmt.Sprintf("%s %05d %s\n", d, i, strings.Repeat("x", rng.Intn(120)))
		src.WriteString(line)
		if d == "2024-01-02" {
			want.WriteString(line)
		}
	}

	for _, chunk := range []int64{97, 256, 4096, 1 << 20} {
		f := newFixture(t, src.String())
		_, got := f.run(t, logfile.Provider{}, Options{ChunkSize: chunk, Workers: 8}, "2024-01-02")
		assert.Equal(t, want.String(), got, "chunk size %d", chunk)
		f.assertStagingGone(t)
	}
}

func TestExtractIdempotent(t *testing.T) {
	f := newFixture(t, strings.Repeat("2024-01-01 same\n2024-01-05 other\n", 50))
	_, first := f.run(t, logfile.Provider{}, Options{ChunkSize: 33, Workers: 4}, "2024-01-01")
	_, second := f.run(t, logfile.Provider{}, Options{ChunkSize: 33, Workers: 4}, "2024-01-01")
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(f.outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtractSkipsFailedChunk(t *testing.T) {
	// Every 13-byte line is its own span; chunk 1 reads first at offset 12.
	lines := []string{"2024-01-01 A\n", "2024-01-01 B\n", "2024-01-01 C\n", "2024-01-01 D\n"}
	f := newFixture(t, strings.Join(lines, ""))

	res, got := f.run(t, failingProvider{failAt: 12}, Options{ChunkSize: 13, Workers: 4, Policy: domain.PolicySkip}, "2024-01-01")
	assert.Equal(t, lines[0]+lines[2]+lines[3], got)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.ErrorIs(t, res.Failed[0], errUnreadable)
	assert.Equal(t, int64(3), res.MatchedLines)

	assert.Equal(t, 1, f.logs.FilterMessage("Error processing chunk 1").Len())
	f.assertStagingGone(t)
}

func TestExtractAbortsOnFailedChunk(t *testing.T) {
	lines := []string{"2024-01-01 A\n", "2024-01-01 B\n", "2024-01-01 C\n"}
	f := newFixture(t, strings.Join(lines, ""))

	_, err := f.extractor(t, failingProvider{failAt: 25}, Options{ChunkSize: 13, Workers: 1, Policy: domain.PolicyAbort}).
		Extract(context.Background(), domain.ExtractionRequest{SourcePath: f.source, Date: "2024-01-01"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrChunkFailed)
	assert.ErrorIs(t, err, errUnreadable)

	assert.NoFileExists(t, f.storage.OutputPath("2024-01-01"))
	f.assertStagingGone(t)
}

func TestExtractMissingSource(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.extractor(t, logfile.Provider{}, Options{}).
		Extract(context.Background(), domain.ExtractionRequest{SourcePath: filepath.Join(f.dir, "absent.log"), Date: "2024-01-01"})
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
	assert.NoDirExists(t, f.staging)
}

func TestExtractInvalidDate(t *testing.T) {
	f := newFixture(t, "x\n")
	_, err := f.extractor(t, logfile.Provider{}, Options{}).
		Extract(context.Background(), domain.ExtractionRequest{SourcePath: f.source, Date: "2024/01/01"})
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
	assert.NoDirExists(t, f.staging)
}

func TestExtractCancelled(t *testing.T) {
	f := newFixture(t, strings.Repeat("2024-01-01 x\n", 100))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.extractor(t, logfile.Provider{}, Options{ChunkSize: 64, Workers: 2}).
		Extract(ctx, domain.ExtractionRequest{SourcePath: f.source, Date: "2024-01-01"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, f.storage.OutputPath("2024-01-01"))
	f.assertStagingGone(t)
}

func TestExtractRecordsMetrics(t *testing.T) {
	f := newFixture(t, "2024-01-01 A\n2024-01-01 B\n2024-01-01 C\n")
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	e, err := NewExtractor(failingProvider{failAt: 12}, f.storage, Options{ChunkSize: 13, Workers: 2}, m, f.logger)
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), domain.ExtractionRequest{SourcePath: f.source, Date: "2024-01-01"})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Chunks.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Chunks.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MatchedLines))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestNewExtractorRejectsUnknownPolicy(t *testing.T) {
	_, err := NewExtractor(logfile.Provider{}, localstorage.NewLocalStorage("", "out"), Options{Policy: "retry"}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}
