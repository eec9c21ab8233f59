// Package metrics holds the prometheus collectors for extraction runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "logslice"

// Collectors groups the metrics touched by one extractor.
type Collectors struct {
	Chunks       *prometheus.CounterVec
	MatchedLines prometheus.Counter
	ScannedBytes prometheus.Counter
	RunDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks scanned, by outcome.",
		}, []string{"status"}),
		MatchedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_lines_total",
			Help:      "Lines that matched the date prefix.",
		}),
		ScannedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanned_bytes_total",
			Help:      "Bytes of owned lines read by scanners.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of an extraction run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	for _, col := range []prometheus.Collector{c.Chunks, c.MatchedLines, c.ScannedBytes, c.RunDuration} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// WriteFile dumps everything g gathers to path in the text exposition format.
func WriteFile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
