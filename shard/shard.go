// Package shard glues the streaming reader, retry combinator, accumulator,
// and sink into the end-to-end processing of one shard: download, decompress,
// parse/filter line-by-line, accumulate, flush, finalize.
package shard

import (
	"bufio"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/retry"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/stream"
)

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "papeline_shard_attempts_total",
		Help: "Number of shard processing attempts, by dataset.",
	}, []string{"dataset"})
	rowsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "papeline_shard_rows_written_total",
		Help: "Number of rows written to committed shard outputs, by dataset.",
	}, []string{"dataset"})
)

func init() {
	prometheus.MustRegister(attemptsTotal, rowsWrittenTotal)
}

// Config bundles the per-shard, content-affecting parameters the processor needs.
type Config struct {
	URL               string
	Label             string
	DatasetName       string
	ShardIndex        int
	OutputDir         string
	CompressionLevel  int
	ContentLengthHint int64
	MaxAttempts       int
}

// Stats summarizes a successfully processed shard.
type Stats struct {
	LinesScanned int64
	RowsWritten  int64
	Elapsed      time.Duration
}

// Progress receives byte-position/match-percentage updates every
// accum.UpdateInterval lines, and retry notifications.
type Progress interface {
	retry.Progress
	Update(bytesRead, totalBytes int64, linesScanned, rowsWritten int64)
}

// ProcessGzipShard downloads, decompresses, parses, filters, accumulates, and
// commits one shard. makeAccumulator constructs a fresh accumulator per
// attempt; parseFilter is invoked once per line and returns (row, true) to
// keep it. Both closures must be safely re-invokable across retries.
func ProcessGzipShard[R any](ctx context.Context, cfg Config, progress Progress,
	makeAccumulator func() *accum.Accumulator[R], parseFilter func(line string) (R, bool)) (Stats, error) {
	start := time.Now()

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	stats, err := retry.Do(ctx, cfg.Label, maxAttempts, progress,
		func(err error) bool { return stream.Retryable(err) },
		func(ctx context.Context) (Stats, error) {
			attemptsTotal.WithLabelValues(cfg.DatasetName).Inc()
			return attemptGzipShard(ctx, cfg, progress, makeAccumulator, parseFilter)
		})
	if err != nil {
		return Stats{}, err
	}
	stats.Elapsed = time.Since(start)
	rowsWrittenTotal.WithLabelValues(cfg.DatasetName).Add(float64(stats.RowsWritten))
	return stats, nil
}

func attemptGzipShard[R any](ctx context.Context, cfg Config, progress Progress,
	makeAccumulator func() *accum.Accumulator[R], parseFilter func(line string) (R, bool)) (Stats, error) {
	opened, err := stream.OpenGzipReader(ctx, cfg.URL)
	if err != nil {
		return Stats{}, err
	}
	defer opened.Close()

	total := opened.TotalBytes
	if total == 0 {
		total = cfg.ContentLengthHint
	}

	s, err := sink.New[R](cfg.DatasetName, cfg.ShardIndex, cfg.OutputDir, cfg.CompressionLevel)
	if err != nil {
		return Stats{}, err
	}
	a := makeAccumulator()

	var linesScanned, rowsWritten int64
	scanner := bufio.NewScanner(opened.Lines)
	scanner.Buffer(make([]byte, 0, accum.LineBufCapacity), 4*1024*1024)

	for scanner.Scan() {
		linesScanned++
		line := scanner.Text()

		row, ok := parseFilter(line)
		if ok {
			a.Push(row)
			if a.IsFull() {
				b := a.TakeBatch()
				if err := s.WriteBatch(b.Rows); err != nil {
					return Stats{}, err // fatal: schema/encoding failure
				}
				rowsWritten += int64(len(b.Rows))
			}
		}

		if linesScanned%accum.UpdateInterval == 0 && progress != nil {
			progress.Update(opened.Counter.Load(), total, linesScanned, rowsWritten)
		}
	}
	if err := scanner.Err(); err != nil {
		nlog.Warningf("shard %s: scan error after %d lines: %v", cfg.Label, linesScanned, err)
		return Stats{}, err
	}

	// flush residual partial batch
	if b := a.TakeBatch(); len(b.Rows) > 0 {
		if err := s.WriteBatch(b.Rows); err != nil {
			return Stats{}, err
		}
		rowsWritten += int64(len(b.Rows))
	}

	if _, err := s.Finalize(); err != nil {
		return Stats{}, err
	}

	return Stats{LinesScanned: linesScanned, RowsWritten: rowsWritten}, nil
}
