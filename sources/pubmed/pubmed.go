package pubmed

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/retry"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/stream"
	"github.com/papeline/papeline/wqueue"
)

var shardAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "papeline_pubmed_shard_attempts_total",
	Help: "Number of PubMed baseline shard processing attempts.",
})

func init() { prometheus.MustRegister(shardAttemptsTotal) }

// Row is the columnar projection of Article written to Parquet.
type Row struct {
	PMID          int64  `parquet:"name=pmid, type=INT64"`
	DOI           string `parquet:"name=doi, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title         string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	Abstract      string `parquet:"name=abstract, type=BYTE_ARRAY, convertedtype=UTF8"`
	JournalTitle  string `parquet:"name=journal_title, type=BYTE_ARRAY, convertedtype=UTF8"`
	PubYear       int32  `parquet:"name=pub_year, type=INT32"`
	AuthorCount   int32  `parquet:"name=author_count, type=INT32"`
	MeshTermCount int32  `parquet:"name=mesh_term_count, type=INT32"`
}

func toRow(a Article) Row {
	return Row{
		PMID: a.PMID, DOI: a.DOI, Title: a.Title, Abstract: a.Abstract,
		JournalTitle: a.JournalTitle, PubYear: a.PubYear,
		AuthorCount: a.AuthorCount, MeshTermCount: a.MeshTermCount,
	}
}

// ShardConfig bundles the per-shard parameters needed to process one baseline file.
type ShardConfig struct {
	Entry            Entry
	ShardIndex       int
	OutputDir        string
	CompressionLevel int
	MaxAttempts      int
}

// ShardStats summarizes one successfully processed baseline file.
type ShardStats struct {
	ArticlesScanned int64
	ArticlesDeleted int64
	RowsWritten     int64
	Elapsed         time.Duration
}

// ProcessShard downloads, decompresses, and parses one PubMed baseline file.
// Unlike the line-delimited sources, a shard here is a single large XML
// document, so the attempt is composed directly from stream.OpenGzipReader +
// ScanArticles rather than the line-oriented shard.ProcessGzipShard.
func ProcessShard(ctx context.Context, cfg ShardConfig, progress retry.Progress) (ShardStats, error) {
	start := time.Now()

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	stats, err := retry.Do(ctx, cfg.Entry.Filename, maxAttempts, progress,
		func(err error) bool { return stream.Retryable(err) },
		func(ctx context.Context) (ShardStats, error) {
			shardAttemptsTotal.Inc()
			return attemptShard(ctx, cfg)
		})
	if err != nil {
		return ShardStats{}, err
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

func attemptShard(ctx context.Context, cfg ShardConfig) (ShardStats, error) {
	opened, err := stream.OpenGzipReader(ctx, cfg.Entry.URL)
	if err != nil {
		return ShardStats{}, err
	}
	defer opened.Close()

	s, err := sink.New[Row]("pubmed", cfg.ShardIndex, cfg.OutputDir, cfg.CompressionLevel)
	if err != nil {
		return ShardStats{}, err
	}
	a := accum.New[Row](accum.DefaultBatchSize)

	var rowsWritten, deleted int64
	flush := func() error {
		b := a.TakeBatch()
		if len(b.Rows) == 0 {
			return nil
		}
		if err := s.WriteBatch(b.Rows); err != nil {
			return err
		}
		rowsWritten += int64(len(b.Rows))
		return nil
	}

	var flushErr error
	scanned, err := ScanArticles(opened.Lines,
		func(article Article) {
			if flushErr != nil {
				return
			}
			a.Push(toRow(article))
			if a.IsFull() {
				flushErr = flush()
			}
		},
		func(string) { deleted++ },
	)
	if err != nil {
		return ShardStats{}, err
	}
	if flushErr != nil {
		return ShardStats{}, flushErr
	}
	if err := flush(); err != nil {
		return ShardStats{}, err
	}

	if _, err := s.Finalize(); err != nil {
		return ShardStats{}, err
	}

	return ShardStats{ArticlesScanned: scanned, ArticlesDeleted: deleted, RowsWritten: rowsWritten}, nil
}

// FetchAll resolves the baseline manifest and processes every shard (subject
// to limit, if the stage config sets one) across numWorkers goroutines,
// returning the aggregate wqueue.Stats.
func FetchAll(ctx context.Context, baseURL string, limit, numWorkers int, outputDir string,
	compressionLevel, maxAttempts int, shutdown *wqueue.ShutdownFlag) (*wqueue.Stats, error) {
	entries, err := FetchManifest(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	nlog.Infof("pubmed: %d baseline shards to process", len(entries))

	q := wqueue.New(entries)
	stats := wqueue.Run(ctx, q, numWorkers, 200*time.Millisecond, shutdown,
		func(ctx context.Context, e Entry) (int64, error) {
			idx := indexOf(entries, e)
			shardStats, err := ProcessShard(ctx, ShardConfig{
				Entry: e, ShardIndex: idx, OutputDir: outputDir,
				CompressionLevel: compressionLevel, MaxAttempts: maxAttempts,
			}, nil)
			if err != nil {
				return 0, err
			}
			return shardStats.RowsWritten, nil
		})
	return stats, nil
}

func indexOf(entries []Entry, e Entry) int {
	for i, entry := range entries {
		if entry.Filename == e.Filename {
			return i
		}
	}
	return 0
}
