package s2

import (
	"bufio"
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/filter"
	"github.com/papeline/papeline/retry"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/stream"
	"github.com/papeline/papeline/wqueue"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ParsePapersLine applies the substring pre-filter then a full structured
// decode; ok is true only when the line both passes the domain pre-filter
// and decodes successfully.
func ParsePapersLine(needles *filter.NeedleSet, line string) (row PaperRow, ok bool) {
	if !needles.Matches([]byte(line)) {
		return PaperRow{}, false
	}
	var p rawPaper
	if err := fastJSON.UnmarshalFromString(line, &p); err != nil {
		nlog.Infof("s2: skipping malformed papers line: %v", err)
		return PaperRow{}, false
	}
	return PaperRow{
		CorpusID: p.CorpusID, Title: p.Title, Venue: p.Venue, Year: p.Year,
		ReferenceCount: p.ReferenceCount, CitationCount: p.CitationCount,
		DOI: p.ExternalIDs.DOI,
	}, true
}

// Phase1ShardResult is one paper shard's output: rows written plus the
// matched corpus IDs to carry into Phase 2's filter set.
type Phase1ShardResult struct {
	RowsWritten int64
	CorpusIDs   []int64
}

// ProcessPapersShard downloads, decompresses, and domain-filters one papers
// shard, writing matched rows to Parquet and returning the matched corpus IDs.
func ProcessPapersShard(ctx context.Context, url, label string, shardIndex int, outputDir string,
	compressionLevel, maxAttempts int, needles *filter.NeedleSet) (Phase1ShardResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return retry.Do(ctx, label, maxAttempts, nil,
		func(err error) bool { return stream.Retryable(err) },
		func(ctx context.Context) (Phase1ShardResult, error) {
			return attemptPapersShard(ctx, url, shardIndex, outputDir, compressionLevel, needles)
		})
}

func attemptPapersShard(ctx context.Context, url string, shardIndex int, outputDir string,
	compressionLevel int, needles *filter.NeedleSet) (Phase1ShardResult, error) {
	opened, err := stream.OpenGzipReader(ctx, url)
	if err != nil {
		return Phase1ShardResult{}, err
	}
	defer opened.Close()

	s, err := sink.New[PaperRow]("papers", shardIndex, outputDir, compressionLevel)
	if err != nil {
		return Phase1ShardResult{}, err
	}
	a := accum.New[PaperRow](accum.DefaultBatchSize)

	var rowsWritten int64
	var corpusIDs []int64
	scanner := bufio.NewScanner(opened.Lines)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

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

	for scanner.Scan() {
		row, ok := ParsePapersLine(needles, scanner.Text())
		if !ok {
			continue
		}
		corpusIDs = append(corpusIDs, row.CorpusID)
		a.Push(row)
		if a.IsFull() {
			if err := flush(); err != nil {
				return Phase1ShardResult{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Phase1ShardResult{}, err
	}
	if err := flush(); err != nil {
		return Phase1ShardResult{}, err
	}
	if _, err := s.Finalize(); err != nil {
		return Phase1ShardResult{}, err
	}

	return Phase1ShardResult{RowsWritten: rowsWritten, CorpusIDs: corpusIDs}, nil
}

// RunPhase1 fans out across all papers shard URLs, concatenates the matched
// corpus IDs from every shard, and persists them sorted and deduplicated to
// corpusIDPath.
func RunPhase1(ctx context.Context, urls []string, domains []string, numWorkers int, outputDir, corpusIDPath string,
	compressionLevel, maxAttempts int, shutdown *wqueue.ShutdownFlag) (*wqueue.Stats, []int64, error) {
	needles := filter.NewNeedleSet(domains)
	q := wqueue.New(urls)

	var mu sync.Mutex
	var allIDs []int64

	stats := wqueue.Run(ctx, q, numWorkers, 200*time.Millisecond, shutdown,
		func(ctx context.Context, url string) (int64, error) {
			idx := indexOfURL(urls, url)
			result, err := ProcessPapersShard(ctx, url, url, idx, outputDir, compressionLevel, maxAttempts, needles)
			if err != nil {
				return 0, err
			}
			mu.Lock()
			allIDs = append(allIDs, result.CorpusIDs...)
			mu.Unlock()
			return result.RowsWritten, nil
		})

	if len(allIDs) > 0 {
		if err := filter.SaveCorpusIDs(corpusIDPath, allIDs); err != nil {
			return stats, nil, err
		}
	}
	return stats, filter.SortDedup(allIDs), nil
}

func indexOfURL(urls []string, url string) int {
	for i, u := range urls {
		if u == url {
			return i
		}
	}
	return 0
}
