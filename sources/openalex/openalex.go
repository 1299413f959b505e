// Package openalex fetches a scholarly-graph manifest of gzipped JSON-lines
// shards grouped by update date, domain-filters each line with a cheap
// substring pre-filter ahead of full structured parsing, and writes matched
// rows to Parquet via the generic line-oriented shard processor.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/filter"
	"github.com/papeline/papeline/shard"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/wqueue"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ManifestShard is one entry of the update-date-grouped manifest.
type ManifestShard struct {
	URL         string `json:"url"`
	UpdateDate  string `json:"update_date"`
	ContentSize int64  `json:"content_size"`
}

var manifestClient = &http.Client{Timeout: 60 * time.Second}

// FetchManifest retrieves and parses the JSON array manifest at manifestURL,
// making up to 3 attempts with exponential backoff on failure.
func FetchManifest(ctx context.Context, manifestURL string) ([]ManifestShard, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		shards, err := fetchManifestOnce(ctx, manifestURL)
		if err == nil {
			return shards, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "fetch openalex manifest")
}

func fetchManifestOnce(ctx context.Context, manifestURL string) ([]ManifestShard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := manifestClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("manifest fetch: HTTP %d", resp.StatusCode)
	}
	var shards []ManifestShard
	if err := json.NewDecoder(resp.Body).Decode(&shards); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return shards, nil
}

// Row is the columnar projection of a matched work record.
type Row struct {
	WorkID         string `parquet:"name=work_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DOI            string `parquet:"name=doi, type=BYTE_ARRAY, convertedtype=UTF8"`
	Title          string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8"`
	PublicationYear int32 `parquet:"name=publication_year, type=INT32"`
	Domain         string `parquet:"name=domain, type=BYTE_ARRAY, convertedtype=UTF8"`
	CitedByCount   int32  `parquet:"name=cited_by_count, type=INT32"`
}

type rawWork struct {
	ID                string `json:"id"`
	DOI               string `json:"doi"`
	Title             string `json:"title"`
	PublicationYear   int32  `json:"publication_year"`
	PrimaryTopic      struct {
		Domain struct {
			DisplayName string `json:"display_name"`
		} `json:"domain"`
	} `json:"primary_topic"`
	CitedByCount int32 `json:"cited_by_count"`
}

// MakeParseFilter returns a parse/filter closure scoped to the given domain
// needles: a substring pre-filter over the raw line rejects the large
// majority of non-matching records before the structured jsoniter decode.
func MakeParseFilter(domains []string) func(line string) (Row, bool) {
	needles := filter.NewNeedleSet(domains)
	return func(line string) (Row, bool) {
		if !needles.Matches([]byte(line)) {
			return Row{}, false
		}
		var w rawWork
		if err := fastJSON.UnmarshalFromString(line, &w); err != nil {
			nlog.Infof("openalex: skipping malformed line: %v", err)
			return Row{}, false
		}
		domain := w.PrimaryTopic.Domain.DisplayName
		if !domainMatches(domains, domain) {
			return Row{}, false
		}
		return Row{
			WorkID: w.ID, DOI: w.DOI, Title: w.Title,
			PublicationYear: w.PublicationYear, Domain: domain,
			CitedByCount: w.CitedByCount,
		}, true
	}
}

func domainMatches(domains []string, domain string) bool {
	if len(domains) == 0 {
		return true
	}
	for _, d := range domains {
		if d == domain {
			return true
		}
	}
	return false
}

// FetchAll resolves the shard manifest and processes every shard across
// numWorkers goroutines, skipping shards whose output already passes the
// validity check (resume).
func FetchAll(ctx context.Context, manifestURL string, domains []string, numWorkers int,
	outputDir string, compressionLevel, maxAttempts int, shutdown *wqueue.ShutdownFlag) (*wqueue.Stats, error) {
	shards, err := FetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	var pending []ManifestShard
	for i, ms := range shards {
		if !sink.IsValid(filepath.Join(outputDir, fmt.Sprintf("openalex_%04d.parquet", i))) {
			pending = append(pending, ms)
		}
	}
	nlog.Infof("openalex: %d of %d shards to process", len(pending), len(shards))

	parseFilter := MakeParseFilter(domains)
	q := wqueue.New(pending)
	stats := wqueue.Run(ctx, q, numWorkers, 200*time.Millisecond, shutdown,
		func(ctx context.Context, ms ManifestShard) (int64, error) {
			idx := indexOf(shards, ms)
			cfg := shard.Config{
				URL: ms.URL, Label: ms.UpdateDate, DatasetName: "openalex",
				ShardIndex: idx, OutputDir: outputDir, CompressionLevel: compressionLevel,
				ContentLengthHint: ms.ContentSize, MaxAttempts: maxAttempts,
			}
			stats, err := shard.ProcessGzipShard[Row](ctx, cfg, nil,
				func() *accum.Accumulator[Row] { return accum.New[Row](accum.DefaultBatchSize) },
				parseFilter)
			if err != nil {
				return 0, err
			}
			return stats.RowsWritten, nil
		})
	return stats, nil
}

func indexOf(shards []ManifestShard, ms ManifestShard) int {
	for i, s := range shards {
		if s.URL == ms.URL {
			return i
		}
	}
	return 0
}
