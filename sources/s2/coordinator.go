package s2

import (
	"context"

	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/urlexpiry"
	"github.com/papeline/papeline/wqueue"
)

// Config bundles the parameters for a full two-phase run.
type Config struct {
	APIBase          string
	ReleaseID        string
	APIKey           string
	Domains          []string
	FilteredDatasets []string // e.g. "abstracts", "embeddings"
	OutputDir        string
	CorpusIDPath     string
	NumWorkers       int
	CompressionLevel int
	MaxAttempts      int
}

// refreshStaleURLs re-checks URL freshness (signature expiry margin, then a
// cheap Range probe) and returns the URLs that are expiring or probe-invalid.
// Run refetches the dataset's URL list from the source API when any are
// returned, before the phase starts, never mid-phase.
func refreshStaleURLs(ctx context.Context, urls []string) (stale []string) {
	for _, u := range urls {
		if urlexpiry.IsExpiringSoon(u, urlexpiry.ExpiryMargin) {
			stale = append(stale, u)
			continue
		}
		if ok, err := urlexpiry.ProbeValid(ctx, u); err == nil && !ok {
			stale = append(stale, u)
		}
	}
	return stale
}

// Run executes Phase 1 (papers) then Phase 2 (filtered datasets), checking
// URL freshness before each phase and refetching a dataset's URL list when
// any of its URLs are stale.
func Run(ctx context.Context, cfg Config, shutdown *wqueue.ShutdownFlag) (phase1 *wqueue.Stats, phase2 *wqueue.Stats, err error) {
	paperURLs, err := FetchDatasetURLs(ctx, cfg.APIBase, cfg.ReleaseID, cfg.APIKey, "papers")
	if err != nil {
		return nil, nil, err
	}
	if stale := refreshStaleURLs(ctx, paperURLs); len(stale) > 0 {
		nlog.Warningf("s2: %d papers URLs are stale or probe-invalid before phase 1, refetching", len(stale))
		if paperURLs, err = FetchDatasetURLs(ctx, cfg.APIBase, cfg.ReleaseID, cfg.APIKey, "papers"); err != nil {
			return nil, nil, err
		}
	}

	phase1, corpusIDs, err := RunPhase1(ctx, paperURLs, cfg.Domains, cfg.NumWorkers, cfg.OutputDir,
		cfg.CorpusIDPath, cfg.CompressionLevel, cfg.MaxAttempts, shutdown)
	if err != nil {
		return phase1, nil, err
	}
	nlog.Infof("s2: phase 1 matched %d distinct corpus ids", len(corpusIDs))

	var filteredShards []FilteredShard
	for _, dataset := range cfg.FilteredDatasets {
		urls, err := FetchDatasetURLs(ctx, cfg.APIBase, cfg.ReleaseID, cfg.APIKey, dataset)
		if err != nil {
			return phase1, nil, err
		}
		if stale := refreshStaleURLs(ctx, urls); len(stale) > 0 {
			nlog.Warningf("s2: %d %s URLs are stale or probe-invalid before phase 2, refetching", len(stale), dataset)
			if urls, err = FetchDatasetURLs(ctx, cfg.APIBase, cfg.ReleaseID, cfg.APIKey, dataset); err != nil {
				return phase1, nil, err
			}
		}
		for i, u := range urls {
			filteredShards = append(filteredShards, FilteredShard{Dataset: dataset, URL: u, ShardIndex: i})
		}
	}

	phase2, err = RunPhase2(ctx, filteredShards, cfg.CorpusIDPath, cfg.OutputDir,
		cfg.CompressionLevel, cfg.NumWorkers, cfg.MaxAttempts, shutdown)
	return phase1, phase2, err
}
