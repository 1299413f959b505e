// Package orchestrator drives the run DAG: resolve each active stage's
// input hash, check the store for a cached hit, execute what's missing,
// commit outputs, compose the join stage from upstream content hashes, and
// create a run entry linking every participating stage.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/join"
	"github.com/papeline/papeline/runconfig"
	"github.com/papeline/papeline/sources/openalex"
	"github.com/papeline/papeline/sources/pubmed"
	"github.com/papeline/papeline/sources/s2"
	"github.com/papeline/papeline/store"
	"github.com/papeline/papeline/wqueue"
)

// StageStatus is a stage's plan-time classification.
type StageStatus int

const (
	Cached StageStatus = iota
	NeedsRun
)

func (s StageStatus) String() string {
	if s == Cached {
		return "CACHED"
	}
	return "NEEDS_RUN"
}

// StagePlan is one row of the execution plan: a stage's resolved input,
// cache status, and (once committed) its manifest.
type StagePlan struct {
	Name     store.StageName
	Input    store.StageInput
	Status   StageStatus
	Manifest *store.StageManifest
}

// Options controls one orchestrated run.
type Options struct {
	Workers int
	Force   bool
	DryRun  bool
}

// Result is the outcome of a completed (non-dry-run) run.
type Result struct {
	RunHash string
	Plans   []StagePlan
}

// Run executes the full DAG for cfg's active stages against s.
func Run(ctx context.Context, s *store.Store, cfg runconfig.Config, opts Options, shutdown *wqueue.ShutdownFlag) (*Result, error) {
	fetchPlans, err := buildFetchPlans(s, cfg, opts.Force)
	if err != nil {
		return nil, err
	}

	printPlan(fetchPlans, cfg.Join != nil && cfg.Join.Enabled)
	if opts.DryRun {
		nlog.Infoln("dry-run: no execution")
		return nil, nil
	}

	// Fetch stages have no dependency on one another (only the join stage
	// depends on all of them), so needs-run stages execute concurrently.
	g, gctx := errgroup.WithContext(ctx)
	for i := range fetchPlans {
		plan := &fetchPlans[i]
		if plan.Status == Cached {
			nlog.Infof("%s: cached (%s)", plan.Name, plan.Input.InputHash().Short())
			continue
		}
		g.Go(func() error {
			if err := executeFetchStage(gctx, s, cfg, opts, plan, shutdown); err != nil {
				return errors.Wrapf(err, "%s stage failed", plan.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var joinPlan *StagePlan
	if cfg.Join != nil && cfg.Join.Enabled {
		jp, err := executeJoinStage(fetchPlans, s, opts.Force)
		if err != nil {
			return nil, errors.Wrap(err, "join stage failed")
		}
		joinPlan = jp
	}

	allPlans := append([]StagePlan(nil), fetchPlans...)
	if joinPlan != nil {
		allPlans = append(allPlans, *joinPlan)
	}

	participating := make([]store.ParticipatingStage, 0, len(allPlans))
	for _, p := range allPlans {
		participating = append(participating, store.ParticipatingStage{
			Stage: p.Name, Input: p.Input, Manifest: *p.Manifest, Cached: p.Status == Cached,
		})
	}
	runMeta, err := s.CreateRun(participating)
	if err != nil {
		return nil, errors.Wrap(err, "create run entry")
	}

	printSummary(allPlans, runMeta)
	return &Result{RunHash: runMeta.RunHash, Plans: allPlans}, nil
}

func buildFetchPlans(s *store.Store, cfg runconfig.Config, force bool) ([]StagePlan, error) {
	var plans []StagePlan
	add := func(name store.StageName, cfgVal any) error {
		input, err := store.MakeStageInput(name, cfgVal)
		if err != nil {
			return err
		}
		// The S2 stage is executed (and, when forced, re-executed) by
		// RunS2Stage before Run is called, so force does not apply to it here.
		status, manifest := checkCache(s, input, force && name != store.S2)
		plans = append(plans, StagePlan{Name: name, Input: input, Status: status, Manifest: manifest})
		return nil
	}

	if cfg.Pubmed != nil {
		if err := add(store.Pubmed, cfg.Pubmed.ContentConfig()); err != nil {
			return nil, err
		}
	}
	if cfg.OpenAlex != nil {
		if err := add(store.OpenAlex, cfg.OpenAlex.ContentConfig()); err != nil {
			return nil, err
		}
	}
	if cfg.S2 != nil {
		if err := add(store.S2, cfg.S2.ContentConfig()); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func checkCache(s *store.Store, input store.StageInput, force bool) (StageStatus, *store.StageManifest) {
	if force {
		return NeedsRun, nil
	}
	result := s.Lookup(input)
	if result.Cached {
		m := result.Manifest
		return Cached, &m
	}
	return NeedsRun, nil
}

func executeFetchStage(ctx context.Context, s *store.Store, cfg runconfig.Config, opts Options, plan *StagePlan, shutdown *wqueue.ShutdownFlag) error {
	tmpDir := s.StageTmpDir(plan.Input)
	if err := os.RemoveAll(tmpDir); err != nil {
		return err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}

	nlog.Infof("%s: executing...", plan.Name)
	switch plan.Name {
	case store.Pubmed:
		stats, err := pubmed.FetchAll(ctx, cfg.Pubmed.BaseURL, cfg.Pubmed.Limit, workersOrDefault(opts.Workers, cfg.Pubmed.Workers),
			tmpDir, cfg.Pubmed.CompressionLevel, cfg.Pubmed.MaxAttempts, shutdown)
		if err != nil {
			return err
		}
		if _, failed, _ := stats.Snapshot(); failed > 0 {
			return errors.Errorf("pubmed: %d shards failed", failed)
		}
	case store.OpenAlex:
		stats, err := openalex.FetchAll(ctx, cfg.OpenAlex.ManifestURL, cfg.OpenAlex.Domains,
			workersOrDefault(opts.Workers, cfg.OpenAlex.Workers), tmpDir, cfg.OpenAlex.CompressionLevel, cfg.OpenAlex.MaxAttempts, shutdown)
		if err != nil {
			return err
		}
		if _, failed, _ := stats.Snapshot(); failed > 0 {
			return errors.Errorf("openalex: %d shards failed", failed)
		}
	case store.S2:
		return errors.New("s2 stage requires an API key and release id; use orchestrator.RunS2Stage directly")
	}

	recursive := plan.Name == store.S2
	manifest, err := s.CommitStage(plan.Input, tmpDir, recursive)
	if err != nil {
		return err
	}
	nlog.Infof("%s: committed (content_hash: %s)", plan.Name, manifest.ContentHash[:8])
	plan.Manifest = &manifest
	plan.Status = Cached
	return nil
}

// RunS2Stage executes the S2 two-phase coordinator for plan, separate from
// executeFetchStage because it needs an API key/release id the declarative
// config alone does not carry.
func RunS2Stage(ctx context.Context, s *store.Store, cfg s2.Config, plan *StagePlan, shutdown *wqueue.ShutdownFlag) error {
	tmpDir := s.StageTmpDir(plan.Input)
	if err := os.RemoveAll(tmpDir); err != nil {
		return err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	cfg.OutputDir = tmpDir

	_, phase2, err := s2.Run(ctx, cfg, shutdown)
	if err != nil {
		return err
	}
	if phase2 != nil {
		if _, failed, _ := phase2.Snapshot(); failed > 0 {
			return errors.Errorf("s2: %d shards failed", failed)
		}
	}

	manifest, err := s.CommitStage(plan.Input, tmpDir, true)
	if err != nil {
		return err
	}
	plan.Manifest = &manifest
	plan.Status = Cached
	return nil
}

func executeJoinStage(fetchPlans []StagePlan, s *store.Store, force bool) (*StagePlan, error) {
	find := func(name store.StageName) *StagePlan {
		for i := range fetchPlans {
			if fetchPlans[i].Name == name {
				return &fetchPlans[i]
			}
		}
		return nil
	}
	pm, oa, s2p := find(store.Pubmed), find(store.OpenAlex), find(store.S2)
	if pm == nil || oa == nil || s2p == nil || pm.Manifest == nil || oa.Manifest == nil || s2p.Manifest == nil {
		return nil, errors.New("join requires pubmed, openalex, and s2 stages to have committed manifests")
	}

	joinCfg := store.JoinConfig{UpstreamContentHashes: map[string]string{
		store.Pubmed.String():   pm.Manifest.ContentHash,
		store.OpenAlex.String(): oa.Manifest.ContentHash,
		store.S2.String():       s2p.Manifest.ContentHash,
	}}
	input, err := store.MakeStageInput(store.Join, joinCfg)
	if err != nil {
		return nil, err
	}
	status, manifest := checkCache(s, input, force)
	plan := &StagePlan{Name: store.Join, Input: input, Status: status, Manifest: manifest}
	fmt.Printf("%-12s %-10s %-10s\n", "join", input.InputHash().Short(), status)

	if status == Cached {
		nlog.Infof("join: cached (%s)", input.InputHash().Short())
		return plan, nil
	}

	nlog.Infoln("join: executing...")
	tmpDir := s.StageTmpDir(input)
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, err
	}

	summary, err := join.Run(join.Config{
		PubmedDir: s.StageDir(pm.Input), OpenAlexDir: s.StageDir(oa.Input), S2Dir: s.StageDir(s2p.Input),
		OutputDir: tmpDir,
	})
	if err != nil {
		return nil, err
	}
	nlog.Infof("join: %d nodes, %d OA matched, %d S2 matched", summary.TotalNodes, summary.OpenAlexMatched, summary.S2Matched)

	m, err := s.CommitStage(input, tmpDir, false)
	if err != nil {
		return nil, err
	}
	nlog.Infof("join: committed (content_hash: %s)", m.ContentHash[:8])
	plan.Manifest = &m
	plan.Status = Cached
	return plan, nil
}

func workersOrDefault(override, configured int) int {
	if override > 0 {
		return override
	}
	if configured > 0 {
		return configured
	}
	return 4
}

func printPlan(plans []StagePlan, joinActive bool) {
	fmt.Println("=== Pipeline Plan ===")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Stage\tHash\tStatus")
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Input.InputHash().Short(), p.Status)
	}
	if joinActive {
		fmt.Fprintln(tw, "join\t(pending)\t(after fetch)")
	}
	tw.Flush()
	fmt.Println()
}

func printSummary(plans []StagePlan, run store.RunMeta) {
	fmt.Println()
	fmt.Println("=== Run Complete ===")
	fmt.Printf("Run hash: %s\n", run.RunHash)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Stage\tHash\tContent\tStatus")
	for _, p := range plans {
		if p.Manifest == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Input.InputHash().Short(), p.Manifest.ContentHash[:8], p.Status)
	}
	tw.Flush()
}
