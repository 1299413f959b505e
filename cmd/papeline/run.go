package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/orchestrator"
	"github.com/papeline/papeline/runconfig"
	"github.com/papeline/papeline/sources/s2"
	"github.com/papeline/papeline/store"
	"github.com/papeline/papeline/wqueue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and execute the configured stages",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("config", "", "run configuration TOML file (required)")
	runCmd.Flags().Bool("dry-run", false, "print the plan and exit without executing")
	runCmd.Flags().Bool("force", false, "ignore the cache and re-run every stage")
	runCmd.Flags().Int("workers", 0, "override every stage's configured worker count")
	runCmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	runCmd.Flags().String("s2-release", "latest", "bulk-dataset release id, or \"latest\"")
}

func runRun(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return usageErrorf("--config is required")
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	workers, _ := cmd.Flags().GetInt("workers")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	s2Release, _ := cmd.Flags().GetString("s2-release")
	baseDirFlag, _ := cmd.Flags().GetString("base-dir")

	cfg, err := runconfig.Load(configPath)
	if err != nil {
		return usageErrorf("%v", err)
	}
	baseDir := baseDirFlag
	if cfg.BaseDir != "" {
		baseDir = cfg.BaseDir
	}
	if len(cfg.ActiveStages()) == 0 {
		return usageErrorf("run config %s activates no stages", configPath)
	}

	st, err := store.Open(baseDir)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.CleanupTmp(); err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go http.ListenAndServe(metricsAddr, mux) //nolint:errcheck // best-effort; a bound failure shouldn't abort the run
	}

	shutdown := &wqueue.ShutdownFlag{}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	shutdown.Arm(ctx)

	opts := orchestrator.Options{Workers: workers, Force: force, DryRun: dryRun}

	if cfg.S2 != nil && !dryRun {
		err = runS2StageIfNeeded(ctx, st, *cfg.S2, s2Release, force, workers, shutdown)
	}
	if err == nil {
		_, err = orchestrator.Run(ctx, st, cfg, opts, shutdown)
	}
	if shutdown.Requested() {
		nlog.Flush(true)
		os.Exit(130)
	}
	return err
}

// runS2StageIfNeeded resolves the bulk-dataset stage's API key and release id
// and executes it ahead of orchestrator.Run, which can only encounter the S2
// stage already cached (it needs credentials the declarative config doesn't
// carry).
func runS2StageIfNeeded(ctx context.Context, st *store.Store, stage runconfig.S2Stage, release string, force bool, workers int, shutdown *wqueue.ShutdownFlag) error {
	input, err := store.MakeStageInput(store.S2, stage.ContentConfig())
	if err != nil {
		return err
	}
	if !force && st.Lookup(input).Cached {
		return nil
	}

	apiKey := os.Getenv("S2_API_KEY")
	if apiKey == "" {
		return usageErrorf("S2_API_KEY must be set to run the s2 stage")
	}
	releaseID, err := s2.ResolveRelease(ctx, s2.DefaultAPIBase, release, apiKey)
	if err != nil {
		return err
	}

	plan := &orchestrator.StagePlan{Name: store.S2, Input: input, Status: orchestrator.NeedsRun}
	tmpDir := st.StageTmpDir(input)
	filtered := make([]string, 0, len(stage.Datasets))
	for _, d := range stage.Datasets {
		if d != "papers" {
			filtered = append(filtered, d)
		}
	}
	s2Cfg := s2.Config{
		APIBase:          s2.DefaultAPIBase,
		ReleaseID:        releaseID,
		APIKey:           apiKey,
		Domains:          stage.Domains,
		FilteredDatasets: filtered,
		CorpusIDPath:     filepath.Join(tmpDir, "corpus_ids.bin"),
		NumWorkers:       workersOrDefault(workers, stage.Workers),
		CompressionLevel: stage.CompressionLevel,
		MaxAttempts:      stage.MaxAttempts,
	}
	return orchestrator.RunS2Stage(ctx, st, s2Cfg, plan, shutdown)
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
