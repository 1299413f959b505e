package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/papeline/papeline/coverage"
	"github.com/papeline/papeline/runconfig"
	"github.com/papeline/papeline/store"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Report cross-dataset corpus-id coverage for a committed s2 stage",
	RunE:  runCoverage,
}

func init() {
	coverageCmd.Flags().String("config", "", "run configuration TOML file naming the s2 stage (required)")
}

func runCoverage(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return usageErrorf("--config is required")
	}
	baseDirFlag, _ := cmd.Flags().GetString("base-dir")

	cfg, err := runconfig.Load(configPath)
	if err != nil {
		return usageErrorf("%v", err)
	}
	if cfg.S2 == nil {
		return usageErrorf("run config %s does not configure an s2 stage", configPath)
	}
	baseDir := baseDirFlag
	if cfg.BaseDir != "" {
		baseDir = cfg.BaseDir
	}

	st, err := store.Open(baseDir)
	if err != nil {
		return err
	}
	defer st.Close()

	input, err := store.MakeStageInput(store.S2, cfg.S2.ContentConfig())
	if err != nil {
		return err
	}
	lookup := st.Lookup(input)
	if !lookup.Cached {
		return usageErrorf("s2 stage is not committed yet; run `papeline run --config %s` first", configPath)
	}

	stats, err := coverage.Compute(lookup.Dir)
	if err != nil {
		return err
	}
	coverage.WriteTable(os.Stdout, stats)
	coverage.Log(stats)
	return nil
}
