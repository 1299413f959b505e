// Package runconfig loads the declarative run configuration (§6.6): a TOML
// file naming the active stages and, for each, the fields that affect its
// content hash (source URLs, domain/dataset filters, limits, compression
// level) separately from fields that are purely operational (worker count,
// retry attempts, timeouts) and must be excluded from hashing.
package runconfig

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/papeline/papeline/store"
)

// PubmedStage is the TOML shape of the PubMed-like fetch stage.
type PubmedStage struct {
	BaseURL          string `toml:"base_url"`
	Limit            int    `toml:"limit"`
	CompressionLevel int    `toml:"compression_level"`

	Workers     int `toml:"workers"`
	MaxAttempts int `toml:"max_attempts"`
}

// ContentConfig projects out PubmedStage's content-affecting fields.
func (s PubmedStage) ContentConfig() store.PubmedConfig {
	return store.PubmedConfig{BaseURL: s.BaseURL, Limit: s.Limit, CompressionLevel: s.CompressionLevel}
}

// OpenAlexStage is the TOML shape of the OpenAlex-like fetch stage.
type OpenAlexStage struct {
	ManifestURL      string   `toml:"manifest_url"`
	Domains          []string `toml:"domains"`
	CompressionLevel int      `toml:"compression_level"`

	Workers     int `toml:"workers"`
	MaxAttempts int `toml:"max_attempts"`
}

func (s OpenAlexStage) ContentConfig() store.OpenAlexConfig {
	return store.OpenAlexConfig{ManifestURL: s.ManifestURL, Domains: s.Domains, CompressionLevel: s.CompressionLevel}
}

// S2Stage is the TOML shape of the bulk-dataset two-phase fetch stage.
type S2Stage struct {
	Datasets         []string `toml:"datasets"`
	Domains          []string `toml:"domains"`
	CompressionLevel int      `toml:"compression_level"`

	Workers       int  `toml:"workers"`
	MaxAttempts   int  `toml:"max_attempts"`
	EmbeddingsOut bool `toml:"embeddings_out"`
}

func (s S2Stage) ContentConfig() store.S2Config {
	return store.S2Config{Datasets: s.Datasets, Domains: s.Domains, CompressionLevel: s.CompressionLevel}
}

// JoinStage declares that the (opaque) join stage is active; it has no
// content-affecting fields of its own — its input is the tuple of upstream
// content hashes, computed by the orchestrator once the fetch stages resolve.
type JoinStage struct {
	Enabled bool `toml:"enabled"`
}

// Config is the top-level run configuration file.
type Config struct {
	BaseDir     string `toml:"base_dir"`
	LogDir      string `toml:"log_dir"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`

	Pubmed   *PubmedStage   `toml:"pubmed"`
	OpenAlex *OpenAlexStage `toml:"openalex"`
	S2       *S2Stage       `toml:"s2"`
	Join     *JoinStage     `toml:"join"`
}

// Load parses a run configuration file.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errors.Wrapf(err, "load run config %s", path)
	}
	return c, nil
}

// ActiveStages reports which stages are configured to run.
func (c Config) ActiveStages() []store.StageName {
	var stages []store.StageName
	if c.Pubmed != nil {
		stages = append(stages, store.Pubmed)
	}
	if c.OpenAlex != nil {
		stages = append(stages, store.OpenAlex)
	}
	if c.S2 != nil {
		stages = append(stages, store.S2)
	}
	if c.Join != nil && c.Join.Enabled {
		stages = append(stages, store.Join)
	}
	return stages
}
