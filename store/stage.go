package store

import (
	"encoding/json"
	"sort"

	"github.com/papeline/papeline/hash"
)

// StageName identifies a fetch or join stage. DirName and String both return
// "joined" for Join — not "join" — matching the original system's naming.
type StageName int

const (
	Pubmed StageName = iota
	OpenAlex
	S2
	Join
)

func (s StageName) String() string {
	switch s {
	case Pubmed:
		return "pubmed"
	case OpenAlex:
		return "openalex"
	case S2:
		return "s2"
	case Join:
		return "joined"
	default:
		return "unknown"
	}
}

func (s StageName) DirName() string { return s.String() }

func (s StageName) MarshalJSON() ([]byte, error)  { return json.Marshal(s.String()) }
func (s *StageName) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	switch str {
	case "pubmed":
		*s = Pubmed
	case "openalex":
		*s = OpenAlex
	case "s2":
		*s = S2
	case "joined":
		*s = Join
	default:
		*s = -1
	}
	return nil
}

// StageInput is (stage identifier, canonical serialization of the
// content-affecting config fields). Fields that do not affect content
// (worker count, progress, log level, timeouts) must be excluded by the
// caller before constructing a StageInput.
type StageInput struct {
	Stage      StageName
	ConfigJSON string // canonical (sorted-key) JSON of content-affecting fields
}

// InputHash is the blake3 hash of the canonical config bytes (§6.5).
func (si StageInput) InputHash() hash.Hash { return hash.Bytes([]byte(si.ConfigJSON)) }

// PubmedConfig is the content-affecting configuration for the PubMed-like
// fetch stage.
type PubmedConfig struct {
	BaseURL          string `json:"base_url"`
	Limit            int    `json:"limit,omitempty"`
	CompressionLevel int    `json:"compression_level,omitempty"`
}

// OpenAlexConfig is the content-affecting configuration for the OpenAlex-like
// fetch stage.
type OpenAlexConfig struct {
	ManifestURL      string   `json:"manifest_url"`
	Domains          []string `json:"domains"`
	CompressionLevel int      `json:"compression_level,omitempty"`
}

// S2Config is the content-affecting configuration for the bulk-dataset
// two-phase fetch stage.
type S2Config struct {
	Datasets         []string `json:"datasets"`
	Domains          []string `json:"domains"`
	CompressionLevel int      `json:"compression_level,omitempty"`
}

// JoinConfig's content-affecting input is the tuple of upstream content
// hashes, not their input hashes (§4.7): a change in any upstream's output
// invalidates the join even without a config change.
type JoinConfig struct {
	UpstreamContentHashes map[string]string `json:"upstream_content_hashes"` // stage name -> hex hash
}

// canonicalize re-marshals v through a map so object keys come out sorted,
// giving the same bytes regardless of struct field declaration order and,
// for set-valued fields (domain filters, dataset lists), regardless of the
// original slice order once the caller has pre-sorted those slices.
func canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic) // encoding/json sorts map keys on marshal
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

// MakeStageInput builds a StageInput from a typed config, sorting any
// set-valued (domain/dataset list) fields first so the hash is independent of
// input order.
func MakeStageInput(stage StageName, cfg any) (StageInput, error) {
	switch c := cfg.(type) {
	case PubmedConfig:
		// no set-valued fields
	case OpenAlexConfig:
		c.Domains = sortedCopy(c.Domains)
		cfg = c
	case S2Config:
		c.Datasets = sortedCopy(c.Datasets)
		c.Domains = sortedCopy(c.Domains)
		cfg = c
	case JoinConfig:
		// map keys already canonicalized by sort-on-marshal
	}
	js, err := canonicalize(cfg)
	if err != nil {
		return StageInput{}, err
	}
	return StageInput{Stage: stage, ConfigJSON: js}, nil
}
