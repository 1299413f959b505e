// Package store implements the content-addressable stage cache and run DAG
// bookkeeping: stage outputs are keyed by the short hash of their
// content-affecting input, committed atomically, and composed into run
// records that symlink into the store.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/hash"
)

const (
	storeDirName = "store"
	runsDirName  = "runs"
	latestName   = "latest"
	tmpSuffix    = ".tmp"
)

// Store is the base directory holding committed stage outputs and run
// records; safe for concurrent commits of the same input hash.
type Store struct {
	base string
	idx  *buntdb.DB // run-hash -> run.json path index, written by CreateRun; List and GC read the directories, not this index
}

// Open creates (if needed) the store/runs subdirectories and opens the run index.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, storeDirName), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(baseDir, runsDirName), 0o755); err != nil {
		return nil, err
	}
	db, err := buntdb.Open(filepath.Join(baseDir, "runs.idx"))
	if err != nil {
		return nil, errors.Wrap(err, "open run index")
	}
	return &Store{base: baseDir, idx: db}, nil
}

func (s *Store) Close() error { return s.idx.Close() }

// LookupResult is the outcome of checking whether a stage input is cached.
type LookupResult struct {
	Cached   bool
	Dir      string
	Manifest StageManifest
}

// StageTmpDir returns the uncommitted staging directory for a stage input.
func (s *Store) StageTmpDir(si StageInput) string {
	return filepath.Join(s.base, storeDirName, si.InputHash().Short()+tmpSuffix)
}

// StageDir returns the committed output directory for a stage input.
func (s *Store) StageDir(si StageInput) string {
	return filepath.Join(s.base, storeDirName, si.InputHash().Short())
}

// Lookup reports whether si's output is already committed with a manifest
// matching CurrentFormatVersion. A mismatched version, or manifest corruption,
// is treated as a cache miss (logged as a warning, not an error).
func (s *Store) Lookup(si StageInput) LookupResult {
	dir := s.StageDir(si)
	if _, err := os.Stat(dir); err != nil {
		return LookupResult{Cached: false, Dir: dir}
	}
	m, err := ReadManifestFrom(dir)
	if err != nil {
		nlog.Warningf("store: manifest at %s unreadable (%v), treating as cache miss", dir, err)
		return LookupResult{Cached: false, Dir: dir}
	}
	if m.FormatVersion != CurrentFormatVersion {
		nlog.Warningf("store: manifest at %s has format_version %d (want %d), treating as cache miss",
			dir, m.FormatVersion, CurrentFormatVersion)
		return LookupResult{Cached: false, Dir: dir}
	}
	return LookupResult{Cached: true, Dir: dir, Manifest: m}
}

// CommitStage computes content hashes for tmp_dir's output (recursive for
// S2-shaped nested output, non-recursive otherwise), writes the manifest into
// tmp_dir, then atomically renames tmp_dir to the final dir. If the final dir
// already exists (a concurrent committer won), tmp_dir is discarded and the
// existing manifest reused — the inputs were identical by definition of input
// hash, so the content must be equivalent.
func (s *Store) CommitStage(si StageInput, tmpDir string, recursive bool) (StageManifest, error) {
	var (
		fileHashes map[string]string
		combined   hash.Hash
		err        error
	)
	if recursive {
		fileHashes, combined, err = ComputeContentHashesRecursive(tmpDir)
	} else {
		fileHashes, combined, err = ComputeContentHashes(tmpDir)
	}
	if err != nil {
		return StageManifest{}, err
	}

	m := StageManifest{
		FormatVersion: CurrentFormatVersion,
		Stage:         si.Stage,
		InputHash:     si.InputHash().Short(),
		ConfigJSON:    si.ConfigJSON,
		FileHashes:    fileHashes,
		ContentHash:   combined.Hex(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.WriteTo(tmpDir); err != nil {
		return StageManifest{}, err
	}

	finalDir := s.StageDir(si)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		if os.IsExist(err) {
			_ = os.RemoveAll(tmpDir)
			return ReadManifestFrom(finalDir)
		}
		// rename targets that already exist as a non-empty dir return a
		// platform-specific error, not always ErrExist; check explicitly.
		if _, statErr := os.Stat(finalDir); statErr == nil {
			_ = os.RemoveAll(tmpDir)
			return ReadManifestFrom(finalDir)
		}
		return StageManifest{}, errors.Wrapf(err, "commit %s -> %s", tmpDir, finalDir)
	}
	return m, nil
}

// StageMeta is one stage's entry inside a run record.
type StageMeta struct {
	InputHash   string `json:"input_hash"`
	ContentHash string `json:"content_hash"`
	Cached      bool   `json:"cached"`
}

// RunMeta is the run.json record (§6.2).
type RunMeta struct {
	RunHash   string               `json:"run_hash"`
	Stages    map[string]StageMeta `json:"stages"`
	CreatedAt time.Time            `json:"created_at"`
}

// ParticipatingStage is one entry passed to CreateRun.
type ParticipatingStage struct {
	Stage    StageName
	Input    StageInput
	Manifest StageManifest
	Cached   bool
}

// CreateRun computes the run hash (blake3 of the concatenation of each
// stage's input hash, in the listed order), writes run.json, creates a
// relative symlink into the store for each stage, and atomically replaces the
// base "latest" symlink.
func (s *Store) CreateRun(stages []ParticipatingStage) (RunMeta, error) {
	var hashes []hash.Hash
	meta := RunMeta{Stages: make(map[string]StageMeta, len(stages)), CreatedAt: time.Now().UTC()}
	for _, st := range stages {
		ih := st.Input.InputHash()
		hashes = append(hashes, ih)
		meta.Stages[st.Stage.String()] = StageMeta{
			InputHash:   ih.Short(),
			ContentHash: st.Manifest.ContentHash,
			Cached:      st.Cached,
		}
	}
	runHash := hash.Combine(hashes).Short()
	meta.RunHash = runHash

	runDir := filepath.Join(s.base, runsDirName, runHash)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return RunMeta{}, err
	}

	js, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return RunMeta{}, err
	}
	runJSONPath := filepath.Join(runDir, "run.json")
	if err := os.WriteFile(runJSONPath, js, 0o644); err != nil {
		return RunMeta{}, err
	}

	for _, st := range stages {
		linkPath := filepath.Join(runDir, st.Stage.String())
		target, err := filepath.Rel(runDir, s.StageDir(st.Input))
		if err != nil {
			return RunMeta{}, err
		}
		_ = os.Remove(linkPath)
		if err := os.Symlink(target, linkPath); err != nil {
			return RunMeta{}, errors.Wrapf(err, "symlink %s", linkPath)
		}
	}

	latestPath := filepath.Join(s.base, latestName)
	latestTmp := latestPath + tmpSuffix
	_ = os.Remove(latestTmp)
	relRunDir, err := filepath.Rel(s.base, runDir)
	if err != nil {
		return RunMeta{}, err
	}
	if err := os.Symlink(relRunDir, latestTmp); err != nil {
		return RunMeta{}, err
	}
	if err := os.Rename(latestTmp, latestPath); err != nil {
		return RunMeta{}, err
	}

	if err := s.idx.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("run:"+runHash, runJSONPath, nil)
		return err
	}); err != nil {
		nlog.Warningf("store: run index update failed for %s: %v", runHash, err)
	}

	return meta, nil
}

// StoreEntry is one committed stage directory, as returned by List.
type StoreEntry struct {
	ShortHash string
	Dir       string
}

// List enumerates all committed (non-tmp) store directories.
func (s *Store) List() ([]StoreEntry, error) {
	root := filepath.Join(s.base, storeDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []StoreEntry
	for _, e := range entries {
		if !e.IsDir() || filepath.Ext(e.Name()) == tmpSuffix {
			continue
		}
		out = append(out, StoreEntry{ShortHash: e.Name(), Dir: filepath.Join(root, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortHash < out[j].ShortHash })
	return out, nil
}

// ReferencedHashes returns the set of input-hash short forms referenced by at
// least one run's metadata (a stage directory is referenced iff this is true
// for it).
func (s *Store) ReferencedHashes() (map[string]bool, error) {
	runsRoot := filepath.Join(s.base, runsDirName)
	referenced := map[string]bool{}
	err := godirwalk.Walk(runsRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Base(path) != "run.json" {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil // ignore unreadable run records during a best-effort sweep
			}
			var m RunMeta
			if err := json.Unmarshal(data, &m); err != nil {
				return nil
			}
			for _, st := range m.Stages {
				if len(st.InputHash) >= hash.ShortSize {
					referenced[st.InputHash[:hash.ShortSize]] = true
				}
			}
			return nil
		},
		Unsorted: true,
	})
	return referenced, err
}

// GC removes every committed store directory not referenced by any run,
// archiving each to an LZ4-compressed tarball-free single-file snapshot of
// its manifest before removal (cheap provenance trail; the bulk output files
// themselves are not archived).
func (s *Store) GC() ([]string, error) {
	referenced, err := s.ReferencedHashes()
	if err != nil {
		return nil, err
	}
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if referenced[e.ShortHash] {
			continue
		}
		if err := s.archiveManifest(e); err != nil {
			nlog.Warningf("store: gc: archive manifest for %s failed: %v", e.ShortHash, err)
		}
		if err := os.RemoveAll(e.Dir); err != nil {
			return removed, errors.Wrapf(err, "remove %s", e.Dir)
		}
		removed = append(removed, e.ShortHash)
	}
	return removed, nil
}

func (s *Store) archiveManifest(e StoreEntry) error {
	data, err := os.ReadFile(filepath.Join(e.Dir, manifestFilename))
	if err != nil {
		return nil // nothing to archive if the manifest is already gone
	}
	archiveDir := filepath.Join(s.base, "gc-archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(archiveDir, e.ShortHash+".manifest.lz4"))
	if err != nil {
		return err
	}
	defer f.Close()
	zw := lz4.NewWriter(f)
	defer zw.Close()
	_, err = zw.Write(data)
	return err
}

// VerifyResult is the outcome of re-hashing one file against its manifest entry.
type VerifyResult struct {
	File  string
	OK    bool
	Error string
}

// Verify re-hashes every file in the committed directory for short hash and
// compares against its manifest's file_hashes.
func (s *Store) Verify(shortHash string) ([]VerifyResult, error) {
	dir := filepath.Join(s.base, storeDirName, shortHash)
	m, err := ReadManifestFrom(dir)
	if err != nil {
		return nil, err
	}
	var out []VerifyResult
	for name, want := range m.FileHashes {
		h, err := hash.File(filepath.Join(dir, name))
		if err != nil {
			out = append(out, VerifyResult{File: name, OK: false, Error: err.Error()})
			continue
		}
		out = append(out, VerifyResult{File: name, OK: h.Hex() == want})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// VerifyAll verifies every committed store directory.
func (s *Store) VerifyAll() (map[string][]VerifyResult, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]VerifyResult, len(entries))
	for _, e := range entries {
		res, err := s.Verify(e.ShortHash)
		if err != nil {
			nlog.Warningf("store: verify %s failed: %v", e.ShortHash, err)
			continue
		}
		out[e.ShortHash] = res
	}
	return out, nil
}

// CleanupTmp removes every "*.tmp" staging directory under store/, run once
// at the start of a fresh run (a stage that failed mid-run leaves its tmp dir
// behind for the next run's pre-cleanup, or an explicit GC sweep).
func (s *Store) CleanupTmp() error {
	root := filepath.Join(s.base, storeDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && filepath.Ext(e.Name()) == tmpSuffix {
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
