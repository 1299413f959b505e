package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/papeline/papeline/hash"
)

// CurrentFormatVersion invalidates old caches on a schema change: a manifest
// whose FormatVersion doesn't match is treated as a cache miss (§7).
const CurrentFormatVersion = 1

// StageManifest is written into each committed stage output directory (§6.1).
type StageManifest struct {
	FormatVersion int               `json:"format_version"`
	Stage         StageName         `json:"stage"`
	InputHash     string            `json:"input_hash"`
	ConfigJSON    string            `json:"config_json"`
	FileHashes    map[string]string `json:"file_hashes"`
	ContentHash   string            `json:"content_hash"`
	CreatedAt     time.Time         `json:"created_at"`
}

const manifestFilename = "manifest.json"

// ComputeContentHashes walks dir (non-recursively), hashing every file except
// manifest.json, and returns (filename -> hex hash, combined content hash).
func ComputeContentHashes(dir string) (map[string]string, hash.Hash, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, hash.Hash{}, errors.Wrapf(err, "read dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == manifestFilename {
			continue
		}
		names = append(names, e.Name())
	}
	return hashNamed(dir, names)
}

// ComputeContentHashesRecursive walks dir and its subdirectories (used by the
// bulk-dataset stage, which nests output under date-partitioned
// subdirectories), hashing every file except manifest.json. Keys are paths
// relative to dir, using "/" separators.
func ComputeContentHashesRecursive(dir string) (map[string]string, hash.Hash, error) {
	var rels []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Base(path) == manifestFilename {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			rels = append(rels, filepath.ToSlash(rel))
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, hash.Hash{}, errors.Wrapf(err, "walk %s", dir)
	}
	return hashRelative(dir, rels)
}

func hashNamed(dir string, names []string) (map[string]string, hash.Hash, error) {
	sort.Strings(names)
	fileHashes := make(map[string]string, len(names))
	var hashes []hash.Hash
	for _, name := range names {
		h, err := hash.File(filepath.Join(dir, name))
		if err != nil {
			return nil, hash.Hash{}, errors.Wrapf(err, "hash %s", name)
		}
		fileHashes[name] = h.Hex()
		hashes = append(hashes, h)
	}
	return combineOrEmpty(fileHashes, hashes)
}

func hashRelative(dir string, rels []string) (map[string]string, hash.Hash, error) {
	sort.Strings(rels)
	fileHashes := make(map[string]string, len(rels))
	var hashes []hash.Hash
	for _, rel := range rels {
		h, err := hash.File(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, hash.Hash{}, errors.Wrapf(err, "hash %s", rel)
		}
		fileHashes[rel] = h.Hex()
		hashes = append(hashes, h)
	}
	return combineOrEmpty(fileHashes, hashes)
}

func combineOrEmpty(fileHashes map[string]string, hashes []hash.Hash) (map[string]string, hash.Hash, error) {
	if len(hashes) == 0 {
		return fileHashes, hash.Empty(), nil
	}
	return fileHashes, hash.Combine(hashes), nil
}

// WriteTo writes the manifest to dir/manifest.json.
func (m StageManifest) WriteTo(dir string) error {
	js, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, manifestFilename), js, 0o644), "write manifest")
}

// ReadManifestFrom reads dir/manifest.json.
func ReadManifestFrom(dir string) (StageManifest, error) {
	path := filepath.Join(dir, manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return StageManifest{}, errors.Wrapf(err, "read %s", path)
	}
	var m StageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return StageManifest{}, errors.Wrap(err, "parse manifest.json")
	}
	return m, nil
}
