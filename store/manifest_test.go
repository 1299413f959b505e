package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/papeline/papeline/hash"
	"github.com/papeline/papeline/store"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestComputeContentHashesExcludesManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.parquet", "aaa")
	writeFile(t, dir, "b.parquet", "bbb")
	writeFile(t, dir, "manifest.json", "{}")

	hashes, combined, err := store.ComputeContentHashes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %d file hashes, want 2 (manifest.json excluded)", len(hashes))
	}
	if combined.Hex() == "" {
		t.Fatal("expected non-empty combined hash")
	}
}

func TestComputeContentHashesEmptyDirIsEmptySentinel(t *testing.T) {
	dir := t.TempDir()
	_, combined, err := store.ComputeContentHashes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if combined != hash.Empty() {
		t.Fatalf("expected empty-dir content hash to equal the empty sentinel")
	}
}

func TestComputeContentHashesIsOrderIndependent(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "a.parquet", "one")
	writeFile(t, dir1, "b.parquet", "two")
	writeFile(t, dir2, "b.parquet", "two")
	writeFile(t, dir2, "a.parquet", "one")

	_, c1, err := store.ComputeContentHashes(dir1)
	if err != nil {
		t.Fatal(err)
	}
	_, c2, err := store.ComputeContentHashes(dir2)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expected content hash to depend only on sorted filename -> content, not creation order")
	}
}

func TestComputeContentHashesRecursiveUsesRelativeSlashPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "2024-01-01"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "2024-01-01"), "shard_0000.parquet", "data")

	fileHashes, _, err := store.ComputeContentHashesRecursive(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fileHashes["2024-01-01/shard_0000.parquet"]; !ok {
		t.Fatalf("expected a forward-slash relative key, got keys: %v", fileHashes)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := store.StageManifest{
		FormatVersion: store.CurrentFormatVersion,
		Stage:         store.Pubmed,
		InputHash:     "deadbeef",
		ConfigJSON:    `{"base_url":"https://example.org"}`,
		FileHashes:    map[string]string{"shard_0000.parquet": "ab"},
		ContentHash:   "cd",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := m.WriteTo(dir); err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadManifestFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != m.Stage || got.InputHash != m.InputHash || got.ContentHash != m.ContentHash {
		t.Fatalf("round-tripped manifest differs: got %+v, want %+v", got, m)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Fatalf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}
