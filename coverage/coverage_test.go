package coverage_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/coverage"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/sources/s2"
)

func writePapers(t *testing.T, dir string, ids ...int64) {
	t.Helper()
	s, err := sink.New[s2.PaperRow]("papers", 0, dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	a := accum.New[s2.PaperRow](len(ids) + 1)
	for _, id := range ids {
		a.Push(s2.PaperRow{CorpusID: id})
	}
	b := a.TakeBatch()
	if err := s.WriteBatch(b.Rows); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finalize(); err != nil {
		t.Fatal(err)
	}
}

func writeAbstracts(t *testing.T, dir string, ids ...int64) {
	t.Helper()
	s, err := sink.New[s2.AbstractRow]("abstracts", 0, dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	a := accum.New[s2.AbstractRow](len(ids) + 1)
	for _, id := range ids {
		a.Push(s2.AbstractRow{CorpusID: id, Abstract: "x"})
	}
	b := a.TakeBatch()
	if err := s.WriteBatch(b.Rows); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finalize(); err != nil {
		t.Fatal(err)
	}
}

func TestComputeReportsMatchPercentages(t *testing.T) {
	dir := t.TempDir()
	writePapers(t, dir, 1, 2, 3, 4)
	writeAbstracts(t, dir, 1, 2, 5) // 5 doesn't match any paper

	stats, err := coverage.Compute(dir)
	if err != nil {
		t.Fatal(err)
	}
	if stats.PapersCount != 4 {
		t.Fatalf("PapersCount = %d, want 4", stats.PapersCount)
	}
	if stats.Abstracts == nil {
		t.Fatal("expected abstracts coverage to be present")
	}
	if stats.Abstracts.Matched != 2 {
		t.Fatalf("Abstracts.Matched = %d, want 2", stats.Abstracts.Matched)
	}
	if stats.Abstracts.Total != 3 {
		t.Fatalf("Abstracts.Total = %d, want 3", stats.Abstracts.Total)
	}
	if stats.Abstracts.CoveragePct != 50.0 {
		t.Fatalf("Abstracts.CoveragePct = %v, want 50.0", stats.Abstracts.CoveragePct)
	}
	if stats.Embeddings != nil {
		t.Fatal("expected no embeddings coverage when no embeddings files exist")
	}
}

func TestComputeFailsWithoutPapersFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := coverage.Compute(dir); err == nil {
		t.Fatal("expected an error when no papers_*.parquet files exist")
	}
}

func TestWriteTableRendersAllRows(t *testing.T) {
	dir := t.TempDir()
	writePapers(t, dir, 1, 2)
	writeAbstracts(t, dir, 1)

	stats, err := coverage.Compute(dir)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	coverage.WriteTable(&buf, stats)
	out := buf.String()
	if !strings.Contains(out, "papers (base)") || !strings.Contains(out, "abstracts") {
		t.Fatalf("expected table to mention papers and abstracts, got:\n%s", out)
	}
}
