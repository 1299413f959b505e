// Package coverage computes cross-dataset coverage statistics after the
// bulk-dataset stage completes: how many corpus IDs in each sub-dataset
// (abstracts, embeddings) match the base papers dataset, reported as a
// percentage the way a reviewer would sanity-check a join's yield.
package coverage

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	preader "github.com/xitongsys/parquet-go/reader"

	"github.com/papeline/papeline/cmn/nlog"
)

type corpusIDRow struct {
	CorpusID int64 `parquet:"name=corpusid, type=INT64"`
}

// DatasetCoverage is one sub-dataset's match rate against the base papers set.
type DatasetCoverage struct {
	Matched     int
	Total       int
	CoveragePct float64
}

// Stats is the full cross-dataset coverage report for one bulk-dataset
// stage output directory.
type Stats struct {
	PapersCount int
	Abstracts   *DatasetCoverage
	Embeddings  *DatasetCoverage
}

// Compute reads corpus IDs out of every papers_*.parquet file in outputDir to
// build the base set, then intersects it against abstracts_*.parquet and
// embeddings_*.parquet (either may be absent, e.g. when a run only requested
// one filtered dataset).
func Compute(outputDir string) (Stats, error) {
	papers, err := readCorpusIDSet(outputDir, "papers_*.parquet")
	if err != nil {
		return Stats{}, errors.Wrap(err, "read papers corpus ids")
	}
	if len(papers) == 0 {
		return Stats{}, errors.New("coverage: no papers_*.parquet files found")
	}

	stats := Stats{PapersCount: len(papers)}
	if stats.Abstracts, err = loadCoverage(outputDir, "abstracts_*.parquet", papers); err != nil {
		return Stats{}, errors.Wrap(err, "read abstracts corpus ids")
	}
	if stats.Embeddings, err = loadCoverage(outputDir, "embeddings_*.parquet", papers); err != nil {
		return Stats{}, errors.Wrap(err, "read embeddings corpus ids")
	}
	return stats, nil
}

func loadCoverage(dir, pattern string, papers map[int64]struct{}) (*DatasetCoverage, error) {
	ids, err := readCorpusIDSet(dir, pattern)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	matched := 0
	for id := range ids {
		if _, ok := papers[id]; ok {
			matched++
		}
	}
	var pct float64
	if len(papers) > 0 {
		pct = float64(matched) / float64(len(papers)) * 100
	}
	return &DatasetCoverage{Matched: matched, Total: len(ids), CoveragePct: pct}, nil
}

func readCorpusIDSet(dir, pattern string) (map[int64]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{})
	for _, path := range matches {
		if err := readCorpusIDsFromFile(path, ids); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	return ids, nil
}

func readCorpusIDsFromFile(path string, into map[int64]struct{}) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return err
	}
	defer fr.Close()

	pr, err := preader.NewParquetReader(fr, new(corpusIDRow), 4)
	if err != nil {
		return err
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	rows := make([]corpusIDRow, num)
	if err := pr.Read(&rows); err != nil {
		return err
	}
	for _, r := range rows {
		into[r.CorpusID] = struct{}{}
	}
	return nil
}

// WriteTable renders the coverage report as a plain-text table.
func WriteTable(w io.Writer, s Stats) {
	fmt.Fprintln(w, "=== Coverage ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Dataset\tMatched\tTotal\tCoverage")
	fmt.Fprintf(tw, "papers (base)\t%d\t-\t100.0%%\n", s.PapersCount)
	writeRow(tw, "abstracts", s.Abstracts)
	writeRow(tw, "embeddings", s.Embeddings)
	tw.Flush()
}

func writeRow(tw *tabwriter.Writer, name string, c *DatasetCoverage) {
	if c == nil {
		return
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\n", name, c.Matched, c.Total, c.CoveragePct)
}

// Log emits a one-line coverage summary for non-interactive output.
func Log(s Stats) {
	msg := fmt.Sprintf("papers=%d", s.PapersCount)
	if s.Abstracts != nil {
		msg += fmt.Sprintf(" abstracts=%.1f%%", s.Abstracts.CoveragePct)
	}
	if s.Embeddings != nil {
		msg += fmt.Sprintf(" embeddings=%.1f%%", s.Embeddings.CoveragePct)
	}
	nlog.Infof("coverage: %s", msg)
}
