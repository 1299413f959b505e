// Package join is the opaque join-stage operator: it declares its upstream
// inputs (the committed pubmed/openalex/s2 output directories) and produces
// one output directory, without implementing the SQL-based join engine
// itself — that engine is a deliberately out-of-scope external collaborator.
// This stand-in reports a row-count-based match summary and commits a small
// per-source node-count table, enough to exercise the store's commit/cache
// contract for a join stage.
package join

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	preader "github.com/xitongsys/parquet-go/reader"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/sink"
)

// Config declares the join stage's inputs and output location.
type Config struct {
	PubmedDir   string
	OpenAlexDir string
	S2Dir       string
	OutputDir   string
}

// Summary reports row counts per source, the closest this stand-in gets to
// the original's DOI/PMID match-rate statistics (which require an actual
// join engine to compute).
type Summary struct {
	TotalNodes      int64
	OpenAlexMatched int64
	S2Matched       int64
	Elapsed         time.Duration
}

// NodeCountRow is the one dataset this stage commits: a row per source
// naming its row count, so the join output directory has committable
// content and a deterministic per-file hash like any other stage.
type NodeCountRow struct {
	Source   string `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowCount int64  `parquet:"name=row_count, type=INT64"`
}

// Run counts rows in each upstream directory's Parquet files and commits a
// node-count table into cfg.OutputDir.
func Run(cfg Config) (Summary, error) {
	start := time.Now()

	pubmedRows, err := countRows(cfg.PubmedDir)
	if err != nil {
		return Summary{}, errors.Wrap(err, "count pubmed rows")
	}
	openalexRows, err := countRows(cfg.OpenAlexDir)
	if err != nil {
		return Summary{}, errors.Wrap(err, "count openalex rows")
	}
	s2Rows, err := countRows(cfg.S2Dir)
	if err != nil {
		return Summary{}, errors.Wrap(err, "count s2 rows")
	}

	s, err := sink.New[NodeCountRow]("nodes", 0, cfg.OutputDir, 3)
	if err != nil {
		return Summary{}, err
	}
	a := accum.New[NodeCountRow](3)
	a.Push(NodeCountRow{Source: "pubmed", RowCount: pubmedRows})
	a.Push(NodeCountRow{Source: "openalex", RowCount: openalexRows})
	a.Push(NodeCountRow{Source: "s2", RowCount: s2Rows})
	b := a.TakeBatch()
	if err := s.WriteBatch(b.Rows); err != nil {
		return Summary{}, err
	}
	if _, err := s.Finalize(); err != nil {
		return Summary{}, err
	}

	return Summary{
		TotalNodes:      pubmedRows,
		OpenAlexMatched: min64(openalexRows, pubmedRows),
		S2Matched:       min64(s2Rows, pubmedRows),
		Elapsed:         time.Since(start),
	}, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// countRows sums the row count of every *.parquet file directly under dir
// (non-recursive — matches a fetch stage's flat output layout).
func countRows(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".parquet" {
			continue
		}
		n, err := countFileRows(filepath.Join(dir, e.Name()))
		if err != nil {
			return 0, errors.Wrapf(err, "count rows in %s", e.Name())
		}
		total += n
	}
	return total, nil
}

func countFileRows(path string) (int64, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return 0, err
	}
	defer fr.Close()

	pr, err := preader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return 0, err
	}
	defer pr.ReadStop()
	return pr.GetNumRows(), nil
}
