// Package sink writes accumulated batches to zstd-compressed Parquet files,
// using an atomic tmp-file-then-rename commit so a crash mid-write leaves
// either a valid final file or a discardable tmp file — never a corrupt final.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	preader "github.com/xitongsys/parquet-go/reader"
	pwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/papeline/papeline/cmn/debug"
)

// rowGroupSize is a tuning constant: row group boundaries inside the Parquet
// file, not a hard row-count limit on the file itself.
const rowGroupSize = 1024 * 1024

// Sink wraps one Parquet writer over a tmp file, with a fixed final path, and
// a running row count. R must be a struct type carrying parquet struct tags
// (see github.com/xitongsys/parquet-go's schema-via-tags convention).
type Sink[R any] struct {
	w         *pwriter.ParquetWriter
	pf        *local.LocalFile
	tmpPath   string
	finalPath string
	rowCount  int64
	done      bool
}

// New creates a sink writing to "{outputDir}/{dataset}_{shardIdx:04}.parquet.tmp";
// any stale tmp file of that name is removed first. Files are ZSTD-compressed
// at parquet-go's built-in ZSTD level; zstdLevel is accepted but not applied
// and not validated.
func New[R any](dataset string, shardIdx int, outputDir string, zstdLevel int) (*Sink[R], error) {
	filename := fmt.Sprintf("%s_%04d.parquet", dataset, shardIdx)
	finalPath := filepath.Join(outputDir, filename)
	tmpPath := finalPath + ".tmp"

	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "remove stale tmp %s", tmpPath)
	}

	pf, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", tmpPath)
	}

	var zero R
	pw, err := pwriter.NewParquetWriter(pf, &zero, 4)
	if err != nil {
		pf.Close()
		return nil, errors.Wrap(err, "new parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_ZSTD
	pw.RowGroupSize = rowGroupSize
	_ = zstdLevel // parquet-go's ZSTD codec does not expose a tunable level; the argument is ignored

	return &Sink[R]{w: pw, pf: pf, tmpPath: tmpPath, finalPath: finalPath}, nil
}

// WriteBatch writes every row of a batch.
func (s *Sink[R]) WriteBatch(rows []R) error {
	debug.Assert(!s.done, "write after finalize")
	for i := range rows {
		if err := s.w.Write(rows[i]); err != nil {
			return errors.Wrap(err, "write row")
		}
	}
	s.rowCount += int64(len(rows))
	return nil
}

// Finalize flushes the footer, closes the file, and atomically renames tmp to
// final. Any failure before rename leaves only a tmp file; after rename the
// final file is valid or absent.
func (s *Sink[R]) Finalize() (int64, error) {
	debug.Assert(!s.done, "finalize called twice")
	s.done = true
	if err := s.w.WriteStop(); err != nil {
		s.pf.Close()
		return 0, errors.Wrap(err, "write footer")
	}
	if err := s.pf.Close(); err != nil {
		return 0, errors.Wrap(err, "close tmp file")
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		return 0, errors.Wrap(err, "rename tmp to final")
	}
	return s.rowCount, nil
}

// IsValid opens path and verifies the Parquet footer parses without error.
// Used by the resume logic to decide whether a shard needs to be re-run.
func IsValid(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return false
	}
	defer fr.Close()

	pr, err := preader.NewParquetColumnReader(fr, 1)
	if err != nil {
		return false
	}
	defer pr.ReadStop()
	return true
}

// CleanupTmpFiles removes every "*.tmp" file directly in dir (subdirectories
// are left alone).
func CleanupTmpFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".tmp") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return errors.Wrapf(err, "remove stale tmp %s", e.Name())
			}
		}
	}
	return nil
}
