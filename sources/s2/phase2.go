package s2

import (
	"bufio"
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/papeline/papeline/accum"
	"github.com/papeline/papeline/cmn/nlog"
	"github.com/papeline/papeline/filter"
	"github.com/papeline/papeline/retry"
	"github.com/papeline/papeline/sink"
	"github.com/papeline/papeline/stream"
	"github.com/papeline/papeline/wqueue"
)

// FilteredShard is one shard of a Phase-2 dataset (any dataset other than
// papers).
type FilteredShard struct {
	Dataset    string // "abstracts" or "embeddings"
	URL        string
	ShardIndex int
}

// EmbeddingsWriter is the single writer thread for the embeddings
// side-output: workers send batches over a bounded channel instead of
// writing Parquet directly, and the sink fast-fails every subsequent send
// once the writer has reported an error.
type EmbeddingsWriter struct {
	ch      chan []EmbeddingRow
	errFlag atomic.Value // error
	done    chan struct{}
}

// NewEmbeddingsWriter starts the writer goroutine, capacity 32 batches.
func NewEmbeddingsWriter(outputDir string, compressionLevel int) (*EmbeddingsWriter, error) {
	s, err := sink.New[EmbeddingRow]("embeddings", 0, outputDir, compressionLevel)
	if err != nil {
		return nil, err
	}
	w := &EmbeddingsWriter{ch: make(chan []EmbeddingRow, 32), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for rows := range w.ch {
			if err := s.WriteBatch(rows); err != nil {
				w.errFlag.Store(err)
				// drain remaining sends without writing, so producers don't block forever
				for range w.ch {
				}
				return
			}
		}
		if _, err := s.Finalize(); err != nil {
			w.errFlag.Store(err)
		}
	}()
	return w, nil
}

// Send enqueues a batch; returns the writer's stored error immediately
// without blocking if one has already occurred (fast-fail).
func (w *EmbeddingsWriter) Send(rows []EmbeddingRow) error {
	if err := w.Err(); err != nil {
		return err
	}
	w.ch <- rows
	return nil
}

func (w *EmbeddingsWriter) Err() error {
	if v := w.errFlag.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close closes the input channel and waits for the writer goroutine to
// finalize, returning any error it recorded.
func (w *EmbeddingsWriter) Close() error {
	close(w.ch)
	<-w.done
	return w.Err()
}

// ProcessFilteredShard downloads, pre-screens via the lightweight corpus-ID
// probe, and fully parses lines whose corpus ID is in ids. Abstracts rows are
// written to a per-shard Parquet file; embeddings rows are sent to writer.
func ProcessFilteredShard(ctx context.Context, fs FilteredShard, outputDir string,
	compressionLevel, maxAttempts int, ids *filter.CorpusIDSet, writer *EmbeddingsWriter) (int64, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return retry.Do(ctx, fs.URL, maxAttempts, nil,
		func(err error) bool { return stream.Retryable(err) },
		func(ctx context.Context) (int64, error) {
			return attemptFilteredShard(ctx, fs, outputDir, compressionLevel, ids, writer)
		})
}

func attemptFilteredShard(ctx context.Context, fs FilteredShard, outputDir string,
	compressionLevel int, ids *filter.CorpusIDSet, writer *EmbeddingsWriter) (int64, error) {
	opened, err := stream.OpenGzipReader(ctx, fs.URL)
	if err != nil {
		return 0, err
	}
	defer opened.Close()

	scanner := bufio.NewScanner(opened.Lines)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	if fs.Dataset == "embeddings" {
		return processEmbeddingsLines(scanner, ids, writer)
	}
	return processAbstractsLines(scanner, ids, fs.ShardIndex, outputDir, compressionLevel)
}

func processAbstractsLines(scanner *bufio.Scanner, ids *filter.CorpusIDSet, shardIndex int,
	outputDir string, compressionLevel int) (int64, error) {
	s, err := sink.New[AbstractRow]("abstracts", shardIndex, outputDir, compressionLevel)
	if err != nil {
		return 0, err
	}
	a := accum.New[AbstractRow](accum.DefaultBatchSize)

	var rowsWritten int64
	flush := func() error {
		b := a.TakeBatch()
		if len(b.Rows) == 0 {
			return nil
		}
		if err := s.WriteBatch(b.Rows); err != nil {
			return err
		}
		rowsWritten += int64(len(b.Rows))
		return nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		var probe corpusIDProbe
		if err := fastJSON.Unmarshal(line, &probe); err != nil {
			continue
		}
		if !ids.Contains(probe.CorpusID) {
			continue
		}
		var raw rawAbstract
		if err := fastJSON.Unmarshal(line, &raw); err != nil {
			nlog.Infof("s2: skipping malformed abstracts line: %v", err)
			continue
		}
		a.Push(AbstractRow{CorpusID: raw.CorpusID, Abstract: raw.Abstract})
		if a.IsFull() {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}
	if _, err := s.Finalize(); err != nil {
		return 0, err
	}
	return rowsWritten, nil
}

func processEmbeddingsLines(scanner *bufio.Scanner, ids *filter.CorpusIDSet, writer *EmbeddingsWriter) (int64, error) {
	var batch []EmbeddingRow
	var rowsWritten int64
	for scanner.Scan() {
		line := scanner.Bytes()
		var probe corpusIDProbe
		if err := fastJSON.Unmarshal(line, &probe); err != nil {
			continue
		}
		if !ids.Contains(probe.CorpusID) {
			continue
		}
		var raw rawEmbedding
		if err := fastJSON.Unmarshal(line, &raw); err != nil {
			nlog.Infof("s2: skipping malformed embeddings line: %v", err)
			continue
		}
		batch = append(batch, EmbeddingRow{CorpusID: raw.CorpusID, Vector: raw.Vector})
		rowsWritten++
		if len(batch) >= accum.DefaultBatchSize {
			if err := writer.Send(batch); err != nil {
				return rowsWritten, errors.Wrap(err, "embeddings writer")
			}
			batch = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return rowsWritten, err
	}
	if len(batch) > 0 {
		if err := writer.Send(batch); err != nil {
			return rowsWritten, errors.Wrap(err, "embeddings writer")
		}
	}
	return rowsWritten, nil
}

// RunPhase2 loads the persisted corpus-ID set and processes every filtered
// shard across numWorkers goroutines.
func RunPhase2(ctx context.Context, shards []FilteredShard, corpusIDPath, outputDir string,
	compressionLevel, numWorkers, maxAttempts int, shutdown *wqueue.ShutdownFlag) (*wqueue.Stats, error) {
	ids, err := filter.LoadCorpusIDs(corpusIDPath)
	if err != nil {
		return nil, errors.Wrap(err, "load phase-1 corpus ids")
	}
	defer ids.Close()

	writer, err := NewEmbeddingsWriter(outputDir, compressionLevel)
	if err != nil {
		return nil, err
	}

	q := wqueue.New(shards)
	stats := wqueue.Run(ctx, q, numWorkers, 200*time.Millisecond, shutdown,
		func(ctx context.Context, fs FilteredShard) (int64, error) {
			return ProcessFilteredShard(ctx, fs, outputDir, compressionLevel, maxAttempts, ids, writer)
		})

	if err := writer.Close(); err != nil {
		return stats, errors.Wrap(err, "embeddings writer")
	}
	return stats, nil
}
