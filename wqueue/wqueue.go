// Package wqueue is a lock-free work queue over a fixed slice of shards and a
// pool of worker goroutines: claim = atomic fetch-and-increment, workers
// stagger their start to avoid synchronized bursts against rate-limited
// origins, and shutdown is cooperative (checked between shards, never
// mid-shard).
package wqueue

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/papeline/papeline/cmn/cos"
	"github.com/papeline/papeline/cmn/nlog"
)

var activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "papeline_wqueue_active_workers",
	Help: "Number of worker goroutines currently processing a shard.",
})

func init() { prometheus.MustRegister(activeWorkers) }

// Queue is a sequence of shards (any type T) and an atomic claim cursor.
type Queue[T any] struct {
	items  []T
	cursor atomic.Int64
}

// New builds a queue over items as given; it does no filtering, so a resume
// filter (dropping shards whose output is already committed) is applied by
// the caller to the slice before calling New.
func New[T any](items []T) *Queue[T] { return &Queue[T]{items: items} }

// Len reports the total number of items (not the number remaining).
func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) IsEmpty() bool { return len(q.items) == 0 }

// Claim atomically fetch-and-increments the cursor and returns the next item.
// ok is false once the cursor runs past the end.
func (q *Queue[T]) Claim() (item T, ok bool) {
	idx := q.cursor.Add(1) - 1
	if idx >= int64(len(q.items)) {
		var zero T
		return zero, false
	}
	return q.items[idx], true
}

// ShutdownFlag is a cooperatively-checked, process-wide shutdown signal: set
// on the first SIGINT/SIGTERM; a second signal force-exits the process with
// status 130, bypassing graceful shutdown.
type ShutdownFlag struct {
	flag    atomic.Bool
	armOnce sync.Once
}

func (s *ShutdownFlag) Requested() bool { return s.flag.Load() }

// Arm installs the OS signal handler. Call once per process.
func (s *ShutdownFlag) Arm(ctx context.Context) {
	s.armOnce.Do(func() {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
			s.flag.Store(true)
			nlog.Warningln("shutdown requested, finishing in-flight shards...")
			select {
			case <-ch:
				nlog.Warningln("second signal received, forcing exit (130)")
				os.Exit(130)
			case <-ctx.Done():
			}
		}()
	})
}

// Stats is the commutatively-combined aggregate of a worker pool's run:
// counters are mutated under one mutex (errs has its own lock), contention
// limited to shard boundaries.
type Stats struct {
	mu        sync.Mutex
	completed int
	failed    int
	rows      int64
	errs      cos.Errs
}

func (s *Stats) recordSuccess(rows int64) {
	s.mu.Lock()
	s.completed++
	s.rows += rows
	s.mu.Unlock()
}

func (s *Stats) recordFailure(err error) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.errs.Add(err)
}

func (s *Stats) Snapshot() (completed, failed int, rows int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.failed, s.rows
}

func (s *Stats) Err() error { _, err := s.errs.JoinErr(); return err }

// Run fans work out across numWorkers goroutines, each staggering its start
// by workerIndex*stagger before its first claim. process is invoked once per
// claimed item and must return the number of rows written on success.
func Run[T any](ctx context.Context, q *Queue[T], numWorkers int, stagger time.Duration,
	shutdown *ShutdownFlag, process func(ctx context.Context, item T) (rows int64, err error)) *Stats {
	stats := &Stats{}
	g, ctx := errgroup.WithContext(ctx)

	for w := range numWorkers {
		w := w
		g.Go(func() error {
			if stagger > 0 && w > 0 {
				select {
				case <-time.After(time.Duration(w) * stagger):
				case <-ctx.Done():
					return nil
				}
			}
			activeWorkers.Inc()
			defer activeWorkers.Dec()

			for {
				if shutdown != nil && shutdown.Requested() {
					return nil
				}
				item, ok := q.Claim()
				if !ok {
					return nil
				}
				rows, err := process(ctx, item)
				if err != nil {
					stats.recordFailure(err)
					continue
				}
				stats.recordSuccess(rows)
			}
		})
	}
	_ = g.Wait() // per-item errors are accumulated in stats, not surfaced via errgroup
	return stats
}
