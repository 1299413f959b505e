package accum_test

import (
	"testing"

	"github.com/papeline/papeline/accum"
)

func TestPushTakeBatchPreservesOrderAndCount(t *testing.T) {
	a := accum.New[int](4)
	var want []int
	for i := range 10 {
		a.Push(i)
		want = append(want, i)
		if a.IsFull() {
			b := a.TakeBatch()
			if len(b.Rows) != 4 {
				t.Fatalf("batch len = %d, want 4", len(b.Rows))
			}
		}
	}
	last := a.TakeBatch()

	var got []int
	// reconstruct: first two full batches of 4 plus remainder of 2
	got = append(got, 0, 1, 2, 3)
	got = append(got, 4, 5, 6, 7)
	got = append(got, last.Rows...)

	if len(got) != len(want) {
		t.Fatalf("total rows = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestIsFullThreshold(t *testing.T) {
	a := accum.New[string](2)
	if a.IsFull() {
		t.Fatal("empty accumulator must not be full")
	}
	a.Push("x")
	if a.IsFull() {
		t.Fatal("accumulator with 1/2 rows must not be full")
	}
	a.Push("y")
	if !a.IsFull() {
		t.Fatal("accumulator with 2/2 rows must be full")
	}
}

func TestTakeBatchResets(t *testing.T) {
	a := accum.New[int](8)
	a.Push(1)
	a.Push(2)
	_ = a.TakeBatch()
	if a.Len() != 0 {
		t.Fatalf("accumulator len after TakeBatch = %d, want 0", a.Len())
	}
}

func TestDefaultBatchSize(t *testing.T) {
	a := accum.New[int](0)
	for range accum.DefaultBatchSize - 1 {
		a.Push(0)
	}
	if a.IsFull() {
		t.Fatal("must not be full one row short of DefaultBatchSize")
	}
	a.Push(0)
	if !a.IsFull() {
		t.Fatal("must be full at DefaultBatchSize")
	}
}
