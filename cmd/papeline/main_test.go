package main

import (
	"errors"
	"testing"
)

func TestExitCodeMapsUsageErrorsToTwo(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Fatalf("exitCode(nil) = %d, want 0", got)
	}
	if got := exitCode(usageErrorf("missing flag")); got != 2 {
		t.Fatalf("exitCode(usageError) = %d, want 2", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("exitCode(plain error) = %d, want 1", got)
	}
}

func TestUsageErrorUnwraps(t *testing.T) {
	inner := errors.New("bad flag")
	err := usageErrorf("config: %v", inner)
	if errors.Unwrap(err) == nil {
		t.Fatal("expected usageError to unwrap to a non-nil cause")
	}
}
