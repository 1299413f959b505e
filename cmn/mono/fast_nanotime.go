//go:build mono

// Package mono provides a low-level monotonic clock used by the logger for
// flush-interval bookkeeping and by retry/progress reporting for elapsed-time math.
package mono

import (
	_ "unsafe" // for go:linkname
)

// https://pkg.go.dev/runtime#nanotime
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
