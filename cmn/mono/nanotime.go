//go:build !mono

package mono

import "time"

// NanoTime is the portable fallback: time.Now().UnixNano() is not strictly
// monotonic across NTP steps but is adequate for logging/retry bookkeeping
// when the runtime.nanotime linkname isn't wanted (e.g. cross-compilation
// targets where linkname tracking is disallowed).
func NanoTime() int64 { return time.Now().UnixNano() }
