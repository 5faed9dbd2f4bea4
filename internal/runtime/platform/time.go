package platform

import (
	"math"
	"time"
)

// NoDeadline is the sentinel for "no deadline" in absolute monotonic
// nanosecond arguments.
const NoDeadline int64 = math.MaxInt64

var monotonicBase = time.Now()

// MonotonicNanos returns the current reading of the runtime's monotonic
// clock in nanoseconds. Readings are comparable within one process only.
func MonotonicNanos() int64 {
	return time.Since(monotonicBase).Nanoseconds()
}

// durationUntil converts an absolute monotonic deadline into a wait
// duration, clamping instead of overflowing.
func durationUntil(deadline int64) time.Duration {
	if deadline == NoDeadline {
		return time.Duration(math.MaxInt64)
	}
	now := MonotonicNanos()
	if deadline <= now {
		return 0
	}
	return time.Duration(deadline - now)
}
