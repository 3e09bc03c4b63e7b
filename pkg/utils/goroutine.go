// Package utils holds test helpers shared across packages.
package utils

import (
	"runtime"
	"testing"
	"time"
)

// LeakDetector fails a test when goroutines started after Start are still
// running once Check's deadline has passed.
type LeakDetector struct {
	tb        testing.TB
	baseline  int
	tolerance int
	timeout   time.Duration
	poll      time.Duration
}

// NewLeakDetector returns a detector with no tolerance and a two second
// settle deadline.
func NewLeakDetector(tb testing.TB) *LeakDetector {
	return &LeakDetector{
		tb:      tb,
		timeout: 2 * time.Second,
		poll:    20 * time.Millisecond,
	}
}

// WithTolerance allows n goroutines to outlive the test, for pools that
// keep idle workers such as net/http keep-alive connections.
func (d *LeakDetector) WithTolerance(n int) *LeakDetector {
	d.tolerance = n
	return d
}

// WithTimeout sets how long Check waits for goroutines to wind down.
func (d *LeakDetector) WithTimeout(timeout time.Duration) *LeakDetector {
	d.timeout = timeout
	return d
}

// Start records the baseline. Call it before starting the code under test.
func (d *LeakDetector) Start() *LeakDetector {
	d.baseline = runtime.NumGoroutine()
	return d
}

// Check polls until the goroutine count is back within tolerance or the
// deadline passes, and reports every goroutine stack on failure.
func (d *LeakDetector) Check() {
	d.tb.Helper()

	deadline := time.Now().Add(d.timeout)
	current := runtime.NumGoroutine()
	for current-d.baseline > d.tolerance && time.Now().Before(deadline) {
		time.Sleep(d.poll)
		current = runtime.NumGoroutine()
	}

	if leaked := current - d.baseline; leaked > d.tolerance {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		d.tb.Errorf("goroutine leak: baseline %d, now %d (tolerance %d)\n%s",
			d.baseline, current, d.tolerance, buf[:n])
	}
}

// VerifyNone is Start followed by a deferred Check at test cleanup.
func VerifyNone(tb testing.TB) {
	d := NewLeakDetector(tb).Start()
	tb.Cleanup(d.Check)
}
