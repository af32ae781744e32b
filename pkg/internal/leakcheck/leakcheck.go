// Package leakcheck fails a test whose goroutines outlive it.
package leakcheck

import (
	"runtime"
	"testing"
	"time"
)

// Checker compares the goroutine count against a baseline.
type Checker struct {
	t        testing.TB
	baseline int
	allowed  int
	timeout  time.Duration
}

// Snapshot records the current goroutine count as the baseline.
func Snapshot(t testing.TB) *Checker {
	t.Helper()
	return &Checker{t: t, baseline: runtime.NumGoroutine(), timeout: 2 * time.Second}
}

// Allow tolerates n goroutines above the baseline.
func (c *Checker) Allow(n int) *Checker {
	c.allowed = n
	return c
}

// Check waits for goroutines started since Snapshot to exit, and fails the
// test with a full stack dump if they do not.
func (c *Checker) Check() {
	c.t.Helper()
	deadline := time.Now().Add(c.timeout)
	for {
		n := runtime.NumGoroutine()
		if n <= c.baseline+c.allowed {
			return
		}
		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			buf = buf[:runtime.Stack(buf, true)]
			c.t.Errorf("goroutine leak: started with %d, ended with %d (allowed %d)\n%s",
				c.baseline, n, c.allowed, buf)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
