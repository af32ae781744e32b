package leakcheck

import (
	"testing"
	"time"
)

func TestCheckPassesOnceGoroutinesExit(t *testing.T) {
	c := Snapshot(t)
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()
	c.Check()
	<-done
}

func TestCheckReportsLeak(t *testing.T) {
	rec := &recorder{TB: t}
	c := Snapshot(rec)
	c.timeout = 50 * time.Millisecond

	stop := make(chan struct{})
	go func() { <-stop }()
	c.Check()
	close(stop)

	if !rec.failed {
		t.Fatal("expected a leak to be reported")
	}
}

type recorder struct {
	testing.TB
	failed bool
}

func (r *recorder) Errorf(string, ...interface{}) { r.failed = true }
func (r *recorder) Helper() {}
