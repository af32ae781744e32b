package session

import (
	"encoding/json"
	"sync"
	"time"
)

// outcome is what a pending request resolves with.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is one outbound request awaiting its response.
type pendingRequest struct {
	id          int64
	method      string
	submittedAt time.Time
	// done has capacity one and receives exactly one outcome.
	done chan outcome
}

// pendingTable correlates request ids with their waiters. Whoever removes
// an entry with take owns delivering its single outcome.
type pendingTable struct {
	mu     sync.Mutex
	closed error
	m      map[int64]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[int64]*pendingRequest)}
}

// add registers id. After closeAll it fails with the close error.
func (t *pendingTable) add(id int64, method string) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	p := &pendingRequest{id: id, method: method, submittedAt: time.Now(), done: make(chan outcome, 1)}
	t.m[id] = p
	return p, nil
}

// take removes and returns the entry for id, or nil if it was already
// resolved.
func (t *pendingTable) take(id int64) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[id]
	if !ok {
		return nil
	}
	delete(t.m, id)
	return p
}

// resolve delivers o to id if it is still pending.
func (t *pendingTable) resolve(id int64, o outcome) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	p.done <- o
	return true
}

// closeAll rejects every pending request with err and refuses new ones.
// It returns how many requests were rejected.
func (t *pendingTable) closeAll(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	rejected := t.m
	t.m = make(map[int64]*pendingRequest)
	t.mu.Unlock()

	for _, p := range rejected {
		p.done <- outcome{err: err}
	}
	return len(rejected)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
