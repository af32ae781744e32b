// Package reconnect schedules automatic reconnection attempts for servers
// whose connection failed, with exponential backoff and a retry limit.
package reconnect

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
)

// Policy controls the delay sequence. The delay before retry n (counting
// from zero) is BaseDelay × Multiplier^n.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// MaxDelay caps a single delay; zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy returns three retries starting at two seconds and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy().BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy().Multiplier
	}
	return p
}

// newBackOff builds a jitter-free exponential sequence that never gives up
// on its own; the retry limit is enforced by the supervisor.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// ConnectFunc performs one connection attempt. ctx is cancelled when the
// attempt is superseded by Cancel, Reset or Stop; an attempt whose context
// was cancelled must not commit anything.
type ConnectFunc func(ctx context.Context, id string) error

// Observer is told about scheduling decisions.
type Observer interface {
	RetryScheduled(id string, attempt int, delay time.Duration)
	RetriesExhausted(id string, attempts int)
	Reconnected(id string, attempts int)
}

// State is where one server is in the reconnect cycle.
type State string

const (
	StateIdle       State = "idle"
	StateScheduled  State = "scheduled"
	StateAttempting State = "attempting"
	// StateExhausted means MaxRetries attempts failed; only an explicit
	// Reset or a successful manual connect starts a new cycle.
	StateExhausted State = "exhausted"
)

// Status is a snapshot of one server's reconnect state.
type Status struct {
	State         State     `json:"state"`
	Attempt       int       `json:"attempt"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

type entry struct {
	state         State
	attempt       int
	nextAttemptAt time.Time
	backoff       *backoff.ExponentialBackOff
	timer         *time.Timer
	// cancel is the single token owning the scheduled or running attempt.
	cancel context.CancelFunc
	// failedAgain records a failure reported while an attempt was running,
	// such as the new connection dying before the attempt returned.
	failedAgain bool
}

// Supervisor runs the per-server state machine
// idle → scheduled → attempting → (idle | scheduled).
type Supervisor struct {
	policy   Policy
	connect  ConnectFunc
	logger   logging.Logger
	observer Observer

	mu      sync.Mutex
	servers map[string]*entry
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver reports scheduling decisions.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		s.observer = o
	}
}

// New creates a supervisor that calls connect for every attempt.
func New(policy Policy, connect ConnectFunc, opts ...Option) *Supervisor {
	s := &Supervisor{
		policy:  policy.normalized(),
		connect: connect,
		logger:  logging.Nop(),
		servers: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.Component("reconnect"))
	return s
}

// Policy returns the effective policy.
func (s *Supervisor) Policy() Policy {
	return s.policy
}

// Failed reports a connection failure that happened outside the
// supervisor, such as a failed manual connect or a session that died. It
// schedules a retry unless one is already scheduled or running, or the
// retry budget is spent. It reports whether a retry is pending.
func (s *Supervisor) Failed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	e := s.servers[id]
	if e == nil {
		e = &entry{state: StateIdle, backoff: s.policy.newBackOff()}
		s.servers[id] = e
	}
	switch e.state {
	case StateScheduled:
		return true
	case StateAttempting:
		e.failedAgain = true
		return true
	}
	return s.scheduleLocked(id, e)
}

// scheduleLocked arms the next attempt or marks the entry exhausted.
func (s *Supervisor) scheduleLocked(id string, e *entry) bool {
	if e.attempt >= s.policy.MaxRetries {
		e.state = StateExhausted
		e.nextAttemptAt = time.Time{}
		s.logger.Warn("reconnect attempts exhausted", logging.ServerID(id), logging.Int("attempts", e.attempt))
		if s.observer != nil {
			s.observer.RetriesExhausted(id, e.attempt)
		}
		return false
	}

	delay := e.backoff.NextBackOff()
	ctx, cancel := context.WithCancel(context.Background())
	e.state = StateScheduled
	e.cancel = cancel
	e.nextAttemptAt = time.Now().Add(delay)

	s.wg.Add(1)
	e.timer = time.AfterFunc(delay, func() { s.fire(ctx, id, e) })

	s.logger.Info("reconnect scheduled", logging.ServerID(id),
		logging.Int("attempt", e.attempt+1), logging.Duration("delay", delay))
	if s.observer != nil {
		s.observer.RetryScheduled(id, e.attempt+1, delay)
	}
	return true
}

// fire runs one scheduled attempt.
func (s *Supervisor) fire(ctx context.Context, id string, e *entry) {
	defer s.wg.Done()

	s.mu.Lock()
	if ctx.Err() != nil || s.servers[id] != e || e.state != StateScheduled {
		s.mu.Unlock()
		return
	}
	e.state = StateAttempting
	e.timer = nil
	s.mu.Unlock()

	err := s.connect(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.servers[id] != e {
		return
	}
	e.cancel()
	e.cancel = nil
	again := e.failedAgain
	e.failedAgain = false

	if err == nil {
		attempts := e.attempt + 1
		e.attempt = 0
		e.state = StateIdle
		e.nextAttemptAt = time.Time{}
		e.backoff.Reset()
		s.logger.Info("reconnected", logging.ServerID(id), logging.Int("attempts", attempts))
		if s.observer != nil {
			s.observer.Reconnected(id, attempts)
		}
		if again {
			s.scheduleLocked(id, e)
		}
		return
	}

	e.attempt++
	s.logger.Debug("reconnect attempt failed", logging.ServerID(id),
		logging.Int("attempt", e.attempt), logging.ErrorField(err))
	s.scheduleLocked(id, e)
}

// stopLocked cancels whatever is scheduled or running for e.
func (s *Supervisor) stopLocked(e *entry) {
	if e.timer != nil && e.timer.Stop() {
		s.wg.Done()
	}
	e.timer = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Cancel stops any scheduled or running attempt for id and forgets its
// retry count. It is called on explicit disconnect and removal.
func (s *Supervisor) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.servers[id]; ok {
		s.stopLocked(e)
		delete(s.servers, id)
	}
}

// Reset records a successful connection made outside the supervisor: any
// pending attempt is dropped and the retry count returns to zero.
func (s *Supervisor) Reset(id string) {
	s.Cancel(id)
}

// State returns the reconnect status of id. Unknown ids are idle.
func (s *Supervisor) State(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.servers[id]
	if !ok {
		return Status{State: StateIdle}
	}
	return Status{State: e.state, Attempt: e.attempt, NextAttemptAt: e.nextAttemptAt}
}

// Stop cancels every pending attempt and waits for running ones to return.
// Failed is a no-op afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.servers {
		s.stopLocked(e)
		delete(s.servers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
