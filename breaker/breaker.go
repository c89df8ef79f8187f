// Package breaker implements a per-provider three-state circuit breaker.
//
// Each provider family gets one breaker. Failures are tracked as a sliding
// window of timestamps; crossing the threshold opens the circuit, a recovery
// timeout later a single probe is allowed through (half-open), and the
// probe's outcome decides between closing and re-opening.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by BeforeCall while a circuit rejects traffic.
var ErrOpen = errors.New("circuit breaker open")

// State represents the current circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxFailures is the windowed failure count that opens a circuit.
	DefaultMaxFailures = 5
	// DefaultFailureWindow bounds how long a failure counts against the circuit.
	DefaultFailureWindow = 60 * time.Second
	// DefaultRecoveryTimeout is how long an open circuit rejects before probing.
	DefaultRecoveryTimeout = 30 * time.Second
)

// Stats is a point-in-time snapshot of one circuit.
type Stats struct {
	State            State
	WindowedFailures int
	LastFailure      time.Time
	OpenedAt         time.Time
}

type circuit struct {
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// Registry holds one circuit per provider name.
type Registry struct {
	mu              sync.Mutex
	circuits        map[string]*circuit
	maxFailures     int
	failureWindow   time.Duration
	recoveryTimeout time.Duration
	now             func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxFailures overrides the failure threshold.
func WithMaxFailures(n int) Option {
	return func(r *Registry) { r.maxFailures = n }
}

// WithFailureWindow overrides the sliding failure window.
func WithFailureWindow(d time.Duration) Option {
	return func(r *Registry) { r.failureWindow = d }
}

// WithRecoveryTimeout overrides the open-state recovery timeout.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(r *Registry) { r.recoveryTimeout = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a circuit breaker registry with defaults applied.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		circuits:        make(map[string]*circuit),
		maxFailures:     DefaultMaxFailures,
		failureWindow:   DefaultFailureWindow,
		recoveryTimeout: DefaultRecoveryTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) circuitFor(name string) *circuit {
	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[name] = c
	}
	return c
}

// BeforeCall gates a call to the named provider. While the circuit is open
// and inside the recovery timeout it returns an error wrapping ErrOpen; when
// the timeout has elapsed the circuit moves to half-open and exactly one
// probe call is allowed through until its outcome is recorded.
func (r *Registry) BeforeCall(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitFor(name)
	switch c.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if c.probing {
			return fmt.Errorf("provider %s: %w", name, ErrOpen)
		}
		c.probing = true
		return nil
	}
	if r.now().Sub(c.openedAt) < r.recoveryTimeout {
		return fmt.Errorf("provider %s: %w", name, ErrOpen)
	}
	c.state = StateHalfOpen
	c.probing = true
	return nil
}

// OnSuccess records a successful call: the window clears and the circuit
// closes regardless of prior state.
func (r *Registry) OnSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitFor(name)
	c.failures = c.failures[:0]
	c.state = StateClosed
	c.probing = false
}

// OnFailure records a failed call. A half-open probe failure re-opens
// immediately; otherwise the windowed failure count is pruned and checked
// against the threshold.
func (r *Registry) OnFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitFor(name)
	now := r.now()
	c.failures = append(c.failures, now)
	c.failures = pruneBefore(c.failures, now.Add(-r.failureWindow))

	if c.state == StateHalfOpen || len(c.failures) >= r.maxFailures {
		c.state = StateOpen
		c.openedAt = now
	}
	c.probing = false
}

// State reports the current state for a provider. Unknown providers are
// closed.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return StateClosed
	}
	return c.state
}

// Stats returns a snapshot of every known circuit.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.circuits))
	now := r.now()
	for name, c := range r.circuits {
		live := pruneBefore(append([]time.Time(nil), c.failures...), now.Add(-r.failureWindow))
		s := Stats{State: c.state, WindowedFailures: len(live), OpenedAt: c.openedAt}
		if len(live) > 0 {
			s.LastFailure = live[len(live)-1]
		}
		out[name] = s
	}
	return out
}

// Reset clears a provider's circuit back to closed.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitFor(name)
	c.failures = c.failures[:0]
	c.state = StateClosed
	c.openedAt = time.Time{}
	c.probing = false
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
