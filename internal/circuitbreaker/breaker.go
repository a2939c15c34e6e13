// Package circuitbreaker gates calls to flaky upstreams. Each key gets
// a closed → open → half-open circuit: repeated failures trip it open,
// and after a cool-off a single probe decides whether it closes again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is a circuit's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plinth",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state     State
	failures  int
	trippedAt time.Time
}

// Breaker tracks one circuit per key.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	// threshold is the consecutive-failure count that trips a circuit.
	threshold int
	// coolOff is how long an open circuit waits before probing.
	coolOff time.Duration
}

// New creates a breaker. Non-positive arguments fall back to 5
// failures and 30 seconds.
func New(threshold int, coolOff time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolOff <= 0 {
		coolOff = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		coolOff:   coolOff,
	}
}

// Allow reports whether a call to key may proceed. An open circuit
// past its cool-off moves to half-open and admits exactly one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if time.Since(c.trippedAt) < b.coolOff {
			return false
		}
		b.moveTo(c, key, StateHalfOpen)
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes a half-open
// circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	if c.state == StateHalfOpen {
		b.moveTo(c, key, StateClosed)
	}
}

// RecordFailure counts a failure, tripping the circuit when the
// threshold is reached or when a half-open probe fails.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	tripped := c.state == StateHalfOpen ||
		(c.state == StateClosed && c.failures >= b.threshold)
	if tripped {
		c.trippedAt = time.Now()
		b.moveTo(c, key, StateOpen)
	}
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// moveTo changes state and records the metric. Caller holds b.mu.
func (b *Breaker) moveTo(c *circuit, key string, to State) {
	if c.state == to {
		return
	}
	transitionsTotal.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}
