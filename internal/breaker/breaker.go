package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the position of a circuit's state machine.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// ErrOpen is returned by Allow while the circuit refuses traffic.
var ErrOpen = errors.New("circuit open")

// Settings tune one circuit.
type Settings struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return s
}

// State is a point-in-time snapshot of one circuit.
type State struct {
	Target              string     `json:"target"`
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

// TransitionFunc observes circuit state changes. It must not call back into
// the breaker.
type TransitionFunc func(target string, from, to Status)

// Breaker guards one sync target. Closed admits every call. After
// FailureThreshold consecutive failures the circuit opens and refuses calls
// without any network attempt. Once Cooldown has elapsed it admits exactly
// one probe; the probe's outcome decides between closing and re-opening.
type Breaker struct {
	target       string
	settings     Settings
	onTransition TransitionFunc

	mu            sync.Mutex
	status        Status
	failures      int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// New creates a closed circuit for the named target.
func New(target string, settings Settings, onTransition TransitionFunc) *Breaker {
	return &Breaker{
		target:       target,
		settings:     settings.withDefaults(),
		onTransition: onTransition,
		status:       StatusClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call to the target may proceed. While open it
// returns ErrOpen (wrapped with the target name) so no retry budget is
// spent; past the cooldown it admits a single half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.status {
	case StatusOpen:
		if b.now().Sub(b.openedAt) <= b.settings.Cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.target, ErrOpen)
		}
		b.status = StatusHalfOpen
		b.probeInFlight = true
		b.mu.Unlock()
		b.notify(StatusOpen, StatusHalfOpen)
		return nil
	case StatusHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.target, ErrOpen)
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return nil
	default:
		b.mu.Unlock()
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.status
	b.status = StatusClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	b.mu.Unlock()
	if from != StatusClosed {
		b.notify(from, StatusClosed)
	}
}

// RecordFailure counts one failed call. A failed half-open probe re-opens
// the circuit; reaching the threshold while closed trips it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.status
	b.failures++
	b.probeInFlight = false

	var to Status
	switch {
	case from == StatusHalfOpen:
		b.status = StatusOpen
		b.openedAt = b.now()
		to = StatusOpen
	case from == StatusClosed && b.failures >= b.settings.FailureThreshold:
		b.status = StatusOpen
		b.openedAt = b.now()
		to = StatusOpen
	}
	b.mu.Unlock()
	if to != "" {
		b.notify(from, to)
	}
}

// Snapshot returns the circuit's current state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := State{
		Target:              b.target,
		Status:              b.status,
		ConsecutiveFailures: b.failures,
	}
	if !b.openedAt.IsZero() {
		opened := b.openedAt
		st.OpenedAt = &opened
	}
	return st
}

// Reset force-closes the circuit, clearing all counters. Used by the admin
// surface after a target recovers out of band.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.status
	b.status = StatusClosed
	b.failures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	b.mu.Unlock()
	if from != StatusClosed {
		b.notify(from, StatusClosed)
	}
}

func (b *Breaker) notify(from, to Status) {
	if b.onTransition != nil {
		b.onTransition(b.target, from, to)
	}
}

// Set is a fixed collection of independent per-target circuits. One target
// tripping never affects another. The map is never mutated after
// construction, so lookups need no lock.
type Set struct {
	breakers map[string]*Breaker
	order    []string
}

// NewSet builds one circuit per target, all sharing the same settings and
// transition hook.
func NewSet(settings Settings, onTransition TransitionFunc, targets ...string) *Set {
	s := &Set{breakers: make(map[string]*Breaker, len(targets))}
	for _, target := range targets {
		s.breakers[target] = New(target, settings, onTransition)
		s.order = append(s.order, target)
	}
	return s
}

// Get returns the named circuit, nil if the target is unknown.
func (s *Set) Get(target string) *Breaker {
	return s.breakers[target]
}

// Snapshots returns every circuit's state in registration order.
func (s *Set) Snapshots() []State {
	states := make([]State, 0, len(s.order))
	for _, target := range s.order {
		states = append(states, s.breakers[target].Snapshot())
	}
	return states
}

// Reset force-closes the named circuit and reports whether it exists.
func (s *Set) Reset(target string) bool {
	b := s.breakers[target]
	if b == nil {
		return false
	}
	b.Reset()
	return true
}
