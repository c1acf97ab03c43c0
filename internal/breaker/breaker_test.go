package breaker

import (
	"errors"
	"testing"
	"time"
)

var testSettings = Settings{FailureThreshold: 3, Cooldown: time.Minute}

func newTestBreaker(now *time.Time, onTransition TransitionFunc) *Breaker {
	b := New("graph", testSettings, onTransition)
	b.now = func() time.Time { return *now }
	return b
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < testSettings.FailureThreshold; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("failure %d: circuit should still admit calls", i+1)
		}
		b.RecordFailure()
	}
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now, nil)

	// Two failures keep the circuit closed.
	b.RecordFailure()
	b.RecordFailure()
	if st := b.Snapshot(); st.Status != StatusClosed || st.ConsecutiveFailures != 2 {
		t.Fatalf("expected closed with 2 failures, got %+v", st)
	}

	// The third trips it open.
	b.RecordFailure()
	st := b.Snapshot()
	if st.Status != StatusOpen {
		t.Fatalf("expected open, got %s", st.Status)
	}
	if st.OpenedAt == nil {
		t.Fatal("expected opened_at to be set")
	}

	err := b.Allow()
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now, nil)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Failures are consecutive: the success in between restarted the count.
	if st := b.Snapshot(); st.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", st.Status)
	}
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now, nil)
	tripBreaker(t, b)

	// Still inside the cooldown: refused.
	now = now.Add(testSettings.Cooldown)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen during cooldown, got %v", err)
	}

	// Past the cooldown: exactly one probe is admitted.
	now = now.Add(time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be admitted, got %v", err)
	}
	if st := b.Snapshot(); st.Status != StatusHalfOpen {
		t.Fatalf("expected half_open, got %s", st.Status)
	}
	// A second caller during the probe is refused.
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen while probe in flight, got %v", err)
	}

	b.RecordSuccess()
	st := b.Snapshot()
	if st.Status != StatusClosed || st.ConsecutiveFailures != 0 {
		t.Fatalf("expected closed with 0 failures after probe success, got %+v", st)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected calls admitted after close, got %v", err)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now, nil)
	tripBreaker(t, b)
	openedAt := *b.Snapshot().OpenedAt

	now = now.Add(testSettings.Cooldown + time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	b.RecordFailure()

	st := b.Snapshot()
	if st.Status != StatusOpen {
		t.Fatalf("expected re-opened, got %s", st.Status)
	}
	if !st.OpenedAt.After(openedAt) {
		t.Fatal("expected opened_at to be reset on re-open")
	}
	// The fresh cooldown applies.
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after re-open, got %v", err)
	}
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(&now, nil)
	tripBreaker(t, b)

	b.Reset()
	st := b.Snapshot()
	if st.Status != StatusClosed || st.ConsecutiveFailures != 0 || st.OpenedAt != nil {
		t.Fatalf("expected clean closed state after reset, got %+v", st)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected calls admitted after reset, got %v", err)
	}
}

func TestBreaker_TransitionHook(t *testing.T) {
	now := time.Now()
	var transitions [][2]Status
	b := newTestBreaker(&now, func(target string, from, to Status) {
		if target != "graph" {
			t.Fatalf("unexpected target %s", target)
		}
		transitions = append(transitions, [2]Status{from, to})
	})

	tripBreaker(t, b)
	now = now.Add(testSettings.Cooldown + time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	b.RecordSuccess()

	want := [][2]Status{
		{StatusClosed, StatusOpen},
		{StatusOpen, StatusHalfOpen},
		{StatusHalfOpen, StatusClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(transitions), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestSet_TargetsAreIndependent(t *testing.T) {
	s := NewSet(testSettings, nil, "graph", "vector", "analytics")

	graph := s.Get("graph")
	for i := 0; i < testSettings.FailureThreshold; i++ {
		graph.RecordFailure()
	}
	if err := graph.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected graph open, got %v", err)
	}

	// The other circuits are untouched.
	if err := s.Get("vector").Allow(); err != nil {
		t.Fatalf("vector should be closed, got %v", err)
	}
	if err := s.Get("analytics").Allow(); err != nil {
		t.Fatalf("analytics should be closed, got %v", err)
	}

	snaps := s.Snapshots()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[0].Target != "graph" || snaps[0].Status != StatusOpen {
		t.Fatalf("expected graph open first, got %+v", snaps[0])
	}

	if !s.Reset("graph") {
		t.Fatal("expected reset to find graph")
	}
	if s.Reset("nope") {
		t.Fatal("expected reset to miss unknown target")
	}
}
