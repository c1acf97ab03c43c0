package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"hermes-backend/internal/breaker"
	"hermes-backend/internal/event"
	"hermes-backend/internal/retry"
	"hermes-backend/internal/stores"
)

// fakeTarget counts calls and serves scripted errors: the queue is consumed
// one per call, then sticky is returned forever.
type fakeTarget struct {
	mu     sync.Mutex
	calls  int
	queue  []error
	sticky error
}

func (f *fakeTarget) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.queue) > 0 {
		err := f.queue[0]
		f.queue = f.queue[1:]
		return err
	}
	return f.sticky
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGraph struct {
	fakeTarget
	entity *event.GraphEntity
}

func (f *fakeGraph) Upsert(_ context.Context, e *event.GraphEntity) error {
	f.mu.Lock()
	f.entity = e
	f.mu.Unlock()
	return f.next()
}

type fakeVector struct {
	fakeTarget
	doc *event.VectorDocument
}

func (f *fakeVector) Upsert(_ context.Context, d *event.VectorDocument) error {
	f.mu.Lock()
	f.doc = d
	f.mu.Unlock()
	return f.next()
}

type fakeAnalytics struct {
	fakeTarget
	rec *event.AnalyticsRecord
}

func (f *fakeAnalytics) Record(_ context.Context, r *event.AnalyticsRecord) error {
	f.mu.Lock()
	f.rec = r
	f.mu.Unlock()
	return f.next()
}

func testEvent() *event.Validated {
	return &event.Validated{
		Inbound: event.Inbound{
			Action:     event.ActionProductCreated,
			SourceIP:   "10.0.0.1",
			ReceivedAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		},
		EntityID:   "1",
		EntityType: "product",
		DeliveryID: "dl_test",
		Fields:     map[string]any{"productId": "1"},
		Graph:      &event.GraphEntity{Type: "product", ID: "1", Properties: map[string]any{"name": "Anvil"}},
		Vector:     &event.VectorDocument{ID: "product:1", Kind: "product", Document: "Anvil"},
		Analytics:  &event.AnalyticsRecord{EventID: "ev_1", Action: "product_created", EntityType: "product", EntityID: "1"},
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func unavailable(op string) error {
	return &stores.StoreError{Kind: stores.KindUnavailable, Op: op, Err: context.DeadlineExceeded}
}

func newTestOrchestrator(g *fakeGraph, v *fakeVector, a *fakeAnalytics,
	settings breaker.Settings, opts OrchestratorOptions) (*Orchestrator, *breaker.Set) {

	breakers := breaker.NewSet(settings, nil, TargetNames()...)
	return NewOrchestrator(g, v, a, breakers, opts, nil), breakers
}

func resultFor(t *testing.T, outcome Outcome, target Target) AttemptResult {
	t.Helper()
	for _, r := range outcome.PerTarget {
		if r.Target == target {
			return r
		}
	}
	t.Fatalf("no result for target %s", target)
	return AttemptResult{}
}

func TestSyncAllTargetsSucceed(t *testing.T) {
	g, v, a := &fakeGraph{}, &fakeVector{}, &fakeAnalytics{}
	orch, _ := newTestOrchestrator(g, v, a, breaker.Settings{}, OrchestratorOptions{RetryPolicy: fastPolicy(3)})

	outcome := orch.Sync(context.Background(), testEvent())
	if !outcome.AllSucceeded {
		t.Fatalf("expected full success, got %+v", outcome.PerTarget)
	}
	for _, target := range Targets {
		r := resultFor(t, outcome, target)
		if !r.Succeeded || r.Attempts != 1 {
			t.Fatalf("%s: result = %+v, want success in one attempt", target, r)
		}
	}
	if g.entity == nil || g.entity.ID != "1" {
		t.Fatalf("graph received %+v", g.entity)
	}
	if v.doc == nil || v.doc.ID != "product:1" {
		t.Fatalf("vector received %+v", v.doc)
	}
	if a.rec == nil || a.rec.EventID != "ev_1" {
		t.Fatalf("analytics received %+v", a.rec)
	}
}

func TestSyncRetriesTransientFailure(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{queue: []error{unavailable("graph upsert")}}}
	v, a := &fakeVector{}, &fakeAnalytics{}
	orch, _ := newTestOrchestrator(g, v, a, breaker.Settings{}, OrchestratorOptions{RetryPolicy: fastPolicy(3)})

	outcome := orch.Sync(context.Background(), testEvent())
	if !outcome.AllSucceeded {
		t.Fatalf("expected recovery, got %+v", outcome.PerTarget)
	}
	r := resultFor(t, outcome, TargetGraph)
	if r.Attempts != 2 {
		t.Fatalf("graph attempts = %d, want 2", r.Attempts)
	}
	if v.count() != 1 || a.count() != 1 {
		t.Fatalf("other targets called %d/%d times, want 1/1", v.count(), a.count())
	}
}

func TestSyncFailureLeavesOtherTargetsAlone(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{sticky: unavailable("graph upsert")}}
	v, a := &fakeVector{}, &fakeAnalytics{}
	orch, _ := newTestOrchestrator(g, v, a, breaker.Settings{}, OrchestratorOptions{RetryPolicy: fastPolicy(3)})

	outcome := orch.Sync(context.Background(), testEvent())
	if outcome.AllSucceeded {
		t.Fatal("expected failure")
	}
	if outcome.OverallKind != FailureUnavailable {
		t.Fatalf("overall kind = %s, want unavailable", outcome.OverallKind)
	}

	r := resultFor(t, outcome, TargetGraph)
	if r.Succeeded || r.Attempts != 3 {
		t.Fatalf("graph result = %+v, want 3 failed attempts", r)
	}
	if !strings.Contains(r.Error, "graph upsert") {
		t.Fatalf("error = %q, want operation label", r.Error)
	}

	// No rollback: the successful writes stand.
	if !resultFor(t, outcome, TargetVector).Succeeded || v.count() != 1 {
		t.Fatalf("vector should have written exactly once, calls = %d", v.count())
	}
	if !resultFor(t, outcome, TargetAnalytics).Succeeded || a.count() != 1 {
		t.Fatalf("analytics should have written exactly once, calls = %d", a.count())
	}
}

func TestSyncTerminalFailureSkipsRetry(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{sticky: &stores.StoreError{
		Kind: stores.KindValidation, Op: "graph upsert",
	}}}
	orch, _ := newTestOrchestrator(g, &fakeVector{}, &fakeAnalytics{}, breaker.Settings{},
		OrchestratorOptions{RetryPolicy: fastPolicy(3)})

	outcome := orch.Sync(context.Background(), testEvent())
	r := resultFor(t, outcome, TargetGraph)
	if r.Attempts != 1 {
		t.Fatalf("attempts = %d, a rejected payload must not be retried", r.Attempts)
	}
	if r.ErrorKind != FailureValidation {
		t.Fatalf("error kind = %s, want validation", r.ErrorKind)
	}
	if outcome.OverallKind != FailureValidation {
		t.Fatalf("overall kind = %s, want validation", outcome.OverallKind)
	}
}

func TestSyncOpenCircuitShortCircuits(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{sticky: unavailable("graph upsert")}}
	v, a := &fakeVector{}, &fakeAnalytics{}
	orch, breakers := newTestOrchestrator(g, v, a,
		breaker.Settings{FailureThreshold: 1, Cooldown: time.Hour},
		OrchestratorOptions{RetryPolicy: fastPolicy(2)})

	// First fan-out trips the graph circuit.
	orch.Sync(context.Background(), testEvent())
	if st := breakers.Get("graph").Snapshot().Status; st != breaker.StatusOpen {
		t.Fatalf("graph circuit = %s, want open", st)
	}
	callsAfterTrip := g.count()

	outcome := orch.Sync(context.Background(), testEvent())
	r := resultFor(t, outcome, TargetGraph)
	if r.ErrorKind != FailureCircuitOpen {
		t.Fatalf("error kind = %s, want circuit_open", r.ErrorKind)
	}
	if r.Attempts != 0 {
		t.Fatalf("attempts = %d, open circuit must not spend the retry budget", r.Attempts)
	}
	if g.count() != callsAfterTrip {
		t.Fatalf("graph called %d times after trip, want %d", g.count(), callsAfterTrip)
	}

	// The other circuits are independent.
	if !resultFor(t, outcome, TargetVector).Succeeded || !resultFor(t, outcome, TargetAnalytics).Succeeded {
		t.Fatal("healthy targets must keep syncing while one circuit is open")
	}
}

func TestSyncConditionSkipsTarget(t *testing.T) {
	cond, err := CompileCondition(`entityType == "order"`)
	if err != nil {
		t.Fatalf("compile condition: %v", err)
	}
	g, v, a := &fakeGraph{}, &fakeVector{}, &fakeAnalytics{}
	orch, _ := newTestOrchestrator(g, v, a, breaker.Settings{}, OrchestratorOptions{
		RetryPolicy: fastPolicy(3),
		Conditions:  map[Target]*Condition{TargetVector: cond},
	})

	outcome := orch.Sync(context.Background(), testEvent())
	if !outcome.AllSucceeded {
		t.Fatalf("a skipped target is not a failure: %+v", outcome.PerTarget)
	}
	r := resultFor(t, outcome, TargetVector)
	if !r.Skipped || !r.Succeeded {
		t.Fatalf("vector result = %+v, want skipped", r)
	}
	if v.count() != 0 {
		t.Fatalf("vector called %d times, want 0", v.count())
	}
	if g.count() != 1 || a.count() != 1 {
		t.Fatalf("unconditioned targets called %d/%d times, want 1/1", g.count(), a.count())
	}
}

func TestSyncConditionEvalErrorFailsTarget(t *testing.T) {
	cond, err := CompileCondition(`entityId + 1 == 2`)
	if err != nil {
		t.Fatalf("compile condition: %v", err)
	}
	g, v, a := &fakeGraph{}, &fakeVector{}, &fakeAnalytics{}
	orch, _ := newTestOrchestrator(g, v, a, breaker.Settings{}, OrchestratorOptions{
		RetryPolicy: fastPolicy(3),
		Conditions:  map[Target]*Condition{TargetGraph: cond},
	})

	outcome := orch.Sync(context.Background(), testEvent())
	if outcome.AllSucceeded {
		t.Fatal("a broken condition must fail its target")
	}
	r := resultFor(t, outcome, TargetGraph)
	if r.Succeeded || r.ErrorKind != FailureValidation {
		t.Fatalf("graph result = %+v, want validation failure", r)
	}
	if g.count() != 0 {
		t.Fatalf("graph called %d times, want 0", g.count())
	}
	if v.count() != 1 || a.count() != 1 {
		t.Fatalf("other targets called %d/%d times, want 1/1", v.count(), a.count())
	}
}

func TestSyncOverallKindPicksMostActionable(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{sticky: &stores.StoreError{Kind: stores.KindTimeout, Op: "graph upsert"}}}
	v := &fakeVector{fakeTarget: fakeTarget{sticky: &stores.StoreError{Kind: stores.KindValidation, Op: "vector upsert"}}}
	orch, _ := newTestOrchestrator(g, v, &fakeAnalytics{}, breaker.Settings{},
		OrchestratorOptions{RetryPolicy: fastPolicy(1)})

	outcome := orch.Sync(context.Background(), testEvent())
	if outcome.OverallKind != FailureValidation {
		t.Fatalf("overall kind = %s, want the validation failure to win", outcome.OverallKind)
	}
}

func TestSyncBreakerCountsOnePassPerFanout(t *testing.T) {
	g := &fakeGraph{fakeTarget: fakeTarget{sticky: unavailable("graph upsert")}}
	orch, breakers := newTestOrchestrator(g, &fakeVector{}, &fakeAnalytics{},
		breaker.Settings{FailureThreshold: 2, Cooldown: time.Hour},
		OrchestratorOptions{RetryPolicy: fastPolicy(3)})

	orch.Sync(context.Background(), testEvent())
	if st := breakers.Get("graph").Snapshot(); st.Status != breaker.StatusClosed || st.ConsecutiveFailures != 1 {
		t.Fatalf("after one fan-out: %+v, retries within a pass must count once", st)
	}

	orch.Sync(context.Background(), testEvent())
	if st := breakers.Get("graph").Snapshot().Status; st != breaker.StatusOpen {
		t.Fatalf("after two fan-outs: circuit = %s, want open", st)
	}
}
