package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"hermes-backend/internal/breaker"
	"hermes-backend/internal/event"
	"hermes-backend/internal/monitoring"
	"hermes-backend/internal/retry"
	"hermes-backend/internal/stores"
)

// Target names one downstream store.
type Target string

const (
	TargetGraph     Target = "graph"
	TargetVector    Target = "vector"
	TargetAnalytics Target = "analytics"
)

// Targets lists every sync target in reporting order.
var Targets = []Target{TargetGraph, TargetVector, TargetAnalytics}

// TargetNames returns the targets as strings, for wiring breakers and config.
func TargetNames() []string {
	names := make([]string, len(Targets))
	for i, t := range Targets {
		names[i] = string(t)
	}
	return names
}

type GraphStore interface {
	Upsert(ctx context.Context, entity *event.GraphEntity) error
}

type VectorStore interface {
	Upsert(ctx context.Context, doc *event.VectorDocument) error
}

type AnalyticsStore interface {
	Record(ctx context.Context, rec *event.AnalyticsRecord) error
}

// FailureKind classifies why a target sync failed, for response bodies and
// for picking the overall failure reported when several targets fail.
type FailureKind string

const (
	FailureValidation    FailureKind = "validation"
	FailureAuthorization FailureKind = "authorization"
	FailureUnavailable   FailureKind = "unavailable"
	FailureCircuitOpen   FailureKind = "circuit_open"
	FailureTimeout       FailureKind = "timeout"
)

// Most actionable first: a validation failure means the payload itself is
// wrong everywhere, while a timeout says nothing about the other targets.
var failureSeverity = map[FailureKind]int{
	FailureValidation:    5,
	FailureAuthorization: 4,
	FailureUnavailable:   3,
	FailureCircuitOpen:   2,
	FailureTimeout:       1,
}

// AttemptResult reports one target's share of a fan-out.
type AttemptResult struct {
	Target     Target      `json:"target"`
	Succeeded  bool        `json:"succeeded"`
	Skipped    bool        `json:"skipped,omitempty"`
	Attempts   int         `json:"attempts"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  FailureKind `json:"error_kind,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// Outcome aggregates a fan-out. Success is all-or-nothing: one failed target
// fails the whole sync, and the source is expected to redeliver. Targets that
// did succeed keep their writes: graph and vector absorb the repeat as an
// upsert, and the analytics log keeps one row per delivery, deduplicated
// downstream by delivery id.
type Outcome struct {
	AllSucceeded bool
	PerTarget    []AttemptResult
	OverallKind  FailureKind
}

// OrchestratorOptions tune the fan-out.
type OrchestratorOptions struct {
	RetryPolicy   retry.Policy
	FanoutTimeout time.Duration
	Conditions    map[Target]*Condition
}

// Orchestrator fans a validated event out to every target concurrently.
type Orchestrator struct {
	graph     GraphStore
	vector    VectorStore
	analytics AnalyticsStore
	breakers  *breaker.Set
	opts      OrchestratorOptions
	metrics   *monitoring.Metrics
}

func NewOrchestrator(graph GraphStore, vector VectorStore, analytics AnalyticsStore,
	breakers *breaker.Set, opts OrchestratorOptions, metrics *monitoring.Metrics) *Orchestrator {

	if opts.FanoutTimeout <= 0 {
		opts.FanoutTimeout = 10 * time.Second
	}
	return &Orchestrator{
		graph:     graph,
		vector:    vector,
		analytics: analytics,
		breakers:  breakers,
		opts:      opts,
		metrics:   metrics,
	}
}

// Sync pushes ev to all three targets in parallel and waits for every one to
// finish or for the fan-out budget to expire. There is no rollback: each
// target either took the upsert or reports why it did not.
func (o *Orchestrator) Sync(ctx context.Context, ev *event.Validated) Outcome {
	ctx, cancel := context.WithTimeout(ctx, o.opts.FanoutTimeout)
	defer cancel()

	results := make([]AttemptResult, len(Targets))
	var wg sync.WaitGroup
	for i, target := range Targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i] = o.syncTarget(ctx, target, ev)
		}(i, target)
	}
	wg.Wait()

	outcome := Outcome{AllSucceeded: true, PerTarget: results}
	for _, r := range results {
		if r.Succeeded {
			continue
		}
		outcome.AllSucceeded = false
		if failureSeverity[r.ErrorKind] > failureSeverity[outcome.OverallKind] {
			outcome.OverallKind = r.ErrorKind
		}
	}
	return outcome
}

// syncTarget runs one target's condition, circuit and retry-wrapped call.
// The breaker counts one success or failure per fan-out, not per attempt, so
// a burst of retries cannot trip it on its own.
func (o *Orchestrator) syncTarget(ctx context.Context, target Target, ev *event.Validated) AttemptResult {
	res := AttemptResult{Target: target}
	started := time.Now()

	fire, err := o.opts.Conditions[target].Eval(ev)
	if err != nil {
		log.Printf("ERROR: %s condition for delivery %s: %v", target, ev.DeliveryID, err)
		res.Error = err.Error()
		res.ErrorKind = FailureValidation
		return res
	}
	if !fire {
		// Routed away by configuration. Counts as success: the target
		// holds exactly what its condition says it should.
		res.Skipped = true
		res.Succeeded = true
		return res
	}

	br := o.breakers.Get(string(target))
	if err := br.Allow(); err != nil {
		res.Error = err.Error()
		res.ErrorKind = FailureCircuitOpen
		res.DurationMs = time.Since(started).Milliseconds()
		return res
	}

	attempts, err := retry.Do(ctx, o.opts.RetryPolicy, string(target)+" upsert", func(ctx context.Context) error {
		return o.callTarget(ctx, target, ev)
	})
	elapsed := time.Since(started)
	res.Attempts = attempts
	res.DurationMs = elapsed.Milliseconds()

	if err != nil {
		br.RecordFailure()
		res.Error = err.Error()
		res.ErrorKind = classifyFailure(err)
		log.Printf("ERROR: %s sync failed for delivery %s after %d attempts: %v",
			target, ev.DeliveryID, attempts, err)
		o.metrics.TargetSync(string(target), "failed", elapsed)
		return res
	}

	br.RecordSuccess()
	res.Succeeded = true
	o.metrics.TargetSync(string(target), "succeeded", elapsed)
	return res
}

func (o *Orchestrator) callTarget(ctx context.Context, target Target, ev *event.Validated) error {
	switch target {
	case TargetGraph:
		return o.graph.Upsert(ctx, ev.Graph)
	case TargetVector:
		return o.vector.Upsert(ctx, ev.Vector)
	default:
		return o.analytics.Record(ctx, ev.Analytics)
	}
}

// classifyFailure maps a final per-target error to the failure taxonomy.
func classifyFailure(err error) FailureKind {
	var se *stores.StoreError
	if errors.As(err, &se) {
		switch se.Kind {
		case stores.KindValidation:
			return FailureValidation
		case stores.KindAuthorization:
			return FailureAuthorization
		case stores.KindTimeout:
			return FailureTimeout
		default:
			return FailureUnavailable
		}
	}
	if errors.Is(err, breaker.ErrOpen) {
		return FailureCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	return FailureUnavailable
}
