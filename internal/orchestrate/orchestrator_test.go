package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/triage/internal/classify"
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/store"
	"github.com/vietddude/triage/internal/infra/storage/memory"
	"github.com/vietddude/triage/internal/report"
	"github.com/vietddude/triage/internal/runner"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeGateway struct {
	mu sync.Mutex
	// classifications keyed by test id; absent entries degrade to Unknown
	classify map[string]*domain.Classification
	calls    map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		classify: make(map[string]*domain.Classification),
		calls:    make(map[string]int),
	}
}

func (g *fakeGateway) set(testID string, c *domain.Classification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.classify[testID] = c
}

func (g *fakeGateway) callCount(testID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[testID]
}

func (g *fakeGateway) ClassifyBatch(ctx context.Context, reqs []classify.Request) map[string]*domain.Classification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*domain.Classification, len(reqs))
	for _, req := range reqs {
		g.calls[req.TestID]++
		if c, ok := g.classify[req.TestID]; ok {
			cp := *c
			out[req.TestID] = &cp
		} else {
			out[req.TestID] = domain.UnknownClassification("classifier unavailable: timeout")
		}
	}
	return out
}

type fakeRunner struct {
	mu      sync.Mutex
	batches [][]string
	// outcomes per test; absent entries pass
	outcomes map[string]domain.AttemptOutcome
	// errs[i] != nil fails the i-th batch entirely
	errs []error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outcomes: make(map[string]domain.AttemptOutcome)}
}

func (r *fakeRunner) Run(ctx context.Context, testIDs []string) (map[string]runner.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := len(r.batches)
	r.batches = append(r.batches, append([]string(nil), testIDs...))
	if batch < len(r.errs) && r.errs[batch] != nil {
		return nil, r.errs[batch]
	}

	out := make(map[string]runner.RunResult, len(testIDs))
	for _, id := range testIDs {
		outcome, ok := r.outcomes[id]
		if !ok {
			outcome = domain.OutcomePassed
		}
		result := runner.RunResult{Outcome: outcome}
		if outcome.Failing() {
			result.FailureDetail = "still failing"
		}
		out[id] = result
	}
	return out, nil
}

func (r *fakeRunner) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *fakeRunner) totalRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

// =============================================================================
// Helpers
// =============================================================================

func failedRecord(id string) domain.TestRecord {
	return domain.TestRecord{
		TestID:        id,
		Outcome:       domain.OutcomeFailed,
		FailureDetail: "java.lang.AssertionError: expected [200] but found [503]",
	}
}

func passedRecord(id string) domain.TestRecord {
	return domain.TestRecord{TestID: id, Outcome: domain.OutcomePassed}
}

func ingested(t *testing.T, records ...domain.TestRecord) *store.Store {
	t.Helper()
	st := store.New("run-1")
	if err := st.Ingest(records); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return st
}

func flaky() *domain.Classification {
	return &domain.Classification{
		Category:   domain.CategoryFlakyTest,
		Retryable:  true,
		Confidence: 0.9,
	}
}

func codeDefect() *domain.Classification {
	return &domain.Classification{
		Category:   domain.CategoryCodeDefect,
		Retryable:  false,
		Confidence: 0.95,
	}
}

func defaultPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttemptsPerTest: 2, MaxTotalRetries: 10}
}

func testByID(t *testing.T, rep *domain.Report, id string) domain.TestReport {
	t.Helper()
	for _, tr := range rep.Tests {
		if tr.TestID == id {
			return tr
		}
	}
	t.Fatalf("Test %s not in report", id)
	return domain.TestReport{}
}

// =============================================================================
// Scenario Tests
// =============================================================================

// Scenario A: 10 tests, 2 failed and retryable, both pass on retry.
func TestRun_RetryableFailuresRecoverOnRetry(t *testing.T) {
	records := make([]domain.TestRecord, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, passedRecord(fmt.Sprintf("com.example.Suite#ok%d", i)))
	}
	records = append(records, failedRecord("com.example.Suite#flaky1"))
	records = append(records, failedRecord("com.example.Suite#flaky2"))

	gw := newFakeGateway()
	gw.set("com.example.Suite#flaky1", flaky())
	gw.set("com.example.Suite#flaky2", flaky())
	rn := newFakeRunner()

	o := New(ingested(t, records...), Config{
		Policy: defaultPolicy(), Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	s := rep.Summary
	if s.OriginallyPassed != 8 || s.PassedAfterRetry != 2 {
		t.Errorf("Expected 8 original + 2 retry passes, got %d + %d",
			s.OriginallyPassed, s.PassedAfterRetry)
	}
	if s.RetriesConsumed != 2 {
		t.Errorf("Expected 2 retries consumed, got %d", s.RetriesConsumed)
	}
	for _, tr := range rep.Tests {
		if tr.FinalStatus != domain.StatusPassed {
			t.Errorf("Test %s not passed: %s", tr.TestID, tr.FinalStatus)
		}
	}
	if rn.batchCount() != 1 {
		t.Errorf("Expected a single batched runner call, got %d", rn.batchCount())
	}
}

// Scenario B: a non-retryable code defect consumes no retry budget.
func TestRun_CodeDefectNotRetried(t *testing.T) {
	gw := newFakeGateway()
	gw.set("com.example.Suite#broken", codeDefect())
	rn := newFakeRunner()

	o := New(ingested(t, failedRecord("com.example.Suite#broken")), Config{
		Policy: defaultPolicy(), Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := testByID(t, rep, "com.example.Suite#broken")
	if tr.FinalStatus != domain.StatusFailed || tr.Reason != domain.ReasonNotRetryable {
		t.Errorf("Expected failed/not_retryable, got %s/%s", tr.FinalStatus, tr.Reason)
	}
	if rep.Summary.RetriesConsumed != 0 {
		t.Errorf("Expected 0 retries, got %d", rep.Summary.RetriesConsumed)
	}
	if rn.batchCount() != 0 {
		t.Errorf("Runner must not be invoked, got %d calls", rn.batchCount())
	}
}

// Scenario C: classifier timeout degrades to Unknown, which is never
// retried under the default policy.
func TestRun_UnclassifiableIsNotRetried(t *testing.T) {
	gw := newFakeGateway() // no classification registered -> Unknown
	rn := newFakeRunner()

	o := New(ingested(t, failedRecord("com.example.Suite#mystery")), Config{
		Policy: defaultPolicy(), Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := testByID(t, rep, "com.example.Suite#mystery")
	if tr.Reason != domain.ReasonUnclassifiable {
		t.Errorf("Expected reason unclassifiable, got %s", tr.Reason)
	}
	if rn.batchCount() != 0 {
		t.Error("Unknown classification must not trigger a retry")
	}
}

// An Unknown override can force retries for gateway failures.
func TestRun_UnknownOverrideForcesRetry(t *testing.T) {
	gw := newFakeGateway()
	rn := newFakeRunner()

	p := defaultPolicy()
	p.CategoryOverrides = map[domain.Category]domain.CategoryOverride{
		domain.CategoryUnknown: domain.OverrideAlways,
	}

	o := New(ingested(t, failedRecord("com.example.Suite#mystery")), Config{
		Policy: p, Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := testByID(t, rep, "com.example.Suite#mystery")
	if tr.Reason != domain.ReasonPassedOnRetry {
		t.Errorf("Expected passed_on_retry, got %s", tr.Reason)
	}
}

// Scenario D: run-wide budget of 1 with three eligible tests retries
// exactly the first by ingestion order.
func TestRun_GlobalBudgetIsDeterministic(t *testing.T) {
	gw := newFakeGateway()
	for _, id := range []string{"a#t", "b#t", "c#t"} {
		gw.set(id, flaky())
	}
	rn := newFakeRunner()

	o := New(ingested(t, failedRecord("a#t"), failedRecord("b#t"), failedRecord("c#t")), Config{
		Policy:  domain.RetryPolicy{MaxAttemptsPerTest: 2, MaxTotalRetries: 1},
		Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := testByID(t, rep, "a#t"); got.Reason != domain.ReasonPassedOnRetry {
		t.Errorf("Expected a#t passed_on_retry, got %s", got.Reason)
	}
	for _, id := range []string{"b#t", "c#t"} {
		tr := testByID(t, rep, id)
		if tr.Reason != domain.ReasonBudgetExhausted {
			t.Errorf("Expected %s budget_exhausted, got %s", id, tr.Reason)
		}
		if len(tr.Attempts) != 1 {
			t.Errorf("Expected %s to keep 1 attempt, got %d", id, len(tr.Attempts))
		}
	}
	if rn.totalRetries() != 1 {
		t.Errorf("Expected exactly 1 retry issued, got %d", rn.totalRetries())
	}
}

// =============================================================================
// Property Tests
// =============================================================================

// Budget invariant: retries issued never exceed either ceiling.
func TestRun_BudgetInvariant(t *testing.T) {
	gw := newFakeGateway()
	rn := newFakeRunner()
	var records []domain.TestRecord
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("suite.Class#case%d", i)
		records = append(records, failedRecord(id))
		gw.set(id, flaky())
		rn.outcomes[id] = domain.OutcomeFailed // never recovers
	}

	p := domain.RetryPolicy{MaxAttemptsPerTest: 3, MaxTotalRetries: 7}
	o := New(ingested(t, records...), Config{Policy: p, Gateway: gw, Runner: rn})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rn.totalRetries() > p.MaxTotalRetries {
		t.Errorf("Run-wide budget violated: %d > %d", rn.totalRetries(), p.MaxTotalRetries)
	}
	if rep.Summary.RetriesConsumed > p.MaxTotalRetries {
		t.Errorf("Reported retries %d exceed budget %d",
			rep.Summary.RetriesConsumed, p.MaxTotalRetries)
	}
	for _, tr := range rep.Tests {
		if len(tr.Attempts) > p.MaxAttemptsPerTest {
			t.Errorf("Test %s has %d attempts, cap is %d",
				tr.TestID, len(tr.Attempts), p.MaxAttemptsPerTest)
		}
	}
}

// Termination: a permanently failing flaky test converges within the
// per-test attempt cap.
func TestRun_TerminatesWhenRetriesKeepFailing(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", flaky())
	rn := newFakeRunner()
	rn.outcomes["a#t"] = domain.OutcomeFailed

	p := domain.RetryPolicy{MaxAttemptsPerTest: 3, MaxTotalRetries: 10}
	o := New(ingested(t, failedRecord("a#t")), Config{Policy: p, Gateway: gw, Runner: rn})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := testByID(t, rep, "a#t")
	if tr.FinalStatus != domain.StatusFailed || tr.Reason != domain.ReasonRetriesFailed {
		t.Errorf("Expected failed/failed_after_retry, got %s/%s", tr.FinalStatus, tr.Reason)
	}
	if len(tr.Attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(tr.Attempts))
	}
}

// Idempotence: a second orchestrator over the terminal store is a no-op
// yielding a byte-identical report.
func TestRun_IdempotentOnTerminalRun(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", flaky())
	rn := newFakeRunner()

	st := ingested(t, failedRecord("a#t"), passedRecord("b#t"))
	first, err := New(st, Config{Policy: defaultPolicy(), Gateway: gw, Runner: rn}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	classifyCalls := gw.callCount("a#t")
	runnerCalls := rn.batchCount()

	second, err := New(st, Config{Policy: defaultPolicy(), Gateway: gw, Runner: rn}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if gw.callCount("a#t") != classifyCalls {
		t.Error("Re-invocation re-classified a terminal run")
	}
	if rn.batchCount() != runnerCalls {
		t.Error("Re-invocation re-ran tests on a terminal run")
	}

	firstJSON, _ := report.EncodeJSON(first)
	secondJSON, _ := report.EncodeJSON(second)
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Error("Reports differ between invocations")
	}
}

// =============================================================================
// Failure-Mode Tests
// =============================================================================

// A runner batch failure marks the batch errored with the synthetic
// infrastructure label and does not spend classifier calls on it.
func TestRun_RunnerBatchFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", flaky())
	rn := newFakeRunner()
	rn.errs = []error{errors.New("maven daemon crashed")} // second batch succeeds

	p := domain.RetryPolicy{MaxAttemptsPerTest: 3, MaxTotalRetries: 10}
	o := New(ingested(t, failedRecord("a#t")), Config{Policy: p, Gateway: gw, Runner: rn})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := testByID(t, rep, "a#t")
	if tr.Reason != domain.ReasonPassedOnRetry {
		t.Fatalf("Expected recovery on second pass, got %s", tr.Reason)
	}
	if len(tr.Attempts) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(tr.Attempts))
	}

	errored := tr.Attempts[1]
	if errored.Outcome != domain.OutcomeErrored {
		t.Errorf("Expected attempt 1 errored, got %s", errored.Outcome)
	}
	if errored.Classification == nil ||
		errored.Classification.Category != domain.CategoryInfrastructure {
		t.Error("Expected synthetic InfrastructureIssue label on errored attempt")
	}
	if gw.callCount("a#t") != 1 {
		t.Errorf("Runner failure must not consume a classifier call, got %d calls",
			gw.callCount("a#t"))
	}
}

// Cancellation finalizes in-flight tests as failed/cancelled while
// preserving recorded progress.
func TestRun_Cancellation(t *testing.T) {
	gw := newFakeGateway()
	rn := newFakeRunner()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(ingested(t, failedRecord("a#t"), passedRecord("b#t")), Config{
		Policy: defaultPolicy(), Gateway: gw, Runner: rn,
	})
	rep, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if tr := testByID(t, rep, "a#t"); tr.Reason != domain.ReasonCancelled {
		t.Errorf("Expected cancelled, got %s", tr.Reason)
	}
	if tr := testByID(t, rep, "b#t"); tr.FinalStatus != domain.StatusPassed {
		t.Errorf("Passed test must stay passed, got %s", tr.FinalStatus)
	}
	if rep.Summary.Cancelled != 1 {
		t.Errorf("Expected 1 cancelled in summary, got %d", rep.Summary.Cancelled)
	}
}

// Every ingested test gets a definitive status, skips included.
func TestRun_NoTestLeftUnresolved(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", codeDefect())
	rn := newFakeRunner()

	o := New(ingested(t,
		failedRecord("a#t"),
		passedRecord("b#t"),
		domain.TestRecord{TestID: "c#t", Outcome: domain.OutcomeSkipped},
	), Config{Policy: defaultPolicy(), Gateway: gw, Runner: rn})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(rep.Tests) != 3 {
		t.Fatalf("Expected 3 tests in report, got %d", len(rep.Tests))
	}
	for _, tr := range rep.Tests {
		if tr.FinalStatus == "" || tr.Reason == "" {
			t.Errorf("Test %s left unresolved", tr.TestID)
		}
	}
	if rep.Summary.Skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", rep.Summary.Skipped)
	}
}

// =============================================================================
// Checkpoint Tests
// =============================================================================

func TestRun_CheckpointSavedAndCleared(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", flaky())
	rn := newFakeRunner()
	rn.outcomes["a#t"] = domain.OutcomeFailed
	checkpoints := memory.NewCheckpointRepo()

	p := domain.RetryPolicy{MaxAttemptsPerTest: 3, MaxTotalRetries: 10}
	o := New(ingested(t, failedRecord("a#t")), Config{
		Policy: p, Gateway: gw, Runner: rn, Checkpoint: checkpoints,
	})
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	saved, err := checkpoints.Load(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if saved != nil {
		t.Error("Checkpoint must be cleared after the report is built")
	}
}

func TestRun_ResumeFromCheckpoint(t *testing.T) {
	gw := newFakeGateway()
	gw.set("a#t", flaky())
	gw.set("b#t", flaky())
	rn := newFakeRunner()

	// Simulate an interrupted run: a#t already retried and passed,
	// b#t classified but not yet retried.
	st := ingested(t, failedRecord("a#t"), failedRecord("b#t"))
	st.SetClassification("a#t", flaky())
	st.RecordAttempt("a#t", &domain.Attempt{Index: 1, Outcome: domain.OutcomePassed})
	st.Finalize("a#t", domain.StatusPassed, domain.ReasonPassedOnRetry)
	st.SetClassification("b#t", flaky())

	resumed := store.Restore(st.Snapshot())
	o := New(resumed, Config{Policy: defaultPolicy(), Gateway: gw, Runner: rn})
	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Already-classified attempts are not re-classified
	if gw.callCount("a#t") != 0 || gw.callCount("b#t") != 0 {
		t.Error("Resume re-classified already-classified attempts")
	}
	if tr := testByID(t, rep, "b#t"); tr.Reason != domain.ReasonPassedOnRetry {
		t.Errorf("Expected b#t passed_on_retry, got %s", tr.Reason)
	}
	// a#t's earlier retry counts against the resumed budget
	if rep.Summary.RetriesConsumed != 2 {
		t.Errorf("Expected 2 retries consumed across resume, got %d",
			rep.Summary.RetriesConsumed)
	}
}
