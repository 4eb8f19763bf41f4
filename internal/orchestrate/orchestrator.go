// Package orchestrate drives the triage state machine: classify failed
// tests, decide retry eligibility, re-execute eligible tests in one batch
// per pass, and repeat until every test is final.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/triage/internal/classify"
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/store"
	"github.com/vietddude/triage/internal/metrics"
	"github.com/vietddude/triage/internal/policy"
	"github.com/vietddude/triage/internal/report"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/runner"
)

// Gateway is the classification capability the orchestrator depends on.
// Satisfied by *classify.Gateway and by test fakes.
type Gateway interface {
	ClassifyBatch(ctx context.Context, reqs []classify.Request) map[string]*domain.Classification
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Policy  domain.RetryPolicy
	Gateway Gateway
	Runner  runner.Runner
	// Checkpoint is optional; when set, a snapshot is persisted after
	// every pass and cleared once the report is built.
	Checkpoint storage.CheckpointRepository
	Logger     *slog.Logger
}

// Orchestrator owns a run's record store for the duration of triage. A
// single goroutine drives the state machine, so budget counters never
// race with decisions.
type Orchestrator struct {
	cfg   Config
	store *store.Store
	state domain.PolicyState
	log   *slog.Logger
}

// New creates an orchestrator over an ingested store. The run-wide budget
// state is rebuilt from the store, so resuming a checkpointed run keeps
// its accounting.
func New(st *store.Store, cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	consumed := 0
	for _, exec := range st.Tests() {
		consumed += exec.RetryConsumed
	}

	return &Orchestrator{
		cfg:   cfg,
		store: st,
		state: domain.PolicyState{RetriesConsumed: consumed},
		log:   log,
	}
}

// Run executes orchestration passes until every test is final, then
// builds the report. Re-invoking on an already-terminal run is a no-op
// that returns the same report.
func (o *Orchestrator) Run(ctx context.Context) (*domain.Report, error) {
	for pass := 0; !o.store.AllTerminal(); pass++ {
		if ctx.Err() != nil {
			o.finalizeCancelled()
			break
		}

		pending := o.pendingTests()
		if len(pending) == 0 {
			break
		}

		metrics.PassesExecuted.Inc()
		o.log.Info("Starting triage pass",
			"run_id", o.store.RunID(), "pass", pass, "pending", len(pending))

		if err := o.classifyPending(ctx, pending); err != nil {
			// Only cancellation escapes the gateway
			o.finalizeCancelled()
			break
		}

		eligible, err := o.evaluate(pending)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			o.checkpoint(ctx)
			break
		}

		if err := o.retryBatch(ctx, eligible); err != nil {
			return nil, err
		}
		o.checkpoint(ctx)
	}

	if !o.store.AllTerminal() {
		// Cancellation finalizes everything; anything else is a bug
		o.finalizeCancelled()
	}

	rep := report.Build(o.store.Snapshot())
	o.clearCheckpoint(context.WithoutCancel(ctx), rep.RunID)
	return rep, nil
}

// pendingTests returns non-terminal tests whose latest attempt failed, in
// ingestion order.
func (o *Orchestrator) pendingTests() []*domain.TestExecution {
	var pending []*domain.TestExecution
	for _, exec := range o.store.Tests() {
		if exec.Terminal() {
			continue
		}
		if latest := exec.LatestAttempt(); latest != nil && latest.Outcome.Failing() {
			pending = append(pending, exec)
		}
	}
	return pending
}

// classifyPending routes unclassified failures through the gateway.
// Attempts that already carry a classification (resumed runs, synthetic
// runner-failure labels) are not re-classified.
func (o *Orchestrator) classifyPending(ctx context.Context, pending []*domain.TestExecution) error {
	var reqs []classify.Request
	for _, exec := range pending {
		latest := exec.LatestAttempt()
		if latest.Classification != nil {
			continue
		}
		o.store.SetState(exec.TestID, domain.StateClassifying)
		reqs = append(reqs, classify.Request{
			TestID:        exec.TestID,
			FailureDetail: latest.FailureDetail,
			Desc:          exec.Desc,
			FilePath:      exec.FilePath,
		})
	}
	if len(reqs) == 0 {
		return nil
	}

	results := o.cfg.Gateway.ClassifyBatch(ctx, reqs)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, req := range reqs {
		if err := o.store.SetClassification(req.TestID, results[req.TestID]); err != nil {
			return fmt.Errorf("failed to store classification: %w", err)
		}
	}
	return nil
}

// evaluate runs the policy evaluator over each pending test in ingestion
// order, finalizing the ineligible and reserving run-wide budget for the
// eligible. Sequential evaluation keeps the budget accounting atomic with
// respect to decisions.
func (o *Orchestrator) evaluate(pending []*domain.TestExecution) ([]*domain.TestExecution, error) {
	var eligible []*domain.TestExecution
	for _, exec := range pending {
		classification := exec.LatestAttempt().Classification

		switch policy.Decide(exec, classification, o.cfg.Policy, o.state) {
		case domain.DecisionRetryEligible:
			o.store.SetState(exec.TestID, domain.StateRetryEligible)
			o.state.RetriesConsumed++
			eligible = append(eligible, exec)

		case domain.DecisionNotRetryable:
			o.store.SetState(exec.TestID, domain.StateNotRetryable)
			reason := domain.ReasonNotRetryable
			if classification.Category == domain.CategoryUnknown && classification.Synthetic {
				reason = domain.ReasonUnclassifiable
			}
			if err := o.finalizeFailed(exec.TestID, reason); err != nil {
				return nil, err
			}

		case domain.DecisionBudgetExhausted:
			o.store.SetState(exec.TestID, domain.StateBudgetExhausted)
			reason := domain.ReasonBudgetExhausted
			if exec.RetryConsumed > 0 {
				reason = domain.ReasonRetriesFailed
			}
			if err := o.finalizeFailed(exec.TestID, reason); err != nil {
				return nil, err
			}
		}
	}
	return eligible, nil
}

// retryBatch re-executes all eligible tests in one runner call and records
// the resulting attempts.
func (o *Orchestrator) retryBatch(ctx context.Context, eligible []*domain.TestExecution) error {
	ids := make([]string, 0, len(eligible))
	for _, exec := range eligible {
		o.store.SetState(exec.TestID, domain.StateRetrying)
		ids = append(ids, exec.TestID)
	}

	o.log.Info("Retrying tests", "run_id", o.store.RunID(), "count", len(ids))
	metrics.RetriesIssued.Add(float64(len(ids)))

	results, err := o.cfg.Runner.Run(ctx, ids)
	if err != nil {
		// Runner-level failure: every test in the batch is errored with
		// a synthetic infrastructure label, so the next pass doesn't
		// burn a classifier call on it
		metrics.RunnerFailuresTotal.Inc()
		o.log.Warn("Runner batch failed", "run_id", o.store.RunID(), "error", err)
		results = make(map[string]runner.RunResult, len(ids))
		for _, id := range ids {
			results[id] = runner.RunResult{
				Outcome:       domain.OutcomeErrored,
				FailureDetail: fmt.Sprintf("runner batch failure: %v", err),
			}
		}
	}

	for _, exec := range eligible {
		result, ok := results[exec.TestID]
		if !ok {
			// Runner returned no verdict for this test
			result = runner.RunResult{
				Outcome:       domain.OutcomeErrored,
				FailureDetail: "runner returned no outcome for test",
			}
		}

		attempt := &domain.Attempt{
			Index:         exec.AttemptCount(),
			Outcome:       result.Outcome,
			FailureDetail: result.FailureDetail,
			DurationMs:    result.DurationMs,
		}
		if result.Outcome == domain.OutcomeErrored {
			attempt.Classification = domain.InfrastructureClassification(result.FailureDetail)
		}
		if err := o.store.RecordAttempt(exec.TestID, attempt); err != nil {
			return fmt.Errorf("failed to record retry attempt: %w", err)
		}

		if result.Outcome == domain.OutcomePassed {
			if err := o.finalizePassed(exec.TestID); err != nil {
				return err
			}
		} else {
			// Still failing: back to unclassified for the next pass
			o.store.SetState(exec.TestID, domain.StateUnclassified)
		}
	}
	return nil
}

func (o *Orchestrator) finalizePassed(testID string) error {
	if err := o.store.Finalize(testID, domain.StatusPassed, domain.ReasonPassedOnRetry); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", testID, err)
	}
	metrics.TestsFinalized.WithLabelValues(
		string(domain.StatusPassed), string(domain.ReasonPassedOnRetry)).Inc()
	return nil
}

func (o *Orchestrator) finalizeFailed(testID string, reason domain.Reason) error {
	if err := o.store.Finalize(testID, domain.StatusFailed, reason); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", testID, err)
	}
	metrics.TestsFinalized.WithLabelValues(string(domain.StatusFailed), string(reason)).Inc()
	return nil
}

// finalizeCancelled finalizes every non-terminal test as failed with the
// cancelled reason, preserving recorded progress for the report.
func (o *Orchestrator) finalizeCancelled() {
	for _, exec := range o.store.Tests() {
		if exec.Terminal() {
			continue
		}
		if err := o.finalizeFailed(exec.TestID, domain.ReasonCancelled); err != nil {
			o.log.Error("Failed to finalize cancelled test",
				"test_id", exec.TestID, "error", err)
		}
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context) {
	if o.cfg.Checkpoint == nil {
		return
	}
	if err := o.cfg.Checkpoint.Save(ctx, o.store.Snapshot()); err != nil {
		o.log.Warn("Failed to save checkpoint",
			"run_id", o.store.RunID(), "error", err)
	}
}

func (o *Orchestrator) clearCheckpoint(ctx context.Context, runID string) {
	if o.cfg.Checkpoint == nil {
		return
	}
	if err := o.cfg.Checkpoint.Clear(ctx, runID); err != nil {
		o.log.Warn("Failed to clear checkpoint", "run_id", runID, "error", err)
	}
}
