// Package policy decides retry eligibility. Decide is a pure function so
// budget semantics can be tested without the orchestrator.
package policy

import (
	"github.com/vietddude/triage/internal/core/domain"
)

// Decide evaluates one classified failure against the retry policy and the
// run-wide budget state.
//
// The per-test budget is checked before the run-wide budget so that a test
// exhausting its own quota is never misreported as blocked by the run
// budget.
func Decide(
	exec *domain.TestExecution,
	classification *domain.Classification,
	p domain.RetryPolicy,
	state domain.PolicyState,
) domain.Decision {
	if exec.AttemptCount() >= p.MaxAttemptsPerTest {
		return domain.DecisionBudgetExhausted
	}
	if state.RetriesConsumed >= p.MaxTotalRetries {
		return domain.DecisionBudgetExhausted
	}

	switch p.OverrideFor(classification.Category) {
	case domain.OverrideNever:
		return domain.DecisionNotRetryable
	case domain.OverrideAlways:
		return domain.DecisionRetryEligible
	}

	if classification.Retryable {
		return domain.DecisionRetryEligible
	}
	return domain.DecisionNotRetryable
}
