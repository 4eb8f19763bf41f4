package domain

// CategoryOverride is the per-category policy knob.
type CategoryOverride string

const (
	// OverrideAlways forces a retry regardless of the retryable flag.
	OverrideAlways CategoryOverride = "always"
	// OverrideNever forbids a retry regardless of the retryable flag.
	OverrideNever CategoryOverride = "never"
	// OverrideDefer defers to the classifier's retryable flag.
	OverrideDefer CategoryOverride = "defer"
)

// RetryPolicy is the configured retry budget for a run.
type RetryPolicy struct {
	// MaxAttemptsPerTest counts the original run, so 2 means one retry.
	MaxAttemptsPerTest int `yaml:"max_attempts_per_test"`
	// MaxTotalRetries caps retries across the whole run.
	MaxTotalRetries int `yaml:"max_total_retries"`
	// CategoryOverrides maps a category to always/never/defer.
	CategoryOverrides map[Category]CategoryOverride `yaml:"category_overrides"`
}

// OverrideFor returns the override for a category, defaulting to defer.
func (p RetryPolicy) OverrideFor(c Category) CategoryOverride {
	if o, ok := p.CategoryOverrides[c]; ok {
		return o
	}
	return OverrideDefer
}

// Decision is the policy evaluator's verdict for one test.
type Decision string

const (
	DecisionRetryEligible   Decision = "retry_eligible"
	DecisionNotRetryable    Decision = "not_retryable"
	DecisionBudgetExhausted Decision = "budget_exhausted"
)

// PolicyState carries the run-wide budget consumption between evaluator
// calls. The orchestrator owns the single authoritative copy.
type PolicyState struct {
	RetriesConsumed int `json:"retries_consumed"`
}
