package domain

// PipelineRun represents one pipeline invocation under triage.
type PipelineRun struct {
	RunID string           `json:"run_id"`
	Tests []*TestExecution `json:"tests"`
}

// TestExecution represents one logical test within a run.
type TestExecution struct {
	TestID        string     `json:"test_id"`
	Attempts      []*Attempt `json:"attempts"`
	State         TestState  `json:"state"`
	FinalStatus   TestStatus `json:"final_status,omitempty"`
	FinalReason   Reason     `json:"final_reason,omitempty"`
	RetryConsumed int        `json:"retry_consumed"`

	// Descriptive fields carried over from the listener record.
	Owner    string `json:"owner,omitempty"`
	Service  string `json:"service,omitempty"`
	Priority string `json:"priority,omitempty"`
	Desc     string `json:"desc,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// TestState is the orchestrator lifecycle state of a test.
type TestState string

const (
	StateUnclassified    TestState = "unclassified"
	StateClassifying     TestState = "classifying"
	StateRetryEligible   TestState = "retry_eligible"
	StateNotRetryable    TestState = "not_retryable"
	StateBudgetExhausted TestState = "budget_exhausted"
	StateRetrying        TestState = "retrying"
	StateFinal           TestState = "final"
)

// TestStatus is the final verdict for a test.
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
)

// Reason explains how a test reached its final status.
type Reason string

const (
	ReasonOriginalPass    Reason = "passed"
	ReasonPassedOnRetry   Reason = "passed_on_retry"
	ReasonNotRetryable    Reason = "not_retryable"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonRetriesFailed   Reason = "failed_after_retry"
	ReasonUnclassifiable  Reason = "unclassifiable"
	ReasonCancelled       Reason = "cancelled"
	ReasonSkipped         Reason = "skipped"
)

// Terminal reports whether the test has reached its final state.
func (t *TestExecution) Terminal() bool {
	return t.State == StateFinal
}

// LatestAttempt returns the most recent attempt, or nil if none recorded.
func (t *TestExecution) LatestAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return t.Attempts[len(t.Attempts)-1]
}

// AttemptCount returns the number of recorded attempts (original included).
func (t *TestExecution) AttemptCount() int {
	return len(t.Attempts)
}
