package domain

// Report is the reconciled outcome of a triaged run. It is a pure function
// of the final record store state: no timestamps, no environment data, so
// identical store states yield byte-identical JSON.
type Report struct {
	RunID   string       `json:"run_id"`
	Tests   []TestReport `json:"tests"`
	Summary RunSummary   `json:"summary"`
}

// TestReport is the per-test section of the report, in ingestion order.
type TestReport struct {
	TestID      string          `json:"test_id"`
	FinalStatus TestStatus      `json:"final_status"`
	Reason      Reason          `json:"reason"`
	Attempts    []AttemptReport `json:"attempts"`
}

// AttemptReport is one attempt with its classification trail.
type AttemptReport struct {
	Index          int             `json:"index"`
	Outcome        AttemptOutcome  `json:"outcome"`
	FailureDetail  string          `json:"failure_detail,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
}

// RunSummary aggregates the run.
type RunSummary struct {
	Total                 int              `json:"total"`
	OriginallyPassed      int              `json:"originally_passed"`
	PassedAfterRetry      int              `json:"passed_after_retry"`
	FailedNotRetryable    int              `json:"failed_not_retryable"`
	FailedBudgetExhausted int              `json:"failed_budget_exhausted"`
	FailedAfterRetry      int              `json:"failed_after_retry"`
	FailedUnclassifiable  int              `json:"failed_unclassifiable"`
	Cancelled             int              `json:"cancelled"`
	Skipped               int              `json:"skipped"`
	RetriesConsumed       int              `json:"retries_consumed"`
	CategoryCounts        map[Category]int `json:"category_counts"`
}
