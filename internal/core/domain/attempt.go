package domain

// AttemptOutcome is the result of executing a test once.
type AttemptOutcome string

const (
	OutcomePassed  AttemptOutcome = "passed"
	OutcomeFailed  AttemptOutcome = "failed"
	OutcomeErrored AttemptOutcome = "errored"
	OutcomeSkipped AttemptOutcome = "skipped"
)

// Failing reports whether the outcome should be routed to classification.
func (o AttemptOutcome) Failing() bool {
	return o == OutcomeFailed || o == OutcomeErrored
}

// Attempt is one execution of a test (index 0 = original run, >=1 = retries).
type Attempt struct {
	Index          int             `json:"index"`
	Outcome        AttemptOutcome  `json:"outcome"`
	FailureDetail  string          `json:"failure_detail,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
}

// TestRecord is one per-test record produced by the log source.
type TestRecord struct {
	TestID        string
	Outcome       AttemptOutcome
	FailureDetail string
	DurationMs    int64

	Owner    string
	Service  string
	Priority string
	Desc     string
	FilePath string
}
