// Package report folds a run's final record state into the triage report.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/vietddude/triage/internal/core/domain"
)

// Build reconciles all attempts into the final report. It is a pure
// function of the snapshot: tests appear in ingestion order and identical
// snapshots produce identical reports.
func Build(run *domain.PipelineRun) *domain.Report {
	rep := &domain.Report{
		RunID: run.RunID,
		Tests: make([]domain.TestReport, 0, len(run.Tests)),
		Summary: domain.RunSummary{
			Total:          len(run.Tests),
			CategoryCounts: make(map[domain.Category]int),
		},
	}

	for _, exec := range run.Tests {
		tr := domain.TestReport{
			TestID:      exec.TestID,
			FinalStatus: exec.FinalStatus,
			Reason:      exec.FinalReason,
			Attempts:    make([]domain.AttemptReport, 0, len(exec.Attempts)),
		}
		for _, a := range exec.Attempts {
			tr.Attempts = append(tr.Attempts, domain.AttemptReport{
				Index:          a.Index,
				Outcome:        a.Outcome,
				FailureDetail:  a.FailureDetail,
				Classification: a.Classification,
			})
			if a.Classification != nil {
				rep.Summary.CategoryCounts[a.Classification.Category]++
			}
		}
		rep.Tests = append(rep.Tests, tr)

		rep.Summary.RetriesConsumed += exec.RetryConsumed
		tally(&rep.Summary, exec)
	}

	return rep
}

func tally(s *domain.RunSummary, exec *domain.TestExecution) {
	switch exec.FinalReason {
	case domain.ReasonOriginalPass:
		s.OriginallyPassed++
	case domain.ReasonPassedOnRetry:
		s.PassedAfterRetry++
	case domain.ReasonNotRetryable:
		s.FailedNotRetryable++
	case domain.ReasonBudgetExhausted:
		s.FailedBudgetExhausted++
	case domain.ReasonRetriesFailed:
		s.FailedAfterRetry++
	case domain.ReasonUnclassifiable:
		s.FailedUnclassifiable++
	case domain.ReasonCancelled:
		s.Cancelled++
	case domain.ReasonSkipped:
		s.Skipped++
	}
}

// EncodeJSON renders the report as indented JSON. encoding/json sorts map
// keys, so identical reports serialize byte-identically.
func EncodeJSON(rep *domain.Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}
