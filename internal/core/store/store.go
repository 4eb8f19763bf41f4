// Package store holds the in-memory execution record for one pipeline run.
//
// The store is owned by the single orchestrator goroutine for the run's
// lifetime; Snapshot returns deep copies so readers never observe a
// mutation in progress.
package store

import (
	"errors"
	"fmt"

	"github.com/vietddude/triage/internal/core/domain"
)

var (
	// ErrDuplicateTestID is returned when the log source yields two
	// records with the same test id.
	ErrDuplicateTestID = errors.New("duplicate test id")

	// ErrUnknownTest is returned when an attempt targets a test id that
	// was never ingested.
	ErrUnknownTest = errors.New("unknown test id")

	// ErrAttemptOutOfOrder is returned when an attempt index would break
	// the contiguous-from-zero invariant.
	ErrAttemptOutOfOrder = errors.New("attempt index out of order")

	// ErrTestTerminal is returned when an attempt is recorded against a
	// test that already reached a final state.
	ErrTestTerminal = errors.New("test already terminal")
)

// Store materializes one PipelineRun and enforces its attempt invariants.
type Store struct {
	run   *domain.PipelineRun
	index map[string]*domain.TestExecution
}

// New creates an empty store for the given run id.
func New(runID string) *Store {
	return &Store{
		run:   &domain.PipelineRun{RunID: runID},
		index: make(map[string]*domain.TestExecution),
	}
}

// RunID returns the idempotency scope of this store.
func (s *Store) RunID() string {
	return s.run.RunID
}

// Ingest materializes one TestExecution per record with attempt 0 populated.
// Records arriving with a passing or skipped outcome are finalized
// immediately; failing outcomes start in the unclassified state.
func (s *Store) Ingest(records []domain.TestRecord) error {
	for _, rec := range records {
		if _, ok := s.index[rec.TestID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTestID, rec.TestID)
		}

		exec := &domain.TestExecution{
			TestID:   rec.TestID,
			Owner:    rec.Owner,
			Service:  rec.Service,
			Priority: rec.Priority,
			Desc:     rec.Desc,
			FilePath: rec.FilePath,
			Attempts: []*domain.Attempt{{
				Index:         0,
				Outcome:       rec.Outcome,
				FailureDetail: rec.FailureDetail,
				DurationMs:    rec.DurationMs,
			}},
		}

		switch rec.Outcome {
		case domain.OutcomePassed:
			exec.State = domain.StateFinal
			exec.FinalStatus = domain.StatusPassed
			exec.FinalReason = domain.ReasonOriginalPass
		case domain.OutcomeSkipped:
			exec.State = domain.StateFinal
			exec.FinalStatus = domain.StatusSkipped
			exec.FinalReason = domain.ReasonSkipped
		default:
			exec.State = domain.StateUnclassified
		}

		s.run.Tests = append(s.run.Tests, exec)
		s.index[rec.TestID] = exec
	}
	return nil
}

// RecordAttempt appends an attempt to a test, enforcing the contiguous
// index invariant and the no-attempts-after-termination invariant.
func (s *Store) RecordAttempt(testID string, attempt *domain.Attempt) error {
	exec, ok := s.index[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	if exec.Terminal() {
		return fmt.Errorf("%w: %s", ErrTestTerminal, testID)
	}
	if attempt.Index != len(exec.Attempts) {
		return fmt.Errorf("%w: %s got %d want %d",
			ErrAttemptOutOfOrder, testID, attempt.Index, len(exec.Attempts))
	}

	exec.Attempts = append(exec.Attempts, attempt)
	if attempt.Index >= 1 {
		exec.RetryConsumed++
	}
	return nil
}

// SetClassification attaches a classification to the latest attempt of a
// test. Passed attempts never receive one.
func (s *Store) SetClassification(testID string, c *domain.Classification) error {
	exec, ok := s.index[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	latest := exec.LatestAttempt()
	if latest == nil || !latest.Outcome.Failing() {
		return fmt.Errorf("classify %s: latest attempt is not a failure", testID)
	}
	latest.Classification = c
	return nil
}

// SetState transitions a test's lifecycle state.
func (s *Store) SetState(testID string, state domain.TestState) error {
	exec, ok := s.index[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	exec.State = state
	return nil
}

// Finalize moves a test to its terminal state. Finalizing twice is an error.
func (s *Store) Finalize(testID string, status domain.TestStatus, reason domain.Reason) error {
	exec, ok := s.index[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	if exec.Terminal() {
		return fmt.Errorf("%w: %s", ErrTestTerminal, testID)
	}
	exec.State = domain.StateFinal
	exec.FinalStatus = status
	exec.FinalReason = reason
	return nil
}

// Get returns the live record for a test id, or nil.
func (s *Store) Get(testID string) *domain.TestExecution {
	return s.index[testID]
}

// Tests returns the live records in ingestion order.
func (s *Store) Tests() []*domain.TestExecution {
	return s.run.Tests
}

// AllTerminal reports whether every ingested test reached a final state.
func (s *Store) AllTerminal() bool {
	for _, exec := range s.run.Tests {
		if !exec.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the run in ingestion order.
func (s *Store) Snapshot() *domain.PipelineRun {
	out := &domain.PipelineRun{
		RunID: s.run.RunID,
		Tests: make([]*domain.TestExecution, 0, len(s.run.Tests)),
	}
	for _, exec := range s.run.Tests {
		out.Tests = append(out.Tests, copyExecution(exec))
	}
	return out
}

// Restore replaces the store's contents with a previously captured
// snapshot. Used to resume a run from a checkpoint.
func Restore(run *domain.PipelineRun) *Store {
	s := New(run.RunID)
	for _, exec := range run.Tests {
		cp := copyExecution(exec)
		s.run.Tests = append(s.run.Tests, cp)
		s.index[cp.TestID] = cp
	}
	return s
}

func copyExecution(exec *domain.TestExecution) *domain.TestExecution {
	cp := *exec
	cp.Attempts = make([]*domain.Attempt, 0, len(exec.Attempts))
	for _, a := range exec.Attempts {
		ac := *a
		if a.Classification != nil {
			cc := *a.Classification
			if a.Classification.Signals != nil {
				cc.Signals = append([]string(nil), a.Classification.Signals...)
			}
			ac.Classification = &cc
		}
		cp.Attempts = append(cp.Attempts, &ac)
	}
	return &cp
}
