package store

import (
	"errors"
	"testing"

	"github.com/vietddude/triage/internal/core/domain"
)

func ingestOne(t *testing.T, outcome domain.AttemptOutcome) *Store {
	t.Helper()
	s := New("run-1")
	err := s.Ingest([]domain.TestRecord{{
		TestID:        "com.example.T#case",
		Outcome:       outcome,
		FailureDetail: "boom",
	}})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return s
}

func TestIngest_PassedFinalizesImmediately(t *testing.T) {
	s := ingestOne(t, domain.OutcomePassed)

	exec := s.Get("com.example.T#case")
	if !exec.Terminal() {
		t.Error("Passed test should be terminal on ingestion")
	}
	if exec.FinalReason != domain.ReasonOriginalPass {
		t.Errorf("Expected reason passed, got %s", exec.FinalReason)
	}
}

func TestIngest_FailedStartsUnclassified(t *testing.T) {
	s := ingestOne(t, domain.OutcomeFailed)

	exec := s.Get("com.example.T#case")
	if exec.State != domain.StateUnclassified {
		t.Errorf("Expected unclassified, got %s", exec.State)
	}
	if exec.AttemptCount() != 1 || exec.Attempts[0].Index != 0 {
		t.Error("Expected exactly attempt 0 populated")
	}
}

func TestIngest_DuplicateTestID(t *testing.T) {
	s := New("run-1")
	err := s.Ingest([]domain.TestRecord{
		{TestID: "a#t", Outcome: domain.OutcomePassed},
		{TestID: "a#t", Outcome: domain.OutcomeFailed},
	})
	if !errors.Is(err, ErrDuplicateTestID) {
		t.Fatalf("Expected ErrDuplicateTestID, got %v", err)
	}
}

func TestRecordAttempt_ContiguousIndexEnforced(t *testing.T) {
	s := ingestOne(t, domain.OutcomeFailed)

	err := s.RecordAttempt("com.example.T#case", &domain.Attempt{
		Index: 2, Outcome: domain.OutcomeFailed,
	})
	if !errors.Is(err, ErrAttemptOutOfOrder) {
		t.Fatalf("Expected ErrAttemptOutOfOrder, got %v", err)
	}

	err = s.RecordAttempt("com.example.T#case", &domain.Attempt{
		Index: 1, Outcome: domain.OutcomePassed,
	})
	if err != nil {
		t.Fatalf("Contiguous attempt rejected: %v", err)
	}
	if s.Get("com.example.T#case").RetryConsumed != 1 {
		t.Error("Retry attempt did not count against the per-test budget")
	}
}

func TestRecordAttempt_UnknownTest(t *testing.T) {
	s := New("run-1")
	err := s.RecordAttempt("ghost#t", &domain.Attempt{Index: 0})
	if !errors.Is(err, ErrUnknownTest) {
		t.Fatalf("Expected ErrUnknownTest, got %v", err)
	}
}

func TestFinalize_Once(t *testing.T) {
	s := ingestOne(t, domain.OutcomeFailed)

	if err := s.Finalize("com.example.T#case", domain.StatusFailed, domain.ReasonNotRetryable); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	err := s.Finalize("com.example.T#case", domain.StatusFailed, domain.ReasonNotRetryable)
	if !errors.Is(err, ErrTestTerminal) {
		t.Fatalf("Expected ErrTestTerminal on double finalize, got %v", err)
	}

	err = s.RecordAttempt("com.example.T#case", &domain.Attempt{Index: 1})
	if !errors.Is(err, ErrTestTerminal) {
		t.Fatalf("Expected ErrTestTerminal for attempt after finalize, got %v", err)
	}
}

func TestSetClassification_OnlyOnFailures(t *testing.T) {
	s := ingestOne(t, domain.OutcomePassed)

	err := s.SetClassification("com.example.T#case", domain.UnknownClassification("x"))
	if err == nil {
		t.Fatal("Expected error classifying a passed attempt")
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := ingestOne(t, domain.OutcomeFailed)
	if err := s.SetClassification("com.example.T#case", domain.UnknownClassification("x")); err != nil {
		t.Fatalf("SetClassification failed: %v", err)
	}

	snap := s.Snapshot()
	snap.Tests[0].State = domain.StateFinal
	snap.Tests[0].Attempts[0].Classification.Category = domain.CategoryCodeDefect

	exec := s.Get("com.example.T#case")
	if exec.State != domain.StateUnclassified {
		t.Error("Mutating the snapshot changed the live state")
	}
	if exec.Attempts[0].Classification.Category != domain.CategoryUnknown {
		t.Error("Mutating the snapshot changed a live classification")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	s := ingestOne(t, domain.OutcomeFailed)
	if err := s.RecordAttempt("com.example.T#case", &domain.Attempt{
		Index: 1, Outcome: domain.OutcomePassed,
	}); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	restored := Restore(s.Snapshot())
	if restored.RunID() != "run-1" {
		t.Errorf("Expected run id run-1, got %s", restored.RunID())
	}
	exec := restored.Get("com.example.T#case")
	if exec == nil || exec.AttemptCount() != 2 {
		t.Fatal("Restore lost attempt history")
	}
	if exec.RetryConsumed != 1 {
		t.Errorf("Restore lost budget accounting: %d", exec.RetryConsumed)
	}
}
