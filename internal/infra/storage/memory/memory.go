// Package memory provides in-process implementations of the storage
// repositories, used when no external store is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// CheckpointRepo implements storage.CheckpointRepository in memory.
type CheckpointRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.PipelineRun
}

// NewCheckpointRepo creates an in-memory checkpoint repository.
func NewCheckpointRepo() *CheckpointRepo {
	return &CheckpointRepo{runs: make(map[string]*domain.PipelineRun)}
}

// Save stores the run snapshot.
func (r *CheckpointRepo) Save(ctx context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	return nil
}

// Load retrieves the snapshot; (nil, nil) when none exists.
func (r *CheckpointRepo) Load(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runID], nil
}

// Clear removes the checkpoint.
func (r *CheckpointRepo) Clear(ctx context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	return nil
}

// RunRepo implements storage.RunArchive in memory.
type RunRepo struct {
	mu      sync.Mutex
	reports map[string]*domain.Report
	order   []string
}

// NewRunRepo creates an in-memory run archive.
func NewRunRepo() *RunRepo {
	return &RunRepo{reports: make(map[string]*domain.Report)}
}

// Archive stores a finished run's report.
func (r *RunRepo) Archive(ctx context.Context, report *domain.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[report.RunID]; !ok {
		r.order = append(r.order, report.RunID)
	}
	r.reports[report.RunID] = report
	return nil
}

// Get retrieves the archived report for a run.
func (r *RunRepo) Get(ctx context.Context, runID string) (*domain.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[runID]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	return report, nil
}

// ListRecent returns summaries of the most recently archived runs.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*storage.RunRecord, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(records) < limit; i-- {
		rep := r.reports[r.order[i]]
		s := rep.Summary
		records = append(records, &storage.RunRecord{
			RunID:            rep.RunID,
			TotalTests:       s.Total,
			PassedAfterRetry: s.PassedAfterRetry,
			Failed:           s.FailedNotRetryable + s.FailedBudgetExhausted + s.FailedAfterRetry,
			RetriesConsumed:  s.RetriesConsumed,
		})
	}
	return records, nil
}
