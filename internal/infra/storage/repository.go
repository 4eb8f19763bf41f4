package storage

import (
	"context"
	"errors"

	"github.com/vietddude/triage/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when an archived run doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RunArchive persists finished triage reports for later inspection.
// The engine only writes; the history CLI reads.
type RunArchive interface {
	// Archive stores a finished run's report
	Archive(ctx context.Context, report *domain.Report) error

	// Get retrieves the archived report for a run
	Get(ctx context.Context, runID string) (*domain.Report, error)

	// ListRecent returns summaries of the most recently archived runs
	ListRecent(ctx context.Context, limit int) ([]*RunRecord, error)
}

// RunRecord is one row of the archive listing.
type RunRecord struct {
	RunID            string
	TotalTests       int
	PassedAfterRetry int
	Failed           int
	RetriesConsumed  int
}

// CheckpointRepository persists mid-run snapshots for idempotent resume.
type CheckpointRepository interface {
	// Save stores the run snapshot, replacing any previous checkpoint
	Save(ctx context.Context, run *domain.PipelineRun) error

	// Load retrieves the snapshot; (nil, nil) when none exists
	Load(ctx context.Context, runID string) (*domain.PipelineRun, error)

	// Clear removes the checkpoint after report emission
	Clear(ctx context.Context, runID string) error
}
