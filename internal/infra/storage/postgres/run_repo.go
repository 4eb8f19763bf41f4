package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/infra/storage"
)

// RunRepo implements storage.RunArchive using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run archive.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Archive stores a finished run's report. The full report is kept as JSON
// alongside the summary columns so Get can reproduce it byte-for-byte.
func (r *RunRepo) Archive(ctx context.Context, report *domain.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	runQuery := `
		INSERT INTO triage_runs
			(run_id, total_tests, originally_passed, passed_after_retry,
			 failed_not_retryable, failed_budget_exhausted, failed_after_retry,
			 skipped, retries_consumed, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (run_id) DO UPDATE SET report = EXCLUDED.report
	`
	s := report.Summary
	if _, err := tx.ExecContext(ctx, runQuery,
		report.RunID, s.Total, s.OriginallyPassed, s.PassedAfterRetry,
		s.FailedNotRetryable, s.FailedBudgetExhausted, s.FailedAfterRetry,
		s.Skipped, s.RetriesConsumed, reportJSON,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	testQuery := `
		INSERT INTO triage_tests (run_id, test_id, final_status, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, test_id) DO UPDATE SET
			final_status = EXCLUDED.final_status,
			reason = EXCLUDED.reason
	`
	attemptQuery := `
		INSERT INTO triage_attempts
			(run_id, test_id, attempt_index, outcome, category, retryable, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, test_id, attempt_index) DO NOTHING
	`
	for _, test := range report.Tests {
		if _, err := tx.ExecContext(ctx, testQuery,
			report.RunID, test.TestID, string(test.FinalStatus), string(test.Reason),
		); err != nil {
			return fmt.Errorf("failed to insert test %s: %w", test.TestID, err)
		}
		for _, a := range test.Attempts {
			var category sql.NullString
			var retryable sql.NullBool
			var confidence sql.NullFloat64
			if a.Classification != nil {
				category = sql.NullString{String: string(a.Classification.Category), Valid: true}
				retryable = sql.NullBool{Bool: a.Classification.Retryable, Valid: true}
				confidence = sql.NullFloat64{Float64: a.Classification.Confidence, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, attemptQuery,
				report.RunID, test.TestID, a.Index, string(a.Outcome),
				category, retryable, confidence,
			); err != nil {
				return fmt.Errorf("failed to insert attempt %s#%d: %w", test.TestID, a.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	return nil
}

// Get retrieves the archived report for a run.
func (r *RunRepo) Get(ctx context.Context, runID string) (*domain.Report, error) {
	query := `SELECT report FROM triage_runs WHERE run_id = $1`

	var data []byte
	err := r.db.GetContext(ctx, &data, query, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// ListRecent returns summaries of the most recently archived runs.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	query := `
		SELECT run_id, total_tests, passed_after_retry,
		       failed_not_retryable + failed_budget_exhausted + failed_after_retry AS failed,
		       retries_consumed
		FROM triage_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	var rows []struct {
		RunID            string `db:"run_id"`
		TotalTests       int    `db:"total_tests"`
		PassedAfterRetry int    `db:"passed_after_retry"`
		Failed           int    `db:"failed"`
		RetriesConsumed  int    `db:"retries_consumed"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	records := make([]*storage.RunRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &storage.RunRecord{
			RunID:            row.RunID,
			TotalTests:       row.TotalTests,
			PassedAfterRetry: row.PassedAfterRetry,
			Failed:           row.Failed,
			RetriesConsumed:  row.RetriesConsumed,
		})
	}
	return records, nil
}
