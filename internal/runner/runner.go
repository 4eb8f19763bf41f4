// Package runner re-executes named test subsets through an external build
// tool. The orchestrator sees a single batch call per pass.
package runner

import (
	"context"

	"github.com/vietddude/triage/internal/core/domain"
)

// RunResult is the outcome of one re-executed test.
type RunResult struct {
	Outcome       domain.AttemptOutcome
	FailureDetail string
	DurationMs    int64
}

// Runner executes a batch of tests and reports per-test outcomes. A
// returned error is a runner-level failure covering the whole batch,
// distinct from individual tests failing.
type Runner interface {
	Run(ctx context.Context, testIDs []string) (map[string]RunResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, testIDs []string) (map[string]RunResult, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, testIDs []string) (map[string]RunResult, error) {
	return f(ctx, testIDs)
}
