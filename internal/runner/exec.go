package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/triage/internal/core/domain"
)

// selectorPlaceholder is substituted with the test id in each command
// template element.
const selectorPlaceholder = "{test_selector}"

// outputTailBytes bounds how much command output is kept as failure detail.
const outputTailBytes = 2000

// ExecConfig holds the command template and execution limits.
type ExecConfig struct {
	// Command is the template, e.g. ["mvn", "-q", "-Dtest={test_selector}", "test"].
	Command []string
	// Workdir is the directory the command runs in.
	Workdir string
	// Timeout applies to each command invocation.
	Timeout time.Duration
	// Parallelism bounds concurrent command invocations within a batch.
	Parallelism int
}

// ExecRunner implements Runner by invoking the configured command once per
// test selector inside a batch.
type ExecRunner struct {
	cfg ExecConfig
	log *slog.Logger
}

// NewExecRunner creates an exec-based runner.
func NewExecRunner(cfg ExecConfig, log *slog.Logger) *ExecRunner {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"mvn", "-q", "-Dtest=" + selectorPlaceholder, "test"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExecRunner{cfg: cfg, log: log}
}

// Run executes the batch. Non-zero exits are test failures; a command that
// cannot be spawned, or batch cancellation, is a runner-level failure.
func (r *ExecRunner) Run(ctx context.Context, testIDs []string) (map[string]RunResult, error) {
	results := make(map[string]RunResult, len(testIDs))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.Parallelism)
	for _, testID := range testIDs {
		group.Go(func() error {
			result, err := r.runOne(groupCtx, testID)
			if err != nil {
				return err
			}
			mu.Lock()
			results[testID] = result
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("runner batch failed: %w", err)
	}
	return results, nil
}

func (r *ExecRunner) runOne(ctx context.Context, testID string) (RunResult, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := make([]string, 0, len(r.cfg.Command))
	for _, part := range r.cfg.Command {
		args = append(args, strings.ReplaceAll(part, selectorPlaceholder, testID))
	}

	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = r.cfg.Workdir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.log.Debug("Executing retry command", "test_id", testID, "command", strings.Join(args, " "))
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if err == nil {
		return RunResult{Outcome: domain.OutcomePassed, DurationMs: duration}, nil
	}

	// Per-command timeout is an infrastructure-level failure of this one
	// test, not of the batch
	if cmdCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return RunResult{
			Outcome:       domain.OutcomeErrored,
			FailureDetail: fmt.Sprintf("runner timeout after %s", r.cfg.Timeout),
			DurationMs:    duration,
		}, nil
	}
	// Batch cancellation covers the whole pass
	if ctx.Err() != nil {
		return RunResult{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return RunResult{
			Outcome:       domain.OutcomeFailed,
			FailureDetail: outputTail(output.Bytes()),
			DurationMs:    duration,
		}, nil
	}

	// Spawn failure (command not found, permission denied): the runner
	// itself is broken, fail the batch
	return RunResult{}, fmt.Errorf("failed to execute %q: %w", args[0], err)
}

func outputTail(out []byte) string {
	if len(out) > outputTailBytes {
		out = out[len(out)-outputTailBytes:]
	}
	return strings.TrimSpace(string(out))
}
