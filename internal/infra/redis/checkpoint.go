package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/triage/internal/core/domain"
)

// checkpointTTL bounds how long an abandoned run's state survives.
const checkpointTTL = 24 * time.Hour

// CheckpointRepo persists per-pass run snapshots so a re-invoked
// orchestrator resumes instead of re-classifying.
type CheckpointRepo struct {
	rdb *redis.Client
}

// NewCheckpointRepo creates a Redis-backed checkpoint repository.
func NewCheckpointRepo(client *Client) *CheckpointRepo {
	return &CheckpointRepo{rdb: client.rdb}
}

func checkpointKey(runID string) string {
	return fmt.Sprintf("triage:checkpoint:%s", runID)
}

// Save stores the run snapshot, replacing any previous checkpoint.
func (r *CheckpointRepo) Save(ctx context.Context, run *domain.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := r.rdb.Set(ctx, checkpointKey(run.RunID), data, checkpointTTL).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the snapshot for a run. Returns (nil, nil) when no
// checkpoint exists.
func (r *CheckpointRepo) Load(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	data, err := r.rdb.Get(ctx, checkpointKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var run domain.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &run, nil
}

// Clear removes the checkpoint once the report has been emitted.
func (r *CheckpointRepo) Clear(ctx context.Context, runID string) error {
	if err := r.rdb.Del(ctx, checkpointKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
