// Package control wires the triage engine's dependencies and exposes the
// application-level operations the CLI invokes.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/triage/internal/classify"
	"github.com/vietddude/triage/internal/core/config"
	"github.com/vietddude/triage/internal/core/domain"
	"github.com/vietddude/triage/internal/core/store"
	"github.com/vietddude/triage/internal/ingest"
	"github.com/vietddude/triage/internal/metrics"
	"github.com/vietddude/triage/internal/orchestrate"
	"github.com/vietddude/triage/internal/report"
	"github.com/vietddude/triage/internal/runner"

	redisclient "github.com/vietddude/triage/internal/infra/redis"
	"github.com/vietddude/triage/internal/infra/storage"
	"github.com/vietddude/triage/internal/infra/storage/memory"
	"github.com/vietddude/triage/internal/infra/storage/postgres"
)

// App holds the initialized collaborators for one process.
type App struct {
	cfg         *config.AppConfig
	checkpoints storage.CheckpointRepository
	archive     storage.RunArchive
	db          *postgres.DB
	redisClient *redisclient.Client
	server      *Server
	log         *slog.Logger
}

// New initializes storage and observability from configuration. Redis and
// PostgreSQL are both optional: without Redis, checkpoints live in memory
// (resume only works within the process); without PostgreSQL, finished
// reports are not archived.
func New(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()
	app := &App{cfg: cfg, log: log}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		app.db = db
		app.archive = postgres.NewRunRepo(db)
		log.Info("Using PostgreSQL run archive")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		app.redisClient = client
		app.checkpoints = redisclient.NewCheckpointRepo(client)
		log.Info("Using Redis checkpoints")
	} else {
		app.checkpoints = memory.NewCheckpointRepo()
		log.Info("Using in-memory checkpoints")
	}

	if cfg.Server.Port > 0 {
		app.server = NewServer(cfg.Server.Port)
	}

	return app, nil
}

// StartServer starts the metrics server if one is configured.
func (a *App) StartServer() {
	if a.server == nil {
		return
	}
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Warn("Metrics server stopped", "error", err)
		}
	}()
}

// Triage runs the full pipeline: ingest the results artifact, orchestrate
// classification and retries, emit the report. An empty runID generates
// one; an empty outputPath skips the report file.
func (a *App) Triage(ctx context.Context, inputPath, outputPath, runID string) (*domain.Report, error) {
	records, err := ingest.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("ingestion failed: %w", err)
	}
	for _, rec := range records {
		metrics.TestsIngested.WithLabelValues(string(rec.Outcome)).Inc()
	}

	if runID == "" {
		runID = uuid.NewString()
	}

	st, err := a.buildStore(ctx, runID, records)
	if err != nil {
		return nil, err
	}

	gateway := classify.NewGateway(
		classify.NewOpenAIClassifier(classify.OpenAIConfig{
			Endpoint: a.cfg.Classifier.Endpoint,
			APIKey:   a.cfg.Classifier.APIKey,
			Model:    a.cfg.Classifier.Model,
		}),
		classify.GatewayConfig{
			Concurrency: a.cfg.Classifier.Concurrency,
			Timeout:     a.cfg.Classifier.Timeout,
		},
		a.log,
	)
	testRunner := runner.NewExecRunner(runner.ExecConfig{
		Command:     a.cfg.Runner.Command,
		Workdir:     a.cfg.Runner.Workdir,
		Timeout:     a.cfg.Runner.Timeout,
		Parallelism: a.cfg.Runner.Parallelism,
	}, a.log)

	orch := orchestrate.New(st, orchestrate.Config{
		Policy:     a.cfg.Retry.Policy(),
		Gateway:    gateway,
		Runner:     testRunner,
		Checkpoint: a.checkpoints,
		Logger:     a.log,
	})

	rep, err := orch.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestration failed: %w", err)
	}

	if outputPath != "" {
		data, err := report.EncodeJSON(rep)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		a.log.Info("Report written", "path", outputPath)
	}

	if a.archive != nil {
		if err := a.archive.Archive(context.WithoutCancel(ctx), rep); err != nil {
			// Archive failure doesn't invalidate the triage result
			a.log.Warn("Failed to archive run", "run_id", rep.RunID, "error", err)
		}
	}

	return rep, nil
}

// buildStore ingests fresh records, or resumes from a checkpoint when one
// exists for the run id.
func (a *App) buildStore(ctx context.Context, runID string, records []domain.TestRecord) (*store.Store, error) {
	saved, err := a.checkpoints.Load(ctx, runID)
	if err != nil {
		a.log.Warn("Failed to load checkpoint, starting fresh", "run_id", runID, "error", err)
	}
	if saved != nil {
		a.log.Info("Resuming run from checkpoint", "run_id", runID, "tests", len(saved.Tests))
		return store.Restore(saved), nil
	}

	st := store.New(runID)
	if err := st.Ingest(records); err != nil {
		return nil, fmt.Errorf("ingestion failed: %w", err)
	}
	return st, nil
}

// History lists the most recently archived runs.
func (a *App) History(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("no database configured")
	}
	return a.archive.ListRecent(ctx, limit)
}

// Stop shuts the metrics server down and closes connections.
func (a *App) Stop(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			return err
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			return err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return err
		}
	}
	return nil
}
