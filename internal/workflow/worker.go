package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultPollInterval is how often the worker looks for runnable work.
const DefaultPollInterval = time.Second

// Worker polls the engine for runnable workflows and executes them. One
// worker process drives many concurrent workflows, each single-threaded.
type Worker struct {
	engine       *Engine
	concurrency  int64
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewWorker creates a worker over the engine.
func NewWorker(engine *Engine, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine:       engine,
		concurrency:  int64(concurrency),
		pollInterval: DefaultPollInterval,
		logger:       logger,
		inFlight:     make(map[string]bool),
	}
}

// Run polls until ctx is cancelled, executing claimed workflows and firing
// due cron schedules.
func (w *Worker) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(w.concurrency)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		w.fireCrons(ctx)

		w.mu.Lock()
		snapshot := make(map[string]bool, len(w.inFlight))
		ids := make([]string, 0, len(w.inFlight))
		for id := range w.inFlight {
			snapshot[id] = true
			ids = append(ids, id)
		}
		w.mu.Unlock()

		if err := w.engine.renewLeases(ctx, ids); err != nil {
			w.logger.Warn("worker_lease_renew_failed", slog.String("error", err.Error()))
		}

		runs, err := w.engine.claimQueued(ctx, snapshot, int(w.concurrency))
		if err != nil {
			w.logger.Error("worker_claim_failed", slog.String("error", err.Error()))
			continue
		}

		for _, run := range runs {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			w.mu.Lock()
			w.inFlight[run.ID] = true
			w.mu.Unlock()

			wg.Add(1)
			go func(run *Run) {
				defer wg.Done()
				defer sem.Release(1)
				defer func() {
					w.mu.Lock()
					delete(w.inFlight, run.ID)
					w.mu.Unlock()
				}()
				w.execute(ctx, run)
			}(run)
		}
	}
}

// RunOnce drains currently runnable work synchronously. Used by tests and
// the one-shot worker mode. Claims are not renewed while it executes, so
// journal-sharing deployments should use Run.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.fireCrons(ctx)
	for {
		runs, err := w.engine.claimQueued(ctx, nil, int(w.concurrency))
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		for _, run := range runs {
			w.execute(ctx, run)
		}
	}
}

func (w *Worker) execute(ctx context.Context, run *Run) {
	w.engine.mu.RLock()
	fn, known := w.engine.workflows[run.Workflow]
	w.engine.mu.RUnlock()
	if !known {
		_ = w.engine.setRunStatus(ctx, run.ID, RunFailed,
			fmt.Sprintf("unknown workflow %q", run.Workflow), nil)
		return
	}

	w.logger.Info("workflow_started",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.ID))

	wctx := &Context{ctx: ctx, engine: w.engine, runID: run.ID, input: run.Input}
	err := fn(wctx)

	switch {
	case err == nil:
		if err := w.engine.setRunStatus(ctx, run.ID, RunCompleted, "", nil); err != nil {
			w.logger.Error("workflow_status_update_failed", slog.String("error", err.Error()))
		}
		w.logger.Info("workflow_completed",
			slog.String("workflow", run.Workflow),
			slog.String("run_id", run.ID))
	case errors.Is(err, ErrCancelled):
		_ = w.engine.setRunStatus(ctx, run.ID, RunCancelled, "cancelled", nil)
		w.logger.Info("workflow_cancelled",
			slog.String("workflow", run.Workflow),
			slog.String("run_id", run.ID))
	default:
		_ = w.engine.setRunStatus(ctx, run.ID, RunFailed, err.Error(), nil)
		w.logger.Error("workflow_failed",
			slog.String("workflow", run.Workflow),
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
}

// fireCrons enqueues cron workflows whose current window has no run yet.
// The run id embeds the window start, so duplicate triggers deduplicate
// through Start's conflict handling.
func (w *Worker) fireCrons(ctx context.Context) {
	w.engine.mu.RLock()
	crons := make([]cronSchedule, len(w.engine.crons))
	copy(crons, w.engine.crons)
	w.engine.mu.RUnlock()

	for _, cron := range crons {
		window := w.engine.now().UTC().Truncate(cron.interval)
		runID := fmt.Sprintf("%s-%s", cron.workflow, window.Format("20060102T150405"))
		err := w.engine.Start(ctx, cron.workflow, runID, json.RawMessage(`{}`))
		if err != nil && !errors.Is(err, ErrAlreadyStarted) {
			w.logger.Error("cron_enqueue_failed",
				slog.String("workflow", cron.workflow),
				slog.String("error", err.Error()))
		}
	}
}
