package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askrepo/askrepo/internal/store"
)

// DefaultLeaseDuration is how long a claimed run stays owned without
// renewal. A worker renews on every poll; a lapsed lease marks the owner
// as dead and frees the run for re-claim.
const DefaultLeaseDuration = time.Minute

// Func is workflow code. It must be deterministic: all side effects, clock
// reads, and random values go through the Context.
type Func func(wctx *Context) error

// ActivityFunc is a unit of side-effecting work. Input and output travel
// as JSON through the journal.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Engine registers workflows and activities and persists runs plus their
// activity journals in SQLite.
type Engine struct {
	mu         sync.RWMutex
	db         *sql.DB
	workflows  map[string]Func
	activities map[string]ActivityFunc
	crons      []cronSchedule
	logger     *slog.Logger
	now        func() time.Time

	// owner identifies this engine instance in the runs table, so
	// several processes can share one journal database.
	owner string
	lease time.Duration
}

type cronSchedule struct {
	workflow string
	interval time.Duration
}

// NewEngine opens the engine's database at path. An empty path opens an
// in-memory engine for testing.
func NewEngine(path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:         db,
		workflows:  make(map[string]Func),
		activities: make(map[string]ActivityFunc),
		logger:     logger,
		now:        time.Now,
		owner:      uuid.NewString(),
		lease:      DefaultLeaseDuration,
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return e, nil
}

func (e *Engine) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		input BLOB,
		result BLOB,
		error TEXT NOT NULL DEFAULT '',
		state BLOB,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		owner TEXT NOT NULL DEFAULT '',
		lease_expires_at INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS journal (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		output BLOB,
		error TEXT NOT NULL DEFAULT '',
		completed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	_, err := e.db.Exec(schema)
	return err
}

// RegisterWorkflow binds a workflow name to its function.
func (e *Engine) RegisterWorkflow(name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = fn
}

// RegisterActivity binds an activity name to its function.
func (e *Engine) RegisterActivity(name string, fn ActivityFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = fn
}

// RegisterCron schedules a workflow to run at the given interval. The run
// id derives from the workflow name and the interval window, so repeated
// triggers within one window deduplicate.
func (e *Engine) RegisterCron(workflow string, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crons = append(e.crons, cronSchedule{workflow: workflow, interval: interval})
}

// Start enqueues a run. Input is marshalled to JSON. A second Start with
// the same run id returns ErrAlreadyStarted regardless of the run's state.
func (e *Engine) Start(ctx context.Context, workflow, runID string, input any) error {
	e.mu.RLock()
	_, known := e.workflows[workflow]
	e.mu.RUnlock()
	if !known {
		return fmt.Errorf("unknown workflow %q", workflow)
	}

	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal workflow input: %w", err)
	}

	now := e.now().UTC()
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, workflow, status, input, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING`,
		runID, workflow, RunQueued, encoded, now, now)
	if err != nil {
		return fmt.Errorf("enqueue workflow run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyStarted
	}

	e.logger.Info("workflow_enqueued",
		slog.String("workflow", workflow),
		slog.String("run_id", runID))
	return nil
}

// Cancel requests a best-effort cancellation. A queued run is cancelled
// immediately; a running run stops at its next activity boundary.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	now := e.now().UTC()
	res, err := e.db.ExecContext(ctx, `
		UPDATE runs SET cancel_requested = 1,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE run_id = ? AND status IN (?, ?)`,
		RunQueued, RunCancelled, now, runID, RunQueued, RunRunning)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns the persisted run record.
func (e *Engine) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := e.db.QueryRowContext(ctx, `
		SELECT run_id, workflow, status, input, result, error, state, created_at, updated_at
		FROM runs WHERE run_id = ?`, runID).Scan(
		&run.ID, &run.Workflow, &run.Status, &run.Input, &run.Result,
		&run.Error, &run.State, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetState unmarshals the run's mutable status record into out. A run
// that never set state leaves out untouched and returns false.
func (e *Engine) GetState(ctx context.Context, runID string, out any) (bool, error) {
	run, err := e.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if len(run.State) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(run.State, out)
}

func (e *Engine) setRunStatus(ctx context.Context, runID, status, errMsg string, result []byte) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, result = ?, updated_at = ?
		WHERE run_id = ?`,
		status, errMsg, result, e.now().UTC(), runID)
	return err
}

func (e *Engine) setRunState(ctx context.Context, runID string, state []byte) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, updated_at = ? WHERE run_id = ?`,
		state, e.now().UTC(), runID)
	return err
}

func (e *Engine) cancelRequested(ctx context.Context, runID string) (bool, error) {
	var flag int
	err := e.db.QueryRowContext(ctx,
		"SELECT cancel_requested FROM runs WHERE run_id = ?", runID).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return flag == 1, nil
}

// journalEntry is one recorded activity result.
type journalEntry struct {
	name   string
	output []byte
	errMsg string
}

func (e *Engine) readJournal(ctx context.Context, runID string, seq int) (*journalEntry, error) {
	var entry journalEntry
	err := e.db.QueryRowContext(ctx,
		"SELECT name, output, error FROM journal WHERE run_id = ? AND seq = ?",
		runID, seq).Scan(&entry.name, &entry.output, &entry.errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (e *Engine) writeJournal(ctx context.Context, runID string, seq int, entry *journalEntry) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO journal (run_id, seq, name, output, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, seq) DO NOTHING`,
		runID, seq, entry.name, entry.output, entry.errMsg, e.now().UTC())
	return err
}

// claimQueued moves up to limit runnable runs to running under this
// engine's lease and returns them. A run marked running is claimable only
// once its lease has lapsed (a crashed worker); runs held by a live peer
// stay invisible. Each claim is a conditional update, so concurrent
// claimants racing on the same row get it at most once.
func (e *Engine) claimQueued(ctx context.Context, inFlight map[string]bool, limit int) ([]*Run, error) {
	now := e.now().UTC()
	rows, err := e.db.QueryContext(ctx, `
		SELECT run_id, workflow, status, input FROM runs
		WHERE cancel_requested = 0
		  AND (status = ? OR (status = ? AND lease_expires_at <= ?))
		ORDER BY created_at ASC`, RunQueued, RunRunning, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var candidates []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Workflow, &run.Status, &run.Input); err != nil {
			return nil, err
		}
		if inFlight[run.ID] {
			continue
		}
		candidates = append(candidates, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*Run
	for _, run := range candidates {
		res, err := e.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE run_id = ? AND cancel_requested = 0
			  AND (status = ? OR (status = ? AND lease_expires_at <= ?))`,
			RunRunning, e.owner, now.Add(e.lease).UnixMilli(), now,
			run.ID, RunQueued, RunRunning, now.UnixMilli())
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			continue // a peer won the race
		}
		claimed = append(claimed, run)
		if len(claimed) == limit {
			break
		}
	}
	return claimed, nil
}

// renewLeases extends this engine's claim on the given runs. A run whose
// lapsed lease a peer already took over is left alone.
func (e *Engine) renewLeases(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := e.now().UTC()
	placeholders := make([]string, len(ids))
	args := []any{now.Add(e.lease).UnixMilli(), now, e.owner, RunRunning}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := e.db.ExecContext(ctx, `
		UPDATE runs SET lease_expires_at = ?, updated_at = ?
		WHERE owner = ? AND status = ?
		  AND run_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

// Close closes the engine's database.
func (e *Engine) Close() error {
	return e.db.Close()
}
