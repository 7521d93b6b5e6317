// Package workflow is a small durable-workflow runtime over SQLite. A
// workflow is a deterministic function that performs side effects only
// through named activities; every activity result is journaled, so a
// restarted worker replays the journal and resumes where it left off
// instead of re-running completed work.
package workflow

import (
	"errors"
	"time"
)

// Run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Sentinel errors.
var (
	// ErrAlreadyStarted is returned by Start when a run with the same id
	// already exists. Start is idempotent per run id.
	ErrAlreadyStarted = errors.New("workflow already started")

	// ErrCancelled aborts a workflow when Cancel has been requested.
	ErrCancelled = errors.New("workflow cancelled")

	// ErrNotFound is returned for unknown run ids.
	ErrNotFound = errors.New("workflow run not found")
)

// RetryPolicy controls activity retries with exponential backoff.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// DefaultRetryPolicy matches the ingestion stages' retry shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	}
}

// ActivityOptions bound one activity execution.
type ActivityOptions struct {
	// StartToCloseTimeout bounds a single attempt.
	StartToCloseTimeout time.Duration

	// Retry governs repeat attempts. A zero MaximumAttempts means one
	// attempt, no retries.
	Retry RetryPolicy
}

// Run is the persisted state of one workflow execution.
type Run struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Status    string    `json:"status"`
	Input     []byte    `json:"input,omitempty"`
	Result    []byte    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	State     []byte    `json:"state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
