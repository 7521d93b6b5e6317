// Package ingest turns an uploaded codebase into indexed chunks via a
// durable workflow: validate, acquire, parse+redact+chunk, secret report,
// embed+index. Each stage is an activity with its own timeout and retry
// policy, so a crashed worker resumes instead of starting over.
package ingest

import (
	"time"

	"github.com/askrepo/askrepo/internal/workflow"
)

// Workflow and activity names.
const (
	WorkflowIngest       = "ingest_codebase"
	WorkflowSessionSweep = "session_cleanup"

	ActivityValidate      = "validate_source"
	ActivityAcquire       = "acquire_source"
	ActivityParseChunk    = "parse_and_chunk"
	ActivityScanSecrets   = "scan_secrets"
	ActivityEmbedIndex    = "embed_and_index"
	ActivityUpdateStatus  = "update_codebase_status"
	ActivitySweepSessions = "sweep_sessions"
)

// Pipeline steps, surfaced in status records.
const (
	StepValidate   = "validate"
	StepAcquire    = "acquire"
	StepParse      = "parse"
	StepSecretScan = "secret_scan"
	StepEmbed      = "embed"
	StepIndex      = "index"
	StepDone       = "completed"
	StepFailed     = "failed"
)

// Input starts one ingestion run.
type Input struct {
	CodebaseID  string `json:"codebase_id"`
	SourceType  string `json:"source_type"` // "archive" or "remote_url"
	RepoURL     string `json:"repo_url,omitempty"`
	ArchivePath string `json:"archive_path,omitempty"`
}

// Status is the workflow's queryable progress record.
type Status struct {
	Step           string  `json:"step"`
	Progress       float64 `json:"progress"`
	FilesProcessed int     `json:"files_processed"`
	FilesTotal     int     `json:"files_total"`
	ChunksCreated  int     `json:"chunks_created"`
	SecretsFound   int     `json:"secrets_found"`
	Summary        string  `json:"summary,omitempty"`
	Message        string  `json:"message,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Per-stage activity options. Validate gets a single attempt; the
// heavier stages retry with exponential backoff.
var (
	validateOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		Retry:               workflow.RetryPolicy{MaximumAttempts: 1},
	}
	acquireOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		Retry:               workflow.DefaultRetryPolicy(),
	}
	parseOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		Retry:               workflow.DefaultRetryPolicy(),
	}
	scanOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		Retry:               workflow.DefaultRetryPolicy(),
	}
	embedOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		Retry:               workflow.RetryPolicy{MaximumAttempts: 1},
	}
	statusOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		Retry:               workflow.DefaultRetryPolicy(),
	}
	sweepOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		Retry:               workflow.DefaultRetryPolicy(),
	}
)

// RunID derives the stable workflow run id for a codebase, which the
// engine uses to deduplicate starts.
func RunID(codebaseID string) string {
	return "ingest-" + codebaseID
}
