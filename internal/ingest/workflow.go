package ingest

import (
	"fmt"
	"time"

	"github.com/askrepo/askrepo/internal/store"
	"github.com/askrepo/askrepo/internal/workflow"
)

// Register wires the ingestion workflow, the session sweep cron, and all
// activities into the engine.
func Register(engine *workflow.Engine, acts *Activities, sweepInterval time.Duration) {
	engine.RegisterWorkflow(WorkflowIngest, IngestWorkflow)
	engine.RegisterWorkflow(WorkflowSessionSweep, SessionSweepWorkflow)

	engine.RegisterActivity(ActivityValidate, acts.ValidateSource)
	engine.RegisterActivity(ActivityAcquire, acts.AcquireSource)
	engine.RegisterActivity(ActivityParseChunk, acts.ParseAndChunk)
	engine.RegisterActivity(ActivityScanSecrets, acts.ScanSecrets)
	engine.RegisterActivity(ActivityEmbedIndex, acts.EmbedAndIndex)
	engine.RegisterActivity(ActivityUpdateStatus, acts.UpdateCodebaseStatus)
	engine.RegisterActivity(ActivitySweepSessions, acts.SweepSessions)

	if sweepInterval > 0 {
		engine.RegisterCron(WorkflowSessionSweep, sweepInterval)
	}
}

// IngestWorkflow runs the five ingestion stages in order. Every stage
// transition updates both the workflow's status record and the codebase
// row; an unrecoverable stage error flips both to failed and re-raises.
// Partial artifacts are not rolled back; delete cleans them up.
func IngestWorkflow(wctx *workflow.Context) error {
	var input Input
	if err := wctx.Input(&input); err != nil {
		return err
	}

	status := Status{Step: StepValidate, Progress: 0.0, Message: "validating source"}
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{status: store.StatusProcessing}); err != nil {
		return err
	}

	fail := func(step string, err error) error {
		status.Step = StepFailed
		status.Error = err.Error()
		status.Message = fmt.Sprintf("%s stage failed", step)
		_ = setStatus(wctx, input.CodebaseID, &status, statusPatch{
			status:   store.StatusFailed,
			errorMsg: err.Error(),
		})
		return err
	}

	// Stage 1: validate.
	var validated ValidateResult
	if err := wctx.ExecuteActivity(ActivityValidate, input, &validated, validateOptions); err != nil {
		return fail(StepValidate, err)
	}
	status.Step = StepAcquire
	status.Progress = 0.1
	status.Message = "acquiring source files"
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{}); err != nil {
		return err
	}

	// Stage 2: acquire.
	var acquired AcquireResult
	if err := wctx.ExecuteActivity(ActivityAcquire, input, &acquired, acquireOptions); err != nil {
		return fail(StepAcquire, err)
	}
	status.Step = StepParse
	status.Progress = 0.15
	status.FilesTotal = acquired.FileCount
	status.Message = fmt.Sprintf("parsing %d files", acquired.FileCount)
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{
		totalFiles: &acquired.FileCount,
	}); err != nil {
		return err
	}

	// Stage 3: parse + redact + chunk.
	parseIn := StageInput{CodebaseID: input.CodebaseID, StagingPath: acquired.StagingPath}
	var parsed ParseResult
	if err := wctx.ExecuteActivity(ActivityParseChunk, parseIn, &parsed, parseOptions); err != nil {
		return fail(StepParse, err)
	}
	status.Step = StepSecretScan
	status.Progress = 0.5
	status.FilesProcessed = parsed.FilesProcessed
	status.ChunksCreated = parsed.ChunksCreated
	status.Message = "scanning for secrets"
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{
		processedFiles: &parsed.FilesProcessed,
		chunksCreated:  &parsed.ChunksCreated,
		primaryLang:    parsed.PrimaryLanguage,
		languages:      parsed.Languages,
	}); err != nil {
		return err
	}

	// Stage 4: secret report over the pre-redaction corpus.
	var scanned ScanResult
	if err := wctx.ExecuteActivity(ActivityScanSecrets, parseIn, &scanned, scanOptions); err != nil {
		return fail(StepSecretScan, err)
	}
	status.Step = StepEmbed
	status.Progress = 0.6
	status.SecretsFound = scanned.SecretsFound
	status.Summary = scanned.Summary
	status.Message = "generating embeddings"
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{
		secretsFound: &scanned.SecretsFound,
	}); err != nil {
		return err
	}

	// Stage 5: embed + index.
	var indexed IndexResult
	if err := wctx.ExecuteActivity(ActivityEmbedIndex, parseIn, &indexed, embedOptions); err != nil {
		return fail(StepEmbed, err)
	}
	status.Step = StepIndex
	status.Progress = 0.9
	status.Message = "finalizing index"
	if err := setStatus(wctx, input.CodebaseID, &status, statusPatch{}); err != nil {
		return err
	}

	status.Step = StepDone
	status.Progress = 1.0
	status.ChunksCreated = indexed.ChunksIndexed
	status.Message = "ingestion complete"
	return setStatus(wctx, input.CodebaseID, &status, statusPatch{
		status:        store.StatusCompleted,
		chunksCreated: &indexed.ChunksIndexed,
	})
}

// statusPatch carries the codebase-row fields one transition mirrors.
type statusPatch struct {
	status         store.Status
	totalFiles     *int
	processedFiles *int
	chunksCreated  *int
	secretsFound   *int
	primaryLang    string
	languages      []string
	errorMsg       string
}

// setStatus writes the workflow state record and mirrors the transition
// into the codebase row through the status activity.
func setStatus(wctx *workflow.Context, codebaseID string, status *Status, patch statusPatch) error {
	if err := wctx.SetState(status); err != nil {
		return err
	}

	update := StatusUpdateInput{
		CodebaseID:      codebaseID,
		TotalFiles:      patch.totalFiles,
		ProcessedFiles:  patch.processedFiles,
		ChunksCreated:   patch.chunksCreated,
		SecretsDetected: patch.secretsFound,
		PrimaryLanguage: patch.primaryLang,
		Languages:       patch.languages,
		ErrorMessage:    patch.errorMsg,
	}
	if patch.status != "" {
		update.Status = string(patch.status)
	}
	return wctx.ExecuteActivity(ActivityUpdateStatus, update, nil, statusOptions)
}

// SessionSweepWorkflow is the cron companion that removes stale
// session-index entries whose session bodies have TTL-expired.
func SessionSweepWorkflow(wctx *workflow.Context) error {
	var swept SweepResult
	if err := wctx.ExecuteActivity(ActivitySweepSessions, nil, &swept, sweepOptions); err != nil {
		return err
	}
	return wctx.SetState(map[string]int{"removed": swept.Removed})
}
