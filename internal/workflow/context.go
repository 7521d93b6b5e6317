package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Context is handed to workflow code. It replays journaled activity
// results deterministically: on a restarted run, completed activities
// return their recorded outputs without executing again.
type Context struct {
	ctx    context.Context
	engine *Engine
	runID  string
	input  json.RawMessage
	seq    int
}

// RunID returns the stable workflow run id.
func (c *Context) RunID() string { return c.runID }

// Input unmarshals the workflow's start input into out.
func (c *Context) Input(out any) error {
	return json.Unmarshal(c.input, out)
}

// SetState persists the workflow's queryable status record. State writes
// are not journaled; the latest write wins.
func (c *Context) SetState(state any) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}
	return c.engine.setRunState(c.ctx, c.runID, encoded)
}

// Now returns a journaled timestamp, stable across replays.
func (c *Context) Now() (time.Time, error) {
	c.seq++
	entry, err := c.engine.readJournal(c.ctx, c.runID, c.seq)
	if err != nil {
		return time.Time{}, err
	}
	if entry == nil {
		now := c.engine.now().UTC()
		output, err := json.Marshal(now)
		if err != nil {
			return time.Time{}, err
		}
		entry = &journalEntry{name: "__now", output: output}
		if err := c.engine.writeJournal(c.ctx, c.runID, c.seq, entry); err != nil {
			return time.Time{}, err
		}
	}
	var t time.Time
	if err := json.Unmarshal(entry.output, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// ExecuteActivity runs (or replays) the named activity. Input marshals to
// JSON; on success the activity's result unmarshals into out (out may be
// nil). A recorded failure replays as the same failure without re-running
// the activity.
func (c *Context) ExecuteActivity(name string, input any, out any, opts ActivityOptions) error {
	c.seq++
	seq := c.seq

	// Cancellation stops the workflow at activity boundaries.
	cancelled, err := c.engine.cancelRequested(c.ctx, c.runID)
	if err != nil {
		return err
	}
	if cancelled {
		return ErrCancelled
	}

	entry, err := c.engine.readJournal(c.ctx, c.runID, seq)
	if err != nil {
		return err
	}
	if entry != nil {
		if entry.errMsg != "" {
			return fmt.Errorf("activity %s failed: %s", name, entry.errMsg)
		}
		if out != nil {
			return json.Unmarshal(entry.output, out)
		}
		return nil
	}

	c.engine.mu.RLock()
	fn, known := c.engine.activities[name]
	c.engine.mu.RUnlock()
	if !known {
		return fmt.Errorf("unknown activity %q", name)
	}

	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal activity input: %w", err)
	}

	result, execErr := c.runWithRetry(name, fn, encoded, opts)
	if execErr != nil {
		// Record the permanent failure so a replay fails identically.
		if err := c.engine.writeJournal(c.ctx, c.runID, seq, &journalEntry{
			name:   name,
			errMsg: execErr.Error(),
		}); err != nil {
			return err
		}
		return fmt.Errorf("activity %s failed: %s", name, execErr.Error())
	}

	output, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal activity output: %w", err)
	}
	if err := c.engine.writeJournal(c.ctx, c.runID, seq, &journalEntry{
		name:   name,
		output: output,
	}); err != nil {
		return err
	}

	if out != nil {
		return json.Unmarshal(output, out)
	}
	return nil
}

// runWithRetry executes one activity under its timeout and retry policy.
func (c *Context) runWithRetry(name string, fn ActivityFunc, input json.RawMessage, opts ActivityOptions) (any, error) {
	attempts := opts.Retry.MaximumAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := opts.Retry.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		actCtx := c.ctx
		cancel := context.CancelFunc(func() {})
		if opts.StartToCloseTimeout > 0 {
			actCtx, cancel = context.WithTimeout(c.ctx, opts.StartToCloseTimeout)
		}
		result, err := fn(actCtx, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		c.engine.logger.Warn("activity_attempt_failed",
			slog.String("run_id", c.runID),
			slog.String("activity", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt == attempts {
			break
		}
		select {
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * opts.Retry.BackoffCoefficient)
		if opts.Retry.MaximumInterval > 0 && delay > opts.Retry.MaximumInterval {
			delay = opts.Retry.MaximumInterval
		}
	}
	return nil, lastErr
}
