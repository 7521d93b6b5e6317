package agent

import (
	"regexp"
	"strings"

	"github.com/askrepo/askrepo/internal/errors"
)

// Error categories attached to pipeline failures.
const (
	CategoryUserInput      = "user_input"
	CategoryRetrieval      = "retrieval"
	CategoryRateLimit      = "rate_limit"
	CategoryLLMService     = "llm_service"
	CategoryTimeout        = "timeout"
	CategoryNetwork        = "network"
	CategoryAuthentication = "authentication"
	CategoryResource       = "resource"
	CategoryUnknown        = "unknown"
)

// PipelineError is a categorized, user-presentable pipeline failure. The
// Message and Suggestion are safe to send to clients; the wrapped cause
// is for logs only.
type PipelineError struct {
	Category   string
	Message    string
	Suggestion string
	Step       string
	Err        error
}

func (e *PipelineError) Error() string { return e.Message }

func (e *PipelineError) Unwrap() error { return e.Err }

// Categorize maps an error to a category with a user-facing message and a
// recovery suggestion. Error codes take precedence; the message text is
// the fallback signal.
func Categorize(err error, step string) *PipelineError {
	perr := &PipelineError{
		Category: CategoryUnknown,
		Message:  "An unexpected error occurred. Please try again.",
		Step:     step,
		Err:      err,
	}
	lower := strings.ToLower(err.Error())

	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound:
		perr.Category = CategoryUserInput
		perr.Message = "Unable to find the specified codebase."
		perr.Suggestion = "Please check the codebase ID and try again."
		return perr
	case errors.ErrCodeInvalidInput, errors.ErrCodeQueryEmpty, errors.ErrCodeInvalidQuery:
		perr.Category = CategoryUserInput
		perr.Message = "Your query could not be processed."
		perr.Suggestion = "Please rephrase your question and try again."
		return perr
	case errors.ErrCodeRateLimited:
		perr.Category = CategoryRateLimit
		perr.Message = "Too many requests. Please wait a moment before trying again."
		perr.Suggestion = "Rate limits help ensure fair usage for everyone."
		return perr
	case errors.ErrCodeRetrievalFailed, errors.ErrCodeEmbeddingFailed:
		perr.Category = CategoryRetrieval
		perr.Message = "Unable to search the codebase."
		perr.Suggestion = "The search service may be unavailable. Please try again later."
		return perr
	case errors.ErrCodeLLMFailed:
		perr.Category = CategoryLLMService
		perr.Message = "Unable to generate a response."
		perr.Suggestion = "The AI service may be unavailable. Please try again later."
		return perr
	case errors.ErrCodeProviderAuth:
		perr.Category = CategoryAuthentication
		perr.Message = "Authentication failed."
		perr.Suggestion = "You may need to refresh your session."
		return perr
	case errors.ErrCodeNetworkTimeout:
		perr.Category = CategoryTimeout
		perr.Message = "The request took too long to process."
		perr.Suggestion = "Try breaking your question into smaller parts."
		return perr
	case errors.ErrCodeNetworkUnavailable:
		perr.Category = CategoryNetwork
		perr.Message = "Network connection issue."
		perr.Suggestion = "Please check your connection and try again."
		return perr
	}

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		perr.Category = CategoryTimeout
		perr.Message = "The request took too long to process."
		perr.Suggestion = "Try breaking your question into smaller parts."
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") || strings.Contains(lower, "429"):
		perr.Category = CategoryRateLimit
		perr.Message = "Too many requests. Please wait a moment before trying again."
		perr.Suggestion = "Rate limits help ensure fair usage for everyone."
	case strings.Contains(lower, "no results") || strings.Contains(lower, "retriev") || strings.Contains(lower, "vector"):
		perr.Category = CategoryRetrieval
		perr.Message = "No relevant code could be found for your query."
		perr.Suggestion = "Try:\n- Using different keywords\n- Being more specific about what you're looking for\n- Checking if the code exists in this codebase"
	case strings.Contains(lower, "database"):
		perr.Category = CategoryRetrieval
		perr.Message = "Unable to search the codebase."
		perr.Suggestion = "The search service may be unavailable. Please try again later."
	case strings.Contains(lower, "llm") || strings.Contains(lower, "anthropic") || strings.Contains(lower, "openai"):
		perr.Category = CategoryLLMService
		perr.Message = "Unable to generate a response."
		perr.Suggestion = "The AI service may be unavailable. Please try again later."
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") || strings.Contains(lower, "401"):
		perr.Category = CategoryAuthentication
		perr.Message = "Authentication failed."
		perr.Suggestion = "You may need to refresh your session."
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network") || strings.Contains(lower, "circuit breaker"):
		perr.Category = CategoryNetwork
		perr.Message = "Network connection issue."
		perr.Suggestion = "Please check your connection and try again."
	case strings.Contains(lower, "memory") || strings.Contains(lower, "resource"):
		perr.Category = CategoryResource
		perr.Message = "System resources are temporarily unavailable."
		perr.Suggestion = "Please try again in a few moments."
	}

	perr.Message = SanitizeMessage(perr.Message)
	return perr
}

var (
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^;:\n\r]*`)
	unixPathPattern    = regexp.MustCompile(`/[^;\s:\n\r]{20,}`)
	connStringPattern  = regexp.MustCompile(`://[^@\s]+@[^:\s]+`)
	keyPattern         = regexp.MustCompile(`(?i)key["']?\s*[:=]\s*["']?[^\s"']{10,}["']?`)
	tokenPattern       = regexp.MustCompile(`(?i)token["']?\s*[:=]\s*["']?[^\s"']{10,}["']?`)
)

// SanitizeMessage strips filesystem paths, credentials, and stack-trace
// lines from a message before it can reach a client.
func SanitizeMessage(message string) string {
	message = windowsPathPattern.ReplaceAllString(message, "[path]")
	message = unixPathPattern.ReplaceAllString(message, "[path]")
	message = connStringPattern.ReplaceAllString(message, "://***:***@***")
	message = keyPattern.ReplaceAllString(message, "key=***")
	message = tokenPattern.ReplaceAllString(message, "token=***")

	var kept []string
	for _, line := range strings.Split(message, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "File ") {
			continue
		}
		if strings.HasPrefix(trimmed, "goroutine ") || strings.Contains(trimmed, "Traceback") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
