package agent

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/askrepo/askrepo/internal/llm"
)

// intentFamilies maps each intent to its marker phrases. Order matters:
// ties resolve to the earlier family.
var intentFamilies = []struct {
	name     string
	patterns []string
}{
	{"code_understanding", []string{
		"how does", "how do", "what is", "what does", "explain", "describe",
		"show me", "tell me about", "how work", "purpose", "functionality",
	}},
	{"bug_finding", []string{
		"bug", "error", "issue", "problem", "wrong", "not working", "broken",
		"fix", "debug", "why failing", "doesn't work", "fail",
	}},
	{"architecture", []string{
		"architecture", "design", "structure", "pattern", "component",
		"module", "package", "organization", "relationship", "flow",
	}},
	{"implementation", []string{
		"implement", "add", "create", "write", "build", "develop", "how to",
		"example", "sample",
	}},
	{"comparison", []string{
		"difference", "compare", "versus", "vs", "better", "worse",
		"instead of", "alternative",
	}},
	{"location", []string{
		"where is", "find", "locate", "which file", "defined in",
		"implemented", "location",
	}},
	{"documentation", []string{
		"document", "comment", "docstring", "readme", "usage",
	}},
}

var (
	filePathPattern = regexp.MustCompile(`(?i)["']?([a-zA-Z_./\\][a-zA-Z0-9_./\\]*\.(?:py|js|ts|tsx|java|go|rs|cpp|c|h|cs|php|rb|scala|kt|swift|dart))["']?`)
	funcCallPattern = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	classPattern    = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*)\b`)
)

// funcKeywordFilter drops language keywords that look like calls.
var funcKeywordFilter = map[string]bool{
	"if": true, "for": true, "while": true, "with": true, "def": true,
	"class": true, "import": true, "from": true, "return": true,
	"print": true, "func": true, "switch": true, "go": true,
}

var technicalTerms = []string{
	"async", "await", "thread", "process", "database", "api", "endpoint",
	"middleware", "service", "controller", "model", "view", "router",
	"authentication", "authorization", "oauth", "jwt", "session", "cookie",
	"request", "response", "query", "mutation", "subscription", "graphql",
	"rest", "grpc", "websocket", "http", "https", "tcp", "udp", "docker",
	"kubernetes", "deployment", "container", "microservice", "monolith",
	"serverless", "function", "lambda", "queue", "stream", "cache", "redis",
	"memcached", "sql", "nosql", "transaction", "lock", "semaphore", "race",
	"condition", "event",
}

var multiPartIndicators = []string{" and ", " also ", " then ", " after ", " besides ", " plus "}

var externalContextIndicators = []string{"outside", "external", "third-party", "library", "framework", "package"}

// analyze classifies the query and loads conversation history for the
// session, when one is attached.
func (p *Pipeline) analyze(ctx context.Context, state *State) error {
	if p.sessions != nil && state.SessionID != "" {
		messages, err := p.sessions.Messages(ctx, state.SessionID, p.historyLimit)
		if err != nil {
			p.logger.Warn("session_history_unavailable",
				slog.String("session_id", state.SessionID),
				slog.String("error", err.Error()))
		} else {
			for _, msg := range messages {
				state.History = append(state.History, llm.Message{Role: msg.Role, Content: msg.Content})
			}
		}
	}

	state.Analysis = AnalyzeQuery(state.Query)
	state.Step = StepAnalyzed

	p.logger.Info("query_analyzed",
		slog.String("intent", state.Analysis.Intent),
		slog.String("complexity", state.Analysis.Complexity),
		slog.Int("history_messages", len(state.History)))
	return nil
}

// AnalyzeQuery classifies intent, extracts entities, and scores complexity
// for one query string.
func AnalyzeQuery(query string) *Analysis {
	analysis := &Analysis{
		Intent:     "unknown",
		Complexity: ComplexitySimple,
	}
	lower := strings.ToLower(query)

	best := 0
	for _, family := range intentFamilies {
		matches := 0
		for _, pattern := range family.patterns {
			if strings.Contains(lower, pattern) {
				matches++
			}
		}
		if matches > best {
			best = matches
			analysis.Intent = family.name
		}
	}
	if best > 0 {
		analysis.Confidence = math.Min(float64(best)*0.3, 1.0)
	}

	fileSet := make(map[string]bool)
	for _, match := range filePathPattern.FindAllStringSubmatch(query, -1) {
		if !fileSet[match[1]] {
			fileSet[match[1]] = true
			analysis.Entities.Files = append(analysis.Entities.Files, match[1])
		}
	}

	for _, match := range funcCallPattern.FindAllStringSubmatch(query, -1) {
		name := match[1]
		if len(name) > 2 && !funcKeywordFilter[name] {
			analysis.Entities.Functions = append(analysis.Entities.Functions, name)
		}
	}

	for _, match := range classPattern.FindAllStringSubmatch(query, -1) {
		name := match[1]
		if len(name) > 2 && !fileSet[name] {
			analysis.Entities.Classes = append(analysis.Entities.Classes, name)
		}
	}

	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			analysis.Entities.Keywords = append(analysis.Entities.Keywords, term)
		}
	}

	for _, indicator := range multiPartIndicators {
		if strings.Contains(lower, indicator) {
			analysis.IsMultiPart = true
			break
		}
	}
	for _, indicator := range externalContextIndicators {
		if strings.Contains(lower, indicator) {
			analysis.RequiresContext = true
			break
		}
	}

	score := len(analysis.Entities.Files)*2 +
		len(analysis.Entities.Functions) +
		len(analysis.Entities.Classes) +
		len(analysis.Entities.Keywords)
	if analysis.IsMultiPart {
		score += 10
	}
	if analysis.RequiresContext {
		score += 5
	}
	switch {
	case score > 15:
		analysis.Complexity = ComplexityComplex
	case score > 7:
		analysis.Complexity = ComplexityModerate
	}

	return analysis
}
