// Package agent runs the query pipeline: analyze the question, retrieve
// relevant chunks, assemble context, stream a grounded answer, and score
// how well that answer sticks to the retrieved code.
package agent

import (
	"github.com/askrepo/askrepo/internal/chunk"
	"github.com/askrepo/askrepo/internal/llm"
	"github.com/askrepo/askrepo/internal/session"
)

// Pipeline steps, recorded on the state as each node completes.
const (
	StepStart        = "start"
	StepAnalyzed     = "analyzed"
	StepRetrieved    = "retrieved"
	StepContextBuilt = "context_built"
	StepResponded    = "responded"
	StepValidated    = "validated"
	StepError        = "error"
)

// Complexity buckets from query analysis.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Entities are the concrete things the analyzer pulled out of the query.
type Entities struct {
	Files     []string `json:"files"`
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	Keywords  []string `json:"keywords"`
}

// Analysis is the query classification produced by the analyze node.
type Analysis struct {
	Intent          string   `json:"intent"`
	Confidence      float64  `json:"confidence"`
	Entities        Entities `json:"entities"`
	IsMultiPart     bool     `json:"is_multi_part"`
	RequiresContext bool     `json:"requires_context"`
	Complexity      string   `json:"complexity"`
}

// CitationCheck records one citation's verification outcome.
type CitationCheck struct {
	Source     session.Citation `json:"source"`
	ChunkRange [2]int           `json:"chunk_range,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Hallucination is a declaration found in the response's code blocks that
// appears nowhere in the retrieved chunks.
type Hallucination struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// Validation is the quality assessment of a generated response.
type Validation struct {
	CitationsVerified       []CitationCheck `json:"citations_verified"`
	CitationsMissing        []CitationCheck `json:"citations_missing"`
	PotentialHallucinations []Hallucination `json:"potential_hallucinations"`
	CitationAccuracy        float64         `json:"citation_accuracy"`
	ContextAlignmentScore   float64         `json:"context_alignment_score"`
	OverallQualityScore     float64         `json:"overall_quality_score"`
	Warnings                []string        `json:"warnings,omitempty"`
}

// State flows through the pipeline; each node fills in its section.
type State struct {
	// Input.
	CodebaseID string
	Query      string
	SessionID  string

	// Analyze.
	Analysis *Analysis
	History  []llm.Message

	// Retrieve and context assembly.
	Chunks  []*chunk.Chunk
	Sources []session.Citation
	Context string

	// Generate and validate.
	Response   string
	Validation *Validation

	Step string
}
