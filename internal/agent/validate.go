package agent

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

const lineTolerance = 5

var (
	codeBlockPattern   = regexp.MustCompile("(?s)```(\\w+)?\n(.*?)```")
	declarationPattern = regexp.MustCompile(`(def|class|function|const|func|type)\s+(\w+)`)
	wordPattern        = regexp.MustCompile(`[a-zA-Z0-9_]+`)
)

// stopwords excluded from the alignment overlap.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "to": true, "of": true,
	"in": true, "for": true, "on": true, "at": true, "by": true,
	"with": true, "from": true, "as": true, "or": true, "and": true,
	"not": true, "this": true, "that": true, "it": true, "its": true,
	"you": true, "your": true, "we": true, "use": true, "using": true,
}

// validate scores the response: verified citations, declarations absent
// from the retrieved chunks, and word-overlap alignment with the context.
func (p *Pipeline) validate(state *State) {
	v := &Validation{
		CitationsVerified:       []CitationCheck{},
		CitationsMissing:        []CitationCheck{},
		PotentialHallucinations: []Hallucination{},
	}
	state.Validation = v
	defer func() { state.Step = StepValidated }()

	if state.Response == "" || len(state.Sources) == 0 {
		return
	}

	retrievedRanges := make(map[string][][2]int)
	for _, c := range state.Chunks {
		retrievedRanges[c.FilePath] = append(retrievedRanges[c.FilePath], [2]int{c.LineStart, c.LineEnd})
	}

	for _, source := range state.Sources {
		ranges, ok := retrievedRanges[source.FilePath]
		if !ok {
			v.CitationsMissing = append(v.CitationsMissing, CitationCheck{
				Source: source,
				Reason: fmt.Sprintf("file %q not found in retrieved context", source.FilePath),
			})
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("citation references unretrieved file: %s", source.FilePath))
			continue
		}

		found := false
		for _, r := range ranges {
			if source.LineEnd >= r[0]-lineTolerance && source.LineStart <= r[1]+lineTolerance {
				found = true
				v.CitationsVerified = append(v.CitationsVerified, CitationCheck{
					Source:     source,
					ChunkRange: r,
				})
				break
			}
		}
		if !found {
			v.CitationsMissing = append(v.CitationsMissing, CitationCheck{
				Source: source,
				Reason: fmt.Sprintf("lines %d-%d not found in retrieved chunks for %s",
					source.LineStart, source.LineEnd, source.FilePath),
			})
			v.Warnings = append(v.Warnings,
				fmt.Sprintf("citation line range %d-%d may not match retrieved content",
					source.LineStart, source.LineEnd))
		}
	}

	for _, block := range codeBlockPattern.FindAllStringSubmatch(state.Response, -1) {
		lang, code := block[1], block[2]
		for _, decl := range declarationPattern.FindAllStringSubmatch(code, -1) {
			declType, name := decl[1], decl[2]
			known := false
			for _, c := range state.Chunks {
				if strings.Contains(c.Content, name) {
					known = true
					break
				}
			}
			if !known {
				v.PotentialHallucinations = append(v.PotentialHallucinations, Hallucination{
					Type:     declType,
					Name:     name,
					Language: lang,
				})
				v.Warnings = append(v.Warnings,
					fmt.Sprintf("potential hallucination: %s %q not found in retrieved context", declType, name))
			}
		}
	}

	if state.Context != "" {
		contextWords := wordSet(state.Context)
		responseWords := wordSet(state.Response)
		if len(responseWords) > 0 {
			overlap := 0
			for word := range responseWords {
				if contextWords[word] {
					overlap++
				}
			}
			alignment := math.Min(float64(overlap)/float64(len(responseWords)), 1.0)
			v.ContextAlignmentScore = round3(alignment)
		}
	}

	if len(state.Sources) > 0 {
		v.CitationAccuracy = float64(len(v.CitationsVerified)) / float64(len(state.Sources))
	}
	penalty := math.Min(float64(len(v.PotentialHallucinations))*0.1, 1.0)
	overall := v.CitationAccuracy*0.4 + v.ContextAlignmentScore*0.3 + (1.0-penalty)*0.3
	v.OverallQualityScore = round3(math.Max(0, overall))
}

func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if !stopwords[word] {
			words[word] = true
		}
	}
	return words
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
