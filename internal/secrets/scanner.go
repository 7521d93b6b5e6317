// Package secrets detects and redacts well-known credential shapes in
// source text. Redaction is content-preserving: line count and all
// non-match bytes are unchanged.
package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxScanBytes is the per-file size cap; larger files are skipped.
const MaxScanBytes = 1 << 20 // 1 MiB

// snippetLimit bounds how much of a matched secret appears in reports.
const snippetLimit = 25

// Pattern is one named secret shape.
type Pattern struct {
	Type   string
	Regexp *regexp.Regexp
}

// patterns is the fixed detection table. Order is fixed so scan output is
// deterministic for identical input.
var patterns = []Pattern{
	{"AWS_ACCESS_KEY", regexp.MustCompile(`\bAKIA[0-9A-Z]{16,}\b`)},
	{"GITHUB_TOKEN", regexp.MustCompile(`\bghp_[a-zA-Z0-9]{36}\b`)},
	{"GITHUB_OAUTH", regexp.MustCompile(`\bgho_[a-zA-Z0-9]{36}\b`)},
	{"GITHUB_APP", regexp.MustCompile(`\b(?:ghu|ghs)_[a-zA-Z0-9]{36}\b`)},
	{"JWT_TOKEN", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"SLACK_TOKEN", regexp.MustCompile(`\bxox[pbar]-[0-9]{12}-[0-9]{12}-[0-9]{12}-[a-z0-9]{32}`)},
	{"BASIC_AUTH", regexp.MustCompile(`://[^\s]+:[^\s]+@`)},
	{"PASSWORD_ASSIGNMENT", regexp.MustCompile(`(?i)password\s*[=:]\s*["'][^"']+["']`)},
	{"API_KEY_ASSIGNMENT", regexp.MustCompile(`(?i)["']?(?:api[_-]?key|token|secret|private[_-]?key)["']?\s*[=:]\s*["'][a-zA-Z0-9_\-]{16,}["']`)},
	{"PRIVATE_KEY_HEADER", regexp.MustCompile(`-----BEGIN [A-Z ]+PRIVATE KEY-----`)},
	{"BEARER_TOKEN", regexp.MustCompile(`(?i)["']?Bearer\s+["']?[a-zA-Z0-9_\-.]{20,}["']`)},
	{"HEROKU_API_KEY", regexp.MustCompile(`(?i)heroku\s*-\s*[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)},
	{"STRIPE_KEY", regexp.MustCompile(`\bsk_(?:live|test)_[0-9A-Za-z]{24,}\b`)},
	{"SENDGRID_KEY", regexp.MustCompile(`\bSG\.[a-zA-Z0-9_-]{20,}\.[a-zA-Z0-9_-]{20,}\b`)},
	{"TWILIO_KEY", regexp.MustCompile(`\bSK[0-9a-fA-F]{32}\b`)},
	{"MAILGUN_KEY", regexp.MustCompile(`[a-zA-Z0-9_-]{32,}.*mailgun\.com`)},
}

// Detection is a single secret match.
type Detection struct {
	FilePath string `json:"file_path"`
	Type     string `json:"type"`
	Line     int    `json:"line"` // 1-indexed
	Column   int    `json:"column"`
	Snippet  string `json:"snippet"`
}

// ScanResult summarizes one file's scan.
type ScanResult struct {
	FilePath   string      `json:"file_path"`
	HasSecrets bool        `json:"has_secrets"`
	Detections []Detection `json:"detections"`
}

// Scan runs the pattern table over content line by line. Oversize and binary
// content is skipped silently, returning an empty result.
func Scan(content, filePath string) ScanResult {
	result := ScanResult{FilePath: filePath}
	if skip(content) {
		return result
	}

	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, p := range patterns {
			for _, loc := range p.Regexp.FindAllStringIndex(line, -1) {
				result.Detections = append(result.Detections, Detection{
					FilePath: filePath,
					Type:     p.Type,
					Line:     lineNum + 1,
					Column:   loc[0] + 1,
					Snippet:  snippet(line[loc[0]:loc[1]]),
				})
			}
		}
	}

	result.HasSecrets = len(result.Detections) > 0
	return result
}

// Redact replaces every match with a [REDACTED_<TYPE>] placeholder. Line
// count is preserved; non-matching bytes are untouched. Oversize and binary
// content is returned unchanged.
func Redact(content string) string {
	if skip(content) {
		return content
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for _, p := range patterns {
			if p.Regexp.MatchString(line) {
				line = p.Regexp.ReplaceAllString(line, fmt.Sprintf("[REDACTED_%s]", p.Type))
			}
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// Summary aggregates detections per file and type.
func Summary(results []ScanResult) map[string]map[string]int {
	summary := make(map[string]map[string]int)
	for _, r := range results {
		if !r.HasSecrets {
			continue
		}
		byType := make(map[string]int)
		for _, d := range r.Detections {
			byType[d.Type]++
		}
		summary[r.FilePath] = byType
	}
	return summary
}

// skip reports whether content is too large or looks binary. Binary means
// non-printable high-bit or control bytes within the first 1024 bytes.
func skip(content string) bool {
	if len(content) > MaxScanBytes {
		return true
	}

	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	for i := 0; i < len(head); i++ {
		b := head[i]
		if b == 0 || (b < 0x09 && b != 0) || (b > 0x0d && b < 0x20) {
			return true
		}
	}
	return false
}

func snippet(match string) string {
	if len(match) > snippetLimit {
		return match[:snippetLimit] + "..."
	}
	return match
}
