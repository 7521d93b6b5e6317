// Package session persists bounded conversation history per codebase in the
// key-value store. Sessions expire by TTL; the codebase->session index is
// swept lazily by the cleanup activity.
package session

import (
	"time"
)

// DefaultRetention is how long idle sessions survive.
const DefaultRetention = 7 * 24 * time.Hour

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation points a message at a code location.
type Citation struct {
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Snippet   string `json:"snippet,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations,omitempty"`
	ChunkIDs   []string   `json:"chunk_ids,omitempty"`
	TokenCount int        `json:"token_count,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is a bounded conversational context scoped to one codebase.
type Session struct {
	ID           string    `json:"id"`
	CodebaseID   string    `json:"codebase_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
}

// Key layout in the key-value store.
func sessionKey(id string) string        { return "session:" + id }
func messagesKey(id string) string       { return "session:" + id + ":messages" }
func codebaseKey(codebase string) string { return "codebase:" + codebase + ":sessions" }

// CodebaseIndexPrefix is the prefix of session index keys, used by cleanup.
const CodebaseIndexPrefix = "codebase:"
