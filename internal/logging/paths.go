package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.askrepo/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".askrepo", "logs")
	}
	return filepath.Join(home, ".askrepo", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// ProcessLogPath returns the log path for a named process, so the API
// server, ingestion worker, and MCP server write to separate files.
func ProcessLogPath(name string) string {
	return filepath.Join(DefaultLogDir(), name+".log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}
