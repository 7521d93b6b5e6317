// Package acquire materializes a codebase as an in-memory path->content
// mapping from either an uploaded archive or a remote repository URL.
package acquire

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/askrepo/askrepo/internal/errors"
)

// SourceKind identifies where codebase bytes come from.
type SourceKind string

const (
	SourceArchive   SourceKind = "archive"
	SourceRemoteURL SourceKind = "remote_url"
)

// DefaultMaxArchiveBytes caps accepted archives.
const DefaultMaxArchiveBytes = 100 * 1024 * 1024

// remoteURLPattern is the allow pattern for remote sources.
var remoteURLPattern = regexp.MustCompile(`^https://github\.com/[^/]+/[^/]+`)

// zipMagicLocal and zipMagicEmpty are the accepted ZIP signatures.
var (
	zipMagicLocal = []byte{'P', 'K', 0x03, 0x04}
	zipMagicEmpty = []byte{'P', 'K', 0x05, 0x06}
)

// Acquirer validates sources and produces file mappings.
type Acquirer struct {
	maxArchiveBytes int64
	logger          *slog.Logger
}

// New creates an Acquirer. A zero maxArchiveBytes selects the default cap.
func New(maxArchiveBytes int64, logger *slog.Logger) *Acquirer {
	if maxArchiveBytes <= 0 {
		maxArchiveBytes = DefaultMaxArchiveBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{maxArchiveBytes: maxArchiveBytes, logger: logger}
}

// ValidateArchive checks size and ZIP shape without extracting.
func (a *Acquirer) ValidateArchive(data []byte) error {
	if int64(len(data)) > a.maxArchiveBytes {
		return errors.New(errors.ErrCodeFileTooLarge,
			fmt.Sprintf("archive size %d exceeds limit %d", len(data), a.maxArchiveBytes), nil)
	}
	if !bytes.HasPrefix(data, zipMagicLocal) && !bytes.HasPrefix(data, zipMagicEmpty) {
		return errors.New(errors.ErrCodeArchiveInvalid, "not a ZIP archive", nil)
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return errors.New(errors.ErrCodeArchiveInvalid, "invalid ZIP archive", err)
	}
	return nil
}

// ValidateRemoteURL checks the URL against the allow pattern.
func (a *Acquirer) ValidateRemoteURL(url string) error {
	if !remoteURLPattern.MatchString(url) {
		return errors.New(errors.ErrCodeInvalidURL,
			"repository URL must match https://github.com/<owner>/<repo>", nil)
	}
	return nil
}

// FromArchive extracts a validated ZIP into a path->content mapping.
// Directory entries, binary files, and unsafe paths are skipped silently.
func (a *Acquirer) FromArchive(data []byte) (map[string]string, error) {
	if err := a.ValidateArchive(data); err != nil {
		return nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.New(errors.ErrCodeArchiveInvalid, "invalid ZIP archive", err)
	}

	files := make(map[string]string)
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		path, ok := cleanPath(entry.Name)
		if !ok {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			a.logger.Warn("archive_entry_open_failed",
				slog.String("path", entry.Name),
				slog.String("error", err.Error()))
			continue
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			a.logger.Warn("archive_entry_read_failed",
				slog.String("path", entry.Name),
				slog.String("error", err.Error()))
			continue
		}
		if !utf8.Valid(content) {
			continue // binary
		}
		files[path] = string(content)
	}

	return files, nil
}

// FromRemoteURL shallow-clones a repository into a temp directory and reads
// every regular file. Symlinks are never followed.
func (a *Acquirer) FromRemoteURL(ctx context.Context, url string) (map[string]string, error) {
	if err := a.ValidateRemoteURL(url); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "askrepo-clone-*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreFailure, err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	repoDir := filepath.Join(tmpDir, "repo")
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--quiet", "--", url, repoDir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.New(errors.ErrCodeCloneFailed,
			fmt.Sprintf("git clone failed: %s", strings.TrimSpace(string(out))), err)
	}

	files := make(map[string]string)
	err = filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil // symlinks and specials
		}

		rel, err := filepath.Rel(repoDir, path)
		if err != nil {
			return nil
		}
		cleaned, ok := cleanPath(filepath.ToSlash(rel))
		if !ok {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("clone_file_read_failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			return nil
		}
		if !utf8.Valid(content) {
			return nil // binary
		}
		files[cleaned] = string(content)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCloneFailed, err)
	}

	return files, nil
}

// cleanPath normalizes an entry path to repo-relative forward-slash form.
// Absolute paths and paths escaping the root are rejected.
func cleanPath(name string) (string, bool) {
	path := strings.ReplaceAll(name, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	if path == "" || strings.HasPrefix(path, "/") {
		return "", false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "" {
			return "", false
		}
	}
	return path, true
}
