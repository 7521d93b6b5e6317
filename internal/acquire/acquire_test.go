package acquire

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrepo/askrepo/internal/errors"
)

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFromArchive(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"main.py":        []byte("print('hi')\n"),
		"pkg/util.go":    []byte("package pkg\n"),
		"bin/blob.dat":   {0xff, 0xfe, 0x00, 0x01},
		"../escape.txt":  []byte("nope"),
		"nested/deep.js": []byte("export {}\n"),
	})

	a := New(0, nil)
	files, err := a.FromArchive(data)
	require.NoError(t, err)

	assert.Equal(t, "print('hi')\n", files["main.py"])
	assert.Equal(t, "package pkg\n", files["pkg/util.go"])
	assert.Contains(t, files, "nested/deep.js")
	assert.NotContains(t, files, "bin/blob.dat", "binary files are skipped")
	assert.NotContains(t, files, "../escape.txt", "escaping paths are skipped")
}

func TestFromArchiveEmpty(t *testing.T) {
	data := buildZip(t, nil)

	a := New(0, nil)
	files, err := a.FromArchive(data)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestValidateArchiveRejectsNonZip(t *testing.T) {
	a := New(0, nil)
	err := a.ValidateArchive([]byte("definitely not a zip"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeArchiveInvalid, errors.GetCode(err))
}

func TestValidateArchiveSizeCap(t *testing.T) {
	small := buildZip(t, map[string][]byte{"a.py": []byte("x = 1\n")})

	// Cap exactly at the archive size: accepted.
	a := New(int64(len(small)), nil)
	assert.NoError(t, a.ValidateArchive(small))

	// One byte below: rejected with the size code.
	a = New(int64(len(small))-1, nil)
	err := a.ValidateArchive(small)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileTooLarge, errors.GetCode(err))
}

func TestValidateRemoteURL(t *testing.T) {
	a := New(0, nil)

	assert.NoError(t, a.ValidateRemoteURL("https://github.com/owner/repo"))
	assert.NoError(t, a.ValidateRemoteURL("https://github.com/owner/repo.git"))

	for _, url := range []string{
		"http://github.com/owner/repo",
		"https://gitlab.com/owner/repo",
		"https://github.com/",
		"git@github.com:owner/repo.git",
		"",
	} {
		err := a.ValidateRemoteURL(url)
		require.Error(t, err, "url %q should be rejected", url)
		assert.Equal(t, errors.ErrCodeInvalidURL, errors.GetCode(err))
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/b/c.py", "a/b/c.py", true},
		{"./a.py", "a.py", true},
		{`win\style\path.c`, "win/style/path.c", true},
		{"../up.py", "", false},
		{"a/../../up.py", "", false},
		{"/abs.py", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := cleanPath(tt.in)
		assert.Equal(t, tt.ok, ok, "path %q", tt.in)
		if ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
