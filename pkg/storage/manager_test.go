package storage

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "gitsnap/pkg/errors"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNewManagerCreatesDirectoryAndCleansPartials(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "octocat")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Spoon-Knife.zip.part"), []byte("half"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Hello-World.zip"), []byte("done"), 0644))

	manager, err := NewManager(dir, 0)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "Spoon-Knife.zip.part"))
	assert.FileExists(t, filepath.Join(dir, "Hello-World.zip"))
	assert.Equal(t, dir, manager.GetOutputDir())

	_, err = NewManager(filepath.Join(t.TempDir(), "a", "b"), 0)
	assert.NoError(t, err)
}

func TestIsDownloaded(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir, 0)
	require.NoError(t, err)

	assert.False(t, manager.IsDownloaded("Hello-World"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Hello-World.zip"), nil, 0644))
	assert.True(t, manager.IsDownloaded("Hello-World"))

	// a directory with the archive name is not an archive
	require.NoError(t, os.Mkdir(filepath.Join(dir, "weird.zip"), 0755))
	assert.False(t, manager.IsDownloaded("weird"))

	// partial files do not count
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Spoon-Knife.zip.part"), []byte("x"), 0644))
	assert.False(t, manager.IsDownloaded("Spoon-Knife"))
}

func TestSaveCommitsValidArchive(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir, 8)
	require.NoError(t, err)

	data := zipBytes(t, map[string]string{"Hello-World-master/README": "Hello World!"})
	result, err := manager.Save("Hello-World", bytes.NewReader(data), SaveOptions{
		ExpectedSize: int64(len(data)),
		Verify:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Hello-World.zip"), result.Path)
	assert.Equal(t, int64(len(data)), result.Size)
	assert.Equal(t, 1, result.Entries)
	assert.NoFileExists(t, manager.PartialPath("Hello-World"))

	content, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
	assert.True(t, manager.IsDownloaded("Hello-World"))
}

func TestSaveUnknownSizeWithoutVerify(t *testing.T) {
	manager, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	result, err := manager.Save("notes", strings.NewReader("not a zip"), SaveOptions{ExpectedSize: -1})
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.Size)
	assert.Equal(t, 0, result.Entries)
}

func TestSaveTruncated(t *testing.T) {
	manager, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	data := zipBytes(t, map[string]string{"a.txt": "a"})
	_, err = manager.Save("Spoon-Knife", bytes.NewReader(data[:10]), SaveOptions{
		ExpectedSize: int64(len(data)),
		Verify:       true,
	})

	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeDownload))
	assert.True(t, errs.ShouldRetry(err))
	assert.Contains(t, err.Error(), "truncated")
	assert.False(t, manager.IsDownloaded("Spoon-Knife"))
	assert.NoFileExists(t, manager.PartialPath("Spoon-Knife"))
}

func TestSaveInvalidZip(t *testing.T) {
	manager, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = manager.Save("broken", strings.NewReader("<html>oops</html>"), SaveOptions{
		ExpectedSize: -1,
		Verify:       true,
	})

	require.Error(t, err)
	assert.True(t, errs.ShouldRetry(err))
	assert.False(t, manager.IsDownloaded("broken"))
	assert.NoFileExists(t, manager.PartialPath("broken"))
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestSaveReadErrorRemovesPartial(t *testing.T) {
	manager, err := NewManager(t.TempDir(), 4)
	require.NoError(t, err)

	readErr := errors.New("connection reset by peer")
	_, err = manager.Save("Hello-World", &failingReader{data: []byte("PK\x03\x04partial"), err: readErr}, SaveOptions{ExpectedSize: -1})

	require.ErrorIs(t, err, readErr)
	// read errors are passed through untyped for the caller to classify
	assert.Equal(t, errs.ErrorTypeUnknown, errs.TypeOf(err))
	assert.NoFileExists(t, manager.PartialPath("Hello-World"))
	assert.NoFileExists(t, manager.ArchivePath("Hello-World"))
}

func TestSaveRejectsUnsafeNames(t *testing.T) {
	manager, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../escape", `a\b`} {
		_, err := manager.Save(name, io.LimitReader(nil, 0), SaveOptions{ExpectedSize: -1})
		assert.Error(t, err, name)
	}
}

func TestDiscardAndListArchives(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.zip"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.zip"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.zip.part"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	names, err := manager.ListArchives()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, manager.Discard("c"))
	assert.NoFileExists(t, filepath.Join(dir, "c.zip.part"))
	assert.NoError(t, manager.Discard("missing"))
}
