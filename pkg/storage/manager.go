package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	errs "gitsnap/pkg/errors"
)

const (
	// ArchiveExt is the extension of completed archives
	ArchiveExt = ".zip"
	// PartialExt is appended to archives while they are being written
	PartialExt = ".part"

	defaultChunkSize = 32 * 1024
)

// Manager owns the target directory: it answers whether an archive already
// exists and writes new archives atomically.
type Manager struct {
	outputDir string
	chunkSize int
	mu        sync.Mutex
}

// SaveOptions controls how an archive stream is written
type SaveOptions struct {
	// ExpectedSize is the Content-Length of the stream, or -1 when unknown
	ExpectedSize int64
	// Verify opens the written file as a ZIP before it is committed
	Verify bool
}

// SaveResult describes a committed archive
type SaveResult struct {
	Path    string
	Size    int64
	Entries int
}

// NewManager creates the output directory if needed and removes partial
// archives left over from an interrupted run.
func NewManager(outputDir string, chunkSize int) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	manager := &Manager{
		outputDir: outputDir,
		chunkSize: chunkSize,
	}

	if _, err := manager.CleanPartials(); err != nil {
		return nil, fmt.Errorf("failed to clean partial archives: %w", err)
	}

	return manager, nil
}

// ArchivePath returns the final path of the archive for a repository
func (m *Manager) ArchivePath(name string) string {
	return filepath.Join(m.outputDir, name+ArchiveExt)
}

// PartialPath returns the in-flight path of the archive for a repository
func (m *Manager) PartialPath(name string) string {
	return m.ArchivePath(name) + PartialExt
}

// IsDownloaded reports whether <name>.zip exists as a regular file
func (m *Manager) IsDownloaded(name string) bool {
	info, err := os.Stat(m.ArchivePath(name))
	return err == nil && info.Mode().IsRegular()
}

// Save streams r into <name>.zip.part and renames it to <name>.zip once the
// size and ZIP checks pass. The partial file is removed on any failure.
func (m *Manager) Save(name string, r io.Reader, opts SaveOptions) (*SaveResult, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	filename := m.ArchivePath(name)
	tempFile := m.PartialPath(name)

	out, err := os.Create(tempFile)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeDownload, 0, err, "failed to create partial archive")
	}

	buf := make([]byte, m.chunkSize)
	written, err := io.CopyBuffer(&fileWriter{f: out}, r, buf)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		var werr *writeError
		if errors.As(err, &werr) {
			return nil, errs.Wrap(errs.ErrorTypeDownload, 0, werr.err, "failed to write archive data")
		}
		return nil, err
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return nil, errs.Wrap(errs.ErrorTypeDownload, 0, closeErr, "failed to close partial archive")
	}

	if opts.ExpectedSize >= 0 && written != opts.ExpectedSize {
		os.Remove(tempFile)
		e := errs.New(errs.ErrorTypeDownload, 0,
			fmt.Sprintf("truncated archive: received %d of %d bytes", written, opts.ExpectedSize))
		e.Retryable = true
		return nil, e
	}

	result := &SaveResult{Path: filename, Size: written}

	if opts.Verify {
		entries, err := VerifyZip(tempFile)
		if err != nil {
			os.Remove(tempFile)
			e := errs.Wrap(errs.ErrorTypeDownload, 0, err, "downloaded file is not a valid zip archive")
			e.Retryable = true
			return nil, e
		}
		result.Entries = entries
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return nil, errs.Wrap(errs.ErrorTypeDownload, 0, err, "failed to rename partial archive")
	}

	return result, nil
}

// Discard removes the partial archive for a repository, if any
func (m *Manager) Discard(name string) error {
	err := os.Remove(m.PartialPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanPartials removes every *.zip.part file in the output directory
func (m *Manager) CleanPartials() ([]string, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ArchiveExt+PartialExt) {
			continue
		}
		if err := os.Remove(filepath.Join(m.outputDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

// ListArchives returns the repository names of completed archives, sorted
func (m *Manager) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == ArchiveExt {
			names = append(names, strings.TrimSuffix(entry.Name(), ArchiveExt))
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// VerifyZip opens path as a ZIP archive and returns its entry count
func VerifyZip(path string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return len(r.File), nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return errs.New(errs.ErrorTypeDownload, 0, fmt.Sprintf("invalid repository name %q", name))
	}
	return nil
}

// fileWriter tags write errors so they can be told apart from read errors
// coming out of io.CopyBuffer.
type fileWriter struct {
	f *os.File
}

type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}
