package archiver

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsnap/internal/downloader"
	"gitsnap/pkg/config"
	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/github"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/metadata"
	"gitsnap/pkg/storage"
	"gitsnap/pkg/ui"
)

type fakeRepo struct {
	name          string
	defaultBranch string
	// archives maps branch to archive body. Missing branches answer 404.
	archives map[string][]byte
}

// mockGitHub serves the listing API and the codeload archive host
type mockGitHub struct {
	server *httptest.Server
	owner  string

	mu          sync.Mutex
	repos       []fakeRepo
	listStatus  int
	archiveHits map[string]int
	archiveCode int
}

func newMockGitHub(t *testing.T, owner string, repos ...fakeRepo) *mockGitHub {
	t.Helper()
	m := &mockGitHub{owner: owner, repos: repos, archiveHits: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{user}/repos", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.listStatus != 0 {
			w.WriteHeader(m.listStatus)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if page := r.URL.Query().Get("page"); page != "" && page != "1" {
			fmt.Fprint(w, "[]")
			return
		}
		var items []string
		for _, repo := range m.repos {
			items = append(items, fmt.Sprintf(
				`{"name":%q,"full_name":"%s/%s","default_branch":%q,"description":"about %s","owner":{"login":%q}}`,
				repo.name, m.owner, repo.name, repo.defaultBranch, repo.name, m.owner))
		}
		fmt.Fprint(w, "["+strings.Join(items, ",")+"]")
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		for _, repo := range m.repos {
			if repo.name == r.PathValue("repo") {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"name":%q,"default_branch":%q,"owner":{"login":%q}}`, repo.name, repo.defaultBranch, m.owner)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /codeload/{owner}/{repo}/zip/refs/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		name := r.PathValue("repo")
		m.archiveHits[name]++
		if m.archiveCode != 0 {
			w.WriteHeader(m.archiveCode)
			return
		}
		for _, repo := range m.repos {
			if repo.name != name {
				continue
			}
			if body, ok := repo.archives[r.PathValue("branch")]; ok {
				w.Header().Set("Content-Type", "application/zip")
				_, _ = w.Write(body)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockGitHub) hits(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.archiveHits[name]
}

func zipArchive(t *testing.T, prefix string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, file := range []string{"README", "src/main.go"} {
		w, err := zw.Create(prefix + "/" + file)
		require.NoError(t, err)
		_, err = w.Write([]byte("content of " + file))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testConfig(m *mockGitHub, dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.GitHub.APIBaseURL = m.server.URL + "/"
	cfg.GitHub.ArchiveBaseURL = m.server.URL + "/codeload"
	cfg.Output.Directory = dir
	cfg.Download.RetryBaseDelay = time.Millisecond
	cfg.Download.IdleTimeout = 2 * time.Second
	return cfg
}

// captureOutput redirects the ui streams for the duration of the test
func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := ui.Out, ui.ErrOut
	ui.Out, ui.ErrOut = &out, &errOut
	t.Cleanup(func() {
		ui.Out, ui.ErrOut = prevOut, prevErr
	})
	return &out, &errOut
}

func newTestArchiver(t *testing.T, cfg *config.Config, opts ...Option) *Archiver {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger()), WithProgressOutput(io.Discard)}, opts...)
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func octocat(t *testing.T) *mockGitHub {
	return newMockGitHub(t, "octocat",
		fakeRepo{name: "Hello-World", defaultBranch: "master", archives: map[string][]byte{
			"master": zipArchive(t, "Hello-World-master"),
		}},
		fakeRepo{name: "Spoon-Knife", defaultBranch: "main", archives: map[string][]byte{
			"main": zipArchive(t, "Spoon-Knife-main"),
		}},
	)
}

func TestRunArchivesEveryRepository(t *testing.T) {
	out, _ := captureOutput(t)
	m := octocat(t)
	dir := filepath.Join(t.TempDir(), "octocat")
	a := newTestArchiver(t, testConfig(m, dir))

	summary, err := a.Run(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Downloaded)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, summary.Failures)
	assert.Positive(t, summary.Bytes)
	assert.Equal(t, dir, summary.Directory)

	for _, name := range []string{"Hello-World", "Spoon-Knife"} {
		entries, err := storage.VerifyZip(filepath.Join(dir, name+".zip"))
		require.NoError(t, err, name)
		assert.Equal(t, 2, entries)
		assert.NoFileExists(t, filepath.Join(dir, name+".zip.part"))
	}

	assert.Contains(t, out.String(), "[1] Hello-World")
	assert.Contains(t, out.String(), "[2] Spoon-Knife")
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "master", summary.Results[0].Branch)
	assert.Equal(t, "main", summary.Results[1].Branch)
}

func TestRunIsIdempotent(t *testing.T) {
	out, _ := captureOutput(t)
	m := octocat(t)
	cfg := testConfig(m, t.TempDir())

	_, err := newTestArchiver(t, cfg).Run(context.Background(), "octocat")
	require.NoError(t, err)
	hits := m.hits("Hello-World") + m.hits("Spoon-Knife")

	summary, err := newTestArchiver(t, cfg).Run(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Zero(t, summary.Downloaded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, hits, m.hits("Hello-World")+m.hits("Spoon-Knife"), "second run must not download")
	assert.Contains(t, out.String(), "Hello-World.zip already exists")
}

func TestRunEmptyUser(t *testing.T) {
	captureOutput(t)
	m := newMockGitHub(t, "nobody")
	dir := filepath.Join(t.TempDir(), "nobody")

	summary, err := newTestArchiver(t, testConfig(m, dir)).Run(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Results)
	assert.NoDirExists(t, dir)
}

func TestRunUnknownUser(t *testing.T) {
	captureOutput(t)
	m := newMockGitHub(t, "ghost")
	m.listStatus = http.StatusNotFound

	summary, err := newTestArchiver(t, testConfig(m, t.TempDir())).Run(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), "ghost")
	assert.Zero(t, summary.Total)
}

func TestRunContinuesAfterRepositoryFailure(t *testing.T) {
	_, errOut := captureOutput(t)
	m := newMockGitHub(t, "octocat",
		fakeRepo{name: "empty-repo", defaultBranch: "main"},
		fakeRepo{name: "Hello-World", defaultBranch: "master", archives: map[string][]byte{
			"master": zipArchive(t, "Hello-World-master"),
		}},
	)
	dir := t.TempDir()

	summary, err := newTestArchiver(t, testConfig(m, dir)).Run(context.Background(), "octocat")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Downloaded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "empty-repo", summary.Failures[0].Name)
	assert.ErrorIs(t, summary.Failures[0].Err, downloader.ErrNoArchive)
	assert.Contains(t, errOut.String(), "empty-repo")
	assert.NoFileExists(t, filepath.Join(dir, "empty-repo.zip"))
	assert.FileExists(t, filepath.Join(dir, "Hello-World.zip"))
}

func TestRunAbortsWhenArchivesAreRateLimited(t *testing.T) {
	captureOutput(t)
	m := octocat(t)
	m.archiveCode = http.StatusTooManyRequests

	summary, err := newTestArchiver(t, testConfig(m, t.TempDir())).Run(context.Background(), "octocat")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeRateLimit))
	assert.Equal(t, 1, summary.Total, "the run stops at the first rate-limited repository")
	assert.Zero(t, m.hits("Spoon-Knife"))
}

func TestProcessStopsWhenCancelled(t *testing.T) {
	captureOutput(t)
	m := octocat(t)
	a := newTestArchiver(t, testConfig(m, t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repos := FromSlice([]github.Repository{{Owner: "octocat", Name: "Hello-World", DefaultBranch: "master"}})
	summary, err := a.Process(ctx, "octocat", repos)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Total)
	assert.Zero(t, m.hits("Hello-World"))
}

func TestProcessReportsStates(t *testing.T) {
	captureOutput(t)
	m := octocat(t)

	var mu sync.Mutex
	var states []downloader.State
	a := newTestArchiver(t, testConfig(m, t.TempDir()), WithStateObserver(func(repo string, state downloader.State) {
		mu.Lock()
		defer mu.Unlock()
		if repo == "Hello-World" {
			states = append(states, state)
		}
	}))

	repos, err := Collect(a.Repositories(context.Background(), "octocat"))
	require.NoError(t, err)
	require.Len(t, repos, 2)

	_, err = a.Process(context.Background(), "octocat", FromSlice(repos[:1]))
	require.NoError(t, err)
	assert.Equal(t, []downloader.State{
		downloader.StatePending,
		downloader.StateDownloading,
		downloader.StateCompleted,
	}, states)
}

func TestSummaryUI(t *testing.T) {
	s := &Summary{Username: "octocat", Directory: "out", Total: 3, Downloaded: 1, Skipped: 1, Bytes: 42}
	s.record(downloader.Result{
		Repository: github.Repository{Name: "broken"},
		State:      downloader.StateFailedTerminal,
		Err:        errs.New(errs.ErrorTypeDownload, 404, "no archive"),
	})
	s.record(downloader.Result{
		Repository: github.Repository{Name: "interrupted"},
		State:      downloader.StateFailedTerminal,
		Err:        context.Canceled,
	})

	view := s.UI()
	assert.Equal(t, "octocat", view.Username)
	assert.Equal(t, 3, view.Total)
	require.Len(t, view.Failures, 1)
	assert.Equal(t, "broken", view.Failures[0].Name)
}

func TestCollectStopsAtError(t *testing.T) {
	boom := errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
	seq := func(yield func(github.Repository, error) bool) {
		if !yield(github.Repository{Name: "first"}, nil) {
			return
		}
		yield(github.Repository{}, boom)
	}

	repos, err := Collect(seq)
	assert.ErrorIs(t, err, boom)
	require.Len(t, repos, 1)
	assert.Equal(t, "first", repos[0].Name)
}

func TestRunWritesMetadata(t *testing.T) {
	captureOutput(t)
	m := octocat(t)
	dir := t.TempDir()
	cfg := testConfig(m, dir)
	cfg.Output.WriteMetadata = true

	_, err := newTestArchiver(t, cfg).Run(context.Background(), "octocat")
	require.NoError(t, err)

	meta, err := metadata.Load(filepath.Join(dir, "Spoon-Knife.zip"))
	require.NoError(t, err)
	assert.Equal(t, "octocat/Spoon-Knife", meta.FullName)
	assert.Equal(t, "main", meta.Branch)
	assert.Equal(t, m.server.URL+"/codeload/octocat/Spoon-Knife/zip/refs/heads/main", meta.ArchiveURL)
	assert.Equal(t, 2, meta.Entries)
}

func TestRunFailsOnUnusableTargetDirectory(t *testing.T) {
	captureOutput(t)
	m := octocat(t)
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	summary, err := newTestArchiver(t, testConfig(m, file)).Run(context.Background(), "octocat")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetDirectory)
	assert.Contains(t, err.Error(), file)
	assert.Zero(t, summary.Total)
}
