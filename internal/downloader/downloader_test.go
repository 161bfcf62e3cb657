package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsnap/pkg/config"
	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/github"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/ratelimit"
	"gitsnap/pkg/retry"
	"gitsnap/pkg/storage"
)

func zipBytes(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name + "-master/README")
	require.NoError(t, err)
	_, err = w.Write([]byte("Hello World!"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// response is what the fake source returns for one branch
type response struct {
	body          []byte
	contentLength int64
	err           error
}

// MockSource serves archives from memory
type MockSource struct {
	mu            sync.Mutex
	responses     map[string][]response // keyed by branch, consumed in order
	defaultBranch string
	requests      []string
	lookups       int
}

func newMockSource() *MockSource {
	return &MockSource{responses: make(map[string][]response)}
}

func (m *MockSource) on(branch string, rs ...response) *MockSource {
	m.responses[branch] = append(m.responses[branch], rs...)
	return m
}

func (m *MockSource) OpenArchive(ctx context.Context, owner, repo, branch string) (*github.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, branch)

	queue := m.responses[branch]
	if len(queue) == 0 {
		return nil, errs.New(errs.ErrorTypeNotFound, 404, "no archive for branch")
	}
	r := queue[0]
	if len(queue) > 1 {
		m.responses[branch] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	length := r.contentLength
	if length == 0 {
		length = int64(len(r.body))
	}
	return &github.Archive{
		Branch:        branch,
		Body:          io.NopCloser(bytes.NewReader(r.body)),
		ContentLength: length,
	}, nil
}

func (m *MockSource) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.defaultBranch == "" {
		return nil, errs.New(errs.ErrorTypeNotFound, 404, "not found")
	}
	return &github.Repository{Owner: owner, Name: name, DefaultBranch: m.defaultBranch}, nil
}

// MockProgress records progress callbacks
type MockProgress struct {
	starts   []int64
	updates  int
	finishes []bool
}

func (p *MockProgress) Start(name string, total int64) { p.starts = append(p.starts, total) }
func (p *MockProgress) Update(received int64)          { p.updates++ }
func (p *MockProgress) Finish(success bool)            { p.finishes = append(p.finishes, success) }

type fixture struct {
	source   *MockSource
	store    *storage.Manager
	progress *MockProgress
	states   []State
	d        *Downloader
}

func newFixture(t *testing.T, source ArchiveSource, idle time.Duration) *fixture {
	t.Helper()
	store, err := storage.NewManager(t.TempDir(), 16)
	require.NoError(t, err)

	f := &fixture{store: store, progress: &MockProgress{}}
	if ms, ok := source.(*MockSource); ok {
		f.source = ms
	}
	f.d = New(source, store, Options{
		IdleTimeout: idle,
		Verify:      true,
		Retry: &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
			RetryIf:     retry.DefaultRetryIf,
		},
		Limiter:  ratelimit.NewTokenBucket(1000, time.Second),
		Progress: f.progress,
		Logger:   logger.NewTestLogger(),
		OnStateChange: func(repo string, state State) {
			f.states = append(f.states, state)
		},
	})
	return f
}

var helloWorld = github.Repository{Owner: "octocat", Name: "Hello-World", DefaultBranch: "master"}

func TestDownloadCompletes(t *testing.T) {
	data := zipBytes(t, "Hello-World")
	f := newFixture(t, newMockSource().on("master", response{body: data}), time.Second)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "master", result.Branch)
	assert.Equal(t, int64(len(data)), result.Size)
	assert.Equal(t, 1, result.Entries)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.Err)
	assert.True(t, f.store.IsDownloaded("Hello-World"))
	assert.NoFileExists(t, f.store.PartialPath("Hello-World"))

	assert.Equal(t, []State{StatePending, StateDownloading, StateCompleted}, f.states)
	assert.Equal(t, []int64{int64(len(data))}, f.progress.starts)
	assert.Equal(t, []bool{true}, f.progress.finishes)
	assert.Positive(t, f.progress.updates)
}

func TestDownloadSkipsExistingArchive(t *testing.T) {
	source := newMockSource()
	f := newFixture(t, source, time.Second)
	require.NoError(t, os.WriteFile(f.store.ArchivePath("Hello-World"), []byte("old"), 0644))

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateSkipped, result.State)
	assert.Empty(t, source.requests)
	assert.Equal(t, []State{StatePending, StateSkipped}, f.states)

	content, _ := os.ReadFile(f.store.ArchivePath("Hello-World"))
	assert.Equal(t, "old", string(content))
}

func TestDownloadFallsBackToMaster(t *testing.T) {
	data := zipBytes(t, "Spoon-Knife")
	source := newMockSource().on("master", response{body: data})
	f := newFixture(t, source, time.Second)

	repo := github.Repository{Owner: "octocat", Name: "Spoon-Knife", DefaultBranch: "main"}
	result, err := f.d.Download(context.Background(), repo)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "master", result.Branch)
	assert.Equal(t, []string{"main", "master"}, source.requests)
	assert.Zero(t, source.lookups)
}

func TestDownloadResolvesDefaultBranch(t *testing.T) {
	data := zipBytes(t, "linguist")
	source := newMockSource().on("trunk", response{body: data})
	source.defaultBranch = "trunk"
	f := newFixture(t, source, time.Second)

	// the listing did not carry a default branch
	repo := github.Repository{Owner: "octocat", Name: "linguist"}
	result, err := f.d.Download(context.Background(), repo)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "trunk", result.Branch)
	assert.Equal(t, []string{"main", "master", "trunk"}, source.requests)
	assert.Equal(t, 1, source.lookups)
}

func TestDownloadNoArchiveIsTerminal(t *testing.T) {
	source := newMockSource()
	f := newFixture(t, source, time.Second)

	repo := github.Repository{Owner: "octocat", Name: "empty-repo", DefaultBranch: "main"}
	result, err := f.d.Download(context.Background(), repo)
	require.NoError(t, err, "a missing archive does not stop the run")

	assert.Equal(t, StateFailedTerminal, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Err, ErrNoArchive)
	assert.True(t, errs.IsType(result.Err, errs.ErrorTypeDownload))
	assert.False(t, f.store.IsDownloaded("empty-repo"))
	assert.Equal(t, 1, source.lookups)
}

func TestDownloadTruncatedIsRetried(t *testing.T) {
	data := zipBytes(t, "Hello-World")
	source := newMockSource().on("master",
		response{body: data[:20], contentLength: int64(len(data))},
		response{body: data},
	)
	f := newFixture(t, source, time.Second)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []State{StatePending, StateDownloading, StateFailedRetryable, StateDownloading, StateCompleted}, f.states)
	assert.Equal(t, []bool{false, true}, f.progress.finishes)

	content, err := os.ReadFile(f.store.ArchivePath("Hello-World"))
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestDownloadExhaustsRetries(t *testing.T) {
	source := newMockSource().on("master",
		response{err: errs.New(errs.ErrorTypeServerError, 502, "bad gateway")},
	)
	f := newFixture(t, source, time.Second)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateFailedTerminal, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.True(t, errs.IsType(result.Err, errs.ErrorTypeServerError))

	var exhausted *retry.ExhaustedError
	assert.True(t, errors.As(result.Err, &exhausted))
	// the failing branch is retried first instead of walking the 404s again
	assert.Equal(t, []string{"master", "master", "master"}, source.requests)
}

func TestDownloadInvalidZipLeavesNothing(t *testing.T) {
	source := newMockSource().on("master", response{body: []byte("<html>not a zip</html>")})
	f := newFixture(t, source, time.Second)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateFailedTerminal, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, f.store.IsDownloaded("Hello-World"))
	assert.NoFileExists(t, f.store.PartialPath("Hello-World"))
}

func TestDownloadRateLimitAbortsRun(t *testing.T) {
	source := newMockSource().on("master",
		response{err: errs.New(errs.ErrorTypeRateLimit, 429, "archive host rate limit exceeded")},
	)
	f := newFixture(t, source, time.Second)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeRateLimit))
	assert.Equal(t, StateFailedTerminal, result.State)
	assert.Equal(t, 1, result.Attempts)
}

// stallingReader returns some bytes and then blocks until ctx is done
type stallingReader struct {
	ctx  context.Context
	data []byte
}

func (s *stallingReader) Read(p []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

// ctxSource hands out a stalling body on the first request
type ctxSource struct {
	MockSource
	data  []byte
	calls int
}

func (c *ctxSource) OpenArchive(ctx context.Context, owner, repo, branch string) (*github.Archive, error) {
	c.calls++
	if c.calls == 1 {
		return &github.Archive{
			Branch:        branch,
			Body:          io.NopCloser(&stallingReader{ctx: ctx, data: c.data[:10]}),
			ContentLength: int64(len(c.data)),
		}, nil
	}
	return &github.Archive{Branch: branch, Body: io.NopCloser(bytes.NewReader(c.data)), ContentLength: int64(len(c.data))}, nil
}

func TestDownloadIdleTimeoutRetries(t *testing.T) {
	source := &ctxSource{data: zipBytes(t, "Hello-World")}
	f := newFixture(t, source, 50*time.Millisecond)

	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, source.calls)
}

func TestDownloadCancelledRemovesPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &ctxSource{data: zipBytes(t, "Hello-World")}
	f := newFixture(t, source, time.Minute)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	result, err := f.d.Download(ctx, helloWorld)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailedTerminal, result.State)
	assert.Equal(t, 1, source.calls)
	assert.False(t, f.store.IsDownloaded("Hello-World"))
	assert.NoFileExists(t, f.store.PartialPath("Hello-World"))
}

func TestDownloadOverHTTP(t *testing.T) {
	data := zipBytes(t, "Hello-World")
	var mu sync.Mutex
	var paths []string
	stalled := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		first := !stalled
		stalled = true
		mu.Unlock()

		if r.URL.Path != "/octocat/Hello-World/zip/refs/heads/master" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		if first {
			// headers and a few bytes, then silence
			w.Write(data[:10])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	client, err := github.NewClient(&config.GitHubConfig{
		APIBaseURL:     srv.URL + "/",
		ArchiveBaseURL: srv.URL,
	}, srv.Client(), logger.NewNopLogger())
	require.NoError(t, err)

	f := newFixture(t, client, 100*time.Millisecond)
	result, err := f.d.Download(context.Background(), helloWorld)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.Attempts)

	content, err := os.ReadFile(filepath.Join(f.store.GetOutputDir(), "Hello-World.zip"))
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "failed", StateFailedTerminal.String())
	assert.Equal(t, "state(42)", State(42).String())
}
