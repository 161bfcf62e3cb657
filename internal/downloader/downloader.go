package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/github"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/ratelimit"
	"gitsnap/pkg/retry"
	"gitsnap/pkg/storage"
)

// State is the lifecycle of one repository download
type State int

const (
	StatePending State = iota
	StateSkipped
	StateDownloading
	StateCompleted
	StateFailedRetryable
	StateFailedTerminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSkipped:
		return "skipped"
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateFailedRetryable:
		return "failed_retryable"
	case StateFailedTerminal:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one repository download
type Result struct {
	Repository github.Repository
	// State is Skipped, Completed or FailedTerminal
	State    State
	Path     string
	Size     int64
	Entries  int
	Attempts int
	Branch   string
	Duration time.Duration
	Err      error
}

// ArchiveSource opens repository archives and resolves repository metadata
type ArchiveSource interface {
	OpenArchive(ctx context.Context, owner, repo, branch string) (*github.Archive, error)
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
}

// ArchiveStorage is the target directory of a run
type ArchiveStorage interface {
	IsDownloaded(name string) bool
	Save(name string, r io.Reader, opts storage.SaveOptions) (*storage.SaveResult, error)
	Discard(name string) error
}

// Progress receives byte counts of the download in flight
type Progress interface {
	Start(name string, total int64)
	Update(received int64)
	Finish(success bool)
}

// Options configures a Downloader
type Options struct {
	// IdleTimeout aborts an attempt when no bytes arrive for this long,
	// including while waiting for response headers. Zero disables it.
	IdleTimeout time.Duration
	Verify      bool
	Retry       *retry.Config
	Limiter     ratelimit.Limiter
	Progress    Progress
	Logger      logger.Logger
	// OnStateChange observes every state transition
	OnStateChange func(repo string, state State)
}

// Downloader fetches one repository archive at a time
type Downloader struct {
	source  ArchiveSource
	storage ArchiveStorage
	opts    Options
	logger  logger.Logger
}

// New creates a downloader
func New(source ArchiveSource, store ArchiveStorage, opts Options) *Downloader {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	return &Downloader{
		source:  source,
		storage: store,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// ErrNoArchive is returned when no branch candidate has an archive
var ErrNoArchive = errors.New("no archive available")

// Download runs the skip check and, if needed, downloads the archive of repo.
//
// Failures confined to this repository are reported in Result.Err and the
// returned error is nil. The returned error is non-nil only when the run must
// stop: the context was cancelled or the archive host is rate limiting.
func (d *Downloader) Download(ctx context.Context, repo github.Repository) (Result, error) {
	start := time.Now()
	result := Result{Repository: repo}
	log := d.logger.WithFields(map[string]interface{}{
		"owner":      repo.Owner,
		"repository": repo.Name,
	})

	d.transition(repo.Name, StatePending)
	if d.storage.IsDownloaded(repo.Name) {
		result.State = StateSkipped
		d.transition(repo.Name, StateSkipped)
		logger.LogDownload(repo.Owner, repo.Name, 0, true, nil)
		return result, nil
	}

	run := &download{
		d:          d,
		repo:       repo,
		candidates: repo.BranchCandidates(),
		log:        log,
	}

	cfg := *d.opts.Retry
	cfg.Logger = log
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.transition(repo.Name, StateFailedRetryable)
	}

	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		result.Attempts = attempt
		d.transition(repo.Name, StateDownloading)
		return run.attempt(ctx)
	}, &cfg)

	result.Duration = time.Since(start)
	if err == nil {
		result.State = StateCompleted
		result.Path = run.saved.Path
		result.Size = run.saved.Size
		result.Entries = run.saved.Entries
		result.Branch = run.branch
		d.transition(repo.Name, StateCompleted)
		logger.LogDownload(repo.Owner, repo.Name, result.Size, false, nil)
		return result, nil
	}

	result.State = StateFailedTerminal
	result.Err = err
	d.transition(repo.Name, StateFailedTerminal)
	if discardErr := d.storage.Discard(repo.Name); discardErr != nil {
		log.WithError(discardErr).Warn("failed to remove partial archive")
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if errs.IsType(err, errs.ErrorTypeRateLimit) {
		return result, err
	}
	logger.LogDownload(repo.Owner, repo.Name, 0, false, err)
	return result, nil
}

func (d *Downloader) transition(repo string, state State) {
	if d.opts.OnStateChange != nil {
		d.opts.OnStateChange(repo, state)
	}
}

// download holds the state of one repository across attempts
type download struct {
	d          *Downloader
	repo       github.Repository
	candidates []string
	resolved   bool
	branch     string
	saved      *storage.SaveResult
	log        logger.Logger
}

// attempt tries every branch candidate once
func (r *download) attempt(ctx context.Context) error {
	for i := 0; i < len(r.candidates); i++ {
		branch := r.candidates[i]
		err := r.fetch(ctx, branch)
		if err == nil {
			r.branch = branch
			return nil
		}
		if !errs.IsType(err, errs.ErrorTypeNotFound) {
			// the next attempt starts with the branch that answered
			r.candidates = append([]string{branch}, without(r.candidates, branch)...)
			return err
		}
		r.log.DebugWithFields("no archive for branch", map[string]interface{}{
			"branch": branch,
		})

		if i == len(r.candidates)-1 && !r.resolved {
			r.resolved = true
			if branch := r.resolveDefaultBranch(ctx); branch != "" && !contains(r.candidates, branch) {
				r.candidates = append(r.candidates, branch)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return errs.Wrap(errs.ErrorTypeDownload, 404, ErrNoArchive,
		fmt.Sprintf("no archive available for branches %v", r.candidates)).WithRepository(r.repo.Owner, r.repo.Name)
}

func (r *download) resolveDefaultBranch(ctx context.Context) string {
	meta, err := r.d.source.GetRepository(ctx, r.repo.Owner, r.repo.Name)
	if err != nil {
		r.log.WithError(err).Debug("failed to resolve default branch")
		return ""
	}
	return meta.DefaultBranch
}

// fetch downloads one branch archive into storage
func (r *download) fetch(ctx context.Context, branch string) error {
	d := r.d
	if d.opts.Limiter != nil {
		if err := d.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	guard := newIdleGuard(ctx, d.opts.IdleTimeout)
	defer guard.stop()

	archive, err := d.source.OpenArchive(guard.ctx, r.repo.Owner, r.repo.Name, branch)
	if err != nil {
		return r.classify(ctx, guard, err)
	}
	defer archive.Body.Close()
	guard.touch()

	if d.opts.Progress != nil {
		d.opts.Progress.Start(r.repo.Name, archive.ContentLength)
	}

	body := &idleReader{r: archive.Body, guard: guard, progress: d.opts.Progress}
	saved, err := d.storage.Save(r.repo.Name, body, storage.SaveOptions{
		ExpectedSize: archive.ContentLength,
		Verify:       d.opts.Verify,
	})

	if d.opts.Progress != nil {
		d.opts.Progress.Finish(err == nil)
	}
	if err != nil {
		return r.classify(ctx, guard, err)
	}

	r.saved = saved
	r.log.DebugWithFields("archive saved", map[string]interface{}{
		"branch":  branch,
		"size":    saved.Size,
		"entries": saved.Entries,
	})
	return nil
}

// classify turns transport failures into typed errors. Cancellation of the
// parent context is returned untouched.
func (r *download) classify(ctx context.Context, guard *idleGuard, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if guard.fired.Load() {
		return errs.Wrap(errs.ErrorTypeTimeout, 0, err,
			fmt.Sprintf("no data received for %s", r.d.opts.IdleTimeout)).WithRepository(r.repo.Owner, r.repo.Name)
	}
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		if apiErr.Username == "" {
			apiErr.WithRepository(r.repo.Owner, r.repo.Name)
		}
		return err
	}
	return errs.Wrap(errs.ErrorTypeNetwork, 0, err, fmt.Sprintf("archive stream interrupted: %v", err)).
		WithRepository(r.repo.Owner, r.repo.Name)
}

// idleGuard cancels its context when touch is not called within timeout
type idleGuard struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration
	fired   atomic.Bool
}

func newIdleGuard(parent context.Context, timeout time.Duration) *idleGuard {
	ctx, cancel := context.WithCancel(parent)
	g := &idleGuard{ctx: ctx, cancel: cancel, timeout: timeout}
	if timeout > 0 {
		g.timer = time.AfterFunc(timeout, func() {
			g.fired.Store(true)
			cancel()
		})
	}
	return g
}

func (g *idleGuard) touch() {
	if g.timer != nil && !g.fired.Load() {
		g.timer.Reset(g.timeout)
	}
}

func (g *idleGuard) stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.cancel()
}

// idleReader resets the idle guard and reports progress on every read
type idleReader struct {
	r        io.Reader
	guard    *idleGuard
	progress Progress
	received int64
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.guard.touch()
		ir.received += int64(n)
		if ir.progress != nil {
			ir.progress.Update(ir.received)
		}
	}
	return n, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
