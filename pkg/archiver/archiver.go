package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"gitsnap/internal/downloader"
	"gitsnap/pkg/config"
	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/github"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/metadata"
	"gitsnap/pkg/ratelimit"
	"gitsnap/pkg/retry"
	"gitsnap/pkg/storage"
	"gitsnap/pkg/ui"
)

// listAttempts bounds the retries of one listing page
const listAttempts = 3

// ErrTargetDirectory is returned when the output directory cannot be used.
var ErrTargetDirectory = errors.New("cannot prepare target directory")

// Archiver runs one archiving session: it lists a user's repositories and
// downloads each missing archive into the target directory, one at a time.
type Archiver struct {
	config     *config.Config
	transport  *http.Transport
	client     *github.Client
	limiter    ratelimit.Limiter
	progress   *ui.ProgressReporter
	retry      *retry.Config
	logger     logger.Logger
	onState    func(repo string, state downloader.State)
	progressTo io.Writer
}

// Option configures an Archiver
type Option func(*Archiver)

// WithLogger sets the logger used by the run and its components
func WithLogger(log logger.Logger) Option {
	return func(a *Archiver) {
		a.logger = log
	}
}

// WithProgressOutput redirects the progress line
func WithProgressOutput(w io.Writer) Option {
	return func(a *Archiver) {
		a.progressTo = w
	}
}

// WithRetry overrides the download retry policy built from the configuration
func WithRetry(cfg *retry.Config) Option {
	return func(a *Archiver) {
		a.retry = cfg
	}
}

// WithStateObserver receives every download state transition
func WithStateObserver(fn func(repo string, state downloader.State)) Option {
	return func(a *Archiver) {
		a.onState = fn
	}
}

// New creates the run-scoped HTTP client, GitHub client, rate limiter and
// progress reporter. Call Close when the run is over.
func New(cfg *config.Config, opts ...Option) (*Archiver, error) {
	a := &Archiver{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.GetLogger()
	}
	a.logger = a.logger.WithField("component", "archiver")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Download.IdleTimeout
	a.transport = transport

	client, err := github.NewClient(&cfg.GitHub, &http.Client{Transport: transport}, a.logger,
		github.WithRequestTimeout(cfg.Download.RequestTimeout),
		github.WithListRetry(retry.NewConfig(listAttempts, cfg.Download.RetryBaseDelay, a.logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	a.client = client

	a.limiter = ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)
	if a.retry == nil {
		a.retry = retry.NewConfig(cfg.Download.RetryAttempts, cfg.Download.RetryBaseDelay, a.logger)
	}
	if !ui.IsQuietMode() {
		a.progress = ui.NewProgressReporter(a.progressTo)
	}

	return a, nil
}

// Repositories lists the public repositories of username
func (a *Archiver) Repositories(ctx context.Context, username string) iter.Seq2[github.Repository, error] {
	return a.client.ListRepositories(ctx, username)
}

// Run lists and archives every repository of username
func (a *Archiver) Run(ctx context.Context, username string) (*Summary, error) {
	return a.Process(ctx, username, a.Repositories(ctx, username))
}

// Process archives repos in order.
//
// Failures of single repositories are recorded in the summary and the run
// goes on. A listing error, a rate limit or cancellation of ctx stops the run
// and is returned together with the summary so far.
func (a *Archiver) Process(ctx context.Context, username string, repos iter.Seq2[github.Repository, error]) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		Username:  username,
		Directory: a.config.TargetDirectory(username),
	}
	defer func() {
		summary.Elapsed = time.Since(start)
	}()

	log := a.logger.WithFields(map[string]interface{}{
		"username":  username,
		"directory": summary.Directory,
	})
	log.Info("run started")

	var dl *downloader.Downloader
	var store *storage.Manager
	for repo, err := range repos {
		if err != nil {
			log.WithError(err).Error("listing repositories failed")
			return summary, err
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		// the target directory is created once there is something to put in it
		if dl == nil {
			store, dl, err = a.newDownloader(summary.Directory)
			if err != nil {
				return summary, err
			}
		}

		summary.Total++
		ui.PrintRepository(summary.Total, repo.Name)

		result, err := dl.Download(ctx, repo)
		summary.record(result)
		if err != nil {
			log.WithError(err).WithField("repository", repo.Name).Warn("run aborted")
			return summary, err
		}
		if result.State == downloader.StateCompleted && a.config.Output.WriteMetadata {
			a.writeMetadata(result)
		}
		if result.State == downloader.StateFailedTerminal {
			log.WithError(result.Err).WithFields(map[string]interface{}{
				"repository": repo.Name,
				"error_type": string(errs.TypeOf(result.Err)),
				"attempts":   result.Attempts,
			}).Warn("repository failed")
			ui.PrintFailed(repo.Name, result.Err)
		} else if result.State == downloader.StateSkipped {
			ui.PrintSkipped(repo.Name)
		}
	}

	fields := map[string]interface{}{
		"total":      summary.Total,
		"downloaded": summary.Downloaded,
		"skipped":    summary.Skipped,
		"failed":     len(summary.Failures),
	}
	if store != nil {
		if names, err := store.ListArchives(); err == nil {
			fields["archives_in_directory"] = len(names)
		}
	}
	log.InfoWithFields("run finished", fields)
	return summary, nil
}

func (a *Archiver) newDownloader(dir string) (*storage.Manager, *downloader.Downloader, error) {
	store, err := storage.NewManager(dir, a.config.Download.ChunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %s: %w", ErrTargetDirectory, dir, err)
	}

	if a.config.Output.WriteMetadata {
		if removed, err := metadata.CleanOrphaned(dir); err != nil {
			a.logger.WithError(err).Warn("failed to clean orphaned metadata")
		} else if len(removed) > 0 {
			a.logger.DebugWithFields("removed orphaned metadata", map[string]interface{}{
				"files": removed,
			})
		}
	}

	opts := downloader.Options{
		IdleTimeout:   a.config.Download.IdleTimeout,
		Verify:        a.config.Download.VerifyArchives,
		Retry:         a.retry,
		Limiter:       a.limiter,
		Logger:        a.logger,
		OnStateChange: a.onState,
	}
	if a.progress != nil {
		opts.Progress = a.progress
	}
	return store, downloader.New(a.client, store, opts), nil
}

// writeMetadata stores the sidecar of a new archive. Failures are logged only.
func (a *Archiver) writeMetadata(result downloader.Result) {
	repo := result.Repository
	url := github.ArchiveURL(a.client.ArchiveBaseURL(), repo.Owner, repo.Name, result.Branch)
	meta := metadata.FromRepository(repo, result.Branch, url, result.Size, result.Entries)
	if err := meta.Save(result.Path); err != nil {
		a.logger.WithError(err).WithField("repository", repo.Name).Warn("failed to write archive metadata")
	}
}

// Close flushes the progress line and releases idle connections
func (a *Archiver) Close() error {
	if a.progress != nil {
		a.progress.Close()
	}
	a.transport.CloseIdleConnections()
	return nil
}

// Summary tallies the outcome of a run
type Summary struct {
	Username   string
	Directory  string
	Total      int
	Downloaded int
	Skipped    int
	Failures   []ui.Failure
	Bytes      int64
	Elapsed    time.Duration
	Results    []downloader.Result
}

func (s *Summary) record(result downloader.Result) {
	s.Results = append(s.Results, result)
	switch result.State {
	case downloader.StateSkipped:
		s.Skipped++
	case downloader.StateCompleted:
		s.Downloaded++
		s.Bytes += result.Size
	case downloader.StateFailedTerminal:
		if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
			return
		}
		s.Failures = append(s.Failures, ui.Failure{Name: result.Repository.Name, Err: result.Err})
	}
}

// UI converts the summary for ui.PrintSummary
func (s *Summary) UI() ui.Summary {
	return ui.Summary{
		Username:   s.Username,
		Directory:  s.Directory,
		Total:      s.Total,
		Downloaded: s.Downloaded,
		Skipped:    s.Skipped,
		Failures:   s.Failures,
		Bytes:      s.Bytes,
		Elapsed:    s.Elapsed,
	}
}

// FromSlice replays repositories collected earlier, for example after a
// confirmation prompt consumed the listing.
func FromSlice(repos []github.Repository) iter.Seq2[github.Repository, error] {
	return func(yield func(github.Repository, error) bool) {
		for _, repo := range repos {
			if !yield(repo, nil) {
				return
			}
		}
	}
}

// Collect drains a listing into a slice, stopping at the first error
func Collect(repos iter.Seq2[github.Repository, error]) ([]github.Repository, error) {
	var out []github.Repository
	for repo, err := range repos {
		if err != nil {
			return out, err
		}
		out = append(out, repo)
	}
	return out, nil
}
