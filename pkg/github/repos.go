package github

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v45/github"

	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/retry"
)

// ListRepositories lazily yields the public repositories of username in
// server order. Pages are requested until one comes back empty. On failure a
// single zero Repository is yielded with the error and the sequence ends.
func (c *Client) ListRepositories(ctx context.Context, username string) iter.Seq2[Repository, error] {
	return func(yield func(Repository, error) bool) {
		username = strings.TrimSpace(username)
		if username == "" {
			yield(Repository{}, errs.New(errs.ErrorTypeValidation, 0, "username must not be empty"))
			return
		}

		for page := 1; ; page++ {
			repos, err := c.fetchPage(ctx, username, page)
			if err != nil {
				yield(Repository{}, err)
				return
			}
			if len(repos) == 0 {
				return
			}
			for _, repo := range repos {
				if !yield(repositoryFromAPI(repo, username), nil) {
					return
				}
			}
		}
	}
}

// fetchPage requests one listing page, retrying transient failures a few times
func (c *Client) fetchPage(ctx context.Context, username string, page int) ([]*gh.Repository, error) {
	opts := &gh.RepositoryListOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: c.perPage},
	}
	endpoint := fmt.Sprintf("users/%s/repos?page=%d", username, page)

	return retry.DoWithResult(ctx, func(ctx context.Context, attempt int) ([]*gh.Repository, error) {
		reqCtx, cancel := c.withRequestTimeout(ctx)
		defer cancel()

		c.logger.DebugWithFields("fetching repository page", map[string]interface{}{
			"username": username,
			"page":     page,
			"attempt":  attempt,
		})

		start := time.Now()
		repos, resp, err := c.api.Repositories.List(reqCtx, username, opts)
		logger.LogRequest(http.MethodGet, endpoint, statusOf(resp), time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			apiErr := classifyAPIError(err, resp).WithUser(username)
			if apiErr.Type == errs.ErrorTypeRateLimit {
				var reset time.Time
				if resp != nil {
					reset = resp.Rate.Reset.Time
				}
				logger.LogRateLimit(endpoint, reset)
			}
			return nil, apiErr
		}
		return repos, nil
	}, c.listRetry)
}
