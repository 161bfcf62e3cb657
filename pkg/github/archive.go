package github

import (
	"context"
	"net/http"
	"net/url"
	"time"

	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/logger"
)

// OpenArchive requests the ZIP snapshot of a branch from codeload. The caller
// owns the returned body. Archive requests never carry the API token.
//
// Errors are typed: not_found when the branch has no archive, rate_limit,
// server_error, network and timeout. A cancelled ctx is returned as is.
func (c *Client) OpenArchive(ctx context.Context, owner, repo, branch string) (*Archive, error) {
	archiveURL := ArchiveURL(c.archiveBaseURL, owner, repo, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, 0, err, "failed to create request").WithRepository(owner, repo)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/zip")

	c.logger.DebugWithFields("requesting archive", map[string]interface{}{
		"url":    archiveURL,
		"branch": branch,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errorType := errs.ErrorTypeNetwork
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			errorType = errs.ErrorTypeTimeout
		}
		return nil, errs.Wrap(errorType, 0, err, "archive request failed").WithRepository(owner, repo)
	}
	logger.LogRequest(http.MethodGet, archiveURL, resp.StatusCode, time.Since(start))

	if apiErr := checkArchiveStatus(resp); apiErr != nil {
		resp.Body.Close()
		return nil, apiErr.WithRepository(owner, repo)
	}

	return &Archive{
		URL:           archiveURL,
		Branch:        branch,
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}
