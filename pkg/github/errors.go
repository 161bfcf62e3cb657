package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gh "github.com/google/go-github/v45/github"

	errs "gitsnap/pkg/errors"
)

const tokenHint = "set GITSNAP_GITHUB_TOKEN to raise the limit"

// classifyAPIError maps a go-github error onto the typed errors of gitsnap
func classifyAPIError(err error, resp *gh.Response) *errs.Error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		msg := "API rate limit exceeded"
		if !rateErr.Rate.Reset.Time.IsZero() {
			msg = fmt.Sprintf("API rate limit exceeded, resets at %s", rateErr.Rate.Reset.Time.Local().Format(time.Kitchen))
		}
		return errs.Wrap(errs.ErrorTypeRateLimit, http.StatusForbidden, err, msg+"; "+tokenHint)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		msg := "secondary rate limit exceeded"
		if abuseErr.RetryAfter != nil {
			msg = fmt.Sprintf("secondary rate limit exceeded, retry after %s", abuseErr.RetryAfter.Round(time.Second))
		}
		return errs.Wrap(errs.ErrorTypeRateLimit, http.StatusForbidden, err, msg+"; "+tokenHint)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		errorType := errs.TypeForStatus(code)
		msg := respErr.Message
		switch errorType {
		case errs.ErrorTypeNotFound:
			msg = "not found"
		case errs.ErrorTypeRateLimit:
			msg = "too many requests; " + tokenHint
		case errs.ErrorTypeAuth:
			msg = "bad credentials; check the configured token"
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status code: %d", code)
		}
		return errs.Wrap(errorType, code, err, msg)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrorTypeTimeout, 0, err, "request timed out")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return errs.Wrap(errs.ErrorTypeTimeout, 0, err, "request timed out")
		}
		return errs.Wrap(errs.ErrorTypeNetwork, 0, err, fmt.Sprintf("network error: %v", urlErr.Err))
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return errs.Wrap(errs.ErrorTypeParsing, statusOf(resp), err, "failed to parse API response")
	}

	return errs.Wrap(errs.ErrorTypeUnknown, statusOf(resp), err, err.Error())
}

// checkArchiveStatus classifies a codeload response
func checkArchiveStatus(resp *http.Response) *errs.Error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return errs.New(errs.ErrorTypeNotFound, code, "no archive for branch")
	case code == http.StatusTooManyRequests,
		code == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		msg := "archive host rate limit exceeded"
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			msg += ", retry after " + retryAfter + "s"
		}
		return errs.New(errs.ErrorTypeRateLimit, code, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, code, "access denied")
	case code >= 500:
		return errs.New(errs.ErrorTypeServerError, code, fmt.Sprintf("server returned status %d", code))
	default:
		return errs.New(errs.ErrorTypeUnknown, code, fmt.Sprintf("unexpected status code: %d", code))
	}
}
