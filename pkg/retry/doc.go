// Package retry runs an operation several times with backoff between
// attempts. It is used for archive downloads and for repository listing pages.
//
// Only errors classified as transient by pkg/errors are retried: network
// failures, timeouts, server errors and download errors marked retryable.
// Not-found, auth and rate limit errors return immediately, as does
// cancellation of the context.
//
//	cfg := retry.NewConfig(3, time.Second, log)
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//		return fetch(ctx)
//	}, cfg)
//
// When every attempt fails, Do returns an *ExhaustedError wrapping the last error.
package retry
