// Package ratelimit caps how often gitsnap hits GitHub.
//
// TokenBucket refills continuously, so a limit of 60 requests per minute
// admits a burst of 60 and then one request per second.
//
//	limiter := ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
package ratelimit
