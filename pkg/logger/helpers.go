package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs HTTP request information
func LogRequest(method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		GetLogger().DebugWithFields("HTTP request completed", fields)
	case statusCode >= 400 && statusCode < 500:
		GetLogger().WarnWithFields("HTTP request client error", fields)
	case statusCode >= 500:
		GetLogger().ErrorWithFields("HTTP request server error", fields)
	}
}

// LogDownload logs the outcome of one repository archive download
func LogDownload(owner, repository string, size int64, skipped bool, err error) {
	logger := GetLogger().WithFields(map[string]interface{}{
		"owner":      owner,
		"repository": repository,
		"size":       size,
	})

	switch {
	case err != nil:
		logger.WithError(err).Error("Download failed")
	case skipped:
		logger.Info("Download skipped, archive exists")
	default:
		logger.Info("Download completed")
	}
}

// LogRateLimit logs rate limiting events
func LogRateLimit(endpoint string, resetAt time.Time) {
	GetLogger().WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"reset_at": resetAt,
		"action":   "rate_limited",
	}).Warn("Rate limit reached")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
