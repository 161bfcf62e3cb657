// Package logger provides a structured logging interface for gitsnap.
//
// It wraps zerolog with a small API:
//   - Levels (Debug, Info, Warn, Error, Fatal)
//   - Structured fields via WithField/WithFields/WithError
//   - Colored console output on stderr, so it never tears the progress line on stdout
//   - Optional file output alongside the console
//   - A global logger for packages that are not handed one explicitly
//
// Basic usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("run started")
//	logger.WithField("username", "octocat").Info("listing repositories")
//	logger.WithError(err).Error("download failed")
//
// Components receive a Logger and derive from it:
//
//	log := logger.GetLogger().WithField("component", "downloader")
//	log.InfoWithFields("archive written", map[string]interface{}{
//	    "repository": "Hello-World",
//	    "size":       48213,
//	})
//
// Tests use NewNopLogger, or NewTestLogger to assert on captured messages.
package logger
