// Package archiver runs one gitsnap session.
//
// An Archiver owns everything that lives for the duration of a run: the HTTP
// client shared by the API and codeload requests, the GitHub client, the
// archive rate limiter and the progress line. Repositories are processed
// strictly one after another:
//
//	a, err := archiver.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	summary, err := a.Run(ctx, "octocat")
//	ui.PrintSummary(os.Stdout, summary.UI())
//
// Run returns an error only when the whole run had to stop: the listing
// failed, the archive host is rate limiting, or ctx was cancelled. Failures of
// single repositories end up in Summary.Failures.
package archiver
