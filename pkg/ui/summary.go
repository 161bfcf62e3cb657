package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// Failure is one repository that could not be archived
type Failure struct {
	Name string
	Err  error
}

// Summary is what PrintSummary reports at the end of a run
type Summary struct {
	Username   string
	Directory  string
	Total      int
	Downloaded int
	Skipped    int
	Failures   []Failure
	Bytes      int64
	Elapsed    time.Duration
}

// PrintSummary prints the completion report. Failures are always printed,
// even in quiet mode.
func PrintSummary(w io.Writer, s Summary) {
	if w == nil {
		w = Out
	}

	if !IsQuietMode() {
		mark := Green("✓")
		if len(s.Failures) > 0 {
			mark = Yellow("!")
		}
		fmt.Fprintf(w, "\n%s Archived %d of %d repositories from %s\n",
			mark, s.Downloaded+s.Skipped, s.Total, Cyan(s.Username))
		fmt.Fprintf(w, "  %s %d downloaded, %d skipped, %d failed\n",
			Dim("•"), s.Downloaded, s.Skipped, len(s.Failures))
		fmt.Fprintf(w, "  %s %s in %s\n",
			Dim("•"), humanize.Bytes(uint64(max(s.Bytes, 0))), formatDuration(s.Elapsed))
		fmt.Fprintf(w, "  %s %s\n", Dim("•"), s.Directory)
	}

	if len(s.Failures) > 0 {
		fmt.Fprintf(ErrOut, "\n%s\n", Red("Failed repositories:"))
		for _, f := range s.Failures {
			fmt.Fprintf(ErrOut, "  %s %s: %v\n", Red("✗"), f.Name, f.Err)
		}
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
