package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/fatih/color"
)

// Output streams. Messages go to Out, errors to ErrOut.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// Color functions for terminal output
var (
	Cyan    = color.New(color.FgCyan).SprintFunc()
	Yellow  = color.New(color.FgYellow).SprintFunc()
	Red     = color.New(color.FgRed).SprintFunc()
	Green   = color.New(color.FgGreen).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()
	Bold    = color.New(color.Bold).SprintFunc()
)

var quiet atomic.Bool

// SetQuietMode suppresses everything but errors
func SetQuietMode(enabled bool) {
	quiet.Store(enabled)
}

// IsQuietMode reports whether quiet mode is on
func IsQuietMode() bool {
	return quiet.Load()
}

// SetNoColor disables or enables colored output globally
func SetNoColor(disabled bool) {
	color.NoColor = disabled
}

// PrintBanner prints the one-line run header
func PrintBanner(username, dir string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Out, "%s %s %s %s\n", Bold("gitsnap"), Dim("•"), Cyan(username), Dim("→ "+dir))
}

// PrintError prints an error message in red. Errors are shown in quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(ErrOut, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(ErrOut, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if IsQuietMode() {
		return
	}
	if len(args) > 0 {
		fmt.Fprintln(Out, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Out, Yellow(msg))
	}
}

// PrintRepository prints the "[i] name" header shown before each repository
func PrintRepository(index int, name string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Out, "%s %s\n", Dim(fmt.Sprintf("[%d]", index)), Bold(name))
}

// PrintSkipped reports a repository whose archive already exists
func PrintSkipped(name string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Out, "  %s %s already exists, skipping\n", Yellow("↷"), name+".zip")
}

// PrintFailed reports a repository that could not be downloaded
func PrintFailed(name string, err error) {
	fmt.Fprintf(ErrOut, "  %s %s: %v\n", Red("✗"), name, err)
}
