// Package ui renders gitsnap's terminal output: colored messages, the
// single-line download progress, the confirmation prompt and the run summary.
//
// Progress and messages go to stdout, errors to stderr. Quiet mode keeps only
// errors and failures.
package ui
