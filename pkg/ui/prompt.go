package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxDescriptionLength = 60

// RepositoryLine is one entry of the confirmation listing
type RepositoryLine struct {
	Name        string
	Description string
}

// PrintRepositoryList prints the numbered repositories with truncated descriptions
func PrintRepositoryList(w io.Writer, username string, repos []RepositoryLine) {
	fmt.Fprintf(w, "Found %d public repositories for %s:\n", len(repos), Cyan(username))
	for i, repo := range repos {
		line := fmt.Sprintf("  %s %s", Dim(fmt.Sprintf("%3d.", i+1)), Bold(repo.Name))
		if desc := Truncate(repo.Description, maxDescriptionLength); desc != "" {
			line += "  " + Dim(desc)
		}
		fmt.Fprintln(w, line)
	}
}

// Confirm asks question and reports whether the answer was y or yes.
// EOF or a read error counts as no.
func Confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s (y/n): ", question)
	answer, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Truncate shortens s to at most n runes, ending with "..." when cut
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
