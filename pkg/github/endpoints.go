package github

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultAPIBaseURL is the GitHub REST API root
	DefaultAPIBaseURL = "https://api.github.com/"

	// DefaultArchiveBaseURL serves repository snapshots
	DefaultArchiveBaseURL = "https://codeload.github.com"

	// DefaultPerPage is the page size used for listing (the API maximum)
	DefaultPerPage = 100

	// MaxPerPage is the largest page size the API accepts
	MaxPerPage = 100

	maxUsernameLength = 39
)

// FallbackBranches are tried after the default branch when it has no archive
var FallbackBranches = []string{"main", "master"}

// ArchiveURL builds the codeload ZIP URL for a branch:
// {base}/{owner}/{repo}/zip/refs/heads/{branch}
func ArchiveURL(base, owner, repo, branch string) string {
	segments := strings.Split(branch, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s/zip/refs/heads/%s",
		strings.TrimRight(base, "/"),
		url.PathEscape(owner),
		url.PathEscape(repo),
		strings.Join(segments, "/"))
}

// BranchCandidates returns the default branch followed by the fallbacks,
// without duplicates or empty names.
func BranchCandidates(defaultBranch string) []string {
	candidates := make([]string, 0, len(FallbackBranches)+1)
	seen := make(map[string]bool)
	for _, b := range append([]string{defaultBranch}, FallbackBranches...) {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		candidates = append(candidates, b)
	}
	return candidates
}

// GetUserProfileURL returns the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return "https://github.com/" + username
}

// IsValidUsername checks a username against GitHub's rules: alphanumerics and
// single hyphens, not starting or ending with a hyphen, at most 39 characters.
func IsValidUsername(username string) bool {
	if username == "" || len(username) > maxUsernameLength {
		return false
	}
	if username[0] == '-' || username[len(username)-1] == '-' || strings.Contains(username, "--") {
		return false
	}

	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips surrounding whitespace, a leading @ or profile URL
// prefix, and trailing slashes.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/", "@"} {
		username = strings.TrimPrefix(username, prefix)
	}
	return strings.TrimRight(username, "/ ")
}
