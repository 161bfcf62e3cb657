package github

import (
	"io"
	"time"

	gh "github.com/google/go-github/v45/github"
)

// Repository is a reference to one public repository of the listed user
type Repository struct {
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	Description   string
	HTMLURL       string
	// Size is reported by the API in KiB
	Size     int
	Fork     bool
	Archived bool
	PushedAt time.Time
}

// Archive is an open codeload response body
type Archive struct {
	URL    string
	Branch string
	Body   io.ReadCloser
	// ContentLength is -1 when the server did not send one
	ContentLength int64
}

// BranchCandidates returns the branches to try for this repository, in order
func (r Repository) BranchCandidates() []string {
	return BranchCandidates(r.DefaultBranch)
}

func repositoryFromAPI(repo *gh.Repository, fallbackOwner string) Repository {
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = fallbackOwner
	}
	return Repository{
		Owner:         owner,
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Description:   repo.GetDescription(),
		HTMLURL:       repo.GetHTMLURL(),
		Size:          repo.GetSize(),
		Fork:          repo.GetFork(),
		Archived:      repo.GetArchived(),
		PushedAt:      repo.GetPushedAt().Time,
	}
}
