// Package github lists a user's public repositories through the GitHub REST
// API and opens ZIP snapshots from the codeload host.
//
// Listing uses go-github and is lazy:
//
//	for repo, err := range client.ListRepositories(ctx, "octocat") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(repo.Name)
//	}
//
// Every failure is an *errors.Error from gitsnap/pkg/errors carrying the
// username, the HTTP status and a type (not_found, rate_limit, network,
// timeout, server_error...).
package github
