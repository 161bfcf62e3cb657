package auth

import (
	"fmt"
	"io"
)

// ShowTokenGuide explains how to create a token for gitsnap
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, "gitsnap only reads public repositories, so the token needs no scopes.")
	fmt.Fprintln(w, "A token raises the API limit from 60 to 5000 requests per hour.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Open https://github.com/settings/tokens?type=beta")
	fmt.Fprintln(w, "  2. Generate a fine-grained token with \"Public Repositories (read-only)\" access")
	fmt.Fprintln(w, "  3. Paste it below (input is hidden)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "You can also set GITSNAP_GITHUB_TOKEN instead of storing it.")
}
