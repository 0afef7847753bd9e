package scm

import "time"

const (
	defaultGitHubWebURL    = "https://github.com"
	defaultGitLabURL       = "https://gitlab.com"
	defaultBitbucketAPIURL = "https://api.bitbucket.org/2.0"

	defaultUserAgent = "scangate/1.0"
	defaultTimeout   = 30 * time.Second

	// maxErrorBody bounds how much of a failed response body is kept in errors.
	maxErrorBody = 1 << 20
)
