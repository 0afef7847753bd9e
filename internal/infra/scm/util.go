package scm

import (
	"net/mail"
	"net/url"
	"slices"
	"strings"
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// branchFromRef strips refs/heads/ from a git ref.
func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// splitAuthor parses "Name <email>" as sent in Bitbucket author.raw.
func splitAuthor(raw string) (name, email string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw), ""
	}
	return addr.Name, addr.Address
}

// originOf returns scheme://host of a URL, or "".
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func splitFullName(full string) (owner, repo string) {
	owner, repo, _ = strings.Cut(full, "/")
	return owner, repo
}
