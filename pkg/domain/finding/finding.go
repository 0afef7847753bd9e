package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Kind distinguishes the two finding tables.
type Kind string

const (
	KindSecret        Kind = "secret"
	KindVulnerability Kind = "vulnerability"
)

// Source is where a finding was detected.
type Source string

const (
	SourceRepoScan   Source = "repo_scan"
	SourcePRScan     Source = "pr_scan"
	SourceLiveCommit Source = "live_commit"
)

// Links are the nullable cross-references of a finding. RepositoryID, LiveCommitID and PRID
// are part of the natural key; the scan ids attach opportunistically.
type Links struct {
	RepositoryID     shared.ID
	PRID             shared.ID
	PRScanID         shared.ID
	LiveCommitID     shared.ID
	LiveCommitScanID shared.ID
}

// Merge returns l with every zero field filled from other. Set fields are never overwritten.
func (l Links) Merge(other Links) Links {
	pick := func(a, b shared.ID) shared.ID {
		if a.IsZero() {
			return b
		}
		return a
	}
	return Links{
		RepositoryID:     pick(l.RepositoryID, other.RepositoryID),
		PRID:             pick(l.PRID, other.PRID),
		PRScanID:         pick(l.PRScanID, other.PRScanID),
		LiveCommitID:     pick(l.LiveCommitID, other.LiveCommitID),
		LiveCommitScanID: pick(l.LiveCommitScanID, other.LiveCommitScanID),
	}
}

// Secret is one detected credential.
type Secret struct {
	ID     shared.ID
	VCID   shared.ID
	Links  Links
	Source Source

	Secret      string
	Description string
	File        string
	Line        string
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
	Match       string
	Entropy     float64
	Rule        string
	Fingerprint string
	Commit      string
	Author      string
	Email       string
	Message     string
	Date        *time.Time
	Tags        []string
	Severity    Severity

	Whitelisted bool
	WhitelistID shared.ID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name is the identity value whitelist rules and incidents refer to.
func (s *Secret) Name() string { return s.Secret }

// NaturalKey hashes (secret, fingerprint, file, line, repository, live commit, pr).
func (s *Secret) NaturalKey() string {
	line := s.Line
	if line == "" && s.StartLine > 0 {
		line = strconv.Itoa(s.StartLine)
	}
	return hashKey(KindSecret, s.Secret, s.Fingerprint, s.File, line,
		s.Links.RepositoryID.String(), s.Links.LiveCommitID.String(), s.Links.PRID.String())
}

// Vulnerability is one vulnerable package match.
type Vulnerability struct {
	ID     shared.ID
	VCID   shared.ID
	Links  Links
	Source Source

	VulnerabilityID string
	CVEID           string
	PackageName     string
	PackageVersion  string
	PackageType     string
	FixVersions     []string
	FixState        string
	Description     string
	DataSource      string
	Commit          string
	Author          string
	Severity        Severity

	Whitelisted bool
	WhitelistID shared.ID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name is the identity value whitelist rules and incidents refer to.
func (v *Vulnerability) Name() string { return v.VulnerabilityID }

// Aliases are additional identity values a whitelist rule name can match.
func (v *Vulnerability) Aliases() []string {
	if v.CVEID == "" || v.CVEID == v.VulnerabilityID {
		return nil
	}
	return []string{v.CVEID}
}

// NaturalKey hashes (vulnerability id, CVE, package, version, repository, live commit, pr).
func (v *Vulnerability) NaturalKey() string {
	return hashKey(KindVulnerability, v.VulnerabilityID, v.CVEID, v.PackageName, v.PackageVersion,
		v.Links.RepositoryID.String(), v.Links.LiveCommitID.String(), v.Links.PRID.String())
}

// hashKey joins parts with a unit separator so ("a|b","c") and ("a","b|c") differ.
func hashKey(kind Kind, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0x1f})
		h.Write([]byte(strings.TrimSpace(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
