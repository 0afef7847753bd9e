package scan

// Policy is the per-VC blocking configuration.
type Policy struct {
	BlockOnSecrets         bool
	BlockOnVulnerabilities bool
}

// Outcome summarises what a completed scan found. Counts cover findings that are
// not whitelisted; New counts rows inserted by this scan.
type Outcome struct {
	Findings int
	Blocking int
	New      int
}

// Blocks reports whether a scan of type t with outcome o blocks under the policy.
func (p Policy) Blocks(t Type, o Outcome) bool {
	switch t {
	case TypeSecret:
		return p.BlockOnSecrets && o.Findings > 0
	case TypeVulnerability:
		return p.BlockOnVulnerabilities && o.Blocking > 0
	}
	return false
}

// BlockStatus combines both sub-pipelines:
// (secrets present AND block_on_secrets) OR (blocking vulnerabilities AND block_on_vulnerabilities).
func (p Policy) BlockStatus(secrets, vulnerabilities Outcome) bool {
	return p.Blocks(TypeSecret, secrets) || p.Blocks(TypeVulnerability, vulnerabilities)
}
