// Package finding holds detected secrets and vulnerabilities and their natural-key identity.
package finding

import "strings"

// Severity buckets shared by secrets and vulnerabilities.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityUnknown       Severity = "unknown"
)

// AllSeverities returns buckets from most to least severe.
func AllSeverities() []Severity {
	return []Severity{
		SeverityCritical, SeverityHigh, SeverityMedium,
		SeverityLow, SeverityInformational, SeverityUnknown,
	}
}

// ParseSeverity normalizes detector severity strings ("Critical", "HIGH", "negligible").
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "informational", "info", "negligible":
		return SeverityInformational
	}
	return SeverityUnknown
}

// IsBlocking reports whether a vulnerability of this severity can block a PR.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// secretRules maps rule-id / detector-name fragments to a severity. First match wins.
var secretRules = []struct {
	fragment string
	severity Severity
}{
	{"private-key", SeverityCritical},
	{"privatekey", SeverityCritical},
	{"aws", SeverityCritical},
	{"gcp", SeverityCritical},
	{"azure", SeverityCritical},
	{"github", SeverityHigh},
	{"gitlab", SeverityHigh},
	{"slack", SeverityHigh},
	{"stripe", SeverityHigh},
	{"twilio", SeverityHigh},
	{"sendgrid", SeverityHigh},
	{"generic-api-key", SeverityMedium},
	{"jwt", SeverityMedium},
	{"password", SeverityMedium},
}

// SeverityForRule derives a secret's severity from the detector rule id.
func SeverityForRule(rule string) Severity {
	r := strings.ToLower(rule)
	for _, m := range secretRules {
		if strings.Contains(r, m.fragment) {
			return m.severity
		}
	}
	return SeverityLow
}

// Counts tallies findings per severity.
type Counts map[Severity]int

// Add increments the bucket for s.
func (c Counts) Add(s Severity) {
	c[s]++
}

// Total sums all buckets.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
