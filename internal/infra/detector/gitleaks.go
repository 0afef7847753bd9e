package detector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openctemio/scangate/pkg/domain/finding"
)

const (
	gitleaksName = "gitleaks"
	// gitleaks exits 1 when leaks are found.
	gitleaksLeaksExitCode = 1
)

type gitleaksLeak struct {
	RuleID      string   `json:"RuleID"`
	Description string   `json:"Description"`
	Secret      string   `json:"Secret"`
	Match       string   `json:"Match"`
	File        string   `json:"File"`
	StartLine   int      `json:"StartLine"`
	EndLine     int      `json:"EndLine"`
	StartColumn int      `json:"StartColumn"`
	EndColumn   int      `json:"EndColumn"`
	Entropy     float64  `json:"Entropy"`
	Fingerprint string   `json:"Fingerprint"`
	Commit      string   `json:"Commit"`
	Author      string   `json:"Author"`
	Email       string   `json:"Email"`
	Date        string   `json:"Date"`
	Message     string   `json:"Message"`
	Tags        []string `json:"Tags"`
}

func gitleaksArgs(dir, report string) []string {
	return []string{
		"detect",
		"--source", dir,
		"-f", "json",
		"-r", report,
		"--no-banner",
		"--exit-code", fmt.Sprint(gitleaksLeaksExitCode),
	}
}

// parseGitleaks decodes a gitleaks JSON report. An empty report means no leaks.
func parseGitleaks(report []byte, rel func(string) string) ([]*finding.Secret, error) {
	if len(report) == 0 {
		return nil, nil
	}
	var leaks []gitleaksLeak
	if err := json.Unmarshal(report, &leaks); err != nil {
		return nil, fmt.Errorf("failed to parse gitleaks report: %w", err)
	}

	secrets := make([]*finding.Secret, 0, len(leaks))
	for _, l := range leaks {
		s := &finding.Secret{
			Secret:      l.Secret,
			Description: l.Description,
			File:        rel(l.File),
			Line:        fmt.Sprintf("%d:%d", l.StartLine, l.EndLine),
			StartLine:   l.StartLine,
			EndLine:     l.EndLine,
			StartColumn: l.StartColumn,
			EndColumn:   l.EndColumn,
			Match:       l.Match,
			Entropy:     l.Entropy,
			Rule:        l.RuleID,
			Fingerprint: l.Fingerprint,
			Commit:      l.Commit,
			Author:      l.Author,
			Email:       l.Email,
			Message:     l.Message,
			Tags:        l.Tags,
			Severity:    finding.SeverityForRule(l.RuleID),
		}
		if t, err := time.Parse(time.RFC3339, l.Date); err == nil {
			t = t.UTC()
			s.Date = &t
		}
		secrets = append(secrets, s)
	}
	return secrets, nil
}
