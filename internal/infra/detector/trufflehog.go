package detector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/openctemio/scangate/pkg/domain/finding"
)

const trufflehogName = "trufflehog"

// trufflehogResult is one JSON line of trufflehog output.
type trufflehogResult struct {
	DetectorName   string `json:"DetectorName"`
	DecoderName    string `json:"DecoderName"`
	Verified       bool   `json:"Verified"`
	Raw            string `json:"Raw"`
	Redacted       string `json:"Redacted"`
	SourceMetadata struct {
		Data struct {
			Filesystem *struct {
				File string `json:"file"`
				Line int    `json:"line"`
			} `json:"Filesystem"`
			Git *struct {
				Commit    string `json:"commit"`
				File      string `json:"file"`
				Email     string `json:"email"`
				Timestamp string `json:"timestamp"`
				Line      int    `json:"line"`
			} `json:"Git"`
		} `json:"Data"`
	} `json:"SourceMetadata"`
	ExtraData map[string]any `json:"ExtraData"`
}

// trufflehogFilesystemArgs scans explicit files.
func trufflehogFilesystemArgs(paths []string) []string {
	args := append([]string{"filesystem"}, paths...)
	return append(args, "--json", "--no-update")
}

// trufflehogGitArgs scans history from sinceCommit up to branch.
func trufflehogGitArgs(dir, sinceCommit, branch string) []string {
	args := []string{"git", "file://" + dir}
	if sinceCommit != "" {
		args = append(args, "--since-commit", sinceCommit)
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	return append(args, "--json", "--no-update")
}

// parseTrufflehog converts JSON lines into secrets. Non-JSON lines (progress
// output some versions print to stdout) are skipped; a line that looks like JSON
// but does not decode fails the whole report.
func parseTrufflehog(out []byte, rel func(string) string) ([]*finding.Secret, error) {
	var secrets []*finding.Secret
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var r trufflehogResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse trufflehog output: %w", err)
		}
		if r.Raw == "" {
			continue
		}
		secrets = append(secrets, r.toSecret(rel))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trufflehog output: %w", err)
	}
	return secrets, nil
}

func (r *trufflehogResult) toSecret(rel func(string) string) *finding.Secret {
	s := &finding.Secret{
		Secret:      r.Raw,
		Match:       r.Raw,
		Rule:        r.DetectorName,
		Description: r.DetectorName + ":" + r.DecoderName,
		Severity:    finding.SeverityForRule(r.DetectorName),
	}
	switch {
	case r.SourceMetadata.Data.Git != nil:
		g := r.SourceMetadata.Data.Git
		s.File = rel(g.File)
		s.StartLine, s.EndLine = g.Line, g.Line
		s.Commit = g.Commit
		s.Author, s.Email = splitAddress(g.Email)
		if t, err := time.Parse("2006-01-02 15:04:05 -0700", g.Timestamp); err == nil {
			t = t.UTC()
			s.Date = &t
		}
	case r.SourceMetadata.Data.Filesystem != nil:
		f := r.SourceMetadata.Data.Filesystem
		s.File = rel(f.File)
		s.StartLine, s.EndLine = f.Line, f.Line
	}
	if s.StartLine > 0 {
		s.Line = fmt.Sprintf("%d:%d", s.StartLine, s.EndLine)
	}
	if msg, ok := r.ExtraData["message"].(string); ok {
		s.Message = msg
	}
	if rt, ok := r.ExtraData["resource_type"].(string); ok && rt != "" {
		s.Tags = []string{rt}
	}
	if r.Verified {
		s.Tags = append(s.Tags, "verified")
	}
	return s
}

// splitAddress parses "Name <email>"; anything else is returned as the email.
func splitAddress(v string) (name, email string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(v); err == nil {
		return addr.Name, addr.Address
	}
	return "", v
}
