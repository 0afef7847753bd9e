// Package detector runs the external secret and vulnerability scanners against a
// temporary clone and parses their output into findings.
package detector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/openctemio/scangate/internal/metrics"
	"github.com/openctemio/scangate/pkg/domain/finding"
	"github.com/openctemio/scangate/pkg/domain/vcs"
	"github.com/openctemio/scangate/pkg/logger"
)

// Config holds binary locations and the workspace root.
type Config struct {
	WorkDir          string
	TrufflehogBinary string
	GitleaksBinary   string
	GrypeBinary      string
	// CloneDepth limits full repository clones; zero clones full history.
	CloneDepth int
}

// Source is the code a scan looks at.
type Source struct {
	CloneURL string
	Auth     *githttp.BasicAuth
	Branch   string // PR source branch or pushed branch
	// BaseBranch is the PR destination branch. Empty for pushes.
	BaseBranch string
	// Commit pins the scan to one pushed commit. Empty scans the tip of Branch.
	Commit string
	Mode   vcs.ScanMode
}

// SecretReport is the parsed output of a secret detector plus its raw bytes.
type SecretReport struct {
	Detector string
	Secrets  []*finding.Secret
	Raw      []byte
}

// VulnerabilityReport is the parsed output of grype plus its raw bytes.
type VulnerabilityReport struct {
	Detector        string
	Vulnerabilities []*finding.Vulnerability
	Raw             []byte
}

type cloneFunc func(ctx context.Context, workDir string, opts CloneOptions) (*Workspace, error)

// Detector clones the source into a fresh workspace per call and runs one detector.
// Calls are independent and safe to run concurrently.
type Detector struct {
	cfg    Config
	runner CommandRunner
	clone  cloneFunc
	logger *logger.Logger
}

// New creates a Detector.
func New(cfg Config, runner CommandRunner, log *logger.Logger) *Detector {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Detector{
		cfg:    cfg,
		runner: runner,
		clone:  Clone,
		logger: log.With("component", "detector"),
	}
}

// ScanSecrets runs trufflehog over a PR or pushed commit. Loose mode scans the files
// changed since the base; aggressive mode scans the commit history since the base.
func (d *Detector) ScanSecrets(ctx context.Context, src Source) (*SecretReport, error) {
	ws, err := d.open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer d.cleanup(ws)

	head, base, err := d.revisions(ws, src)
	if err != nil {
		return nil, err
	}

	report := &SecretReport{Detector: trufflehogName}
	var args []string
	if src.Mode == vcs.ScanModeAggressive {
		args = trufflehogGitArgs(ws.Dir, base, head)
	} else {
		files, err := ws.ChangedFiles(base, head)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return report, nil
		}
		paths := make([]string, 0, len(files))
		for _, f := range files {
			paths = append(paths, ws.Path(f))
		}
		args = trufflehogFilesystemArgs(paths)
	}

	res, err := d.run(ctx, ws.Dir, trufflehogName, d.cfg.TrufflehogBinary, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, d.failed(execError(trufflehogName, res, nil))
	}
	secrets, err := parseTrufflehog(res.Stdout, ws.Rel)
	if err != nil {
		return nil, d.failed(execError(trufflehogName, res, err))
	}
	for _, s := range secrets {
		if s.Commit == "" {
			s.Commit = src.Commit
		}
	}
	report.Secrets, report.Raw = secrets, res.Stdout
	return report, nil
}

// ScanVulnerabilities runs grype over the checked-out head.
func (d *Detector) ScanVulnerabilities(ctx context.Context, src Source) (*VulnerabilityReport, error) {
	ws, err := d.open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer d.cleanup(ws)

	if _, _, err := d.revisions(ws, src); err != nil {
		return nil, err
	}

	res, err := d.run(ctx, ws.Dir, grypeName, d.cfg.GrypeBinary, grypeArgs(ws.Dir)...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, d.failed(execError(grypeName, res, nil))
	}
	vulns, err := parseGrype(res.Stdout)
	if err != nil {
		return nil, d.failed(execError(grypeName, res, err))
	}
	for _, v := range vulns {
		v.Commit = src.Commit
	}
	return &VulnerabilityReport{Detector: grypeName, Vulnerabilities: vulns, Raw: res.Stdout}, nil
}

// ScanRepository runs gitleaks over the full history of a branch.
func (d *Detector) ScanRepository(ctx context.Context, src Source) (*SecretReport, error) {
	ws, err := d.clone(ctx, d.cfg.WorkDir, CloneOptions{
		URL:          src.CloneURL,
		Auth:         src.Auth,
		Branch:       src.Branch,
		SingleBranch: true,
		Depth:        d.cfg.CloneDepth,
	})
	if err != nil {
		return nil, err
	}
	defer d.cleanup(ws)

	// The report lives next to the clone so it never shows up in the scanned tree.
	report := ws.Dir + ".gitleaks.json"
	defer os.Remove(report)

	res, err := d.run(ctx, ws.Dir, gitleaksName, d.cfg.GitleaksBinary, gitleaksArgs(ws.Dir, report)...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 && res.ExitCode != gitleaksLeaksExitCode {
		return nil, d.failed(execError(gitleaksName, res, nil))
	}

	raw, err := os.ReadFile(report)
	if err != nil {
		return nil, d.failed(execError(gitleaksName, res, fmt.Errorf("failed to read report: %w", err)))
	}
	secrets, err := parseGitleaks(raw, ws.Rel)
	if err != nil {
		return nil, d.failed(execError(gitleaksName, res, err))
	}
	return &SecretReport{Detector: gitleaksName, Secrets: secrets, Raw: raw}, nil
}

func (d *Detector) open(ctx context.Context, src Source) (*Workspace, error) {
	return d.clone(ctx, d.cfg.WorkDir, CloneOptions{
		URL:    src.CloneURL,
		Auth:   src.Auth,
		Branch: src.Branch,
		// PR scans diff against the destination branch, so fetch every branch.
		SingleBranch: src.BaseBranch == "",
	})
}

// revisions checks out the scan head and returns it with the diff base:
// the merge base with the destination branch for PRs, the parent for commits.
func (d *Detector) revisions(ws *Workspace, src Source) (head, base string, err error) {
	rev := "HEAD"
	if src.Commit != "" {
		rev = src.Commit
	}
	if head, err = ws.Resolve(rev); err != nil {
		return "", "", err
	}
	if err := ws.Checkout(head); err != nil {
		return "", "", err
	}

	if src.BaseBranch != "" {
		target, err := ws.Resolve("origin/" + src.BaseBranch)
		if err != nil {
			if target, err = ws.Resolve(src.BaseBranch); err != nil {
				return "", "", err
			}
		}
		base, err = ws.MergeBase(target, head)
		return head, base, err
	}
	base, err = ws.Parent(head)
	return head, base, err
}

func (d *Detector) run(ctx context.Context, dir, detector, bin string, args ...string) (*Result, error) {
	d.logger.Debug("running detector", "detector", detector, "dir", filepath.Base(dir), "args", len(args))
	res, err := d.runner.Run(ctx, dir, bin, args...)
	if err != nil {
		return nil, d.failed(execError(detector, res, err))
	}
	return res, nil
}

func (d *Detector) failed(err *ExecutionError) error {
	metrics.DetectorErrorsTotal.WithLabelValues(err.Detector).Inc()
	return err
}

func (d *Detector) cleanup(ws *Workspace) {
	dir := ws.Dir
	if err := ws.Close(); err != nil {
		d.logger.Warn("failed to remove workspace", "dir", dir, "error", err)
	}
}
