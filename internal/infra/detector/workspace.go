package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// CloneOptions describes the repository checked out for one scan.
type CloneOptions struct {
	URL    string
	Auth   *githttp.BasicAuth
	Branch string // empty clones the remote HEAD
	// SingleBranch limits the clone to Branch. PR scans need the destination branch too.
	SingleBranch bool
	Depth        int
}

// Workspace is a temporary clone. Close removes it.
type Workspace struct {
	Dir  string
	repo *git.Repository
}

// Clone creates a workspace under workDir.
func Clone(ctx context.Context, workDir string, opts CloneOptions) (*Workspace, error) {
	if opts.URL == "" {
		return nil, errors.New("clone url is required")
	}
	dir, err := os.MkdirTemp(workDir, "scan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	co := &git.CloneOptions{
		URL:          opts.URL,
		SingleBranch: opts.SingleBranch,
		Depth:        opts.Depth,
	}
	if opts.Auth != nil {
		co.Auth = opts.Auth
	}
	if opts.Branch != "" {
		co.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, co)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to clone %s: %w", opts.URL, err)
	}
	return &Workspace{Dir: dir, repo: repo}, nil
}

// Close removes the workspace directory.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	err := os.RemoveAll(w.Dir)
	w.Dir = ""
	w.repo = nil
	return err
}

// Resolve returns the full commit hash of a revision (sha, branch, origin/branch).
func (w *Workspace) Resolve(rev string) (string, error) {
	h, err := w.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	return h.String(), nil
}

// Checkout moves the worktree to rev.
func (w *Workspace) Checkout(rev string) error {
	h, err := w.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *h, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", rev, err)
	}
	return nil
}

// Parent returns the first parent of rev, or "" for a root commit.
func (w *Workspace) Parent(rev string) (string, error) {
	c, err := w.commit(rev)
	if err != nil {
		return "", err
	}
	if c.NumParents() == 0 {
		return "", nil
	}
	return c.ParentHashes[0].String(), nil
}

// MergeBase returns the best common ancestor of base and head.
func (w *Workspace) MergeBase(base, head string) (string, error) {
	b, err := w.commit(base)
	if err != nil {
		return "", err
	}
	h, err := w.commit(head)
	if err != nil {
		return "", err
	}
	bases, err := h.MergeBase(b)
	if err != nil {
		return "", fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return "", nil
	}
	return bases[0].Hash.String(), nil
}

// ChangedFiles lists files added or modified between base and head, relative to Dir.
// An empty base lists every file in head.
func (w *Workspace) ChangedFiles(base, head string) ([]string, error) {
	hc, err := w.commit(head)
	if err != nil {
		return nil, err
	}
	headTree, err := hc.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", head, err)
	}

	if base == "" {
		var files []string
		err := headTree.Files().ForEach(func(f *object.File) error {
			files = append(files, f.Name)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list files of %s: %w", head, err)
		}
		sort.Strings(files)
		return files, nil
	}

	bc, err := w.commit(base)
	if err != nil {
		return nil, err
	}
	baseTree, err := bc.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", base, err)
	}
	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", base, head, err)
	}

	files := make([]string, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		if action == merkletrie.Delete {
			continue
		}
		files = append(files, ch.To.Name)
	}
	sort.Strings(files)
	return files, nil
}

// Path joins a repository-relative name onto Dir.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, filepath.FromSlash(name))
}

// Rel strips Dir from a path reported by a detector.
func (w *Workspace) Rel(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(w.Dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) commit(rev string) (*object.Commit, error) {
	h, err := w.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	c, err := w.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", rev, err)
	}
	return c, nil
}
