package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"conductor-ai/internal/domain"
)

// Workspace confines file operations to a single directory tree. The
// sandbox pool and the scrape tool's download path both resolve every
// requested path through it.
type Workspace struct {
	root string // absolute, symlink-resolved root
}

// NewWorkspace creates a workspace rooted at dir, creating it if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for workspace root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", resolved)
	}

	return &Workspace{root: resolved}, nil
}

// Resolve checks that requested resolves to a path inside the workspace
// and returns the resolved absolute path. Symlinks are resolved after
// computing the absolute path, so a link pointing outside is caught.
func (w *Workspace) Resolve(requested string) (string, error) {
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(w.root, requested)
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace, err.Error())
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet. Validate its parent instead.
		parent := filepath.Dir(abs)
		resolvedParent, err2 := filepath.EvalSymlinks(parent)
		if err2 != nil {
			return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace, err2.Error())
		}
		resolved = filepath.Join(resolvedParent, filepath.Base(abs))
	}

	if !w.contains(resolved) {
		return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace,
			fmt.Sprintf("resolved %q is outside root %q", resolved, w.root))
	}

	return resolved, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) contains(path string) bool {
	return path == w.root || strings.HasPrefix(path, w.root+string(os.PathSeparator))
}
