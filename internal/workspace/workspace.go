// Package workspace provisions the scratch directory a job's NeedsWork
// step runs in. When the project root is a git checkout it uses `git
// worktree add` so a job gets an isolated branch without cloning the
// whole repository again; otherwise it falls back to a plain directory.
// It does not manage branches, merges, or conflicts beyond that.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sidelinehq/crewd/internal/config"
)

// Provisioner implements internal/effects.WorkspaceProvisioner.
type Provisioner struct {
	Layout config.Layout

	// ProjectRoot is the git checkout new worktrees branch from. Empty
	// disables worktree mode; every workspace is then a plain directory.
	ProjectRoot string
}

func New(layout config.Layout, projectRoot string) *Provisioner {
	return &Provisioner{Layout: layout, ProjectRoot: projectRoot}
}

// Create provisions the directory for workspaceID and returns its path.
// workspaceID is the runtime-minted id, already stable before this runs.
func (p *Provisioner) Create(ctx context.Context, jobID, workspaceID string) (string, error) {
	path := filepath.Join(p.Layout.Workspaces, workspaceID)

	if p.ProjectRoot != "" && isGitRepo(p.ProjectRoot) {
		branch := "crewd/" + workspaceID
		cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, "HEAD")
		cmd.Dir = p.ProjectRoot
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("git worktree add: %w: %s", err, out)
		}
		return path, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("mkdir workspace: %w", err)
	}
	return path, nil
}

// Drop removes the workspace directory, detaching it from git's worktree
// list first when it was created as one.
func (p *Provisioner) Drop(ctx context.Context, workspaceID string) error {
	path := filepath.Join(p.Layout.Workspaces, workspaceID)

	if p.ProjectRoot != "" && isGitRepo(p.ProjectRoot) {
		cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
		cmd.Dir = p.ProjectRoot
		if out, err := cmd.CombinedOutput(); err != nil {
			// The worktree may already be gone (job cancelled mid-create);
			// fall through to a plain removal rather than failing the drop.
			_ = out
		}
	}
	return os.RemoveAll(path)
}

func isGitRepo(root string) bool {
	_, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil
}
