// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// ErrNothingToCommit is returned by CommitToMain when the staged files
// produce no changes against the current tree; this is a valid
// success, not an error, so callers should treat it as such rather
// than surfacing it.
var ErrNothingToCommit = errors.New("commit: nothing to commit")

// AuthorIdentity is the committer recorded on auto-heal commits.
type AuthorIdentity struct {
	Name  string
	Email string
}

// GitGateway backs CommitGateway with a local go-git repository, for
// development and self-hosted setups; ForgeGateway is the remote-API
// alternative.
type GitGateway struct {
	repo       *git.Repository
	workDir    string
	author     AuthorIdentity
	remoteName string
	auth       transport.AuthMethod
}

// GitGatewayOption configures a GitGateway at construction.
type GitGatewayOption func(*GitGateway)

// WithAuthor sets the commit author/committer identity.
func WithAuthor(a AuthorIdentity) GitGatewayOption {
	return func(g *GitGateway) { g.author = a }
}

// WithBasicAuth configures HTTP basic auth for PushBranch.
func WithBasicAuth(username, password string) GitGatewayOption {
	return func(g *GitGateway) {
		g.auth = &http.BasicAuth{Username: username, Password: password}
	}
}

// WithRemoteName overrides the remote PushBranch targets (default "origin").
func WithRemoteName(name string) GitGatewayOption {
	return func(g *GitGateway) {
		if name != "" {
			g.remoteName = name
		}
	}
}

// NewGitGateway opens the repository rooted at workDir.
func NewGitGateway(workDir string, opts ...GitGatewayOption) (*GitGateway, error) {
	repo, err := git.PlainOpen(workDir)
	if err != nil {
		return nil, fmt.Errorf("commit: open repository at %q: %w", workDir, err)
	}
	g := &GitGateway{
		repo:       repo,
		workDir:    workDir,
		remoteName: "origin",
		author:     AuthorIdentity{Name: "healctl", Email: "healctl@localhost"},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GitGateway) stageFiles(wt *git.Worktree, files []FileEdit) error {
	for _, f := range files {
		abs := filepath.Join(g.workDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
			return fmt.Errorf("commit: mkdir for %q: %w", f.Path, err)
		}
		if err := os.WriteFile(abs, f.Content, 0o600); err != nil {
			return fmt.Errorf("commit: write %q: %w", f.Path, err)
		}
		if _, err := wt.Add(f.Path); err != nil {
			return fmt.Errorf("commit: stage %q: %w", f.Path, err)
		}
	}
	return nil
}

func (g *GitGateway) signature() *object.Signature {
	return &object.Signature{
		Name:  g.author.Name,
		Email: g.author.Email,
		When:  time.Now(),
	}
}

func (g *GitGateway) CommitToMain(ctx context.Context, files []FileEdit, message string) (*CommitResult, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("commit: worktree: %w", err)
	}
	if err := g.stageFiles(wt, files); err != nil {
		return nil, err
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("commit: status: %w", err)
	}
	if status.IsClean() {
		return nil, ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: g.signature()})
	if err != nil {
		return nil, fmt.Errorf("commit: commit: %w", err)
	}
	return &CommitResult{Hash: hash.String()}, nil
}

func (g *GitGateway) CreateBranchFromDefault(ctx context.Context, branchName string) error {
	head, err := g.repo.Head()
	if err != nil {
		return fmt.Errorf("commit: resolve HEAD: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(branchName)
	if err := g.repo.Storer.SetReference(plumbing.NewHashReference(ref, head.Hash())); err != nil {
		return fmt.Errorf("commit: create branch %q: %w", branchName, err)
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("commit: worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref}); err != nil {
		return fmt.Errorf("commit: checkout %q: %w", branchName, err)
	}
	return nil
}

func (g *GitGateway) PushBranch(ctx context.Context, branch string, files []FileEdit, message string) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("commit: worktree: %w", err)
	}
	if err := g.stageFiles(wt, files); err != nil {
		return err
	}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: g.signature()}); err != nil {
		return fmt.Errorf("commit: commit branch %q: %w", branch, err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	err = g.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: g.remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       g.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("commit: push %q: %w", branch, err)
	}
	return nil
}

// OpenOrUpdatePR has no meaning for a bare local repository, so a
// GitGateway on its own cannot perform the PR step; ForgeGateway wraps
// a GitGateway to add it. Returning an explicit error keeps the
// failure visible instead of silently no-oping.
func (g *GitGateway) OpenOrUpdatePR(ctx context.Context, branch, title, body string) (*PRResult, error) {
	return nil, fmt.Errorf("commit: OpenOrUpdatePR not supported by GitGateway; configure a forge-backed CommitGateway")
}
