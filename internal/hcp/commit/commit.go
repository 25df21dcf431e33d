// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package commit implements the CommitGateway collaborator: applying
// a set of file edits either as a direct commit to main or as a
// branch+PR. The HCP does not distinguish between a local-VCS-backed
// gateway and a remote-forge-API-backed one; both speak the same
// interface.
package commit

import "context"

// FileEdit is one staged change: the workspace-relative path and its
// full post-edit content.
type FileEdit struct {
	Path    string
	Content []byte
}

// CommitResult is returned by a direct commit to main.
type CommitResult struct {
	Hash string
	URL  string
}

// PRResult is returned once a pull request has been opened or updated.
type PRResult struct {
	Number int
	URL    string
}

// CommitGateway applies fixes either directly to main or via a
// branch+PR, depending on the confidence-scored recommendation.
type CommitGateway interface {
	CommitToMain(ctx context.Context, files []FileEdit, message string) (*CommitResult, error)
	CreateBranchFromDefault(ctx context.Context, branchName string) error
	PushBranch(ctx context.Context, branch string, files []FileEdit, message string) error
	OpenOrUpdatePR(ctx context.Context, branch, title, body string) (*PRResult, error)
}
