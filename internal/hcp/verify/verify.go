// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package verify runs the pre-commit checks required before any
// proposed fix is allowed to reach the commit gateway.
package verify

import (
	"context"
	"time"

	"github.com/traylinx/healctl/internal/hcp/types"
	"github.com/traylinx/healctl/internal/hcp/workspace"
)

// DefaultTimeout is the hard bound on the type-check subprocess.
// Exceeding it, including landing exactly on it, counts as a failure.
const DefaultTimeout = 30 * time.Second

// MaxErrorDetailLen bounds the captured output retained on failure.
const MaxErrorDetailLen = 8192

// Verifier runs existence and type-check verification over a set of
// modified paths.
type Verifier interface {
	Verify(ctx context.Context, filesModified []string) (*types.VerificationResults, error)
}

// DefaultVerifier checks file existence against a Workspace, then runs
// the workspace's configured type-check command under a timeout.
type DefaultVerifier struct {
	ws      workspace.Workspace
	timeout time.Duration
}

// New creates a DefaultVerifier. timeout defaults to DefaultTimeout if <= 0.
func New(ws workspace.Workspace, timeout time.Duration) *DefaultVerifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DefaultVerifier{ws: ws, timeout: timeout}
}

func (v *DefaultVerifier) Verify(ctx context.Context, filesModified []string) (*types.VerificationResults, error) {
	now := time.Now().UTC()

	for _, path := range filesModified {
		exists, err := v.ws.FileExists(ctx, path)
		if err != nil {
			return &types.VerificationResults{Passed: false, ErrorDetails: truncate(err.Error()), CheckedAt: now}, nil
		}
		if !exists {
			return &types.VerificationResults{
				Passed:       false,
				ErrorDetails: "missing expected file: " + path,
				CheckedAt:    now,
			}, nil
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok, output, err := v.ws.TypeCheck(checkCtx)
	if checkCtx.Err() != nil {
		return &types.VerificationResults{
			Passed:       false,
			ErrorDetails: "type-check timed out after " + v.timeout.String(),
			CheckedAt:    now,
		}, nil
	}
	if err != nil {
		return &types.VerificationResults{Passed: false, ErrorDetails: truncate(err.Error()), CheckedAt: now}, nil
	}

	return &types.VerificationResults{
		Passed:       ok,
		ErrorDetails: truncate(output),
		CheckedAt:    now,
	}, nil
}

func truncate(s string) string {
	if len(s) <= MaxErrorDetailLen {
		return s
	}
	return s[:MaxErrorDetailLen] + "...(truncated)"
}
