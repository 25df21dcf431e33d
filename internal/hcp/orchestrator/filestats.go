// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/traylinx/healctl/internal/hcp/confidence"
	"github.com/traylinx/healctl/internal/hcp/workspace"
)

var (
	funcPattern = regexp.MustCompile(`(?m)^\s*func\b`)
	typePattern = regexp.MustCompile(`(?m)^\s*type\s+\w+\s+struct\b`)
)

// computeFileStats resolves the per-file heuristic stats the
// confidence scorer needs, reading each modified file's post-edit
// content back out of the workspace.
func computeFileStats(ctx context.Context, ws workspace.Workspace, paths []string) map[string]confidence.FileStat {
	stats := make(map[string]confidence.FileStat, len(paths))
	for _, p := range paths {
		stats[p] = analyzeFile(ctx, ws, p)
	}
	return stats
}

func analyzeFile(ctx context.Context, ws workspace.Workspace, path string) confidence.FileStat {
	var st confidence.FileStat
	if content, err := ws.ReadFile(ctx, path); err == nil {
		text := string(content)
		st.Lines = strings.Count(text, "\n") + 1
		st.Functions = len(funcPattern.FindAllStringIndex(text, -1))
		st.Classes = len(typePattern.FindAllStringIndex(text, -1))
		st.Conditionals = strings.Count(text, "if ") + strings.Count(text, "switch ")
		st.Loops = strings.Count(text, "for ")
	}
	st.HasTestSibling = hasTestSibling(ctx, ws, path)
	return st
}

// hasTestSibling looks for a conventional test file alongside path
// ({base}.test.*, {base}.spec.* or {base}_test.*) or under a __tests__
// subdirectory ({base}.test.* or {base}_test.*).
func hasTestSibling(ctx context.Context, ws workspace.Workspace, path string) bool {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if siblings, err := ws.ListFiles(ctx, dir); err == nil {
		for _, c := range siblings {
			name := filepath.Base(c)
			if strings.HasPrefix(name, base+".test.") || strings.HasPrefix(name, base+".spec.") || strings.HasPrefix(name, base+"_test.") {
				return true
			}
		}
	}

	nested, err := ws.ListFiles(ctx, filepath.Join(dir, "__tests__"))
	if err != nil {
		return false
	}
	for _, c := range nested {
		name := filepath.Base(c)
		if strings.HasPrefix(name, base+".test.") || strings.HasPrefix(name, base+"_test.") {
			return true
		}
	}
	return false
}
