// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workspace implements the Workspace collaborator: path-safe
// file access rooted at a single directory, plus an atomic write path
// and an optional durable snapshot backend for rollback.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrPathTraversal is returned when a requested path escapes the
// workspace root or uses a disallowed absolute/home-relative form.
var ErrPathTraversal = errors.New("workspace: path traversal rejected")

// Workspace is the HCP's file-access collaborator. Paths are always
// relative to the workspace root; absolute paths and ".."/"~"
// components are rejected before any I/O is attempted.
type Workspace interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	RevertFile(ctx context.Context, path string) error
	FileExists(ctx context.Context, path string) (bool, error)
	TypeCheck(ctx context.Context) (ok bool, output string, err error)
	ListFiles(ctx context.Context, dir string) ([]string, error)
}

// LocalWorkspace is a filesystem-backed Workspace rooted at Root. It
// keeps an in-memory pre-change snapshot per path, from the path's
// first write until it is reverted or DiscardSnapshots is called, so
// RevertFile can restore content without re-reading
// from a VCS; an optional Snapshotter backs this with a durable
// fallback when the in-memory copy is unavailable (e.g. after a
// restart mid-session).
type LocalWorkspace struct {
	Root         string
	TypeCheckCmd []string

	mu            sync.Mutex
	snapshots     map[string]snapshot
	durableBackup Snapshotter
}

// snapshot is the pre-session state of one path. existed=false records
// that the file was created by this session, so a revert removes it.
type snapshot struct {
	content []byte
	existed bool
}

// Option configures a LocalWorkspace at construction.
type Option func(*LocalWorkspace)

// WithTypeCheckCommand sets the command invoked by TypeCheck, e.g.
// []string{"go", "build", "./..."}.
func WithTypeCheckCommand(cmd []string) Option {
	return func(w *LocalWorkspace) { w.TypeCheckCmd = cmd }
}

// WithDurableBackup wires a Snapshotter (typically minio-backed) as
// the fallback rollback source.
func WithDurableBackup(s Snapshotter) Option {
	return func(w *LocalWorkspace) { w.durableBackup = s }
}

// New creates a LocalWorkspace rooted at root.
func New(root string, opts ...Option) *LocalWorkspace {
	w := &LocalWorkspace{
		Root:      root,
		snapshots: make(map[string]snapshot),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// resolve validates path and returns the absolute filesystem path.
func (w *LocalWorkspace) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, path)
	}
	if strings.Contains(path, "..") || strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, path)
	}
	abs := filepath.Join(w.Root, path)
	if !strings.HasPrefix(abs, filepath.Clean(w.Root)+string(os.PathSeparator)) && abs != filepath.Clean(w.Root) {
		return "", fmt.Errorf("%w: %q escapes workspace root", ErrPathTraversal, path)
	}
	return abs, nil
}

func (w *LocalWorkspace) ReadFile(ctx context.Context, path string) ([]byte, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile snapshots the pre-change content (for RevertFile), then
// writes atomically via a temp-file-create, fsync, rename sequence.
// Only the first write per path takes a snapshot: later writes in the
// same session must not clobber the pre-session content.
func (w *LocalWorkspace) WriteFile(ctx context.Context, path string, data []byte) error {
	abs, err := w.resolve(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	snap, seen := w.snapshots[path]
	if !seen {
		before, readErr := os.ReadFile(abs)
		snap = snapshot{content: before, existed: readErr == nil}
		w.snapshots[path] = snap
	}
	w.mu.Unlock()
	if !seen && snap.existed && w.durableBackup != nil {
		// Best effort: a failed durable snapshot never blocks the write.
		_ = w.durableBackup.Put(ctx, path, snap.content)
	}

	return w.writeRaw(path, abs, data)
}

func (w *LocalWorkspace) writeRaw(path, abs string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return fmt.Errorf("workspace: mkdir parent of %q: %w", path, err)
	}

	tmp := abs + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("workspace: create temp file for %q: %w", path, err)
	}

	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("workspace: write temp file for %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("workspace: fsync temp file for %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("workspace: close temp file for %q: %w", path, err)
	}

	if err := os.Rename(tmp, abs); err != nil {
		return fmt.Errorf("workspace: rename into place %q: %w", path, err)
	}
	cleanupTemp = false

	if dir, err := os.Open(filepath.Dir(abs)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	return nil
}

// RevertFile restores path to its pre-session content. Prefers the
// in-memory snapshot taken at WriteFile time; falls back to the
// durable backend if present. A file the session created (no
// pre-session content) is removed. If neither source has a copy, this
// is a no-op (nothing was ever written for this path in this session).
func (w *LocalWorkspace) RevertFile(ctx context.Context, path string) error {
	abs, err := w.resolve(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	snap, ok := w.snapshots[path]
	delete(w.snapshots, path)
	w.mu.Unlock()

	if ok {
		if !snap.existed {
			if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("workspace: remove created file %q: %w", path, err)
			}
			return nil
		}
		return w.writeRaw(path, abs, snap.content)
	}
	if w.durableBackup != nil {
		data, ok, err := w.durableBackup.Get(ctx, path)
		if err == nil && ok {
			return w.writeRaw(path, abs, data)
		}
	}
	return nil
}

// DiscardSnapshots drops all pre-session snapshots. The orchestrator
// calls this at session start so a revert never restores content from
// an earlier, already-terminal session.
func (w *LocalWorkspace) DiscardSnapshots() {
	w.mu.Lock()
	w.snapshots = make(map[string]snapshot)
	w.mu.Unlock()
}

func (w *LocalWorkspace) FileExists(ctx context.Context, path string) (bool, error) {
	abs, err := w.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// TypeCheck runs the configured static-check command with the
// timeout applied by the caller's context (see internal/hcp/verify).
func (w *LocalWorkspace) TypeCheck(ctx context.Context) (bool, string, error) {
	if len(w.TypeCheckCmd) == 0 {
		return true, "", nil
	}
	cmd := exec.CommandContext(ctx, w.TypeCheckCmd[0], w.TypeCheckCmd[1:]...)
	cmd.Dir = w.Root
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return false, string(out), ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, string(out), nil
		}
		return false, string(out), err
	}
	return true, string(out), nil
}

func (w *LocalWorkspace) ListFiles(ctx context.Context, dir string) ([]string, error) {
	abs, err := w.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
