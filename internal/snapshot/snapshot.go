// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package snapshot manages the on-disk working-tree copies used for
// IDE-review diffing. Grounded on the original implementation's
// LocalDiffSnapshot (app/services/review/snapshot/local_snapshot.py):
// a per-branch directory under the repo's .git tree, a temp staging area
// that is populated then atomically moved into place, and a flat index
// file recording which paths changed and how. The review counter and
// last-reviewed commit, which the original kept in sidecar JSON files,
// are persisted through internal/metastore instead so a single SQLite
// file backs every repo's counters rather than one JSON file per branch.
package snapshot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/metastore"
)

const (
	fileSnapshotDir = ".git/file-snapshots"
	diffSnapshotIdx = "diff-snapshot"
	tempDirName     = "temp"
)

// Manager takes and retrieves file snapshots for one repository, backed by
// metastore for the durable review counter and last-reviewed commit.
type Manager struct {
	repoPath string
	meta     *metastore.Store
}

// New returns a Manager rooted at repoPath.
func New(repoPath string, meta *metastore.Store) *Manager {
	return &Manager{repoPath: repoPath, meta: meta}
}

func (m *Manager) snapshotPath(sourceBranch string) string {
	return filepath.Join(m.repoPath, fileSnapshotDir, sourceBranch)
}

func (m *Manager) tempSnapshotPath(sourceBranch string) string {
	return filepath.Join(m.snapshotPath(sourceBranch), tempDirName)
}

// TakeTempSnapshot stages a copy of every file named in fileChanges (keyed
// by repo-relative path, valued by its change kind) under the branch's temp
// directory, along with a flat diff-snapshot index of "<kind> <path>" lines.
// Any previous temp staging area is discarded first.
func (m *Manager) TakeTempSnapshot(sourceBranch string, fileChanges map[string]domain.FileDecisionKind) error {
	temp := m.tempSnapshotPath(sourceBranch)

	if err := os.RemoveAll(temp); err != nil {
		return fmt.Errorf("snapshot: clear previous temp: %w", err)
	}
	if err := os.MkdirAll(temp, 0755); err != nil {
		return fmt.Errorf("snapshot: create temp dir: %w", err)
	}

	idx, err := os.Create(filepath.Join(temp, diffSnapshotIdx))
	if err != nil {
		return fmt.Errorf("snapshot: create diff index: %w", err)
	}
	defer idx.Close()

	w := bufio.NewWriter(idx)
	for path, kind := range fileChanges {
		if _, err := fmt.Fprintf(w, "%s %s\n", kind, path); err != nil {
			return fmt.Errorf("snapshot: write diff index: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("snapshot: flush diff index: %w", err)
	}

	for path := range fileChanges {
		src := filepath.Join(m.repoPath, path)
		info, statErr := os.Stat(src)
		if statErr != nil || info.IsDir() {
			continue // deleted or untrackable; the index line is enough
		}
		dest := filepath.Join(temp, path)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("snapshot: create dest dir for %s: %w", path, err)
		}
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("snapshot: copy %s: %w", path, err)
		}
	}
	return nil
}

// CommitSnapshot moves the staged temp snapshot into the branch's permanent
// snapshot directory, overwriting any entries with the same name, then
// increments the branch's review count. A no-op if no temp snapshot exists.
func (m *Manager) CommitSnapshot(sourceBranch, committedRef string) (reviewCount int, err error) {
	temp := m.tempSnapshotPath(sourceBranch)
	if _, err := os.Stat(temp); os.IsNotExist(err) {
		return 0, nil
	}

	dest := m.snapshotPath(sourceBranch)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("snapshot: create snapshot dir: %w", err)
	}

	entries, err := os.ReadDir(temp)
	if err != nil {
		return 0, fmt.Errorf("snapshot: read temp dir: %w", err)
	}
	for _, entry := range entries {
		src := filepath.Join(temp, entry.Name())
		dst := filepath.Join(dest, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return 0, fmt.Errorf("snapshot: clear previous %s: %w", entry.Name(), err)
		}
		if err := os.Rename(src, dst); err != nil {
			return 0, fmt.Errorf("snapshot: move %s into place: %w", entry.Name(), err)
		}
	}
	if err := os.RemoveAll(temp); err != nil {
		return 0, fmt.Errorf("snapshot: remove temp dir: %w", err)
	}

	return m.meta.IncrementReviewCount(m.repoPath, sourceBranch, committedRef)
}

// PreviousFiles returns the repo-relative paths recorded in the branch's
// current diff-snapshot index, empty if no snapshot has been taken yet.
func (m *Manager) PreviousFiles(sourceBranch string) (map[string]domain.FileDecisionKind, error) {
	idxPath := filepath.Join(m.snapshotPath(sourceBranch), diffSnapshotIdx)
	f, err := os.Open(idxPath)
	if os.IsNotExist(err) {
		return map[string]domain.FileDecisionKind{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: open diff index: %w", err)
	}
	defer f.Close()

	out := map[string]domain.FileDecisionKind{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		kind, path, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		out[path] = domain.FileDecisionKind(kind)
	}
	return out, scanner.Err()
}

// Clean removes every snapshot held for sourceBranch.
func (m *Manager) Clean(sourceBranch string) error {
	return os.RemoveAll(m.snapshotPath(sourceBranch))
}

// LastReviewedCommit returns the last committed ref reviewed for a branch,
// empty if the branch has never been snapshotted.
func (m *Manager) LastReviewedCommit(sourceBranch string) (string, error) {
	row, err := m.meta.GetReviewSnapshot(m.repoPath, sourceBranch)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.CommittedRef, nil
}

// ReviewCount returns the current review counter for a branch, 0 if none.
func (m *Manager) ReviewCount(sourceBranch string) (int, error) {
	row, err := m.meta.GetReviewSnapshot(m.repoPath, sourceBranch)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return row.ReviewCount, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}
