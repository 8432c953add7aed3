// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/metastore"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repoDir := t.TempDir()
	metaDir := t.TempDir()

	meta, err := metastore.Open(metaDir)
	if err != nil {
		t.Fatalf("metastore.Open failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	return New(repoDir, meta), repoDir
}

func writeRepoFile(t *testing.T, repoDir, relPath, content string) {
	t.Helper()
	full := filepath.Join(repoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestTakeTempSnapshot_CopiesFilesAndWritesIndex(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "package a")

	changes := map[string]domain.FileDecisionKind{"a.go": domain.FileUpdated}
	if err := m.TakeTempSnapshot("main", changes); err != nil {
		t.Fatalf("TakeTempSnapshot failed: %v", err)
	}

	stagedFile := filepath.Join(m.tempSnapshotPath("main"), "a.go")
	data, err := os.ReadFile(stagedFile)
	if err != nil {
		t.Fatalf("expected staged copy of a.go, got error: %v", err)
	}
	if string(data) != "package a" {
		t.Fatalf("staged content mismatch: got %q", data)
	}

	idxData, err := os.ReadFile(filepath.Join(m.tempSnapshotPath("main"), diffSnapshotIdx))
	if err != nil {
		t.Fatalf("expected diff index file: %v", err)
	}
	if string(idxData) != "updated a.go\n" {
		t.Fatalf("unexpected diff index contents: %q", idxData)
	}
}

func TestTakeTempSnapshot_ClearsPreviousTempDir(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "v1")
	writeRepoFile(t, repoDir, "b.go", "v2")

	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileNew}); err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}
	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"b.go": domain.FileNew}); err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(m.tempSnapshotPath("main"), "a.go")); !os.IsNotExist(err) {
		t.Fatal("expected previous temp staging to be cleared")
	}
}

func TestCommitSnapshot_MovesIntoPlaceAndIncrementsReviewCount(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "package a")

	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileNew}); err != nil {
		t.Fatalf("TakeTempSnapshot failed: %v", err)
	}

	count, err := m.CommitSnapshot("main", "abc123")
	if err != nil {
		t.Fatalf("CommitSnapshot failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected review count 1, got %d", count)
	}

	if _, err := os.Stat(m.tempSnapshotPath("main")); !os.IsNotExist(err) {
		t.Fatal("expected temp dir to be removed after commit")
	}
	if _, err := os.Stat(filepath.Join(m.snapshotPath("main"), "a.go")); err != nil {
		t.Fatalf("expected committed file in snapshot dir: %v", err)
	}

	// Committing again (second review) should increment further.
	writeRepoFile(t, repoDir, "a.go", "package a v2")
	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileUpdated}); err != nil {
		t.Fatalf("second TakeTempSnapshot failed: %v", err)
	}
	count, err = m.CommitSnapshot("main", "def456")
	if err != nil {
		t.Fatalf("second CommitSnapshot failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected review count 2, got %d", count)
	}
}

func TestCommitSnapshot_NoTempIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	count, err := m.CommitSnapshot("main", "abc123")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0 for no-op commit, got %d", count)
	}
}

func TestPreviousFiles_EmptyWhenNoSnapshotTaken(t *testing.T) {
	m, _ := newTestManager(t)
	files, err := m.PreviousFiles("main")
	if err != nil {
		t.Fatalf("PreviousFiles failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected empty map, got %+v", files)
	}
}

func TestPreviousFiles_ReflectsLastCommittedSnapshot(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "package a")

	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileNew}); err != nil {
		t.Fatalf("TakeTempSnapshot failed: %v", err)
	}
	if _, err := m.CommitSnapshot("main", "abc123"); err != nil {
		t.Fatalf("CommitSnapshot failed: %v", err)
	}

	files, err := m.PreviousFiles("main")
	if err != nil {
		t.Fatalf("PreviousFiles failed: %v", err)
	}
	if files["a.go"] != domain.FileNew {
		t.Fatalf("expected a.go recorded as new, got %+v", files)
	}
}

func TestClean_RemovesSnapshotDirectory(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "package a")
	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileNew}); err != nil {
		t.Fatalf("TakeTempSnapshot failed: %v", err)
	}
	if _, err := m.CommitSnapshot("main", "abc123"); err != nil {
		t.Fatalf("CommitSnapshot failed: %v", err)
	}

	if err := m.Clean("main"); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err := os.Stat(m.snapshotPath("main")); !os.IsNotExist(err) {
		t.Fatal("expected snapshot dir to be gone after Clean")
	}
}

func TestReviewCountAndLastReviewedCommit_TrackSnapshots(t *testing.T) {
	m, repoDir := newTestManager(t)
	writeRepoFile(t, repoDir, "a.go", "package a")

	if count, err := m.ReviewCount("main"); err != nil || count != 0 {
		t.Fatalf("expected 0 reviews before any snapshot, got %d err=%v", count, err)
	}

	if err := m.TakeTempSnapshot("main", map[string]domain.FileDecisionKind{"a.go": domain.FileNew}); err != nil {
		t.Fatalf("TakeTempSnapshot failed: %v", err)
	}
	if _, err := m.CommitSnapshot("main", "abc123"); err != nil {
		t.Fatalf("CommitSnapshot failed: %v", err)
	}

	ref, err := m.LastReviewedCommit("main")
	if err != nil {
		t.Fatalf("LastReviewedCommit failed: %v", err)
	}
	if ref != "abc123" {
		t.Fatalf("expected last reviewed commit abc123, got %q", ref)
	}

	count, err := m.ReviewCount("main")
	if err != nil || count != 1 {
		t.Fatalf("expected review count 1, got %d err=%v", count, err)
	}
}
