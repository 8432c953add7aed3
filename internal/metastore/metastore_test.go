// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package metastore

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDBFileUnderDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if _, err := s.ListTrackedFiles("/repo"); err != nil {
		t.Fatalf("expected schema to be usable, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cortexd.db")); err != nil {
		t.Fatalf("expected cortexd.db under %s: %v", dir, err)
	}
}

func TestTrackedFile_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetTrackedFile("/repo", "a.go")
	if err != nil {
		t.Fatalf("GetTrackedFile failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for untracked file")
	}

	if err := s.UpsertTrackedFile("/repo", "a.go", "hash1", "indexed"); err != nil {
		t.Fatalf("UpsertTrackedFile failed: %v", err)
	}
	got, err = s.GetTrackedFile("/repo", "a.go")
	if err != nil {
		t.Fatalf("GetTrackedFile failed: %v", err)
	}
	if got == nil || got.FileHash != "hash1" || got.Status != "indexed" {
		t.Fatalf("unexpected tracked file: %+v", got)
	}

	if err := s.UpsertTrackedFile("/repo", "a.go", "hash2", "indexed"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	got, _ = s.GetTrackedFile("/repo", "a.go")
	if got.FileHash != "hash2" {
		t.Fatalf("expected upsert to overwrite hash, got %q", got.FileHash)
	}
}

func TestTrackedFile_DeleteAndList(t *testing.T) {
	s := openTestStore(t)
	_ = s.UpsertTrackedFile("/repo", "a.go", "h1", "indexed")
	_ = s.UpsertTrackedFile("/repo", "b.go", "h2", "indexed")
	_ = s.UpsertTrackedFile("/other", "c.go", "h3", "indexed")

	files, err := s.ListTrackedFiles("/repo")
	if err != nil {
		t.Fatalf("ListTrackedFiles failed: %v", err)
	}
	if len(files) != 2 || files["a.go"] != "h1" || files["b.go"] != "h2" {
		t.Fatalf("unexpected files: %+v", files)
	}

	if err := s.DeleteTrackedFile("/repo", "a.go"); err != nil {
		t.Fatalf("DeleteTrackedFile failed: %v", err)
	}
	files, _ = s.ListTrackedFiles("/repo")
	if len(files) != 1 {
		t.Fatalf("expected 1 file after delete, got %d", len(files))
	}
}

func TestReviewCount_IncrementsMonotonically(t *testing.T) {
	s := openTestStore(t)
	n1, err := s.IncrementReviewCount("/repo", "main", "abc123")
	if err != nil {
		t.Fatalf("IncrementReviewCount failed: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("expected first count 1, got %d", n1)
	}
	n2, err := s.IncrementReviewCount("/repo", "main", "def456")
	if err != nil {
		t.Fatalf("IncrementReviewCount failed: %v", err)
	}
	if n2 != 2 {
		t.Fatalf("expected second count 2, got %d", n2)
	}
}

func TestURLContent_UpsertGetDelete(t *testing.T) {
	s := openTestStore(t)
	url := "https://example.com/doc"

	if got, _ := s.GetURLContent(url); got != nil {
		t.Fatal("expected nil for unseen url")
	}

	if err := s.UpsertURLContent(url, "Doc", "# Doc", "hash1", "etag1", "", "backend-1"); err != nil {
		t.Fatalf("UpsertURLContent failed: %v", err)
	}
	got, err := s.GetURLContent(url)
	if err != nil {
		t.Fatalf("GetURLContent failed: %v", err)
	}
	if got == nil || got.ContentHash != "hash1" || got.BackendID != "backend-1" {
		t.Fatalf("unexpected url content: %+v", got)
	}

	all, err := s.ListURLContents()
	if err != nil {
		t.Fatalf("ListURLContents failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 cached url, got %d", len(all))
	}

	if err := s.DeleteURLContent(url); err != nil {
		t.Fatalf("DeleteURLContent failed: %v", err)
	}
	if got, _ := s.GetURLContent(url); got != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestCredential_StoreLoadDelete(t *testing.T) {
	s := openTestStore(t)

	token, err := s.LoadCredential("openai")
	if err != nil {
		t.Fatalf("LoadCredential failed: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for unseen provider, got %q", token)
	}

	if err := s.StoreCredential("openai", "sk-abc"); err != nil {
		t.Fatalf("StoreCredential failed: %v", err)
	}
	token, err = s.LoadCredential("openai")
	if err != nil || token != "sk-abc" {
		t.Fatalf("expected sk-abc, got %q err=%v", token, err)
	}

	if err := s.StoreCredential("openai", "sk-new"); err != nil {
		t.Fatalf("overwrite StoreCredential failed: %v", err)
	}
	token, _ = s.LoadCredential("openai")
	if token != "sk-new" {
		t.Fatalf("expected overwrite to stick, got %q", token)
	}

	if err := s.DeleteCredential("openai"); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	token, _ = s.LoadCredential("openai")
	if token != "" {
		t.Fatalf("expected empty token after delete, got %q", token)
	}
}

func TestReviewSnapshot_GetReturnsNilForUnseenBranch(t *testing.T) {
	s := openTestStore(t)
	row, err := s.GetReviewSnapshot("/repo", "main")
	if err != nil {
		t.Fatalf("GetReviewSnapshot failed: %v", err)
	}
	if row != nil {
		t.Fatal("expected nil for a branch with no review snapshot")
	}

	if _, err := s.IncrementReviewCount("/repo", "main", "abc123"); err != nil {
		t.Fatalf("IncrementReviewCount failed: %v", err)
	}
	row, err = s.GetReviewSnapshot("/repo", "main")
	if err != nil {
		t.Fatalf("GetReviewSnapshot failed: %v", err)
	}
	if row == nil || row.CommittedRef != "abc123" || row.ReviewCount != 1 {
		t.Fatalf("unexpected review snapshot row: %+v", row)
	}
}

func TestRecordIngestionEvent_DoesNotError(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordIngestionEvent("/repo", "a.go", "indexed", "3 chunks"); err != nil {
		t.Fatalf("RecordIngestionEvent failed: %v", err)
	}
}
