// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestScan_FindsSupportedFilesAndSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "README.md"), "# hi\n")
	writeFile(t, filepath.Join(root, "image.png"), "binary")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "console.log(1)")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")

	files, _, err := New(root).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	byPath := make(map[string]bool)
	for _, f := range files {
		byPath[f.Path] = true
	}
	if !byPath["main.go"] || !byPath["README.md"] {
		t.Fatalf("expected main.go and README.md to be scanned, got %+v", files)
	}
	if byPath["image.png"] {
		t.Fatal("expected unsupported extension to be skipped")
	}
	if byPath["node_modules/pkg/index.js"] {
		t.Fatal("expected node_modules to be pruned")
	}
	for p := range byPath {
		if filepath.Dir(p) == ".git" {
			t.Fatalf("expected .git to be pruned, found %s", p)
		}
	}
}

func TestScan_SetsLanguageAndHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package main\n")

	files, _, err := New(root).Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].Language != "go" {
		t.Fatalf("expected language go, got %q", files[0].Language)
	}
	if files[0].ContentHash == "" {
		t.Fatal("expected non-empty content hash")
	}
}

func TestScan_SkipsUnreadableFileInsteadOfAborting(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root ignores file permissions")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package main\n")
	unreadable := filepath.Join(root, "locked.go")
	writeFile(t, unreadable, "package main\n")
	if err := os.Chmod(unreadable, 0o000); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	t.Cleanup(func() { os.Chmod(unreadable, 0o644) })

	files, skipped, err := New(root).Scan()
	if err != nil {
		t.Fatalf("expected Scan to tolerate an unreadable file, got error: %v", err)
	}

	byPath := make(map[string]bool)
	for _, f := range files {
		byPath[f.Path] = true
	}
	if !byPath["a.go"] {
		t.Fatalf("expected a.go to still be scanned, got %+v", files)
	}
	if len(skipped) != 1 || skipped[0].Path != "locked.go" {
		t.Fatalf("expected locked.go to be reported as skipped, got %+v", skipped)
	}
	if skipped[0].Reason == "" {
		t.Fatal("expected a non-empty skip reason")
	}
}

func TestIsTemporaryFile(t *testing.T) {
	cases := map[string]bool{
		"foo.go":    false,
		"foo.go~":   true,
		"foo.swp":   true,
		"~$foo.doc": true,
		".~lock.x":  true,
	}
	for name, want := range cases {
		if got := IsTemporaryFile(name); got != want {
			t.Errorf("IsTemporaryFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsSupportedFile(t *testing.T) {
	if !IsSupportedFile("x.go") || !IsSupportedFile("x.PY") {
		t.Fatal("expected go/py to be supported")
	}
	if IsSupportedFile("x.exe") {
		t.Fatal("expected .exe to be unsupported")
	}
}

func TestReadFile_RoundTripsContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world")

	s := New(root)
	got, err := s.ReadFile("a.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}
