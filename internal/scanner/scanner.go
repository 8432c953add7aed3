// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package scanner walks a repository on disk and produces the
// domain.ChunkableFile list the indexing pipeline diffs against the current
// RepoManifest (spec.md §4.1 Repo Scanner). The extension allow-list and
// temp-file skip rules are grounded on the teacher's
// internal/parser/dispatcher.go (IsSupportedFile/IsTemporaryFile),
// generalized from office-document extensions to source-code extensions
// since cortexd indexes code repositories rather than shared drives.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cortexlabs/cortexd/internal/chunker"
	"github.com/cortexlabs/cortexd/internal/domain"
)

// defaultIgnoredDirs mirrors the teacher's dispatcher skip-list, narrowed to
// the directories that actually show up in source repos rather than office
// document shares.
var defaultIgnoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	"dist":         true,
	"build":        true,
	".cache":       true,
}

// supportedExtensions is the source-code analogue of the teacher's
// office-document whitelist (docx/pdf/xlsx/...).
var supportedExtensions = map[string]bool{
	"go": true, "py": true, "js": true, "jsx": true, "mjs": true, "cjs": true,
	"ts": true, "tsx": true, "java": true, "rb": true, "rs": true, "c": true,
	"h": true, "cpp": true, "hpp": true, "cc": true, "cs": true, "php": true,
	"md": true, "txt": true, "yaml": true, "yml": true, "json": true, "toml": true,
	"sh": true, "sql": true,
}

// IsTemporaryFile reports whether filePath names an editor swap/lock file,
// the same heuristic as the teacher's dispatcher: a leading "~$" (Office
// lock files) or ".~", or a trailing "~"/".swp"/".tmp".
func IsTemporaryFile(filePath string) bool {
	base := filepath.Base(filePath)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".~") {
		return true
	}
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp")
}

// IsSupportedFile reports whether filePath's extension is one the chunker
// knows how to handle.
func IsSupportedFile(filePath string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	return supportedExtensions[ext]
}

// isIgnoredDir reports whether a directory name should be pruned from the walk.
func isIgnoredDir(name string) bool {
	return defaultIgnoredDirs[name] || strings.HasPrefix(name, ".")
}

// Scanner enumerates the files of one repository on disk.
type Scanner struct {
	repoPath string
}

// New returns a Scanner rooted at repoPath.
func New(repoPath string) *Scanner {
	return &Scanner{repoPath: repoPath}
}

// Scan walks the repository and returns every supported, non-temporary file
// as a domain.ChunkableFile with its content hash and detected language.
// Directories matching isIgnoredDir are pruned entirely, mirroring the
// teacher's recursive-watch skip logic. A file that can't be read
// (permission denied, or any other os.ReadFile failure) is recorded in the
// returned skipped list with its reason instead of aborting the rest of the
// scan, per spec.md §4.2's "unreadable file -> skipped, reported ... as
// SKIPPED with reason" edge case.
func (s *Scanner) Scan() (files []domain.ChunkableFile, skipped []domain.SkippedFile, err error) {
	walkErr := filepath.WalkDir(s.repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.repoPath, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && isIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsTemporaryFile(path) || !IsSupportedFile(path) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			skipped = append(skipped, domain.SkippedFile{
				Path:   filepath.ToSlash(rel),
				Reason: readErr.Error(),
			})
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		files = append(files, domain.ChunkableFile{
			Path:        filepath.ToSlash(rel),
			ContentHash: domain.HashText(string(content)),
			Language:    chunker.LanguageForExtension(ext),
		})
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("scanner: walk %s: %w", s.repoPath, walkErr)
	}
	return files, skipped, nil
}

// ReadFile loads the current content of a repo-relative path, used by the
// pipeline once a FileDecision says the file needs (re)chunking.
func (s *Scanner) ReadFile(relPath string) (string, error) {
	content, err := os.ReadFile(filepath.Join(s.repoPath, relPath))
	if err != nil {
		return "", fmt.Errorf("scanner: read %s: %w", relPath, err)
	}
	return string(content), nil
}
