// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/scanner"
)

// maxDirectoryDepth and maxDirectoryResults implement spec.md §4.4's
// directory-search bound: "traverses the filesystem bounded to 5 levels
// below the repo root and caps results at 7 entries."
const (
	maxDirectoryDepth   = 5
	maxDirectoryResults = 7
)

// DirNode is one entry of a directory-structure tree.
type DirNode struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Children []DirNode `json:"children,omitempty"`
}

// directoryTree builds a nested DirNode tree for dir (repo-relative, ""
// meaning repo root), skipping the same ignored directories the scanner
// walk prunes.
func directoryTree(repoPath, dir string) (DirNode, error) {
	root := filepath.Join(repoPath, dir)
	info, err := os.Stat(root)
	if err != nil {
		return DirNode{}, apierr.NotFound(fmt.Sprintf("server: directory %q not found: %v", dir, err))
	}
	if !info.IsDir() {
		return DirNode{}, apierr.BadRequest(fmt.Sprintf("server: %q is not a directory", dir))
	}
	return buildNode(root, filepath.ToSlash(dir))
}

func buildNode(absPath, relPath string) (DirNode, error) {
	node := DirNode{Name: filepath.Base(absPath), Path: relPath, IsDir: true}
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return DirNode{}, apierr.Internal(fmt.Errorf("server: read dir %s: %w", absPath, err))
	}
	for _, e := range entries {
		if e.IsDir() {
			if isIgnoredEntry(e.Name()) {
				continue
			}
			childRel := joinRel(relPath, e.Name())
			child, err := buildNode(filepath.Join(absPath, e.Name()), childRel)
			if err != nil {
				return DirNode{}, err
			}
			node.Children = append(node.Children, child)
			continue
		}
		node.Children = append(node.Children, DirNode{
			Name: e.Name(),
			Path: joinRel(relPath, e.Name()),
		})
	}
	return node, nil
}

// filesInDir lists the repo-relative paths of every file directly inside
// dir (non-recursive), per /v1/get-files-in-dir.
func filesInDir(repoPath, dir string) ([]string, error) {
	abs := filepath.Join(repoPath, dir)
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, apierr.NotFound(fmt.Sprintf("server: directory %q not found: %v", dir, err))
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, joinRel(filepath.ToSlash(dir), e.Name()))
		}
	}
	return files, nil
}

// matchingDirectories lists every directory (relative to repoPath, bounded
// to maxDirectoryDepth levels) whose name contains keyword, capped at
// maxDirectoryResults, per spec.md §4.4's symbol/keyword search surface.
func matchingDirectories(repoPath, keyword string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(matches) >= maxDirectoryResults {
			return filepath.SkipAll
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		depth := strings.Count(filepath.ToSlash(rel), "/") + 1
		if depth > maxDirectoryDepth {
			return filepath.SkipDir
		}
		if isIgnoredEntry(d.Name()) {
			return filepath.SkipDir
		}
		if containsIgnoreCase(d.Name(), keyword) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("server: walk %s: %w", repoPath, err))
	}
	return matches, nil
}

// grepContextLines is the number of lines of context kept on either side of
// a match, per the grep_search.py original's context window.
const grepContextLines = 5

// GrepMatch is one regex hit from /v1/grep-search, with surrounding context.
type GrepMatch struct {
	FilePath      string   `json:"file_path"`
	Line          int      `json:"line"`
	Text          string   `json:"text"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
}

// grepSearch runs pattern (a Go regexp) over every supported, non-ignored
// file under dir, returning at most maxResults matches (0 means
// unbounded), each with up to grepContextLines lines of surrounding
// context. Grounded on the scanner's own file-selection rules so grep only
// searches the same files the indexer would chunk, and on the original
// grep_search.py's 5-line context window.
func grepSearch(repoPath, dir, pattern string, maxResults int) ([]GrepMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apierr.BadRequest(fmt.Sprintf("server: invalid regex %q: %v", pattern, err))
	}
	root := filepath.Join(repoPath, dir)

	var matches []GrepMatch
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if maxResults > 0 && len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() != "." && isIgnoredEntry(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if scanner.IsTemporaryFile(path) || !scanner.IsSupportedFile(path) {
			return nil
		}

		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return relErr
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil // unreadable file, skip rather than fail the whole search
		}
		defer f.Close()

		var lines []string
		scan := bufio.NewScanner(f)
		scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scan.Scan() {
			lines = append(lines, scan.Text())
		}

		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			before := lines[max(0, i-grepContextLines):i]
			after := lines[i+1 : min(len(lines), i+1+grepContextLines)]
			matches = append(matches, GrepMatch{
				FilePath:      filepath.ToSlash(rel),
				Line:          i + 1,
				Text:          line,
				ContextBefore: before,
				ContextAfter:  after,
			})
			if maxResults > 0 && len(matches) >= maxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, apierr.Internal(fmt.Errorf("server: grep %s: %w", root, walkErr))
	}
	return matches, nil
}

func joinRel(relDir, name string) string {
	if relDir == "" || relDir == "." {
		return name
	}
	return relDir + "/" + name
}

func isIgnoredEntry(name string) bool {
	switch name {
	case ".git", ".hg", ".svn", "node_modules", "vendor", ".venv", "venv",
		"__pycache__", ".idea", ".vscode", "dist", "build", ".cache":
		return true
	}
	return strings.HasPrefix(name, ".")
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
