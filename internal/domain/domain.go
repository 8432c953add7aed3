// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package domain holds the core entities shared by every subsystem: the
// repository scanner, the embedding pipeline, the chunk store and the
// retrieval engine all pass these types by value or pointer rather than
// inventing their own shapes.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// HashBytes returns the lower-hex SHA-256 digest of b. File hashes and chunk
// hashes are both computed this way so they're interchangeable as map keys.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashText line-normalizes text (CRLF -> LF) before hashing so that chunk
// hashes are stable across checkouts with different line-ending settings.
func HashText(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return HashBytes([]byte(normalized))
}

// ChunkableFile is one file discovered by a repo scan.
type ChunkableFile struct {
	Path        string // repo-relative
	ContentHash string
	Language    string
}

// SkippedFile is a file the scanner found but could not read (permission
// denied, binary content it can't decode, etc). spec.md §4.2: "unreadable
// file (permission, binary) -> skipped, reported to indexing status as
// SKIPPED with reason" — the scan continues past it rather than failing.
type SkippedFile struct {
	Path   string // repo-relative
	Reason string
}

// SymbolKind classifies the structural element a Chunk's metadata describes.
type SymbolKind string

const (
	SymbolKindNone     SymbolKind = ""
	SymbolKindFunction SymbolKind = "function"
	SymbolKindClass    SymbolKind = "class"
	SymbolKindModule   SymbolKind = "module"
)

// ChunkMetadata is the AST-derived (or heuristically derived) metadata
// attached to a Chunk.
type ChunkMetadata struct {
	FunctionNames []string
	ClassNames    []string
	Imports       []string
	SymbolKind    SymbolKind
}

// Chunk is a contiguous, content-addressed span of source text.
type Chunk struct {
	Hash       string // content-addressed, primary key in the store
	Text       string
	FilePath   string
	FileHash   string
	StartLine  int // 1-based, inclusive
	EndLine    int // 1-based, inclusive
	Metadata   ChunkMetadata
	Embedding  []float32 // nil until the embedding pipeline populates it
}

// NewChunk constructs a Chunk, computing its content hash and validating the
// 1-based inclusive line-span invariant required by spec.
func NewChunk(text, filePath, fileHash string, startLine, endLine int, meta ChunkMetadata) (Chunk, error) {
	if startLine < 1 {
		return Chunk{}, fmt.Errorf("domain: start_line must be >= 1, got %d", startLine)
	}
	if endLine < startLine {
		return Chunk{}, fmt.Errorf("domain: end_line (%d) must be >= start_line (%d)", endLine, startLine)
	}
	return Chunk{
		Hash:      HashText(text),
		Text:      text,
		FilePath:  filePath,
		FileHash:  fileHash,
		StartLine: startLine,
		EndLine:   endLine,
		Metadata:  meta,
	}, nil
}

// VectorRecord is a Chunk's persisted, embedded form in the Chunk Store.
type VectorRecord struct {
	ChunkHash string // unique key
	Vector    []float32
	FilePath  string
	FileHash  string
	Text      string
	StartLine int
	EndLine   int
	Metadata  ChunkMetadata
}

// RepoManifest is the current file-path -> file-hash mapping for one
// repository. Mutated only by the indexing pipeline while holding the
// repo's manifest guard (see internal/manifest); read lock-free elsewhere.
type RepoManifest struct {
	RepoPath  string
	Files     map[string]string // path -> content hash
	UpdatedAt time.Time
}

// NewRepoManifest returns an empty manifest for repoPath.
func NewRepoManifest(repoPath string) *RepoManifest {
	return &RepoManifest{RepoPath: repoPath, Files: make(map[string]string)}
}

// FileDecisionKind is Diff's verdict for one file.
type FileDecisionKind string

const (
	FileNew       FileDecisionKind = "new"
	FileUpdated   FileDecisionKind = "updated"
	FileUnchanged FileDecisionKind = "unchanged"
)

type FileDecision struct {
	Path string
	Hash string
	Kind FileDecisionKind
}

// Diff classifies every file in files against the manifest's current state,
// without mutating the manifest. Deleted paths present in the manifest but
// absent from files are returned separately so callers can schedule GC.
func (m *RepoManifest) Diff(files []ChunkableFile) (decisions []FileDecision, deleted []string) {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Path] = true
		prior, ok := m.Files[f.Path]
		switch {
		case !ok:
			decisions = append(decisions, FileDecision{Path: f.Path, Hash: f.ContentHash, Kind: FileNew})
		case prior != f.ContentHash:
			decisions = append(decisions, FileDecision{Path: f.Path, Hash: f.ContentHash, Kind: FileUpdated})
		default:
			decisions = append(decisions, FileDecision{Path: f.Path, Hash: f.ContentHash, Kind: FileUnchanged})
		}
	}
	for path := range m.Files {
		if !seen[path] {
			deleted = append(deleted, path)
		}
	}
	return decisions, deleted
}

// Apply commits decisions (and deletions) into the manifest. Callers must
// hold the repo's manifest guard.
func (m *RepoManifest) Apply(decisions []FileDecision, deleted []string) {
	for _, d := range decisions {
		m.Files[d.Path] = d.Hash
	}
	for _, path := range deleted {
		delete(m.Files, path)
	}
	m.UpdatedAt = time.Now()
}

// URLContent is a cached, markdown-rendered fetch of an external URL.
type URLContent struct {
	URL          string // unique key
	DisplayName  string
	Markdown     string
	ContentHash  string
	ETag         string
	LastModified string
	LastIndexed  time.Time
	BackendID    string
}

// ReviewSnapshot tracks the working-tree copy taken for IDE-review diffing.
type ReviewSnapshot struct {
	SourceBranch  string
	CommittedRef  string
	Files         map[string]string // repo-relative path -> snapshot file path
	ReviewCount   int
}
