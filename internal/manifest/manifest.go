// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package manifest owns `shared_chunks`: the Session Coordinator's
// per-repo-path cache of the latest RepoManifest plus its in-memory chunk
// index, each guarded by its own lock so concurrent requests against
// different repos never contend (spec.md §4.5's "shared_chunks ... guarded
// by a per-entry lock to serialize updates"). Grounded on the teacher's
// worker pool's per-job locking discipline, generalized from one global
// mutex to one lock per cache entry.
package manifest

import (
	"sync"
	"time"

	"github.com/cortexlabs/cortexd/internal/domain"
)

// Entry is one repo's cached manifest plus chunk index, plus the last time
// a scan completed for it.
type Entry struct {
	mu         sync.Mutex
	Manifest   *domain.RepoManifest
	Index      *MemoryChunkIndex
	LastScanAt time.Time
}

// Lock acquires the entry's guard; callers must Unlock when done mutating
// Manifest/Index.
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// Registry is the process-wide `shared_chunks` cache: repo path -> Entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// GetOrCreate returns the Entry for repoPath, creating an empty one (with a
// fresh RepoManifest and chunk index) on first access. The returned Entry's
// own lock, not the Registry's, guards subsequent mutation.
func (r *Registry) GetOrCreate(repoPath string) *Entry {
	r.mu.RLock()
	e, ok := r.entries[repoPath]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[repoPath]; ok {
		return e
	}
	e = &Entry{
		Manifest: domain.NewRepoManifest(repoPath),
		Index:    NewMemoryChunkIndex(),
	}
	r.entries[repoPath] = e
	return e
}

// Get returns the Entry for repoPath if one already exists, without
// creating it — used by the retrieval engine's "repo not indexed" check.
func (r *Registry) Get(repoPath string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[repoPath]
	return e, ok
}

// Forget drops a repo's cached manifest and index entirely (used when a
// repo is deleted or a full re-index is requested).
func (r *Registry) Forget(repoPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repoPath)
}
