// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexlabs/cortexd/internal/config"
	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/embeddings"
	"github.com/cortexlabs/cortexd/internal/manifest"
	"github.com/cortexlabs/cortexd/internal/metastore"
	"github.com/cortexlabs/cortexd/internal/retrieval"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	meta, err := metastore.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("metastore.Open failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	cfg := config.Default()
	c := New(cfg, nil, meta, embeddings.NewMockEmbedder(8), nil)

	repoDir := filepath.Join(dir, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	return c, repoDir
}

func writeFile(t *testing.T, repoDir, relPath, content string) {
	t.Helper()
	full := filepath.Join(repoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", relPath, err)
	}
}

func TestNew_WiresEveryPeripheralCollaborator(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if c.Tokens == nil || c.URLs == nil || c.MCP == nil || c.DiffApply == nil {
		t.Fatal("expected all peripheral collaborators to be non-nil")
	}
	if c.Broadcaster() == nil {
		t.Fatal("expected a non-nil broadcaster")
	}
}

func TestStatus_DefaultsToIdleForUnknownRepo(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	if got := c.Status(repoDir); got != StatusIdle {
		t.Fatalf("expected idle status for unseen repo, got %q", got)
	}
}

func TestHydrateManifest_LoadsTrackedFilesOnce(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	if err := c.meta.UpsertTrackedFile(repoDir, "a.go", "hash-a", "indexed"); err != nil {
		t.Fatalf("seed tracked file: %v", err)
	}

	entry := c.manifest.GetOrCreate(repoDir)
	if err := c.hydrateManifest(entry, repoDir); err != nil {
		t.Fatalf("hydrateManifest failed: %v", err)
	}
	if entry.Manifest.Files["a.go"] != "hash-a" {
		t.Fatalf("expected hydrated manifest to contain a.go, got %+v", entry.Manifest.Files)
	}

	// A second hydrate call must not clobber in-memory state gathered since.
	entry.Lock()
	entry.Manifest.Files["b.go"] = "hash-b"
	entry.Unlock()
	if err := c.hydrateManifest(entry, repoDir); err != nil {
		t.Fatalf("second hydrateManifest failed: %v", err)
	}
	if entry.Manifest.Files["b.go"] != "hash-b" {
		t.Fatal("expected second hydrate to be a no-op once already hydrated")
	}
}

func TestChunkDecisions_SkipsUnchangedAndIndexesNewFiles(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	writeFile(t, repoDir, "a.go", "package a\n\nfunc A() {}\n")

	entry := manifest.NewRegistry().GetOrCreate(repoDir)
	decisions := []domain.FileDecision{
		{Path: "a.go", Hash: "hash-a", Kind: domain.FileNew},
		{Path: "unchanged.go", Hash: "hash-u", Kind: domain.FileUnchanged},
	}

	units, err := c.chunkDecisions(repoDir, entry, decisions)
	if err != nil {
		t.Fatalf("chunkDecisions failed: %v", err)
	}
	if len(units) == 0 {
		t.Fatal("expected at least one embedding unit for a.go")
	}
	if chunks := entry.Index.ChunksForFile("a.go"); len(chunks) == 0 {
		t.Fatal("expected a.go's chunks to be indexed")
	}
	if chunks := entry.Index.ChunksForFile("unchanged.go"); len(chunks) != 0 {
		t.Fatal("expected unchanged.go to be skipped entirely")
	}
}

func TestOnFileRemoved_ForgetsFileFromIndexManifestAndMetastore(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	writeFile(t, repoDir, "a.go", "package a\n")

	entry := c.manifest.GetOrCreate(repoDir)
	units, err := c.chunkDecisions(repoDir, entry, []domain.FileDecision{{Path: "a.go", Hash: "hash-a", Kind: domain.FileNew}})
	if err != nil || len(units) == 0 {
		t.Fatalf("setup chunkDecisions failed: %v (%d units)", err, len(units))
	}
	entry.Lock()
	entry.Manifest.Files["a.go"] = "hash-a"
	entry.Unlock()
	if err := c.meta.UpsertTrackedFile(repoDir, "a.go", "hash-a", "indexed"); err != nil {
		t.Fatalf("seed tracked file: %v", err)
	}

	c.onFileRemoved(repoDir, entry, "a.go")

	if chunks := entry.Index.ChunksForFile("a.go"); len(chunks) != 0 {
		t.Fatal("expected a.go's chunks to be removed from the index")
	}
	entry.Lock()
	_, stillTracked := entry.Manifest.Files["a.go"]
	entry.Unlock()
	if stillTracked {
		t.Fatal("expected a.go to be removed from the in-memory manifest")
	}
	tf, err := c.meta.GetTrackedFile(repoDir, "a.go")
	if err != nil {
		t.Fatalf("GetTrackedFile failed: %v", err)
	}
	if tf != nil {
		t.Fatal("expected a.go's tracked-file row to be deleted")
	}
}

func TestSearch_ReturnsErrRepoNotIndexedWithoutOpportunisticFlag(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	_, err := c.Search(nil, repoDir, retrieval.Request{Query: "anything"})
	if err != retrieval.ErrRepoNotIndexed {
		t.Fatalf("expected ErrRepoNotIndexed, got %v", err)
	}
}

func TestSnapshotManager_CachesOnePerRepo(t *testing.T) {
	c, repoDir := newTestCoordinator(t)
	m1 := c.SnapshotManager(repoDir)
	m2 := c.SnapshotManager(repoDir)
	if m1 != m2 {
		t.Fatal("expected SnapshotManager to return the same instance for the same repo path")
	}
}

func TestApplyBootstrap_MergesConfigAndRebuildsChunker(t *testing.T) {
	c, _ := newTestCoordinator(t)
	originalChunker := c.chunker

	if err := c.ApplyBootstrap(strings.NewReader(`{"chunk_size": 2500}`)); err != nil {
		t.Fatalf("ApplyBootstrap failed: %v", err)
	}
	if c.cfg.ChunkSize != 2500 {
		t.Fatalf("expected ChunkSize 2500, got %d", c.cfg.ChunkSize)
	}
	if c.chunker == originalChunker {
		t.Fatal("expected chunker to be rebuilt when chunk_size changes")
	}
}

func TestApplyBootstrap_RejectsMalformedJSON(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.ApplyBootstrap(strings.NewReader(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed bootstrap config")
	}
}

func TestShutdown_IsIdempotentWithNoWatchers(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Shutdown()
	c.Shutdown()
}
