// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package coordinator is the Session Coordinator (spec.md §4.5): the
// process-wide object that owns every long-lived collaborator (the chunk
// store connection, shared_chunks, the metastore, per-repo file watchers
// and snapshot managers) and turns one /init or /v1/update_chunks request
// into a scan -> diff -> chunk -> embed run, reporting progress through a
// pipeline.Broadcaster the HTTP/WS layer subscribes to. Grounded on the
// teacher's cmd/hive-server/main.go wiring (one shared store/db/embedder,
// one process-wide job registry) generalized from the teacher's Redis job
// queue to an in-process worker pool per spec.md's "no Redis" scope cut.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/chunker"
	"github.com/cortexlabs/cortexd/internal/config"
	"github.com/cortexlabs/cortexd/internal/diffapply"
	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/embeddings"
	"github.com/cortexlabs/cortexd/internal/logger"
	"github.com/cortexlabs/cortexd/internal/manifest"
	"github.com/cortexlabs/cortexd/internal/mcpproxy"
	"github.com/cortexlabs/cortexd/internal/metastore"
	"github.com/cortexlabs/cortexd/internal/pipeline"
	"github.com/cortexlabs/cortexd/internal/retrieval"
	"github.com/cortexlabs/cortexd/internal/scanner"
	"github.com/cortexlabs/cortexd/internal/snapshot"
	"github.com/cortexlabs/cortexd/internal/store"
	"github.com/cortexlabs/cortexd/internal/tokenstore"
	"github.com/cortexlabs/cortexd/internal/urlcontent"
)

// IndexingStatus is the coarse state of a repo's last indexing run, echoed
// back in progress frames as spec.md §4.5's indexing_status field.
type IndexingStatus string

const (
	StatusIdle     IndexingStatus = "idle"
	StatusScanning IndexingStatus = "scanning"
	StatusChunking IndexingStatus = "chunking"
	StatusEmbedding IndexingStatus = "embedding"
	StatusComplete IndexingStatus = "complete"
	StatusFailed   IndexingStatus = "failed"
)

// repoState is the coordinator's per-repo bookkeeping: its watcher and the
// status last reported for it. Snapshot managers live in the separate
// snapshots map.
type repoState struct {
	mu      sync.Mutex
	watcher *scanner.Watcher
	status  IndexingStatus
}

// Coordinator wires together every collaborator a repo-indexing or
// retrieval request needs. One Coordinator serves every repo the daemon has
// been asked to index; per-repo state lives in shared_chunks (Manifest)
// plus the repos map here.
type Coordinator struct {
	cfg      config.Config
	store    *store.Store
	meta     *metastore.Store
	embedder embeddings.Embedder
	chunker  chunker.Chunker
	manifest *manifest.Registry
	engine   *retrieval.Engine

	Tokens   *tokenstore.Store
	URLs     *urlcontent.Store
	MCP      *mcpproxy.Proxy
	DiffApply *diffapply.Client

	repoMu sync.Mutex
	repos  map[string]*repoState

	snapshotMu sync.Mutex
	snapshots  map[string]*snapshot.Manager

	broadcaster *pipeline.Broadcaster
}

// New constructs a Coordinator from its already-dialed collaborators. cfg is
// kept by value so later /init bootstrap merges don't mutate a shared copy.
func New(cfg config.Config, st *store.Store, meta *metastore.Store, embedder embeddings.Embedder, reranker retrieval.Reranker) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		store:       st,
		meta:        meta,
		embedder:    embedder,
		chunker:     chunker.NewSlidingWindowChunker(cfg.ChunkSize, nil),
		manifest:    manifest.NewRegistry(),
		engine:      retrieval.New(embedder, st, reranker),
		Tokens:      tokenstore.New(meta),
		URLs:        urlcontent.New(meta),
		MCP:         mcpproxy.New(),
		DiffApply:   diffapply.New(cfg.DiffApplyURL),
		repos:       make(map[string]*repoState),
		snapshots:   make(map[string]*snapshot.Manager),
		broadcaster: pipeline.NewBroadcaster(),
	}
	return c
}

// Broadcaster exposes the coordinator's shared progress stream for the
// WebSocket hub to subscribe to.
func (c *Coordinator) Broadcaster() *pipeline.Broadcaster { return c.broadcaster }

// ManifestRegistry exposes shared_chunks for handlers that need read-only
// access to a repo's cached manifest/index without going through Search
// (focus expansion, symbol autocomplete, directory listing).
func (c *Coordinator) ManifestRegistry() *manifest.Registry { return c.manifest }

// ApplyBootstrap merges a /init request body over the coordinator's current
// config (spec.md §6's "body may contain a bootstrap config") and rebuilds
// the chunker if the chunk budget changed. The store subprocess and
// embedder are dialed once in cmd/cortexd before the server starts, not
// per-/init-call, since spec.md §4.5 describes store_client as
// "initialized on first request that needs it", which the coordinator
// already satisfies by holding one long-lived *store.Store.
func (c *Coordinator) ApplyBootstrap(body io.Reader) error {
	merged, err := c.cfg.MergeBootstrap(body)
	if err != nil {
		return apierr.BadRequest(fmt.Sprintf("coordinator: invalid bootstrap config: %v", err))
	}
	if merged.ChunkSize != c.cfg.ChunkSize {
		c.chunker = chunker.NewSlidingWindowChunker(merged.ChunkSize, nil)
	}
	c.cfg = merged
	return nil
}

// SnapshotManager returns (creating if needed) the snapshot.Manager for
// repoPath, used by the IDE-review diffing endpoints.
func (c *Coordinator) SnapshotManager(repoPath string) *snapshot.Manager {
	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()
	if m, ok := c.snapshots[repoPath]; ok {
		return m
	}
	m := snapshot.New(repoPath, c.meta)
	c.snapshots[repoPath] = m
	return m
}

func (c *Coordinator) repoStateFor(repoPath string) *repoState {
	c.repoMu.Lock()
	defer c.repoMu.Unlock()
	rs, ok := c.repos[repoPath]
	if !ok {
		rs = &repoState{status: StatusIdle}
		c.repos[repoPath] = rs
	}
	return rs
}

func (c *Coordinator) setStatus(repoPath string, status IndexingStatus) {
	rs := c.repoStateFor(repoPath)
	rs.mu.Lock()
	rs.status = status
	rs.mu.Unlock()
}

// Status returns the last-reported indexing status for repoPath.
func (c *Coordinator) Status(repoPath string) IndexingStatus {
	rs := c.repoStateFor(repoPath)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.status
}

// Init bootstraps a repo: full scan, diff against its cached manifest
// (rebuilt from metastore on first touch), chunk every new/updated file,
// embed and upsert every resulting chunk, then start a background watcher
// so subsequent edits are picked up incrementally. spec.md §4.5's /init.
func (c *Coordinator) Init(ctx context.Context, repoPath string) error {
	if repoPath == "" {
		return apierr.BadRequest("repo_path must not be empty")
	}

	entry := c.manifest.GetOrCreate(repoPath)
	if err := c.hydrateManifest(entry, repoPath); err != nil {
		return err
	}

	if err := c.reindex(ctx, repoPath, entry); err != nil {
		c.setStatus(repoPath, StatusFailed)
		return err
	}

	rs := c.repoStateFor(repoPath)
	rs.mu.Lock()
	alreadyWatching := rs.watcher != nil
	rs.mu.Unlock()
	if !alreadyWatching {
		if err := c.startWatcher(repoPath, entry); err != nil {
			logger.Warnf("coordinator: failed to start watcher for %s: %v", repoPath, err)
		}
	}
	return nil
}

// hydrateManifest loads a repo's tracked-file table into its in-memory
// manifest on first touch, so a coordinator restart doesn't re-embed
// everything from scratch.
func (c *Coordinator) hydrateManifest(entry *manifest.Entry, repoPath string) error {
	entry.Lock()
	defer entry.Unlock()
	if len(entry.Manifest.Files) > 0 {
		return nil // already hydrated this process lifetime
	}
	files, err := c.meta.ListTrackedFiles(repoPath)
	if err != nil {
		return apierr.Internal(fmt.Errorf("coordinator: hydrate manifest: %w", err))
	}
	entry.Manifest.Files = files
	return nil
}

// reindex runs one scan -> diff -> chunk -> embed cycle for repoPath,
// broadcasting progress at each phase.
func (c *Coordinator) reindex(ctx context.Context, repoPath string, entry *manifest.Entry) error {
	c.setStatus(repoPath, StatusScanning)
	c.broadcastProgress(repoPath, StatusScanning, 0, 0)

	files, skipped, err := scanner.New(repoPath).Scan()
	if err != nil {
		return apierr.Internal(fmt.Errorf("coordinator: scan %s: %w", repoPath, err))
	}
	for _, f := range skipped {
		c.broadcaster.Broadcast(pipeline.Event{
			Type: pipeline.EventFileSkipped, Timestamp: time.Now(),
			FilePath: f.Path, Message: f.Reason,
		})
		if err := c.meta.RecordIngestionEvent(repoPath, f.Path, "skipped", f.Reason); err != nil {
			logger.Warnf("coordinator: failed to record skip for %s/%s: %v", repoPath, f.Path, err)
		}
	}

	entry.Lock()
	decisions, deleted := entry.Manifest.Diff(files)
	entry.Unlock()

	c.setStatus(repoPath, StatusChunking)
	units, err := c.chunkDecisions(repoPath, entry, decisions)
	if err != nil {
		return err
	}

	for _, path := range deleted {
		entry.Index.Remove(path)
		if delErr := c.meta.DeleteTrackedFile(repoPath, path); delErr != nil {
			logger.Warnf("coordinator: failed to forget %s/%s: %v", repoPath, path, delErr)
		}
	}

	entry.Lock()
	entry.Manifest.Apply(decisions, deleted)
	entry.LastScanAt = time.Now()
	entry.Unlock()

	for _, d := range decisions {
		status := "indexed"
		if d.Kind == domain.FileUnchanged {
			status = "unchanged"
		}
		if err := c.meta.UpsertTrackedFile(repoPath, d.Path, d.Hash, status); err != nil {
			logger.Warnf("coordinator: failed to record %s/%s: %v", repoPath, d.Path, err)
		}
	}

	c.setStatus(repoPath, StatusEmbedding)
	p := pipeline.New(pipeline.Config{
		TokenBudgetPerBatch: c.cfg.TokenBudget,
		MaxParallelTasks:    c.cfg.MaxParallelTasks,
		MaxRetries:          c.cfg.EmbeddingRetries,
	}, c.embedder, c.store, c.broadcaster)
	if err := p.Run(ctx, units); err != nil {
		return apierr.Internal(fmt.Errorf("coordinator: embed %s: %w", repoPath, err))
	}

	c.setStatus(repoPath, StatusComplete)
	c.broadcastProgress(repoPath, StatusComplete, len(units), len(units))
	return nil
}

// chunkDecisions re-chunks every new/updated file, indexing each resulting
// chunk into the repo's in-memory ChunkIndex, and returns the embedding
// units the pipeline must process. Unchanged files are skipped entirely.
func (c *Coordinator) chunkDecisions(repoPath string, entry *manifest.Entry, decisions []domain.FileDecision) ([]pipeline.Unit, error) {
	sc := scanner.New(repoPath)
	var units []pipeline.Unit
	for _, d := range decisions {
		if d.Kind == domain.FileUnchanged {
			continue
		}
		entry.Index.Remove(d.Path)

		text, err := sc.ReadFile(d.Path)
		if err != nil {
			logger.Warnf("coordinator: failed to read %s/%s, skipping: %v", repoPath, d.Path, err)
			c.broadcaster.Broadcast(pipeline.Event{
				Type: pipeline.EventFileSkipped, Timestamp: time.Now(),
				FilePath: d.Path, Message: err.Error(),
			})
			if recErr := c.meta.RecordIngestionEvent(repoPath, d.Path, "skipped", err.Error()); recErr != nil {
				logger.Warnf("coordinator: failed to record skip for %s/%s: %v", repoPath, d.Path, recErr)
			}
			continue
		}
		language := chunker.LanguageForExtension(strings.TrimPrefix(filepath.Ext(d.Path), "."))
		chunks, err := c.chunker.ChunkFile(d.Path, d.Hash, text, language)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("coordinator: chunk %s/%s: %w", repoPath, d.Path, err))
		}
		for _, chunk := range chunks {
			if err := entry.Index.Put(chunk); err != nil {
				return nil, apierr.Internal(fmt.Errorf("coordinator: index chunk %s: %w", chunk.Hash, err))
			}
			units = append(units, pipeline.Unit{Chunk: chunk})
		}
	}
	return units, nil
}

// startWatcher installs a debounced filesystem watcher that re-indexes a
// single changed file (or forgets a removed one) without a full repo scan.
func (c *Coordinator) startWatcher(repoPath string, entry *manifest.Entry) error {
	w, err := scanner.NewWatcher(repoPath,
		func(relPath string) { c.onFileChanged(repoPath, entry, relPath) },
		func(relPath string) { c.onFileRemoved(repoPath, entry, relPath) },
	)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	rs := c.repoStateFor(repoPath)
	rs.mu.Lock()
	rs.watcher = w
	rs.mu.Unlock()
	return nil
}

func (c *Coordinator) onFileChanged(repoPath string, entry *manifest.Entry, relPath string) {
	if !scanner.IsSupportedFile(relPath) {
		return
	}
	sc := scanner.New(repoPath)
	text, err := sc.ReadFile(relPath)
	if err != nil {
		logger.Warnf("coordinator: watcher read %s/%s failed: %v", repoPath, relPath, err)
		return
	}
	hash := domain.HashText(text)

	entry.Lock()
	prior, existed := entry.Manifest.Files[relPath]
	entry.Unlock()
	if existed && prior == hash {
		return
	}
	kind := domain.FileNew
	if existed {
		kind = domain.FileUpdated
	}

	units, err := c.chunkDecisions(repoPath, entry, []domain.FileDecision{{Path: relPath, Hash: hash, Kind: kind}})
	if err != nil {
		logger.Warnf("coordinator: watcher chunk %s/%s failed: %v", repoPath, relPath, err)
		return
	}

	entry.Lock()
	entry.Manifest.Files[relPath] = hash
	entry.LastScanAt = time.Now()
	entry.Unlock()

	if err := c.meta.UpsertTrackedFile(repoPath, relPath, hash, "indexed"); err != nil {
		logger.Warnf("coordinator: watcher record %s/%s failed: %v", repoPath, relPath, err)
	}

	p := pipeline.New(pipeline.Config{
		TokenBudgetPerBatch: c.cfg.TokenBudget,
		MaxParallelTasks:    c.cfg.MaxParallelTasks,
		MaxRetries:          c.cfg.EmbeddingRetries,
	}, c.embedder, c.store, c.broadcaster)
	if err := p.Run(context.Background(), units); err != nil {
		logger.Warnf("coordinator: watcher embed %s/%s failed: %v", repoPath, relPath, err)
	}
}

func (c *Coordinator) onFileRemoved(repoPath string, entry *manifest.Entry, relPath string) {
	entry.Index.Remove(relPath)
	entry.Lock()
	delete(entry.Manifest.Files, relPath)
	entry.Unlock()
	if err := c.meta.DeleteTrackedFile(repoPath, relPath); err != nil {
		logger.Warnf("coordinator: watcher forget %s/%s failed: %v", repoPath, relPath, err)
	}
}

// Search runs a retrieval query against repoPath's cached manifest/index.
func (c *Coordinator) Search(ctx context.Context, repoPath string, req retrieval.Request) ([]retrieval.Result, error) {
	entry, ok := c.manifest.Get(repoPath)
	if !ok || len(entry.Manifest.Files) == 0 {
		if !req.AllowOpportunisticIndex {
			return nil, retrieval.ErrRepoNotIndexed
		}
		if err := c.Init(ctx, repoPath); err != nil {
			return nil, err
		}
		entry = c.manifest.GetOrCreate(repoPath)
	}
	return c.engine.Search(ctx, entry.Manifest, entry.Index, req)
}

func (c *Coordinator) broadcastProgress(repoPath string, status IndexingStatus, completed, total int) {
	c.broadcaster.Broadcast(pipeline.Event{
		Type:      pipeline.EventProgress,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("%s:%s", repoPath, status),
		Completed: completed,
		Total:     total,
	})
}

// Shutdown stops every repo's watcher. Idempotent: calling it twice is safe.
func (c *Coordinator) Shutdown() {
	c.repoMu.Lock()
	defer c.repoMu.Unlock()
	for path, rs := range c.repos {
		rs.mu.Lock()
		if rs.watcher != nil {
			if err := rs.watcher.Stop(); err != nil {
				logger.Warnf("coordinator: stop watcher for %s: %v", path, err)
			}
			rs.watcher = nil
		}
		rs.mu.Unlock()
	}
}
