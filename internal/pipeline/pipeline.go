// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/schollz/progressbar/v3"

	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/embeddings"
	"github.com/cortexlabs/cortexd/internal/store"
	"github.com/cortexlabs/cortexd/internal/workerpool"
)

// Unit is one chunk awaiting embedding.
type Unit struct {
	Chunk domain.Chunk
}

// Config tunes the pipeline's batching and retry behavior.
type Config struct {
	TokenBudgetPerBatch int // approximate; chunks are grouped until this budget is exceeded
	MaxParallelTasks    int // K batches in flight, default 60 per spec
	MaxRetries          int
	InitialBackoff      time.Duration
	ForceRefresh        bool // re-embed even if the store already has the chunk hash
}

// DefaultConfig mirrors spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{
		TokenBudgetPerBatch: 8000,
		MaxParallelTasks:    60,
		MaxRetries:          5,
		InitialBackoff:      500 * time.Millisecond,
	}
}

// Pipeline embeds and upserts chunks into the Chunk Store.
type Pipeline struct {
	cfg         Config
	embedder    embeddings.Embedder
	store       *store.Store
	broadcaster *Broadcaster
}

// New constructs a Pipeline.
func New(cfg Config, embedder embeddings.Embedder, st *store.Store, broadcaster *Broadcaster) *Pipeline {
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = 60
	}
	if cfg.TokenBudgetPerBatch <= 0 {
		cfg.TokenBudgetPerBatch = 8000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &Pipeline{cfg: cfg, embedder: embedder, store: st, broadcaster: broadcaster}
}

// Broadcaster exposes the pipeline's event stream for subscribers.
func (p *Pipeline) Broadcaster() *Broadcaster { return p.broadcaster }

// estimateTokens is a rough, tokenizer-free approximation (chars/4), the
// same heuristic the teacher's chunker budget uses for "characters" as a
// proxy for tokens — good enough for batch sizing, not billing.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// batches groups units by token budget, never splitting a single oversized
// chunk across batches.
func (p *Pipeline) batches(units []Unit) [][]Unit {
	var batches [][]Unit
	var current []Unit
	size := 0
	for _, u := range units {
		tokens := estimateTokens(u.Chunk.Text)
		if size > 0 && size+tokens > p.cfg.TokenBudgetPerBatch {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, u)
		size += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Run embeds and upserts every unit, returning once all batches have
// settled (succeeded, permanently failed, or the context was cancelled).
// It never returns a partial-upload inconsistency: each chunk hash is
// upserted atomically by the store, so a cancelled run simply leaves some
// chunk hashes unindexed for a future run to pick up.
func (p *Pipeline) Run(ctx context.Context, units []Unit) error {
	total := len(units)
	if total == 0 {
		return nil
	}

	bar := progressbar.Default(int64(total), "embedding chunks")
	var completed int32

	pool := workerpool.New(ctx, p.cfg.MaxParallelTasks)
	for _, batch := range p.batches(units) {
		batch := batch
		if err := pool.Submit(func(ctx context.Context) error {
			return p.runBatch(ctx, batch, bar, &completed, total)
		}); err != nil {
			return err
		}
	}

	err := pool.Wait()
	p.broadcaster.Broadcast(Event{Type: EventComplete, Timestamp: time.Now(), Completed: int(atomic.LoadInt32(&completed)), Total: total})
	return err
}

func (p *Pipeline) runBatch(ctx context.Context, batch []Unit, bar *progressbar.ProgressBar, completed *int32, total int) error {
	p.broadcaster.Broadcast(Event{Type: EventBatchStarted, Timestamp: time.Now(), Total: total})

	pending := make([]Unit, 0, len(batch))
	for _, u := range batch {
		if !p.cfg.ForceRefresh {
			exists, err := p.store.Exists(ctx, u.Chunk.Hash)
			if err != nil {
				return fmt.Errorf("pipeline: check existing chunk %s: %w", u.Chunk.Hash, err)
			}
			if exists {
				p.broadcaster.Broadcast(Event{Type: EventChunkSkipped, Timestamp: time.Now(), ChunkHash: u.Chunk.Hash, FilePath: u.Chunk.FilePath})
				bar.Add(1)
				advance(completed, total)
				continue
			}
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, u := range pending {
		texts[i] = u.Chunk.Text
	}

	vectors, err := p.embedBatchWithRetry(ctx, texts)
	if err != nil {
		p.broadcaster.Broadcast(Event{Type: EventBatchFailed, Timestamp: time.Now(), Error: err.Error()})
		return err
	}

	for i, u := range pending {
		rec := domain.VectorRecord{
			ChunkHash: u.Chunk.Hash,
			Vector:    vectors[i],
			FilePath:  u.Chunk.FilePath,
			FileHash:  u.Chunk.FileHash,
			Text:      u.Chunk.Text,
			StartLine: u.Chunk.StartLine,
			EndLine:   u.Chunk.EndLine,
			Metadata:  u.Chunk.Metadata,
		}
		if err := p.store.UpsertChunk(ctx, rec); err != nil {
			return fmt.Errorf("pipeline: upsert chunk %s: %w", u.Chunk.Hash, err)
		}
		p.broadcaster.Broadcast(Event{Type: EventChunkEmbedded, Timestamp: time.Now(), ChunkHash: u.Chunk.Hash, FilePath: u.Chunk.FilePath})
		bar.Add(1)
		advance(completed, total)
	}
	return nil
}

func advance(completed *int32, total int) {
	atomic.AddInt32(completed, 1)
}

// embedBatchWithRetry retries failed embedding calls with exponential
// backoff, up to MaxRetries attempts. Every embedder error is retried:
// isPermanentEmbeddingError matches nothing, so auth failures and other
// permanent errors are not told apart from transient ones.
func (p *Pipeline) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	op := func() ([][]float32, error) {
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if isPermanentEmbeddingError(err) {
				return nil, backoff.Permanent(err)
			}
			p.broadcaster.Broadcast(Event{Type: EventBatchRetrying, Timestamp: time.Now(), Error: err.Error()})
			return nil, err
		}
		return vecs, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries)),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isPermanentEmbeddingError always reports false. The embedders return
// untyped errors, and no error is classified as permanent here.
func isPermanentEmbeddingError(err error) bool {
	return false
}
