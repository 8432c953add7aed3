// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package retrieval is the Retrieval Engine (spec.md §4.4): given a query
// plus optional focus hints, it gathers candidates from vector search, focus
// expansion, and symbol lookup, deduplicates by chunk hash, optionally
// re-ranks, and shapes the result for hand-off to an LLM. Grounded on the
// teacher's internal/server/search_handler.go (embed-then-search-then-shape
// handler shape), expanded with the focus/symbol phases spec.md adds.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/embeddings"
	"github.com/cortexlabs/cortexd/internal/store"
)

// ChunkIndex is the in-process view of a repo's chunks the vector store
// alone can't answer (store queries today only support a direct chunk-hash
// lookup and nearest-neighbor search, neither of which can list "every chunk
// of file X" or "a sample of chunks under directory Y"). The indexing
// pipeline maintains one ChunkIndex per repo alongside the RepoManifest;
// this is the seam between the two.
type ChunkIndex interface {
	ChunksForFile(filePath string) []domain.Chunk
	ChunksForDirectory(dir string, limit int) []domain.Chunk
	ChunkByHash(hash string) (domain.Chunk, bool)
	// ChunksWithSymbol returns chunks whose function/class names match name,
	// best chunk score first — spec.md §4.4's symbol/keyword search.
	ChunksWithSymbol(name string) []domain.Chunk
}

// Reranker submits (query, candidates, focus) to a remote re-ranking
// service and returns the subset of chunk hashes it selected, in order.
// spec.md §4.4 Phase 4: "intersect results by chunk denotation" — here a
// chunk's denotation is its content hash (see DESIGN.md Open Questions).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, focusHashes []string) ([]string, error)
}

// Candidate is one chunk competing for a place in the final result.
type Candidate struct {
	Chunk domain.Chunk
	Score float32
}

// Result is a scored chunk shaped for hand-off to an LLM (Phase 5).
type Result struct {
	FilePath  string            `json:"file_path"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Content   string            `json:"content"`
	Metadata  domain.ChunkMetadata `json:"metadata"`
	Score     float32           `json:"score"`
}

// repoNotIndexedError implements the NotFound() string duck-type apierr.Classify
// recognizes, so a missing manifest surfaces as 404 rather than a generic 500.
type repoNotIndexedError struct{}

func (repoNotIndexedError) Error() string    { return "retrieval: repo not indexed" }
func (repoNotIndexedError) NotFound() string { return "repo not indexed" }

// ErrRepoNotIndexed is returned when no manifest exists for a repo and the
// caller has not permitted opportunistic indexing.
var ErrRepoNotIndexed error = repoNotIndexedError{}

// Request is one retrieval query.
type Request struct {
	Query                   string
	FocusChunkHashes        []string
	FocusFilePaths          []string
	FocusDirectories        []string
	TopK                    int // NUMBER_OF_CHUNKS
	EnableRerank            bool
	AllowOpportunisticIndex bool
}

// Engine implements the five-phase retrieval algorithm.
type Engine struct {
	embedder embeddings.Embedder
	store    *store.Store
	reranker Reranker // nil disables Phase 4 even if Request.EnableRerank is set
}

// New constructs an Engine. reranker may be nil.
func New(embedder embeddings.Embedder, st *store.Store, reranker Reranker) *Engine {
	return &Engine{embedder: embedder, store: st, reranker: reranker}
}

const defaultTopK = 20
const directorySampleLimit = 40

// Search runs the full five-phase algorithm over one repo's manifest and
// chunk index. manifest being nil means the repo has never been scanned.
func (e *Engine) Search(ctx context.Context, manifest *domain.RepoManifest, index ChunkIndex, req Request) ([]Result, error) {
	if manifest == nil {
		if !req.AllowOpportunisticIndex {
			return nil, ErrRepoNotIndexed
		}
		return nil, fmt.Errorf("retrieval: opportunistic indexing requested but no indexer was wired in")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	// Phase 1: query embedding, no persistence.
	queryVector, err := e.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	// Phase 2: candidate gathering.
	candidates := make(map[string]Candidate)

	matches, err := e.store.Search(ctx, queryVector, topK*2)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	for _, m := range matches {
		addCandidate(candidates, candidateFromMatch(m))
	}

	if index != nil {
		for _, hash := range req.FocusChunkHashes {
			if c, ok := index.ChunkByHash(hash); ok {
				addCandidate(candidates, Candidate{Chunk: c, Score: maxFocusScore(candidates)})
			}
		}
		for _, path := range req.FocusFilePaths {
			chunks := index.ChunksForFile(path)
			sort.Slice(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })
			for _, c := range chunks {
				addCandidate(candidates, Candidate{Chunk: c, Score: maxFocusScore(candidates)})
			}
		}
		for _, dir := range req.FocusDirectories {
			for _, c := range index.ChunksForDirectory(dir, directorySampleLimit) {
				addCandidate(candidates, Candidate{Chunk: c, Score: maxFocusScore(candidates)})
			}
		}

		// Phase 2.3: symbol lookup for code-style query tokens.
		for _, token := range codeStyleTokens(req.Query) {
			for _, c := range index.ChunksWithSymbol(token) {
				addCandidate(candidates, Candidate{Chunk: c, Score: maxFocusScore(candidates)})
			}
		}
	}

	// Phase 3: de-duplication already folded into addCandidate (keyed by
	// chunk hash, keeps the highest-scoring entry).
	ordered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Chunk.Hash < ordered[j].Chunk.Hash // deterministic tiebreak
	})

	// Phase 4: re-ranking.
	if req.EnableRerank && e.reranker != nil {
		selected, err := e.reranker.Rerank(ctx, req.Query, ordered, req.FocusChunkHashes)
		if err != nil {
			return nil, fmt.Errorf("retrieval: rerank: %w", err)
		}
		ordered = intersectByHash(ordered, selected)
	}
	if len(ordered) > topK {
		ordered = ordered[:topK]
	}

	// Phase 5: shaping.
	results := make([]Result, 0, len(ordered))
	for _, c := range ordered {
		results = append(results, Result{
			FilePath:  c.Chunk.FilePath,
			StartLine: c.Chunk.StartLine,
			EndLine:   c.Chunk.EndLine,
			Content:   c.Chunk.Text,
			Metadata:  c.Chunk.Metadata,
			Score:     c.Score,
		})
	}
	return results, nil
}

func candidateFromMatch(m store.Match) Candidate {
	meta := domain.ChunkMetadata{}
	return Candidate{
		Chunk: domain.Chunk{
			Hash:      m.ChunkHash,
			Text:      m.Text,
			FilePath:  m.FilePath,
			FileHash:  m.FileHash,
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
			Metadata:  meta,
		},
		Score: m.Score,
	}
}

// addCandidate keeps, per chunk hash, the entry with the highest score and
// (by construction, since we never downgrade) the file path attached to
// that highest-scoring entry — spec.md §4.4 Phase 3.
func addCandidate(candidates map[string]Candidate, c Candidate) {
	existing, ok := candidates[c.Chunk.Hash]
	if !ok || c.Score > existing.Score {
		candidates[c.Chunk.Hash] = c
	}
}

// maxFocusScore assigns a score to focus-expanded (non-vector-search)
// candidates high enough to survive Phase 3 dedup against a lower-scoring
// vector hit for the same chunk, without distorting final ranking among
// genuine vector matches: one unit above the current best.
func maxFocusScore(candidates map[string]Candidate) float32 {
	var max float32
	for _, c := range candidates {
		if c.Score > max {
			max = c.Score
		}
	}
	return max + 1
}

func intersectByHash(candidates []Candidate, selectedHashes []string) []Candidate {
	byHash := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byHash[c.Chunk.Hash] = c
	}
	out := make([]Candidate, 0, len(selectedHashes))
	for _, h := range selectedHashes {
		if c, ok := byHash[h]; ok {
			out = append(out, c)
		}
	}
	return out
}
