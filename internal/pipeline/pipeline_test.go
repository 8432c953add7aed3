// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package pipeline

import (
	"testing"

	"github.com/cortexlabs/cortexd/internal/domain"
)

func mustChunk(t *testing.T, text, path string, start, end int) domain.Chunk {
	t.Helper()
	c, err := domain.NewChunk(text, path, "filehash", start, end, domain.ChunkMetadata{})
	if err != nil {
		t.Fatalf("NewChunk failed: %v", err)
	}
	return c
}

func TestBatches_GroupsByTokenBudget(t *testing.T) {
	p := New(Config{TokenBudgetPerBatch: 10, MaxParallelTasks: 1, MaxRetries: 1}, nil, nil, nil)

	units := []Unit{
		{Chunk: mustChunk(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "a.go", 1, 1)}, // ~9 tokens
		{Chunk: mustChunk(t, "bbbb", "b.go", 1, 1)},                                   // ~1 token
		{Chunk: mustChunk(t, "cccccccccccccccccccccccccccccccccccccc", "c.go", 1, 1)}, // ~9 tokens
	}

	batches := p.batches(units)
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d: %+v", len(batches), batches)
	}
	if len(batches[0]) != 2 {
		t.Fatalf("expected first batch to absorb the small chunk, got %d items", len(batches[0]))
	}
	if len(batches[1]) != 1 {
		t.Fatalf("expected second batch to hold the third chunk alone, got %d items", len(batches[1]))
	}
}

func TestBatches_EmptyInputYieldsNoBatches(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil)
	if batches := p.batches(nil); len(batches) != 0 {
		t.Fatalf("expected no batches for empty input, got %d", len(batches))
	}
}

func TestEstimateTokens_NeverZero(t *testing.T) {
	if estimateTokens("") != 1 {
		t.Fatal("expected estimateTokens to floor at 1")
	}
	if estimateTokens("abcd") != 1 {
		t.Fatalf("expected 4 chars ~= 1 token, got %d", estimateTokens("abcd"))
	}
}

func TestNew_AppliesDefaultsForZeroValues(t *testing.T) {
	p := New(Config{}, nil, nil, nil)
	if p.cfg.MaxParallelTasks != 60 {
		t.Fatalf("expected default MaxParallelTasks 60, got %d", p.cfg.MaxParallelTasks)
	}
	if p.cfg.TokenBudgetPerBatch != 8000 {
		t.Fatalf("expected default TokenBudgetPerBatch 8000, got %d", p.cfg.TokenBudgetPerBatch)
	}
	if p.broadcaster == nil {
		t.Fatal("expected a default broadcaster to be created")
	}
}
