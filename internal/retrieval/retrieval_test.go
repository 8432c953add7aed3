// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package retrieval

import (
	"testing"

	"github.com/cortexlabs/cortexd/internal/domain"
)

func mustChunk(t *testing.T, hash, path string, start, end int) domain.Chunk {
	t.Helper()
	return domain.Chunk{Hash: hash, FilePath: path, StartLine: start, EndLine: end, Text: "x"}
}

func TestAddCandidate_KeepsHighestScore(t *testing.T) {
	candidates := make(map[string]Candidate)
	addCandidate(candidates, Candidate{Chunk: mustChunk(t, "h1", "a.go", 1, 2), Score: 0.5})
	addCandidate(candidates, Candidate{Chunk: mustChunk(t, "h1", "b.go", 3, 4), Score: 0.9})
	addCandidate(candidates, Candidate{Chunk: mustChunk(t, "h1", "c.go", 5, 6), Score: 0.1})

	got := candidates["h1"]
	if got.Score != 0.9 || got.Chunk.FilePath != "b.go" {
		t.Fatalf("expected highest-scoring entry to win, got %+v", got)
	}
}

func TestIntersectByHash_PreservesSelectedOrder(t *testing.T) {
	candidates := []Candidate{
		{Chunk: mustChunk(t, "a", "x.go", 1, 1), Score: 1},
		{Chunk: mustChunk(t, "b", "y.go", 1, 1), Score: 2},
		{Chunk: mustChunk(t, "c", "z.go", 1, 1), Score: 3},
	}
	out := intersectByHash(candidates, []string{"c", "a"})
	if len(out) != 2 || out[0].Chunk.Hash != "c" || out[1].Chunk.Hash != "a" {
		t.Fatalf("expected order [c,a], got %+v", out)
	}
}

func TestIntersectByHash_DropsUnselectedHashes(t *testing.T) {
	candidates := []Candidate{{Chunk: mustChunk(t, "a", "x.go", 1, 1), Score: 1}}
	out := intersectByHash(candidates, []string{"nonexistent"})
	if len(out) != 0 {
		t.Fatalf("expected no matches, got %+v", out)
	}
}

func TestCodeStyleTokens_FiltersPlainEnglishWords(t *testing.T) {
	tokens := codeStyleTokens("how does the calculate_total function work in OrderService")
	found := make(map[string]bool)
	for _, tok := range tokens {
		found[tok] = true
	}
	if !found["calculate_total"] {
		t.Error("expected snake_case identifier to be recognized")
	}
	if !found["OrderService"] {
		t.Error("expected PascalCase identifier to be recognized")
	}
	if found["how"] || found["does"] || found["the"] || found["work"] || found["in"] {
		t.Errorf("expected plain English words to be filtered out, got %v", tokens)
	}
}

func TestCodeStyleTokens_RecognizesDottedPaths(t *testing.T) {
	tokens := codeStyleTokens("look at pkg.Sub.Method for details")
	found := false
	for _, tok := range tokens {
		if tok == "pkg.Sub.Method" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dotted path to be recognized, got %v", tokens)
	}
}
