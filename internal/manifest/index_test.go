// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package manifest

import (
	"testing"

	"github.com/cortexlabs/cortexd/internal/domain"
)

func TestMemoryChunkIndex_ChunksForFilePreservesContent(t *testing.T) {
	idx := NewMemoryChunkIndex()
	c1 := domain.Chunk{Hash: "h1", FilePath: "a.go", StartLine: 1, EndLine: 5}
	c2 := domain.Chunk{Hash: "h2", FilePath: "a.go", StartLine: 6, EndLine: 10}
	if err := idx.Put(c1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := idx.Put(c2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	chunks := idx.ChunksForFile("a.go")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Hash != "h1" || chunks[1].Hash != "h2" {
		t.Fatalf("expected chunks h1, h2 in insertion order, got %s, %s", chunks[0].Hash, chunks[1].Hash)
	}
}

func TestMemoryChunkIndex_PutReplacesSameHash(t *testing.T) {
	idx := NewMemoryChunkIndex()
	c := domain.Chunk{Hash: "h1", FilePath: "a.go", Text: "v1"}
	_ = idx.Put(c)
	c.Text = "v2"
	_ = idx.Put(c)

	chunks := idx.ChunksForFile("a.go")
	if len(chunks) != 1 || chunks[0].Text != "v2" {
		t.Fatalf("expected single updated chunk, got %+v", chunks)
	}
}

func TestMemoryChunkIndex_ChunkByHash(t *testing.T) {
	idx := NewMemoryChunkIndex()
	_ = idx.Put(domain.Chunk{Hash: "h1", FilePath: "a.go"})

	c, ok := idx.ChunkByHash("h1")
	if !ok || c.FilePath != "a.go" {
		t.Fatalf("expected to find chunk h1, got %+v ok=%v", c, ok)
	}
	if _, ok := idx.ChunkByHash("missing"); ok {
		t.Fatal("expected missing hash to report false")
	}
}

func TestMemoryChunkIndex_ChunksForDirectory(t *testing.T) {
	idx := NewMemoryChunkIndex()
	_ = idx.Put(domain.Chunk{Hash: "h1", FilePath: "pkg/sub/a.go"})
	_ = idx.Put(domain.Chunk{Hash: "h2", FilePath: "other/b.go"})

	chunks := idx.ChunksForDirectory("pkg", 10)
	if len(chunks) != 1 || chunks[0].Hash != "h1" {
		t.Fatalf("expected only pkg/sub/a.go's chunk, got %+v", chunks)
	}
}

func TestMemoryChunkIndex_ChunksForDirectoryRespectsLimit(t *testing.T) {
	idx := NewMemoryChunkIndex()
	for i := 0; i < 5; i++ {
		_ = idx.Put(domain.Chunk{Hash: string(rune('a' + i)), FilePath: "pkg/a.go"})
	}
	chunks := idx.ChunksForDirectory("pkg", 2)
	if len(chunks) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(chunks))
	}
}

func TestMemoryChunkIndex_Remove(t *testing.T) {
	idx := NewMemoryChunkIndex()
	_ = idx.Put(domain.Chunk{Hash: "h1", FilePath: "a.go"})
	idx.Remove("a.go")

	if chunks := idx.ChunksForFile("a.go"); len(chunks) != 0 {
		t.Fatalf("expected no chunks after remove, got %+v", chunks)
	}
	if _, ok := idx.ChunkByHash("h1"); ok {
		t.Fatal("expected chunk to be gone from byHash after remove")
	}
}

func TestMemoryChunkIndex_ChunksWithSymbolFindsFunctionName(t *testing.T) {
	idx := NewMemoryChunkIndex()
	_ = idx.Put(domain.Chunk{
		Hash: "h1", FilePath: "a.go",
		Metadata: domain.ChunkMetadata{FunctionNames: []string{"ProcessOrder"}},
	})
	_ = idx.Put(domain.Chunk{
		Hash: "h2", FilePath: "b.go",
		Metadata: domain.ChunkMetadata{ClassNames: []string{"OrderService"}},
	})

	matches := idx.ChunksWithSymbol("ProcessOrder")
	if len(matches) != 1 || matches[0].Hash != "h1" {
		t.Fatalf("expected to find h1 via function name search, got %+v", matches)
	}
}

func TestMemoryChunkIndex_ChunksWithSymbolNoHitsForUnknownName(t *testing.T) {
	idx := NewMemoryChunkIndex()
	_ = idx.Put(domain.Chunk{Hash: "h1", FilePath: "a.go", Metadata: domain.ChunkMetadata{FunctionNames: []string{"Foo"}}})

	if matches := idx.ChunksWithSymbol("CompletelyUnrelatedXyzzy"); len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
}
