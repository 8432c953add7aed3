// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package chunker

import (
	"strings"
	"testing"
)

func TestSlidingWindowChunker_EmptyFileYieldsNoChunks(t *testing.T) {
	c := NewSlidingWindowChunker(100, nil)
	chunks, err := c.ChunkFile("empty.go", "h", "", "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks for empty file, got %d", len(chunks))
	}
}

func TestSlidingWindowChunker_CoversFileWithoutOverlap(t *testing.T) {
	text := strings.Repeat("line number here\n", 50) // ~850 bytes
	c := NewSlidingWindowChunker(200, nil)
	chunks, err := c.ChunkFile("f.go", "filehash", text, "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var reconstructed strings.Builder
	for i, ch := range chunks {
		if i > 0 && ch.StartLine != chunks[i-1].EndLine+1 {
			t.Fatalf("expected contiguous, non-overlapping line spans; chunk %d starts at %d but previous ended at %d",
				i, ch.StartLine, chunks[i-1].EndLine)
		}
		reconstructed.WriteString(ch.Text)
	}
	if reconstructed.String() != text {
		t.Fatal("expected concatenated chunk text to reconstruct the original file exactly")
	}
}

func TestSlidingWindowChunker_SingleLineLargerThanBudgetIsOneChunk(t *testing.T) {
	text := strings.Repeat("x", 500)
	c := NewSlidingWindowChunker(100, nil)
	chunks, err := c.ChunkFile("f.go", "h", text, "go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single oversized line to produce exactly one chunk, got %d", len(chunks))
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != 1 {
		t.Fatalf("expected chunk span 1-1, got %d-%d", chunks[0].StartLine, chunks[0].EndLine)
	}
}

func TestSlidingWindowChunker_ChunkHashIsContentAddressed(t *testing.T) {
	c := NewSlidingWindowChunker(1000, nil)
	text := "package main\n\nfunc Hello() {}\n"
	chunksA, _ := c.ChunkFile("f.go", "h1", text, "go")
	chunksB, _ := c.ChunkFile("other.go", "h2", text, "go")
	if chunksA[0].Hash != chunksB[0].Hash {
		t.Fatal("expected identical text to produce identical chunk hash regardless of file path")
	}
}

func TestHeuristicASTExtractor_ExtractsGoFunctionsAndTypes(t *testing.T) {
	meta := HeuristicASTExtractor{}.Extract(`
package main

func DoThing() {}

type Server struct {
	Addr string
}
`, "go")
	if len(meta.FunctionNames) != 1 || meta.FunctionNames[0] != "DoThing" {
		t.Fatalf("expected to find function DoThing, got %v", meta.FunctionNames)
	}
	if len(meta.ClassNames) != 1 || meta.ClassNames[0] != "Server" {
		t.Fatalf("expected to find type Server, got %v", meta.ClassNames)
	}
}

func TestLanguageForExtension(t *testing.T) {
	cases := map[string]string{"go": "go", "PY": "python", "tsx": "ts", "unknown": ""}
	for ext, want := range cases {
		if got := LanguageForExtension(ext); got != want {
			t.Errorf("LanguageForExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}
