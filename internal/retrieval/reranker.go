// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPReranker forwards Phase 4's rerank request to an external re-ranking
// service over HTTP. Grounded on the embeddings package's HTTP-client idiom
// (context-aware request, bearer header, status-code + body error
// reporting) in internal/embeddings/openai.go, repointed at a local
// re-ranker endpoint instead of OpenAI's embeddings API.
type HTTPReranker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReranker returns a Reranker that POSTs to baseURL+"/rerank".
func NewHTTPReranker(baseURL string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankCandidate struct {
	ChunkHash string `json:"chunk_hash"`
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	Score     float32 `json:"score"`
}

type rerankRequest struct {
	Query       string            `json:"query"`
	Candidates  []rerankCandidate `json:"candidates"`
	FocusHashes []string          `json:"focus_hashes"`
}

type rerankResponse struct {
	SelectedHashes []string `json:"selected_hashes"`
}

// Rerank implements Reranker.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate, focusHashes []string) ([]string, error) {
	payload := rerankRequest{Query: query, FocusHashes: focusHashes}
	for _, c := range candidates {
		payload.Candidates = append(payload.Candidates, rerankCandidate{
			ChunkHash: c.Chunk.Hash,
			FilePath:  c.Chunk.FilePath,
			Content:   c.Chunk.Text,
			Score:     c.Score,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reranker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker: status %d: %s", resp.StatusCode, string(respBody))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}
	return out.SelectedHashes, nil
}
