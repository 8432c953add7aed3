// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package diffapply hands a proposed patch off to the external
// diff-application utility (spec.md §1 Non-goals: "the diff-application
// utility and per-file patch engine" is a separate collaborator). This
// package only implements the /v1/diff-applicator/apply-diff contract:
// forward the request, classify failures, return the engine's verdict.
// Grounded on the HTTP-client idiom in internal/embeddings/openai.go
// (context-aware request, bearer auth header, status-code + body error
// reporting), repointed at a local diff-applicator endpoint instead of a
// cloud embedding API.
package diffapply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexlabs/cortexd/internal/apierr"
)

// Request is one file's proposed patch.
type Request struct {
	FilePath   string `json:"file_path"`
	OriginalContent string `json:"original_content"`
	DiffText   string `json:"diff_text"`
}

// Result is the applicator's verdict for one file.
type Result struct {
	FilePath    string `json:"file_path"`
	Applied     bool   `json:"applied"`
	NewContent  string `json:"new_content,omitempty"`
	FailureHunk string `json:"failure_hunk,omitempty"`
}

// Client forwards apply-diff requests to the external diff-applicator
// service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client that talks to baseURL (e.g. "http://127.0.0.1:8090").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ApplyDiff forwards req to the diff-applicator and returns its verdict.
func (c *Client) ApplyDiff(ctx context.Context, req Request) (Result, error) {
	if req.FilePath == "" {
		return Result{}, apierr.BadRequest("file_path must not be empty")
	}
	if req.DiffText == "" {
		return Result{}, apierr.BadRequest("diff_text must not be empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, apierr.Internal(fmt.Errorf("diffapply: marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/apply-diff", bytes.NewReader(body))
	if err != nil {
		return Result{}, apierr.Internal(fmt.Errorf("diffapply: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, apierr.RemoteService("diff-applicator unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, apierr.RemoteService(
			fmt.Sprintf("diff-applicator returned status %d: %s", resp.StatusCode, string(respBody)),
			nil,
		)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, apierr.Internal(fmt.Errorf("diffapply: decode response: %w", err))
	}
	return result, nil
}
