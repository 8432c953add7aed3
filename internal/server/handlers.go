// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/diffapply"
	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/filereader"
	"github.com/cortexlabs/cortexd/internal/manifest"
	"github.com/cortexlabs/cortexd/internal/mcpproxy"
	"github.com/cortexlabs/cortexd/internal/retrieval"
)

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apierr.BadRequest("request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// handleInit implements POST /init: merge the bootstrap config payload, if
// any, over the coordinator's running config.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) error {
	if err := s.coord.ApplyBootstrap(r.Body); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "initialized"})
}

// focusRequest is the shared shape of /v1/relevant_chunks and
// /v1/get-focus-chunks: a repo path plus the three focus-hint sets §4.4
// defines.
type focusRequest struct {
	RepoPath                string   `json:"repo_path"`
	Query                   string   `json:"query"`
	FocusChunkHashes        []string `json:"focus_chunks"`
	FocusFilePaths          []string `json:"focus_files"`
	FocusDirectories        []string `json:"focus_directories"`
	TopK                    int      `json:"number_of_chunks"`
	EnableRerank            bool     `json:"enable_rerank"`
	AllowOpportunisticIndex bool     `json:"perform_chunking"`
}

func (req focusRequest) toRetrievalRequest() retrieval.Request {
	return retrieval.Request{
		Query:                   req.Query,
		FocusChunkHashes:        req.FocusChunkHashes,
		FocusFilePaths:          req.FocusFilePaths,
		FocusDirectories:        req.FocusDirectories,
		TopK:                    req.TopK,
		EnableRerank:            req.EnableRerank,
		AllowOpportunisticIndex: req.AllowOpportunisticIndex,
	}
}

// handleGetFocusChunks implements POST /v1/get-focus-chunks: pure focus
// expansion with no vector search and no query, per spec.md §4.4 phase 2.2.
func (s *Server) handleGetFocusChunks(w http.ResponseWriter, r *http.Request) error {
	var req focusRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" {
		return apierr.BadRequest("repo_path must not be empty")
	}

	entry, ok := s.coord.ManifestRegistry().Get(req.RepoPath)
	if !ok {
		return retrieval.ErrRepoNotIndexed
	}

	seen := make(map[string]bool)
	var chunks []domain.Chunk
	add := func(c domain.Chunk) {
		if seen[c.Hash] {
			return
		}
		seen[c.Hash] = true
		chunks = append(chunks, c)
	}
	for _, hash := range req.FocusChunkHashes {
		if c, ok := entry.Index.ChunkByHash(hash); ok {
			add(c)
		}
	}
	for _, path := range req.FocusFilePaths {
		cs := entry.Index.ChunksForFile(path)
		sort.Slice(cs, func(i, j int) bool { return cs[i].StartLine < cs[j].StartLine })
		for _, c := range cs {
			add(c)
		}
	}
	for _, dir := range req.FocusDirectories {
		for _, c := range entry.Index.ChunksForDirectory(dir, 40) {
			add(c)
		}
	}
	return writeJSON(w, chunksToResults(chunks))
}

func chunksToResults(chunks []domain.Chunk) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, retrieval.Result{
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Content:   c.Text,
			Metadata:  c.Metadata,
		})
	}
	return out
}

// directoryRequest names the repo and sub-directory a directory-oriented
// endpoint operates on.
type directoryRequest struct {
	RepoPath string `json:"repo_path"`
	Dir      string `json:"dir"`
}

// handleGetDirectoryStructure implements POST /v1/get-directory-structure.
func (s *Server) handleGetDirectoryStructure(w http.ResponseWriter, r *http.Request) error {
	var req directoryRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" {
		return apierr.BadRequest("repo_path must not be empty")
	}
	tree, err := directoryTree(req.RepoPath, req.Dir)
	if err != nil {
		return err
	}
	return writeJSON(w, tree)
}

// handleGetFilesInDir implements POST /v1/get-files-in-dir.
func (s *Server) handleGetFilesInDir(w http.ResponseWriter, r *http.Request) error {
	var req directoryRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" {
		return apierr.BadRequest("repo_path must not be empty")
	}
	files, err := filesInDir(req.RepoPath, req.Dir)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]string{"files": files})
}

// grepRequest is the body of /v1/grep-search.
type grepRequest struct {
	RepoPath string `json:"repo_path"`
	Pattern  string `json:"pattern"`
	Dir      string `json:"dir"`
	MaxResults int  `json:"max_results"`
}

// handleGrepSearch implements POST /v1/grep-search: a regex search over the
// repo's indexed files on disk.
func (s *Server) handleGrepSearch(w http.ResponseWriter, r *http.Request) error {
	var req grepRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" || req.Pattern == "" {
		return apierr.BadRequest("repo_path and pattern must not be empty")
	}
	matches, err := grepSearch(req.RepoPath, req.Dir, req.Pattern, req.MaxResults)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]GrepMatch{"matches": matches})
}

// batchSearchLookup is one lookup in /v1/batch_chunks_search's batch.
type batchSearchLookup struct {
	Keyword string `json:"keyword"`
	Type    string `json:"type"` // file, class, function, directory
}

type batchSearchRequest struct {
	RepoPath string              `json:"repo_path"`
	Lookups  []batchSearchLookup `json:"lookups"`
}

// handleBatchChunksSearch implements POST /v1/batch_chunks_search: runs
// every (keyword, type) lookup against the repo's symbol index and groups
// results per lookup, preserving request order.
func (s *Server) handleBatchChunksSearch(w http.ResponseWriter, r *http.Request) error {
	var req batchSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" {
		return apierr.BadRequest("repo_path must not be empty")
	}
	entry, ok := s.coord.ManifestRegistry().Get(req.RepoPath)
	if !ok {
		return retrieval.ErrRepoNotIndexed
	}

	type group struct {
		Keyword string             `json:"keyword"`
		Type    string             `json:"type"`
		Chunks  []retrieval.Result `json:"chunks"`
	}
	groups := make([]group, 0, len(req.Lookups))
	for _, lookup := range req.Lookups {
		chunks := symbolSearch(entry, lookup.Keyword, lookup.Type)
		groups = append(groups, group{Keyword: lookup.Keyword, Type: lookup.Type, Chunks: chunksToResults(chunks)})
	}
	return writeJSON(w, map[string]interface{}{"results": groups})
}

// focusSearchRequest is the body of /v1/get-focus-search-results.
type focusSearchRequest struct {
	RepoPath string `json:"repo_path"`
	Keyword  string `json:"keyword"`
	Type     string `json:"type"` // file, class, function, directory
}

// focusSearchResult is one autocomplete suggestion, shaped so
// result.Value/result.Type match the keyword/type the caller searched for.
type focusSearchResult struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// handleGetFocusSearchResults implements POST /v1/get-focus-search-results:
// structural autocomplete over symbol names, file paths, and directories.
func (s *Server) handleGetFocusSearchResults(w http.ResponseWriter, r *http.Request) error {
	var req focusSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" || req.Keyword == "" {
		return apierr.BadRequest("repo_path and keyword must not be empty")
	}

	switch req.Type {
	case "file":
		entry, ok := s.coord.ManifestRegistry().Get(req.RepoPath)
		if !ok {
			return retrieval.ErrRepoNotIndexed
		}
		var results []focusSearchResult
		entry.Lock()
		for path := range entry.Manifest.Files {
			if containsIgnoreCase(path, req.Keyword) {
				results = append(results, focusSearchResult{Value: path, Type: "file"})
			}
		}
		entry.Unlock()
		return writeJSON(w, map[string][]focusSearchResult{"results": results})
	case "directory":
		dirs, err := matchingDirectories(req.RepoPath, req.Keyword)
		if err != nil {
			return err
		}
		results := make([]focusSearchResult, 0, len(dirs))
		for _, d := range dirs {
			results = append(results, focusSearchResult{Value: d, Type: "directory"})
		}
		return writeJSON(w, map[string][]focusSearchResult{"results": results})
	case "class", "function":
		entry, ok := s.coord.ManifestRegistry().Get(req.RepoPath)
		if !ok {
			return retrieval.ErrRepoNotIndexed
		}
		chunks := symbolSearch(entry, req.Keyword, req.Type)
		results := make([]focusSearchResult, 0, len(chunks))
		for _, c := range chunks {
			for _, value := range symbolNamesOfType(c.Metadata, req.Type) {
				if containsIgnoreCase(value, req.Keyword) {
					results = append(results, focusSearchResult{Value: value, Type: req.Type})
				}
			}
		}
		return writeJSON(w, map[string][]focusSearchResult{"results": results})
	default:
		return apierr.BadRequest("type must be one of file, class, function, directory")
	}
}

func symbolNamesOfType(meta domain.ChunkMetadata, symbolType string) []string {
	if symbolType == "class" {
		return meta.ClassNames
	}
	return meta.FunctionNames
}

func symbolSearch(entry *manifest.Entry, keyword, symbolType string) []domain.Chunk {
	candidates := entry.Index.ChunksWithSymbol(keyword)
	if symbolType == "" {
		return candidates
	}
	var out []domain.Chunk
	for _, c := range candidates {
		for _, name := range symbolNamesOfType(c.Metadata, symbolType) {
			if containsIgnoreCase(name, keyword) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// fileReadRequest is the shared body of the two file-reader endpoints.
type fileReadRequest struct {
	RepoPath      string `json:"repo_path"`
	FilePath      string `json:"file_path"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	LineThreshold int    `json:"line_threshold"`
}

// handleIterativelyReadFile implements POST /v1/iteratively-read-file: an
// exact line-range read, §4.4's "iteratively read file" contract.
func (s *Server) handleIterativelyReadFile(w http.ResponseWriter, r *http.Request) error {
	var req fileReadRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" || req.FilePath == "" {
		return apierr.BadRequest("repo_path and file_path must not be empty")
	}
	result, err := filereader.New(req.RepoPath).ReadRange(req.FilePath, req.StartLine, req.EndLine)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// handleReadFileOrSummary implements POST /v1/read-file-or-summary.
func (s *Server) handleReadFileOrSummary(w http.ResponseWriter, r *http.Request) error {
	var req fileReadRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.RepoPath == "" || req.FilePath == "" {
		return apierr.BadRequest("repo_path and file_path must not be empty")
	}
	threshold := req.LineThreshold
	if threshold <= 0 {
		threshold = 100
	}
	result, err := filereader.New(req.RepoPath).ReadOrSummary(req.FilePath, threshold)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// handleApplyDiff implements POST /v1/diff-applicator/apply-diff, a thin
// hand-off to the external diff-application engine.
func (s *Server) handleApplyDiff(w http.ResponseWriter, r *http.Request) error {
	var req diffapply.Request
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	result, err := s.coord.DiffApply.ApplyDiff(r.Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// --- Auth (token broker) ---

func (s *Server) handleAuthStoreToken(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Provider string `json:"provider"`
		Token    string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.coord.Tokens.StoreToken(req.Provider, req.Token); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "stored"})
}

func (s *Server) handleAuthLoadToken(w http.ResponseWriter, r *http.Request) error {
	provider := r.URL.Query().Get("provider")
	token, err := s.coord.Tokens.LoadToken(provider)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"provider": provider, "token": token})
}

func (s *Server) handleAuthDeleteToken(w http.ResponseWriter, r *http.Request) error {
	provider := r.URL.Query().Get("provider")
	if err := s.coord.Tokens.DeleteToken(provider); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "deleted"})
}

// --- MCP proxy ---

func (s *Server) handleMCPServers(w http.ResponseWriter, r *http.Request) error {
	if r.Method == http.MethodPost {
		var cfg mcpproxy.ServerConfig
		if err := decodeJSON(r, &cfg); err != nil {
			return err
		}
		if cfg.Name == "" || cfg.BaseURL == "" {
			return apierr.BadRequest("name and base_url must not be empty")
		}
		s.coord.MCP.Register(cfg)
		return writeJSON(w, map[string]string{"status": "registered"})
	}
	return writeJSON(w, map[string][]string{"servers": s.coord.MCP.ListServers()})
}

func (s *Server) handleMCPListTools(w http.ResponseWriter, r *http.Request) error {
	server := r.URL.Query().Get("server")
	tools, err := s.coord.MCP.ListTools(r.Context(), server)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]string{"tools": tools})
}

func (s *Server) handleMCPCallTool(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Server string                `json:"server"`
		Call   mcpproxy.ToolCallRequest `json:"call"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	result, err := s.coord.MCP.CallTool(r.Context(), req.Server, req.Call)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// --- URL content store ---

func (s *Server) handleReadURLs(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	contents, err := s.coord.URLs.ReadURLs(req.URLs)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]domain.URLContent{"contents": contents})
}

func (s *Server) handleSaveURL(w http.ResponseWriter, r *http.Request) error {
	var content domain.URLContent
	if err := decodeJSON(r, &content); err != nil {
		return err
	}
	if err := s.coord.URLs.SaveURL(content); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "saved"})
}

func (s *Server) handleSearchURL(w http.ResponseWriter, r *http.Request) error {
	keyword := r.URL.Query().Get("keyword")
	results, err := s.coord.URLs.SearchURL(keyword)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]domain.URLContent{"results": results})
}

func (s *Server) handleListSavedURLs(w http.ResponseWriter, r *http.Request) error {
	urls, err := s.coord.URLs.ListSavedURLs()
	if err != nil {
		return err
	}
	return writeJSON(w, map[string][]domain.URLContent{"urls": urls})
}

func (s *Server) handleDeleteSavedURL(w http.ResponseWriter, r *http.Request) error {
	url := r.URL.Query().Get("url")
	if err := s.coord.URLs.DeleteSavedURL(url); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "deleted"})
}
