// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package server is the thin HTTP/WebSocket routing layer spec.md §6
// describes: an http.ServeMux mapping each endpoint onto a
// coordinator.Coordinator method, every JSON endpoint handler wrapped in
// apierr.Middleware so error responses share one envelope (/ping, /shutdown
// and the two WebSocket handlers are registered unwrapped), the whole mux
// wrapped again in trafficLogger for request/response logging. Grounded on
// the teacher's cmd/hive-server/main.go routes() function (same
// http.NewServeMux + grouped mux.HandleFunc registration style) and
// internal/server/middleware/logger.go's TrafficLogger, adapted into
// logging.go's trafficLogger using the shared logger package in place of
// the stdlib log package.
package server

import (
	"net/http"
	"os"
	"time"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/coordinator"
	"github.com/cortexlabs/cortexd/internal/logger"
)

// Server owns the coordinator and the WebSocket client registry, and
// exposes the full spec.md §6 endpoint list as an http.Handler.
type Server struct {
	coord *coordinator.Coordinator
	hub   *Hub
}

// New constructs a Server around coord.
func New(coord *coordinator.Coordinator) *Server {
	return &Server{coord: coord, hub: NewHub()}
}

// NewHTTPServer wraps Routes() in an http.Server configured with spec.md
// §5's 3000-second request/response/keep-alive timeouts (long enough to
// span a full repo index), mirroring the teacher's *http.Server{Addr,
// Handler} construction in cmd/hive-server/main.go.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 3000 * time.Second,
		ReadTimeout:       3000 * time.Second,
		WriteTimeout:      3000 * time.Second,
		IdleTimeout:       3000 * time.Second,
	}
}

// Routes wires every spec.md §6 endpoint onto the mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.Handle("/init", apierr.Middleware(s.handleInit))

	// Streaming jobs (WebSocket).
	mux.HandleFunc("/v1/update_chunks", s.handleUpdateChunksWS)
	mux.HandleFunc("/v1/relevant_chunks", s.handleRelevantChunksWS)

	// One-shot retrieval surface.
	mux.Handle("/v1/get-focus-chunks", apierr.Middleware(s.handleGetFocusChunks))
	mux.Handle("/v1/get-directory-structure", apierr.Middleware(s.handleGetDirectoryStructure))
	mux.Handle("/v1/batch_chunks_search", apierr.Middleware(s.handleBatchChunksSearch))
	mux.Handle("/v1/get-focus-search-results", apierr.Middleware(s.handleGetFocusSearchResults))
	mux.Handle("/v1/get-files-in-dir", apierr.Middleware(s.handleGetFilesInDir))
	mux.Handle("/v1/grep-search", apierr.Middleware(s.handleGrepSearch))
	mux.Handle("/v1/iteratively-read-file", apierr.Middleware(s.handleIterativelyReadFile))
	mux.Handle("/v1/read-file-or-summary", apierr.Middleware(s.handleReadFileOrSummary))

	// Peripheral contract endpoints.
	mux.Handle("/v1/diff-applicator/apply-diff", apierr.Middleware(s.handleApplyDiff))
	mux.Handle("/v1/auth/store_token", apierr.Middleware(s.handleAuthStoreToken))
	mux.Handle("/v1/auth/load_token", apierr.Middleware(s.handleAuthLoadToken))
	mux.Handle("/v1/auth/delete_token", apierr.Middleware(s.handleAuthDeleteToken))
	mux.Handle("/v1/mcp/servers", apierr.Middleware(s.handleMCPServers))
	mux.Handle("/v1/mcp/servers/call", apierr.Middleware(s.handleMCPCallTool))
	mux.Handle("/v1/mcp/servers/tools", apierr.Middleware(s.handleMCPListTools))
	mux.Handle("/v1/read_urls", apierr.Middleware(s.handleReadURLs))
	mux.Handle("/v1/saved_url", apierr.Middleware(s.handleSaveURL))
	mux.Handle("/v1/search_url", apierr.Middleware(s.handleSearchURL))
	mux.Handle("/v1/saved_url/list", apierr.Middleware(s.handleListSavedURLs))
	mux.Handle("/v1/saved_url/delete", apierr.Middleware(s.handleDeleteSavedURL))

	return trafficLogger(mux)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleShutdown stops every watcher, then sends the process an interrupt
// so cmd/cortexd's signal handler performs the actual server/store
// teardown; it responds before the process exits so the client sees a
// clean 200.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"shutting_down"}`))
	go func() {
		logger.Println("server: shutdown requested")
		s.coord.Shutdown()
		s.hub.Close()
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(os.Interrupt)
		}
	}()
}
