// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/logger"
	"github.com/cortexlabs/cortexd/internal/pipeline"
)

// upgrader allows any origin, matching the teacher's development-mode
// CheckOrigin; cortexd binds to localhost by default per spec.md §6.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// Hub tracks connected WebSocket clients and keeps them alive with a
// periodic ping, dropping any connection that stops answering. Grounded on
// the teacher's WebSocketManager (internal/server/websocket_handler.go):
// same per-client registry plus ping-loop shape, with the Redis-backed
// pending-message replay on connect dropped (cortexd has no Redis, see
// DESIGN.md).
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*websocket.Conn
	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub starts a Hub and its background ping loop.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[string]*websocket.Conn),
		ticker:  time.NewTicker(wsPingInterval),
		done:    make(chan struct{}),
	}
	go h.pingLoop()
	return h
}

func (h *Hub) pingLoop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.clients))
	for id, c := range h.clients {
		conns[id] = c
	}
	h.mu.RUnlock()

	for id, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			logger.Warnf("server: ping to client %s failed, dropping: %v", id, err)
			h.unregister(id)
			conn.Close()
		}
	}
}

func (h *Hub) register(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = conn
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Close stops the ping loop and closes every connected client. Safe to
// call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.ticker.Stop()
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, conn := range h.clients {
			conn.Close()
			delete(h.clients, id)
		}
	})
}

// progressFrame is spec.md §4.5's streaming-job wire shape.
type progressFrame struct {
	Task           string `json:"task"`
	Status         string `json:"status"`
	RepoPath       string `json:"repo_path"`
	Progress       int    `json:"progress"`
	Message        string `json:"message,omitempty"`
	IndexingStatus string `json:"indexing_status,omitempty"`
}

// updateChunksRequest is the initial message clients send after upgrading,
// per spec.md §6's "POST /v1/update_chunks (WebSocket)".
type updateChunksRequest struct {
	RepoPath string `json:"repo_path"`
	Sync     bool   `json:"sync"`
}

// handleUpdateChunksWS implements the /v1/update_chunks streaming job: the
// client sends one JSON request message, the server runs a full re-index
// and emits progress frames translated from the coordinator's shared
// pipeline.Broadcaster until the run completes or fails.
func (s *Server) handleUpdateChunksWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("server: update_chunks upgrade failed: %v", err)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = r.RemoteAddr
	}
	s.hub.register(clientID, conn)
	defer func() {
		s.hub.unregister(clientID)
		conn.Close()
	}()

	var req updateChunksRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, progressFrame{Task: "INDEXING", Status: "FAILED", Message: "invalid request: " + err.Error()})
		return
	}
	if req.RepoPath == "" {
		writeFrame(conn, progressFrame{Task: "INDEXING", Status: "FAILED", Message: "repo_path must not be empty"})
		return
	}

	events := make(chan pipeline.Event, 32)
	s.coord.Broadcaster().Subscribe(events)
	defer s.coord.Broadcaster().Unsubscribe(events)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.coord.Init(ctx, req.RepoPath) }()

	writeFrame(conn, progressFrame{Task: "INDEXING", Status: "IN_PROGRESS", RepoPath: req.RepoPath, Progress: 0})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				continue
			}
			progress := 0
			if ev.Total > 0 {
				progress = (ev.Completed * 100) / ev.Total
			}
			writeFrame(conn, progressFrame{
				Task: "EMBEDDING", Status: "IN_PROGRESS", RepoPath: req.RepoPath,
				Progress: progress, IndexingStatus: string(ev.Type),
			})
		case err := <-done:
			if err != nil {
				writeFrame(conn, progressFrame{Task: "INDEXING", Status: "FAILED", RepoPath: req.RepoPath, Message: err.Error()})
				return
			}
			writeFrame(conn, progressFrame{Task: "INDEXING", Status: "COMPLETED", RepoPath: req.RepoPath, Progress: 100})
			writeFrame(conn, progressFrame{Task: "EMBEDDING", Status: "COMPLETED", RepoPath: req.RepoPath, Progress: 100})
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame progressFrame) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		logger.Warnf("server: failed to write progress frame: %v", err)
	}
}

// handleRelevantChunksWS implements WS /v1/relevant_chunks: the client
// sends one focusRequest message, the server runs one retrieval query and
// replies with a single JSON array of results before closing.
func (s *Server) handleRelevantChunksWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("server: relevant_chunks upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req focusRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, apierr.BadRequest("invalid request: "+err.Error()))
		return
	}
	if req.RepoPath == "" {
		writeWSError(conn, apierr.BadRequest("repo_path must not be empty"))
		return
	}

	results, err := s.coord.Search(r.Context(), req.RepoPath, req.toRetrievalRequest())
	if err != nil {
		writeWSError(conn, err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(results)
}

func writeWSError(conn *websocket.Conn, err error) {
	apiErr := apierr.Classify(err)
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(apiErr.Envelope())
}
