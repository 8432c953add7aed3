// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package pipeline is the Embedding Pipeline (spec.md §4.3): it turns
// chunks lacking vectors into durable VectorRecords via a remote embedder,
// batched by token budget with bounded concurrency, retried with backoff,
// and idempotent against chunk hashes already present in the store.
package pipeline

import (
	"sync"
	"time"
)

// EventType enumerates the stages a chunk or batch moves through, the same
// small vocabulary as the teacher's file-level broadcaster events, widened
// to chunk/batch granularity since the pipeline's unit of work is a chunk,
// not a whole file.
type EventType string

const (
	EventBatchStarted   EventType = "batch_started"
	EventChunkEmbedded  EventType = "chunk_embedded"
	EventChunkSkipped   EventType = "chunk_skipped" // already present in store
	EventFileSkipped    EventType = "file_skipped"  // unreadable on disk, see spec.md §4.2
	EventBatchRetrying  EventType = "batch_retrying"
	EventBatchFailed    EventType = "batch_failed"
	EventProgress       EventType = "progress"
	EventComplete       EventType = "complete"
)

// Event is one progress frame pushed to subscribers of a Run.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ChunkHash  string    `json:"chunk_hash,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
}

// Broadcaster fans Events out to subscribers, dropping events for any
// subscriber whose channel is full rather than blocking the pipeline.
// Grounded on the teacher's internal/drone/events.Broadcaster, generalized
// from a file-event vocabulary to a chunk/batch one.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]bool
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]bool)}
}

// Subscribe registers ch to receive future events.
func (b *Broadcaster) Subscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = true
}

// Unsubscribe removes and closes ch.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[ch] {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Broadcast pushes event to every current subscriber, non-blocking.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
