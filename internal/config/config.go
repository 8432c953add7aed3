// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package config loads cortexd's tunables the way the teacher wires its own
// environment-driven settings: env vars with sane defaults, overridable by
// an explicit payload. The bootstrap payload arrives on
// POST /init; per spec.md §9 the precedence across bootstrap payload,
// shared-memory cache and a remote config service is an open question —
// this implementation merges env defaults < bootstrap payload and does not
// attempt to model a remote config service (see DESIGN.md Open Questions).
package config

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
)

// Config holds every indexing/retrieval tunable named in spec.md.
type Config struct {
	// Repo Scanner & Chunker
	NumberOfWorkers int `json:"number_of_workers"`
	ChunkSize       int `json:"chunk_size"`
	ChunkOverlap    int `json:"chunk_overlap"`

	// Embedding Pipeline
	MaxParallelTasks int `json:"max_parallel_tasks"`
	EmbeddingRetries int `json:"embedding_retries"`
	TokenBudget      int `json:"token_budget"`

	// Retrieval Engine
	NumberOfChunks  int  `json:"number_of_chunks"`
	RerankerEnabled bool `json:"reranker_enabled"`
	RerankerURL     string `json:"reranker_url"`
	FileReadThreshold int `json:"file_read_threshold"`

	// Diff Applicator (external collaborator, spec.md §1 Non-goals)
	DiffApplyURL string `json:"diff_apply_url"`

	// Chunk Store
	StoreAddr           string `json:"store_addr"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`

	// Embedder
	EmbedderType string            `json:"embedder_type"`
	EmbedderOpts map[string]string `json:"embedder_opts"`

	// Session Coordinator / server
	HTTPAddr string `json:"http_addr"`
}

// Default returns the env-backed default configuration, mirroring the
// teacher's NewRedisClient default-with-override idiom field by field.
func Default() Config {
	return Config{
		NumberOfWorkers:     envInt("CORTEXD_NUMBER_OF_WORKERS", 1),
		ChunkSize:           envInt("CORTEXD_CHUNK_SIZE", 1000),
		ChunkOverlap:        envInt("CORTEXD_CHUNK_OVERLAP", 200),
		MaxParallelTasks:    envInt("CORTEXD_MAX_PARALLEL_TASKS", 60),
		EmbeddingRetries:    envInt("CORTEXD_EMBEDDING_RETRIES", 3),
		TokenBudget:         envInt("CORTEXD_TOKEN_BUDGET", 8000),
		NumberOfChunks:      envInt("CORTEXD_NUMBER_OF_CHUNKS", 20),
		RerankerEnabled:     envBool("CORTEXD_RERANKER_ENABLED", false),
		RerankerURL:         envString("CORTEXD_RERANKER_URL", ""),
		FileReadThreshold:   envInt("CORTEXD_FILE_READ_THRESHOLD", 100),
		DiffApplyURL:        envString("CORTEXD_DIFF_APPLY_URL", "http://127.0.0.1:8090"),
		StoreAddr:           envString("CORTEXD_STORE_ADDR", "localhost:6334"),
		HeartbeatIntervalMS: envInt("CORTEXD_HEARTBEAT_INTERVAL_MS", 3000),
		EmbedderType:        envString("CORTEXD_EMBEDDER_TYPE", "mock"),
		EmbedderOpts:        map[string]string{},
		HTTPAddr:            envString("CORTEXD_HTTP_ADDR", "127.0.0.1:8001"),
	}
}

// MergeBootstrap applies a JSON payload (the /init request body) over cfg,
// leaving any field the payload omits untouched. Zero-value fields in the
// decoded payload are ambiguous with "not provided" for ints/bools, so we
// decode into a map first and only overwrite keys actually present —
// matching spec.md's "bootstrap config" semantics without guessing at a
// merge strategy the spec doesn't define.
func (c Config) MergeBootstrap(body io.Reader) (Config, error) {
	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		if err == io.EOF {
			return c, nil // empty body: nothing to merge
		}
		return c, err
	}

	merged := c
	apply := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	fields := []struct {
		key string
		dst interface{}
	}{
		{"number_of_workers", &merged.NumberOfWorkers},
		{"chunk_size", &merged.ChunkSize},
		{"chunk_overlap", &merged.ChunkOverlap},
		{"max_parallel_tasks", &merged.MaxParallelTasks},
		{"embedding_retries", &merged.EmbeddingRetries},
		{"token_budget", &merged.TokenBudget},
		{"number_of_chunks", &merged.NumberOfChunks},
		{"reranker_enabled", &merged.RerankerEnabled},
		{"reranker_url", &merged.RerankerURL},
		{"file_read_threshold", &merged.FileReadThreshold},
		{"diff_apply_url", &merged.DiffApplyURL},
		{"store_addr", &merged.StoreAddr},
		{"heartbeat_interval_ms", &merged.HeartbeatIntervalMS},
		{"embedder_type", &merged.EmbedderType},
		{"embedder_opts", &merged.EmbedderOpts},
		{"http_addr", &merged.HTTPAddr},
	}
	for _, f := range fields {
		if err := apply(f.key, f.dst); err != nil {
			return c, err
		}
	}
	return merged, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
